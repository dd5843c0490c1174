package projector_test

import (
	"math"
	"testing"

	"osemrecon/pkg/projector"
	"osemrecon/pkg/reconstruction"
	"osemrecon/pkg/volume"
)

func squareError(a, b *volume.Volume) float64 {
	total := 0.0
	for i := range a.Data() {
		d := a.Data()[i] - b.Data()[i]
		total += d * d
	}
	return total
}

// TestOSEMRecoversNoiselessPhantom runs OSEM end to end on the parallel-beam model
func TestOSEMRecoversNoiselessPhantom(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping reconstruction run in short mode")
	}

	geom := projector.Geometry{Width: 12, Height: 12, Slices: 1, Views: 16, Bins: projector.DefaultBins(12, 12)}
	model, err := projector.New(geom, 4)
	if err != nil {
		t.Fatalf("Failed to build projector: %v", err)
	}

	truth, _ := volume.New(geom.ImageDims())
	for y := 3; y < 9; y++ {
		for x := 3; x < 9; x++ {
			truth.Set(x, y, 0, 1)
		}
	}
	truth.Set(5, 5, 0, 4)

	data, err := model.Project(truth)
	if err != nil {
		t.Fatal(err)
	}

	initial := truth.UniformCopy(1)
	startErr := squareError(initial, truth)

	estimate, err := reconstruction.OSEM(data, model, initial, 10)
	if err != nil {
		t.Fatalf("OSEM failed: %v", err)
	}

	for i, v := range estimate.Data() {
		if v < 0 || math.IsNaN(v) {
			t.Fatalf("Voxel %d has invalid value %f", i, v)
		}
	}

	endErr := squareError(estimate, truth)
	if endErr >= startErr/2 {
		t.Errorf("Expected OSEM to reduce the squared error well below %f, got %f", startErr, endErr)
	}
}

// TestOSEMSingleSubsetMatchesMLEM compares a one-subset projector with MLEM over four subsets
func TestOSEMSingleSubsetMatchesMLEM(t *testing.T) {
	geom := projector.Geometry{Width: 8, Height: 8, Slices: 2, Views: 8, Bins: projector.DefaultBins(8, 8)}

	single, err := projector.New(geom, 1)
	if err != nil {
		t.Fatal(err)
	}
	split, err := projector.New(geom, 4)
	if err != nil {
		t.Fatal(err)
	}

	truth, _ := volume.New(geom.ImageDims())
	for i := range truth.Data() {
		truth.Data()[i] = float64(i%7) + 1
	}
	data, err := single.Project(truth)
	if err != nil {
		t.Fatal(err)
	}

	want, err := reconstruction.OSEM(data, single, truth.UniformCopy(1), 3)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reconstruction.MLEM(data, split, truth.UniformCopy(1), 3)
	if err != nil {
		t.Fatal(err)
	}

	for i := range want.Data() {
		if math.Abs(want.Data()[i]-got.Data()[i]) > 1e-9*math.Max(1, want.Data()[i]) {
			t.Fatalf("Voxel %d: OSEM(1 subset) %f, MLEM %f", i, want.Data()[i], got.Data()[i])
		}
	}
}
