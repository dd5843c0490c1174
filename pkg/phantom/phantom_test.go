package phantom

import (
	"errors"
	"math"
	"testing"

	"osemrecon/pkg/volume"
)

// identityProjector returns a copy of the image as its projection
type identityProjector struct{}

func (identityProjector) Project(img *volume.Volume) (*volume.Volume, error) {
	return img.Clone(), nil
}

// TestNewRasterizesEllipsoids verifies inclusion, accumulation and clamping
func TestNewRasterizesEllipsoids(t *testing.T) {
	dims := volume.Dims{X: 9, Y: 9, Z: 1}
	img, err := New(dims, []Ellipsoid{
		{Center: [3]float64{4, 4, 0}, Radii: [3]float64{3, 3, 1}, Value: 2},
		{Center: [3]float64{4, 4, 0}, Radii: [3]float64{1, 1, 1}, Value: 1},
		{Center: [3]float64{6, 4, 0}, Radii: [3]float64{1, 1, 1}, Value: -5},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := img.At(4, 4, 0); got != 3 {
		t.Errorf("Expected overlapping value 3 at the centre, got %f", got)
	}
	if got := img.At(2, 4, 0); got != 2 {
		t.Errorf("Expected value 2 inside the outer ellipse, got %f", got)
	}
	if got := img.At(0, 0, 0); got != 0 {
		t.Errorf("Expected 0 outside every ellipse, got %f", got)
	}
	if got := img.At(6, 4, 0); got != 0 {
		t.Errorf("Expected the cold region to clamp at 0, got %f", got)
	}

	if _, err := New(dims, []Ellipsoid{{Radii: [3]float64{1, 0, 1}}}); err == nil {
		t.Error("Expected an error for a zero radius")
	}
}

// TestDefaultPhantom verifies the default phantom has a hot and a cold region
func TestDefaultPhantom(t *testing.T) {
	img, err := Default(volume.Dims{X: 32, Y: 32, Z: 4})
	if err != nil {
		t.Fatalf("Default failed: %v", err)
	}

	if img.Max() != 4 {
		t.Errorf("Expected hot sphere peak of 4, got %f", img.Max())
	}
	if img.Min() != 0 {
		t.Errorf("Expected background and cold sphere at 0, got minimum %f", img.Min())
	}
	if img.At(0, 0, 0) != 0 {
		t.Error("Expected the corner to lie outside the body")
	}
	if img.At(16, 16, 1) != 1 {
		t.Errorf("Expected uniform body activity at the centre, got %f", img.At(16, 16, 1))
	}
}

// TestSimulateNoiseless verifies y = scale*Ax + background without noise
func TestSimulateNoiseless(t *testing.T) {
	img, _ := volume.FromData(volume.Dims{X: 3, Y: 1, Z: 1}, []float64{0, 1, 2})

	sim, err := Simulate(identityProjector{}, img, SimOptions{CountScale: 10, Background: 0.5})
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}

	want := []float64{0.5, 10.5, 20.5}
	for i, w := range want {
		if sim.Data.Data()[i] != w {
			t.Errorf("Bin %d: expected %f, got %f", i, w, sim.Data.Data()[i])
		}
		if sim.Background.Data()[i] != 0.5 {
			t.Errorf("Bin %d: expected background 0.5, got %f", i, sim.Background.Data()[i])
		}
	}
	if img.At(1, 0, 0) != 1 {
		t.Error("Simulate must not modify the phantom")
	}
}

// TestSimulatePoissonNoise verifies integer counts, seed reproducibility and the mean
func TestSimulatePoissonNoise(t *testing.T) {
	img, _ := volume.New(volume.Dims{X: 50, Y: 40, Z: 1})
	img = img.UniformCopy(1)
	opts := SimOptions{CountScale: 20, Noise: true, Seed: 7}

	first, err := Simulate(identityProjector{}, img, opts)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	second, _ := Simulate(identityProjector{}, img, opts)

	for i, v := range first.Data.Data() {
		if v != math.Trunc(v) || v < 0 {
			t.Fatalf("Bin %d: expected a non-negative integer count, got %f", i, v)
		}
		if v != second.Data.Data()[i] {
			t.Fatalf("Bin %d differs between runs with the same seed", i)
		}
	}

	opts.Seed = 8
	other, _ := Simulate(identityProjector{}, img, opts)
	differs := false
	for i := range other.Data.Data() {
		if other.Data.Data()[i] != first.Data.Data()[i] {
			differs = true
			break
		}
	}
	if !differs {
		t.Error("Expected a different seed to change the noise realisation")
	}

	// 2000 bins of mean 20: the total has standard deviation 200
	total := first.Data.Sum()
	if math.Abs(total-40000) > 1000 {
		t.Errorf("Expected about 40000 total counts, got %f", total)
	}
}

// TestSimulateRejectsBadOptions verifies option validation
func TestSimulateRejectsBadOptions(t *testing.T) {
	img, _ := volume.New(volume.Dims{X: 2, Y: 2, Z: 1})

	for _, opts := range []SimOptions{{CountScale: 0}, {CountScale: 1, Background: -1}} {
		if _, err := Simulate(identityProjector{}, img, opts); !errors.Is(err, ErrInvalidOptions) {
			t.Errorf("Options %+v: expected ErrInvalidOptions, got %v", opts, err)
		}
	}
}
