// Package phantom builds synthetic activity images and simulates emission
// data from them, so reconstructions can be checked against a known truth.
package phantom

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"osemrecon/pkg/volume"
)

// ErrInvalidOptions is returned by Simulate for unusable simulation settings.
var ErrInvalidOptions = errors.New("invalid simulation options")

// Ellipsoid is an axis-aligned region of constant added activity.
type Ellipsoid struct {
	// Center is given in voxel coordinates (x, y, z)
	Center [3]float64

	// Radii along x, y and z in voxels
	Radii [3]float64

	// Value is added to every voxel inside the ellipsoid; negative values
	// carve cold regions out of earlier shapes
	Value float64
}

func (e Ellipsoid) contains(x, y, z float64) bool {
	sum := 0.0
	for i, p := range [3]float64{x, y, z} {
		d := (p - e.Center[i]) / e.Radii[i]
		sum += d * d
	}
	return sum <= 1
}

// New rasterizes the ellipsoids, in order, onto a volume of the given size.
// The result is clamped at zero.
func New(dims volume.Dims, shapes []Ellipsoid) (*volume.Volume, error) {
	img, err := volume.New(dims)
	if err != nil {
		return nil, err
	}

	for i, e := range shapes {
		if e.Radii[0] <= 0 || e.Radii[1] <= 0 || e.Radii[2] <= 0 {
			return nil, fmt.Errorf("ellipsoid %d: radii must be positive, got %v", i, e.Radii)
		}
		for z := 0; z < dims.Z; z++ {
			for y := 0; y < dims.Y; y++ {
				for x := 0; x < dims.X; x++ {
					if e.contains(float64(x), float64(y), float64(z)) {
						img.Set(x, y, z, img.At(x, y, z)+e.Value)
					}
				}
			}
		}
	}

	img.Maximum(0)
	return img, nil
}

// Default returns a body-like phantom: a uniform elliptic cylinder with one
// hot and one cold sphere in the central slices.
func Default(dims volume.Dims) (*volume.Volume, error) {
	cx := float64(dims.X-1) / 2
	cy := float64(dims.Y-1) / 2
	cz := float64(dims.Z-1) / 2
	rz := float64(dims.Z)
	small := 0.15 * float64(min(dims.X, dims.Y))

	shapes := []Ellipsoid{
		{Center: [3]float64{cx, cy, cz}, Radii: [3]float64{0.42 * float64(dims.X), 0.34 * float64(dims.Y), rz}, Value: 1},
		{Center: [3]float64{cx - 0.18*float64(dims.X), cy, cz}, Radii: [3]float64{small, small, max(small, 0.5)}, Value: 3},
		{Center: [3]float64{cx + 0.18*float64(dims.X), cy, cz}, Radii: [3]float64{small, small, max(small, 0.5)}, Value: -1},
	}
	return New(dims, shapes)
}

// Projector is the part of an acquisition model the simulator needs: the full
// forward projection without any additive term.
type Projector interface {
	Project(img *volume.Volume) (*volume.Volume, error)
}

// SimOptions controls data simulation.
type SimOptions struct {
	// CountScale converts projected activity into expected counts
	CountScale float64

	// Background is a uniform expected count added to every bin
	Background float64

	// Noise enables Poisson sampling of the expected counts
	Noise bool

	// Seed makes the noise realisation reproducible
	Seed uint64
}

// Simulation holds simulated acquired data and the additive term used to make
// it. The reconstruction model should be given Background so that its forward
// projection matches the data's expectation.
type Simulation struct {
	Data       *volume.Volume
	Background *volume.Volume
}

// Simulate computes y = CountScale*Project(img) + Background, optionally
// replacing each bin with a Poisson draw of that mean.
func Simulate(p Projector, img *volume.Volume, opts SimOptions) (*Simulation, error) {
	if opts.CountScale <= 0 {
		return nil, fmt.Errorf("%w: count scale must be positive, got %g", ErrInvalidOptions, opts.CountScale)
	}
	if opts.Background < 0 {
		return nil, fmt.Errorf("%w: background must be non-negative, got %g", ErrInvalidOptions, opts.Background)
	}

	data, err := p.Project(img)
	if err != nil {
		return nil, fmt.Errorf("projecting phantom: %w", err)
	}
	data.Scale(opts.CountScale)

	background := data.UniformCopy(opts.Background)
	if err := data.Add(background); err != nil {
		return nil, err
	}

	if opts.Noise {
		src := rand.NewSource(opts.Seed)
		values := data.Data()
		for i, mean := range values {
			if mean <= 0 {
				values[i] = 0
				continue
			}
			values[i] = distuv.Poisson{Lambda: mean, Src: src}.Rand()
		}
	}

	return &Simulation{Data: data, Background: background}, nil
}
