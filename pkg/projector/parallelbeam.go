// Package projector provides a reference acquisition model for the
// reconstruction package: a 2D parallel-beam projector applied slice by slice
// through a 3D image.
//
// The system matrix is held explicitly as a dense gonum matrix, which keeps
// the model exact and easy to check but limits it to small images.
package projector

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"osemrecon/pkg/volume"
)

var (
	// ErrSubsetOutOfRange is returned for a subset index outside [0, NumSubsets()).
	ErrSubsetOutOfRange = errors.New("subset index out of range")

	// ErrInvalidGeometry is returned by New for unusable geometry or subset counts.
	ErrInvalidGeometry = errors.New("invalid projector geometry")
)

// Geometry describes the image grid and the detector sampling.
type Geometry struct {
	// Width and Height are the in-plane image size in pixels
	Width, Height int

	// Slices is the number of image planes along Z, each projected independently
	Slices int

	// Views is the number of projection angles, evenly spaced over [0, π)
	Views int

	// Bins is the number of detector bins per view
	Bins int
}

// ImageDims returns the dimensions of the image domain.
func (g Geometry) ImageDims() volume.Dims {
	return volume.Dims{X: g.Width, Y: g.Height, Z: g.Slices}
}

// DataDims returns the dimensions of the projection domain: bins along X,
// views along Y and slices along Z.
func (g Geometry) DataDims() volume.Dims {
	return volume.Dims{X: g.Bins, Y: g.Views, Z: g.Slices}
}

// DefaultBins returns a detector width that covers the diagonal of a
// width x height image.
func DefaultBins(width, height int) int {
	return int(math.Ceil(math.Hypot(float64(width), float64(height)))) + 1
}

// ParallelBeam is a parallel-beam acquisition model with interleaved view
// subsets: view v belongs to subset v % NumSubsets().
type ParallelBeam struct {
	geom       Geometry
	numSubsets int

	// system maps one image plane (Width*Height) to one sinogram (Views*Bins)
	system *mat.Dense

	subsetViews    [][]int
	subsetMatrices []*mat.Dense

	background *volume.Volume
}

// New builds the system matrix for geom and splits it into numSubsets subsets.
func New(geom Geometry, numSubsets int) (*ParallelBeam, error) {
	if geom.Width <= 0 || geom.Height <= 0 || geom.Slices <= 0 || geom.Views <= 0 || geom.Bins <= 0 {
		return nil, fmt.Errorf("%w: %+v", ErrInvalidGeometry, geom)
	}
	if numSubsets < 1 || numSubsets > geom.Views {
		return nil, fmt.Errorf("%w: %d subsets for %d views", ErrInvalidGeometry, numSubsets, geom.Views)
	}

	p := &ParallelBeam{
		geom:       geom,
		numSubsets: numSubsets,
		system:     buildSystemMatrix(geom),
	}

	p.subsetViews = make([][]int, numSubsets)
	for v := 0; v < geom.Views; v++ {
		s := v % numSubsets
		p.subsetViews[s] = append(p.subsetViews[s], v)
	}

	_, cols := p.system.Dims()
	p.subsetMatrices = make([]*mat.Dense, numSubsets)
	for s, views := range p.subsetViews {
		sub := mat.NewDense(len(views)*geom.Bins, cols, nil)
		for i, v := range views {
			for b := 0; b < geom.Bins; b++ {
				sub.SetRow(i*geom.Bins+b, p.system.RawRowView(v*geom.Bins+b))
			}
		}
		p.subsetMatrices[s] = sub
	}

	return p, nil
}

// buildSystemMatrix uses a pixel-driven model: each pixel centre is projected
// onto the detector axis and its unit weight split linearly between the two
// nearest bins.
func buildSystemMatrix(g Geometry) *mat.Dense {
	a := mat.NewDense(g.Views*g.Bins, g.Width*g.Height, nil)

	cx := float64(g.Width-1) / 2
	cy := float64(g.Height-1) / 2
	cb := float64(g.Bins-1) / 2

	for v := 0; v < g.Views; v++ {
		theta := math.Pi * float64(v) / float64(g.Views)
		cos, sin := math.Cos(theta), math.Sin(theta)

		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				t := (float64(x)-cx)*cos + (cy-float64(y))*sin
				u := t + cb
				b0 := int(math.Floor(u))
				frac := u - float64(b0)
				col := y*g.Width + x

				if b0 >= 0 && b0 < g.Bins {
					a.Set(v*g.Bins+b0, col, a.At(v*g.Bins+b0, col)+1-frac)
				}
				if b0+1 >= 0 && b0+1 < g.Bins && frac > 0 {
					a.Set(v*g.Bins+b0+1, col, a.At(v*g.Bins+b0+1, col)+frac)
				}
			}
		}
	}

	return a
}

// Geometry returns the projector's geometry.
func (p *ParallelBeam) Geometry() Geometry {
	return p.geom
}

// NumSubsets returns the number of view subsets.
func (p *ParallelBeam) NumSubsets() int {
	return p.numSubsets
}

// SubsetViews returns the view indices that make up subset s.
func (p *ParallelBeam) SubsetViews(s int) ([]int, error) {
	if err := p.checkSubset(s); err != nil {
		return nil, err
	}
	return append([]int(nil), p.subsetViews[s]...), nil
}

// SetBackground sets the additive term (scatter and randoms) that Forward adds
// to every projected bin. Pass nil to clear it.
func (p *ParallelBeam) SetBackground(b *volume.Volume) error {
	if b == nil {
		p.background = nil
		return nil
	}
	if b.Dims() != p.geom.DataDims() {
		return fmt.Errorf("background: %w: %s vs %s", volume.ErrShapeMismatch, b.Dims(), p.geom.DataDims())
	}
	p.background = b.Clone()
	return nil
}

func (p *ParallelBeam) checkSubset(s int) error {
	if s < 0 || s >= p.numSubsets {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSubsetOutOfRange, s, p.numSubsets)
	}
	return nil
}

func checkDims(name string, got, want volume.Dims) error {
	if got != want {
		return fmt.Errorf("%s: %w: %s vs %s", name, volume.ErrShapeMismatch, got, want)
	}
	return nil
}

// Forward projects img through subset s. The result covers the full
// projection domain; bins of views outside the subset are zero.
func (p *ParallelBeam) Forward(img *volume.Volume, s int) (*volume.Volume, error) {
	if err := p.checkSubset(s); err != nil {
		return nil, err
	}
	if err := checkDims("forward", img.Dims(), p.geom.ImageDims()); err != nil {
		return nil, err
	}

	out, err := volume.New(p.geom.DataDims())
	if err != nil {
		return nil, err
	}

	a := p.subsetMatrices[s]
	rows, cols := a.Dims()
	views := p.subsetViews[s]
	proj := mat.NewVecDense(rows, nil)

	for z := 0; z < p.geom.Slices; z++ {
		plane := mat.NewVecDense(cols, img.Data()[z*cols:(z+1)*cols])
		proj.MulVec(a, plane)

		for i, v := range views {
			for b := 0; b < p.geom.Bins; b++ {
				value := proj.AtVec(i*p.geom.Bins + b)
				if p.background != nil {
					value += p.background.At(b, v, z)
				}
				out.Set(b, v, z, value)
			}
		}
	}

	return out, nil
}

// Backward applies the transpose of subset s's system matrix to data. Only
// the bins of the subset's views contribute.
func (p *ParallelBeam) Backward(data *volume.Volume, s int) (*volume.Volume, error) {
	if err := p.checkSubset(s); err != nil {
		return nil, err
	}
	if err := checkDims("backward", data.Dims(), p.geom.DataDims()); err != nil {
		return nil, err
	}

	out, err := volume.New(p.geom.ImageDims())
	if err != nil {
		return nil, err
	}

	a := p.subsetMatrices[s]
	rows, cols := a.Dims()
	views := p.subsetViews[s]
	sino := mat.NewVecDense(rows, nil)
	plane := mat.NewVecDense(cols, nil)

	for z := 0; z < p.geom.Slices; z++ {
		for i, v := range views {
			for b := 0; b < p.geom.Bins; b++ {
				sino.SetVec(i*p.geom.Bins+b, data.At(b, v, z))
			}
		}
		plane.MulVec(a.T(), sino)
		copy(out.Data()[z*cols:(z+1)*cols], plane.RawVector().Data)
	}

	return out, nil
}

// Project computes the full forward projection of img over all views,
// without the background term.
func (p *ParallelBeam) Project(img *volume.Volume) (*volume.Volume, error) {
	if err := checkDims("project", img.Dims(), p.geom.ImageDims()); err != nil {
		return nil, err
	}

	out, err := volume.New(p.geom.DataDims())
	if err != nil {
		return nil, err
	}

	rows, cols := p.system.Dims()
	for z := 0; z < p.geom.Slices; z++ {
		// the sinogram rows of plane z are contiguous in the output volume
		proj := mat.NewVecDense(rows, out.Data()[z*rows:(z+1)*rows])
		proj.MulVec(p.system, mat.NewVecDense(cols, img.Data()[z*cols:(z+1)*cols]))
	}

	return out, nil
}
