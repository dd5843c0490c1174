// Package volume provides the numeric field container shared by the image and
// projection domains. A Volume is a dense 3D array of float64 values stored as
// a flat slice in row-major order (idx = z*X*Y + y*X + x).
package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShapeMismatch is returned when two volumes taking part in an
	// elementwise operation do not share the same dimensions.
	ErrShapeMismatch = errors.New("volume shape mismatch")

	// ErrInvalidDims is returned for non-positive dimensions or for flat data
	// whose length does not match the dimensions.
	ErrInvalidDims = errors.New("invalid volume dimensions")
)

// Dims holds the extent of a volume along each axis.
type Dims struct {
	X, Y, Z int
}

// Len returns the number of elements a volume of these dimensions holds.
func (d Dims) Len() int {
	return d.X * d.Y * d.Z
}

func (d Dims) valid() bool {
	return d.X > 0 && d.Y > 0 && d.Z > 0
}

func (d Dims) String() string {
	return fmt.Sprintf("%dx%dx%d", d.X, d.Y, d.Z)
}

// Volume is a mutable 3D numeric field.
type Volume struct {
	dims Dims
	data []float64
}

// New allocates a zero-filled volume.
func New(dims Dims) (*Volume, error) {
	if !dims.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDims, dims)
	}
	return &Volume{dims: dims, data: make([]float64, dims.Len())}, nil
}

// FromData creates a volume holding a copy of data.
func FromData(dims Dims, data []float64) (*Volume, error) {
	v, err := New(dims)
	if err != nil {
		return nil, err
	}
	if err := v.Fill(data); err != nil {
		return nil, err
	}
	return v, nil
}

// Dims returns the volume's dimensions.
func (v *Volume) Dims() Dims {
	return v.dims
}

// Len returns the number of elements.
func (v *Volume) Len() int {
	return len(v.data)
}

// Data returns the backing flat array. Writes through it mutate the volume.
func (v *Volume) Data() []float64 {
	return v.data
}

// Fill replaces the volume's contents with a copy of data.
func (v *Volume) Fill(data []float64) error {
	if len(data) != len(v.data) {
		return fmt.Errorf("%w: fill with %d values into %s volume", ErrInvalidDims, len(data), v.dims)
	}
	copy(v.data, data)
	return nil
}

// Clone returns a deep copy that shares no storage with v.
func (v *Volume) Clone() *Volume {
	data := make([]float64, len(v.data))
	copy(data, v.data)
	return &Volume{dims: v.dims, data: data}
}

// UniformCopy returns a volume of the same shape with every element set to value.
func (v *Volume) UniformCopy(value float64) *Volume {
	data := make([]float64, len(v.data))
	for i := range data {
		data[i] = value
	}
	return &Volume{dims: v.dims, data: data}
}

// At returns the value at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.data[v.index(x, y, z)]
}

// Set stores value at (x, y, z).
func (v *Volume) Set(x, y, z int, value float64) {
	v.data[v.index(x, y, z)] = value
}

func (v *Volume) index(x, y, z int) int {
	return z*v.dims.X*v.dims.Y + y*v.dims.X + x
}

// Slice returns a copy of the XY plane at depth z.
func (v *Volume) Slice(z int) ([]float64, error) {
	if z < 0 || z >= v.dims.Z {
		return nil, fmt.Errorf("slice %d out of range [0, %d)", z, v.dims.Z)
	}
	plane := v.dims.X * v.dims.Y
	out := make([]float64, plane)
	copy(out, v.data[z*plane:(z+1)*plane])
	return out, nil
}

func (v *Volume) sameShape(other *Volume) error {
	if other == nil {
		return fmt.Errorf("%w: nil operand", ErrShapeMismatch)
	}
	if v.dims != other.dims {
		return fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, v.dims, other.dims)
	}
	return nil
}

// Divide returns v / other elementwise. Division by zero follows IEEE 754, so
// the result may hold NaN or ±Inf; see SanitizeNonFinite.
func (v *Volume) Divide(other *Volume) (*Volume, error) {
	if err := v.sameShape(other); err != nil {
		return nil, err
	}
	out := make([]float64, len(v.data))
	floats.DivTo(out, v.data, other.data)
	return &Volume{dims: v.dims, data: out}, nil
}

// Multiply returns v * other elementwise.
func (v *Volume) Multiply(other *Volume) (*Volume, error) {
	if err := v.sameShape(other); err != nil {
		return nil, err
	}
	out := make([]float64, len(v.data))
	floats.MulTo(out, v.data, other.data)
	return &Volume{dims: v.dims, data: out}, nil
}

// MulInPlace multiplies v by other elementwise.
func (v *Volume) MulInPlace(other *Volume) error {
	if err := v.sameShape(other); err != nil {
		return err
	}
	floats.Mul(v.data, other.data)
	return nil
}

// Add adds other to v elementwise, in place.
func (v *Volume) Add(other *Volume) error {
	if err := v.sameShape(other); err != nil {
		return err
	}
	floats.Add(v.data, other.data)
	return nil
}

// Scale multiplies every element by f, in place.
func (v *Volume) Scale(f float64) {
	floats.Scale(f, v.data)
}

// Maximum clamps every element to be at least floor, in place. NaN elements
// are replaced by floor as well.
func (v *Volume) Maximum(floor float64) {
	for i, x := range v.data {
		if !(x >= floor) {
			v.data[i] = floor
		}
	}
}

// SanitizeNonFinite replaces NaN and ±Inf elements with zero, in place.
func (v *Volume) SanitizeNonFinite() {
	for i, x := range v.data {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			v.data[i] = 0
		}
	}
}

// Sum returns the sum of all elements.
func (v *Volume) Sum() float64 {
	return floats.Sum(v.data)
}

// Max returns the largest element.
func (v *Volume) Max() float64 {
	return floats.Max(v.data)
}

// Min returns the smallest element.
func (v *Volume) Min() float64 {
	return floats.Min(v.data)
}

// Dot returns the inner product of v and other.
func (v *Volume) Dot(other *Volume) (float64, error) {
	if err := v.sameShape(other); err != nil {
		return 0, err
	}
	return floats.Dot(v.data, other.data), nil
}

// WriteRaw writes the volume as little-endian float32 values in storage order.
func (v *Volume) WriteRaw(w io.Writer) error {
	out := make([]float32, len(v.data))
	for i, x := range v.data {
		out[i] = float32(x)
	}
	return binary.Write(w, binary.LittleEndian, out)
}
