// Package reconstruction implements iterative emission-tomography
// reconstruction by Ordered Subsets Expectation Maximization (OSEM).
//
// The package only holds the update rule. Projection, data handling and
// reporting belong to the caller, which supplies an AcquisitionModel and the
// acquired data as volumes. Nothing here logs, spawns goroutines or keeps
// state between calls.
package reconstruction

import (
	"errors"
	"fmt"

	"osemrecon/pkg/volume"
)

var (
	// ErrInvalidIterations is returned for a negative iteration count.
	ErrInvalidIterations = errors.New("number of iterations must be non-negative")

	// ErrInvalidSubsets is returned when the acquisition model reports fewer
	// than one subset.
	ErrInvalidSubsets = errors.New("acquisition model must have at least one subset")

	// ErrNilInput is returned when the data, model or initial image is missing.
	ErrNilInput = errors.New("nil reconstruction input")
)

// AcquisitionModel is the projection model the reconstructor iterates over.
//
// Forward maps an image-domain volume to the projection domain for one
// subset, including any additive background term. Backward is its adjoint
// restricted to the same subset. Subsets are numbered 0..NumSubsets()-1.
type AcquisitionModel interface {
	NumSubsets() int
	Forward(image *volume.Volume, subset int) (*volume.Volume, error)
	Backward(data *volume.Volume, subset int) (*volume.Volume, error)
}

// OSEM reconstructs an image from acquired data.
//
// Each of numIterations passes visits subsets 0..NumSubsets()-1 in order and
// applies one multiplicative update per subset (see UpdateSubset) to a single
// estimate. The estimate starts as a clone of initial, which is never
// modified. With numIterations == 0 the clone is returned unchanged.
//
// Errors raised by the model are returned wrapped with the iteration and
// subset at which they occurred.
func OSEM(acquired *volume.Volume, model AcquisitionModel, initial *volume.Volume, numIterations int) (*volume.Volume, error) {
	if acquired == nil || model == nil || initial == nil {
		return nil, ErrNilInput
	}
	if numIterations < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidIterations, numIterations)
	}
	numSubsets := model.NumSubsets()
	if numSubsets < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSubsets, numSubsets)
	}

	estimate := initial.Clone()

	for i := 0; i < numIterations; i++ {
		for s := 0; s < numSubsets; s++ {
			if err := UpdateSubset(estimate, acquired, model, s); err != nil {
				return nil, fmt.Errorf("iteration %d: %w", i, err)
			}
		}
	}

	return estimate, nil
}

// UpdateSubset applies one OSEM sub-iteration to estimate in place:
//
//	sens     = A_sᵀ 1
//	quotient = y / (A_s x + b)
//	x        = max(x * A_sᵀ quotient / sens, 0)
//
// Non-finite values produced by either division are replaced with zero, so a
// voxel with zero sensitivity ends the update at zero.
func UpdateSubset(estimate, acquired *volume.Volume, model AcquisitionModel, subset int) error {
	if estimate == nil || acquired == nil || model == nil {
		return ErrNilInput
	}

	sensitivity, err := model.Backward(acquired.UniformCopy(1), subset)
	if err != nil {
		return fmt.Errorf("subset %d: sensitivity: %w", subset, err)
	}

	expected, err := model.Forward(estimate, subset)
	if err != nil {
		return fmt.Errorf("subset %d: forward projection: %w", subset, err)
	}

	quotient, err := acquired.Divide(expected)
	if err != nil {
		return fmt.Errorf("subset %d: quotient: %w", subset, err)
	}
	quotient.SanitizeNonFinite()

	backProjected, err := model.Backward(quotient, subset)
	if err != nil {
		return fmt.Errorf("subset %d: back projection: %w", subset, err)
	}

	update, err := backProjected.Divide(sensitivity)
	if err != nil {
		return fmt.Errorf("subset %d: multiplicative update: %w", subset, err)
	}
	update.SanitizeNonFinite()

	if err := estimate.MulInPlace(update); err != nil {
		return fmt.Errorf("subset %d: apply update: %w", subset, err)
	}
	estimate.Maximum(0)

	return nil
}

// MLEM runs the classic maximum-likelihood expectation maximization update,
// which uses all of the data in every iteration. It is OSEM over FullData(model).
func MLEM(acquired *volume.Volume, model AcquisitionModel, initial *volume.Volume, numIterations int) (*volume.Volume, error) {
	if model == nil {
		return nil, ErrNilInput
	}
	if n := model.NumSubsets(); n < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSubsets, n)
	}
	return OSEM(acquired, FullData(model), initial, numIterations)
}

// FullData presents model as a single-subset model whose projections are the
// sums over all of model's subsets. When the subsets partition the projection
// data this is the full system matrix.
func FullData(model AcquisitionModel) AcquisitionModel {
	return fullData{model: model}
}

type fullData struct {
	model AcquisitionModel
}

func (f fullData) NumSubsets() int {
	return 1
}

func (f fullData) Forward(image *volume.Volume, subset int) (*volume.Volume, error) {
	return f.sum(subset, func(s int) (*volume.Volume, error) {
		return f.model.Forward(image, s)
	})
}

func (f fullData) Backward(data *volume.Volume, subset int) (*volume.Volume, error) {
	return f.sum(subset, func(s int) (*volume.Volume, error) {
		return f.model.Backward(data, s)
	})
}

func (f fullData) sum(subset int, project func(s int) (*volume.Volume, error)) (*volume.Volume, error) {
	if subset != 0 {
		return nil, fmt.Errorf("full-data model has a single subset, got subset %d", subset)
	}

	var total *volume.Volume
	for s := 0; s < f.model.NumSubsets(); s++ {
		part, err := project(s)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = part.Clone()
			continue
		}
		if err := total.Add(part); err != nil {
			return nil, err
		}
	}
	if total == nil {
		return nil, ErrInvalidSubsets
	}
	return total, nil
}
