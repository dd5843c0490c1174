// Package metrics compares a reconstructed volume with a reference image,
// typically the phantom the data was simulated from.
package metrics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"osemrecon/pkg/volume"
)

// Report holds image quality figures for one reconstruction.
type Report struct {
	// RMSE is the root mean square voxel difference
	RMSE float64

	// NRMSE is RMSE divided by the reference's dynamic range (max - min)
	NRMSE float64

	// SSIM is the global structural similarity index, in [-1, 1]
	SSIM float64

	// Correlation is the Pearson correlation between the two volumes
	Correlation float64

	// MeanBias is the relative difference of the mean activity,
	// (mean(reconstructed) - mean(reference)) / mean(reference)
	MeanBias float64
}

// Evaluate computes a Report for reconstructed against reference.
func Evaluate(reference, reconstructed *volume.Volume) (Report, error) {
	if reference == nil || reconstructed == nil {
		return Report{}, fmt.Errorf("%w: nil volume", volume.ErrShapeMismatch)
	}
	if reference.Dims() != reconstructed.Dims() {
		return Report{}, fmt.Errorf("%w: %s vs %s", volume.ErrShapeMismatch, reference.Dims(), reconstructed.Dims())
	}

	ref := reference.Data()
	rec := reconstructed.Data()

	var r Report
	r.RMSE = RMSE(ref, rec)
	if span := reference.Max() - reference.Min(); span > 0 {
		r.NRMSE = r.RMSE / span
	}
	r.SSIM = SSIM(ref, rec, reference.Max())
	r.Correlation = Correlation(ref, rec)

	if mean := stat.Mean(ref, nil); mean != 0 {
		r.MeanBias = (stat.Mean(rec, nil) - mean) / mean
	}

	return r, nil
}

// RMSE computes the root mean square error
func RMSE(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n == 0 {
		return 0
	}

	mse := 0.0
	for i := 0; i < n; i++ {
		diff := original[i] - reconstructed[i]
		mse += diff * diff
	}
	mse /= float64(n)

	return math.Sqrt(mse)
}

// SSIM computes a single-window structural similarity index. dynamicRange is
// the value range of the data (L in the usual stabilising constants); values
// <= 0 fall back to 1.
func SSIM(original, reconstructed []float64, dynamicRange float64) float64 {
	const k1 = 0.01
	const k2 = 0.03

	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}
	if dynamicRange <= 0 {
		dynamicRange = 1
	}

	c1 := (k1 * dynamicRange) * (k1 * dynamicRange)
	c2 := (k2 * dynamicRange) * (k2 * dynamicRange)

	muX := stat.Mean(original, nil)
	muY := stat.Mean(reconstructed, nil)

	sigmaX := stat.Variance(original, nil)
	sigmaY := stat.Variance(reconstructed, nil)
	sigmaXY := stat.Covariance(original, reconstructed, nil)

	num := (2*muX*muY + c1) * (2*sigmaXY + c2)
	den := (muX*muX + muY*muY + c1) * (sigmaX + sigmaY + c2)

	if den > 0 {
		return num / den
	}
	return 0
}

// Correlation returns the Pearson correlation, or 0 when either input is constant.
func Correlation(original, reconstructed []float64) float64 {
	n := len(original)
	if n != len(reconstructed) || n < 2 {
		return 0
	}
	if stat.Variance(original, nil) == 0 || stat.Variance(reconstructed, nil) == 0 {
		return 0
	}
	return stat.Correlation(original, reconstructed, nil)
}
