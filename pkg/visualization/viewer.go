package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"osemrecon/pkg/volume"
)

// Viewer extracts 2D slices from a reconstructed volume and writes them as
// grayscale images. Intensities are scaled so the volume maximum maps to white.
type Viewer struct {
	vol *volume.Volume

	// peak is the activity displayed as white
	peak float64
}

// NewViewer creates a viewer for vol
func NewViewer(vol *volume.Volume) *Viewer {
	return &Viewer{vol: vol, peak: vol.Max()}
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.peak <= 0 {
		return color.Gray16{}
	}
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, value/v.peak*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	dims := v.vol.Dims()
	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= dims.X {
			return nil, fmt.Errorf("position %d exceeds width %d", position, dims.X)
		}
		img = image.NewGray16(image.Rect(0, 0, dims.Z, dims.Y))
		for y := 0; y < dims.Y; y++ {
			for z := 0; z < dims.Z; z++ {
				img.SetGray16(z, y, v.gray(v.vol.At(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= dims.Y {
			return nil, fmt.Errorf("position %d exceeds height %d", position, dims.Y)
		}
		img = image.NewGray16(image.Rect(0, 0, dims.X, dims.Z))
		for z := 0; z < dims.Z; z++ {
			for x := 0; x < dims.X; x++ {
				img.SetGray16(x, z, v.gray(v.vol.At(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= dims.Z {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, dims.Z)
		}
		img = image.NewGray16(image.Rect(0, 0, dims.X, dims.Y))
		for y := 0; y < dims.Y; y++ {
			for x := 0; x < dims.X; x++ {
				img.SetGray16(x, y, v.gray(v.vol.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	dims := v.vol.Dims()
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = dims.X
	case "y", "Y":
		maxPos = dims.Y
	case "z", "Z":
		maxPos = dims.Z
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
