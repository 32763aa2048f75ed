// Package encode renders quick-look preview images of raster bands and
// writes them as PNG, JPEG, WebP or Terrarium-encoded PNG.
package encode

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
)

// Encoder encodes an image into bytes of one image format.
type Encoder interface {
	// Encode encodes an image to bytes in the target format.
	Encode(img image.Image) ([]byte, error)

	// Format returns the format name (e.g. "jpeg", "png", "webp").
	Format() string

	// FileExtension returns the appropriate file extension.
	FileExtension() string
}

// NewEncoder creates an encoder for the given format and quality.
func NewEncoder(format string, quality int) (Encoder, error) {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "png":
		return &PNGEncoder{}, nil
	case "webp":
		return newWebPEncoder(quality)
	case "terrarium":
		return &TerrariumEncoder{}, nil
	default:
		return nil, fmt.Errorf("unsupported preview format: %q (supported: jpeg, png, webp, terrarium)", format)
	}
}

// FormatForPath guesses the preview format from a file extension.
func FormatForPath(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".png":
		return "png", nil
	case ".jpg", ".jpeg":
		return "jpeg", nil
	case ".webp":
		return "webp", nil
	default:
		return "", fmt.Errorf("cannot infer preview format from extension %q", ext)
	}
}

// WriteFile encodes img and writes it to path.
func WriteFile(path string, img image.Image, enc Encoder) error {
	data, err := enc.Encode(img)
	if err != nil {
		return fmt.Errorf("encoding %s preview: %w", enc.Format(), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing preview %s: %w", path, err)
	}
	return nil
}
