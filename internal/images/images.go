// Package images reads and writes the raster formats the cropper accepts.
package images

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// SupportedExtensions lists the lower-case extensions recognised in a source folder.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp"}

// ReadError means a file could not be read or decoded as an image.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("failed to read image %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// IsSupported reports whether the file name carries a supported extension.
func IsSupported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// Open decodes the whole image at path into memory.
func Open(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	b := img.Bounds()
	if b.Empty() {
		return nil, &ReadError{Path: path, Err: errors.New("image has no pixels")}
	}
	slog.Debug("Decoded image", "path", path, "width", b.Dx(), "height", b.Dy())
	return img, nil
}

// Decode reads an image from r; name is only used in errors.
func Decode(r io.Reader, name string) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, &ReadError{Path: name, Err: err}
	}
	if img.Bounds().Empty() {
		return nil, &ReadError{Path: name, Err: errors.New("image has no pixels")}
	}
	return img, nil
}

// EncodePNG writes img to w as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.PNG)
}

// OutputName maps a file name to one the encoder can write. Formats that
// can be decoded but not encoded (webp) are written as PNG.
func OutputName(name string) string {
	if _, err := imaging.FormatFromFilename(name); err == nil {
		return name
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".png"
}

// Save encodes img to path, choosing the format from the extension.
func Save(img image.Image, path string) error {
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to write image %s: %w", path, err)
	}
	return nil
}

// Dimensions reads only the header of the image at path.
func Dimensions(path string) (int, int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}
