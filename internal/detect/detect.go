// Package detect finds horizontal lines in an image with OpenCV: Canny edge
// detection followed by a probabilistic Hough transform. The raw segments
// are handed to lines.Normalize for filtering, merging and ranking.
package detect

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"github.com/lehigh-university-libraries/linecrop/internal/images"
	"github.com/lehigh-university-libraries/linecrop/internal/lines"
	"gocv.io/x/gocv"
)

// Blur kernel applied before edge detection.
const blurKernel = 5

// Detector runs the line pipeline. It holds no state between calls, so one
// value may be shared by concurrent batch workers.
type Detector struct{}

// New returns a Detector.
func New() *Detector {
	return &Detector{}
}

// DetectFile decodes the image at path and detects its lines. Decode
// failures are returned as *images.ReadError.
func (d *Detector) DetectFile(path string, p lines.Params) (image.Image, []lines.DetectedLine, error) {
	img, err := images.Open(path)
	if err != nil {
		return nil, nil, err
	}
	found, err := d.Detect(img, p)
	if err != nil {
		return img, nil, err
	}
	return img, found, nil
}

// Detect returns the ranked horizontal lines of img. The output depends
// only on the pixels and p.
func (d *Detector) Detect(img image.Image, p lines.Params) ([]lines.DetectedLine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	segments, err := d.Segments(img, p)
	if err != nil {
		return nil, err
	}

	found := lines.Normalize(segments, img.Bounds().Dx(), p)
	slog.Debug("Detected lines", "segments", len(segments), "lines", len(found))
	return found, nil
}

// Segments returns the raw Hough segments in pixel coordinates relative to
// the image's top-left corner.
func (d *Detector) Segments(img image.Image, p lines.Params) ([]lines.Segment, error) {
	src, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("failed to convert image: %w", err)
	}
	defer src.Close()
	if src.Empty() {
		return nil, fmt.Errorf("failed to convert image: empty matrix")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(gray, &blurred, image.Pt(blurKernel, blurKernel), 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(blurred, &edges, float32(p.CannyLow), float32(p.CannyHigh))

	found := gocv.NewMat()
	defer found.Close()
	gocv.HoughLinesPWithParams(edges, &found,
		1, float32(math.Pi/180),
		p.HoughThreshold,
		float32(p.MinLineLength(img.Bounds().Dx())),
		float32(p.MaxLineGap))

	segments := make([]lines.Segment, 0, found.Rows())
	for i := 0; i < found.Rows(); i++ {
		v := found.GetVeciAt(i, 0)
		segments = append(segments, lines.Segment{
			X1: int(v[0]),
			Y1: int(v[1]),
			X2: int(v[2]),
			Y2: int(v[3]),
		})
	}
	return segments, nil
}
