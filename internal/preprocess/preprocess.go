// Package preprocess prepares receipt photos for OCR: rescaling, orientation
// correction, grayscale, denoise, contrast, sharpening and adaptive
// thresholding.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math/rand/v2"
)

// Defaults for Options
const (
	DefaultMinShortSide = 1500
	DefaultMaxShortSide = 3000
	DefaultMaxPixels    = 64 << 20

	// orientation estimates at or below this are ignored
	minOrientationConfidence = 0.5
)

// ErrSurface is returned when the rotated drawing surface cannot be allocated
var ErrSurface = errors.New("cannot allocate drawing surface")

// Error is a fatal preprocessing failure for a single image
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("preprocessing %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// OrientationDetector reports the clockwise rotation of the page content in
// degrees, with a 0-1 confidence.
type OrientationDetector interface {
	DetectOrientation(ctx context.Context, img image.Image) (degrees float64, confidence float64, err error)
}

// Options configures a Preprocessor
type Options struct {
	MinShortSide int
	MaxShortSide int
	// MaxPixels bounds the rotated surface
	MaxPixels int
	// Orientation is optional; without it no rotation is applied
	Orientation OrientationDetector
	// Rand drives CJK patch sampling. Nil uses the global source.
	Rand *rand.Rand
}

// Result is a preprocessed image ready for OCR
type Result struct {
	Image    *image.Gray
	CJK      bool
	Rotation float64
	Scale    float64
}

// Preprocessor runs the full preprocessing chain. It is not safe for
// concurrent use when Options.Rand is set.
type Preprocessor struct {
	opts Options
	intN func(int) int
}

// New creates a Preprocessor, filling unset options with defaults
func New(opts Options) *Preprocessor {
	if opts.MinShortSide <= 0 {
		opts.MinShortSide = DefaultMinShortSide
	}
	if opts.MaxShortSide < opts.MinShortSide {
		opts.MaxShortSide = max(DefaultMaxShortSide, opts.MinShortSide)
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	p := &Preprocessor{opts: opts, intN: rand.IntN}
	if opts.Rand != nil {
		p.intN = opts.Rand.IntN
	}
	return p
}

// Process runs rescale, rotation, grayscale, blur, equalization, CJK
// detection, sharpening (non-CJK only) and adaptive thresholding.
func (p *Preprocessor) Process(ctx context.Context, img image.Image) (*Result, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, &Error{Op: "decode", Err: errors.New("empty image")}
	}

	res := &Result{}
	img, res.Scale = Rescale(img, p.opts.MinShortSide, p.opts.MaxShortSide)

	if p.opts.Orientation != nil {
		angle, conf, err := p.opts.Orientation.DetectOrientation(ctx, img)
		switch {
		case err != nil:
			slog.Warn("Orientation detection failed, skipping rotation", "error", err)
		case conf > minOrientationConfidence && normalizeAngle(angle) != 0:
			rotated, err := Rotate(img, angle, p.opts.MaxPixels)
			if err != nil {
				return nil, err
			}
			img = rotated
			res.Rotation = normalizeAngle(angle)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := Grayscale(img)
	gray = BoxBlur(gray)
	gray = Equalize(gray)
	res.CJK = DetectCJK(gray, p.intN)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := LatinThreshold
	if res.CJK {
		params = CJKThreshold
	} else {
		gray = UnsharpMask(gray)
	}
	res.Image = AdaptiveThreshold(gray, params)

	slog.Debug("Preprocessed image",
		"width", res.Image.Rect.Dx(),
		"height", res.Image.Rect.Dy(),
		"scale", res.Scale,
		"rotation", res.Rotation,
		"cjk", res.CJK,
	)
	return res, nil
}
