package preprocess

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// Rescale resizes img so its shorter side lies in [minShort, maxShort],
// preserving aspect ratio. Returns the image and the scale factor applied.
func Rescale(img image.Image, minShort, maxShort int) (image.Image, float64) {
	b := img.Bounds()
	short := min(b.Dx(), b.Dy())
	if short == 0 {
		return img, 1
	}

	var scale float64
	switch {
	case short < minShort:
		scale = float64(minShort) / float64(short)
	case short > maxShort:
		scale = float64(maxShort) / float64(short)
	default:
		return img, 1
	}

	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	return imaging.Resize(img, w, h, imaging.Lanczos), scale
}

// RotatedSize returns the bounding dimensions of a w×h image rotated by degrees
func RotatedSize(w, h int, degrees float64) (int, int) {
	rad := degrees * math.Pi / 180
	sin, cos := math.Abs(math.Sin(rad)), math.Abs(math.Cos(rad))
	// round away float noise so 90° turns stay exact
	nw := math.Round((float64(w)*cos+float64(h)*sin)*1e6) / 1e6
	nh := math.Round((float64(w)*sin+float64(h)*cos)*1e6) / 1e6
	return int(math.Ceil(nw)), int(math.Ceil(nh))
}

// Rotate undoes a clockwise rotation of degrees by turning the image back
// counter-clockwise onto a white surface sized to fit. A surface that would
// be empty or exceed maxPixels is a fatal *Error wrapping ErrSurface.
func Rotate(img image.Image, degrees float64, maxPixels int) (image.Image, error) {
	b := img.Bounds()
	w, h := RotatedSize(b.Dx(), b.Dy(), degrees)
	if w <= 0 || h <= 0 || (maxPixels > 0 && w*h > maxPixels) {
		return nil, &Error{Op: "rotate", Err: ErrSurface}
	}

	out := imaging.Rotate(img, degrees, color.White)
	if out == nil || out.Bounds().Empty() {
		return nil, &Error{Op: "rotate", Err: ErrSurface}
	}
	return out, nil
}

// normalizeAngle maps degrees into [0, 360)
func normalizeAngle(degrees float64) float64 {
	a := math.Mod(degrees, 360)
	if a < 0 {
		a += 360
	}
	return a
}
