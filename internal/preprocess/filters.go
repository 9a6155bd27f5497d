package preprocess

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

var (
	boxKernel = [9]float64{
		1, 1, 1,
		1, 1, 1,
		1, 1, 1,
	}
	gaussianKernel = [9]float64{
		1, 2, 1,
		2, 4, 2,
		1, 2, 1,
	}
)

// unsharpAmount is k in original + k·(original − blurred)
const unsharpAmount = 0.5

// ThresholdParams controls AdaptiveThreshold
type ThresholdParams struct {
	// Block is the side of the local window
	Block int
	// C is subtracted from the local mean
	C float64
	// Dark scales pixels below mean−C toward black
	Dark float64
	// Light moves the remaining pixels toward white
	Light float64
}

var (
	LatinThreshold = ThresholdParams{Block: 15, C: 10, Dark: 0.5, Light: 0.3}
	// CJK strokes are thin; use a smaller window and gentler multipliers
	CJKThreshold = ThresholdParams{Block: 11, C: 5, Dark: 0.7, Light: 0.4}
)

// Grayscale converts to 8-bit luma using 0.299R + 0.587G + 0.114B
func Grayscale(img image.Image) *image.Gray {
	return toGray(imaging.Grayscale(img))
}

// BoxBlur applies a 3×3 mean filter. The one-pixel border is left untouched.
func BoxBlur(img *image.Gray) *image.Gray {
	return keepBorder(img, convolve(img, boxKernel))
}

// Equalize performs global histogram equalization. The lowest occupied bin
// maps to 0 and the highest to 255. A uniform image is returned unchanged.
func Equalize(img *image.Gray) *image.Gray {
	var hist [256]int
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w]
		for _, v := range row {
			hist[v]++
		}
	}

	total := w * h
	var cdf [256]int
	cdfMin := 0
	running := 0
	for i, n := range hist {
		running += n
		cdf[i] = running
		if cdfMin == 0 && running > 0 {
			cdfMin = running
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	if total == cdfMin {
		copyGray(out, img)
		return out
	}

	var lut [256]uint8
	for i := range lut {
		if cdf[i] < cdfMin {
			continue
		}
		lut[i] = uint8(math.Round(float64(cdf[i]-cdfMin) / float64(total-cdfMin) * 255))
	}
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+w]
		dst := out.Pix[y*out.Stride : y*out.Stride+w]
		for x, v := range src {
			dst[x] = lut[v]
		}
	}
	return out
}

// UnsharpMask sharpens with original + 0.5·(original − gaussian3x3(original))
func UnsharpMask(img *image.Gray) *image.Gray {
	blurred := convolve(img, gaussianKernel)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := float64(img.Pix[y*img.Stride+x])
			b := float64(blurred.Pix[y*blurred.Stride+x])
			out.Pix[y*out.Stride+x] = clamp(o + unsharpAmount*(o-b))
		}
	}
	return out
}

// AdaptiveThreshold softly binarizes against the local mean, computed from
// an integral image. Pixels darker than mean−C are scaled by Dark; the rest
// move toward white by Light. Output is a pure function of the input.
func AdaptiveThreshold(img *image.Gray, p ThresholdParams) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}

	integral := integralImage(img)
	stride := w + 1
	half := max(p.Block/2, 0)

	for y := 0; y < h; y++ {
		y0, y1 := max(y-half, 0), min(y+half, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := max(x-half, 0), min(x+half, w-1)
			sum := integral[(y1+1)*stride+x1+1] -
				integral[y0*stride+x1+1] -
				integral[(y1+1)*stride+x0] +
				integral[y0*stride+x0]
			count := (x1 - x0 + 1) * (y1 - y0 + 1)
			mean := float64(sum) / float64(count)

			v := float64(img.Pix[y*img.Stride+x])
			if v < mean-p.C {
				v *= p.Dark
			} else {
				v += (255 - v) * p.Light
			}
			out.Pix[y*out.Stride+x] = clamp(v)
		}
	}
	return out
}

// integralImage returns a (w+1)×(h+1) table of running sums
func integralImage(img *image.Gray) []int64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	stride := w + 1
	sums := make([]int64, stride*(h+1))
	for y := 0; y < h; y++ {
		var row int64
		for x := 0; x < w; x++ {
			row += int64(img.Pix[y*img.Stride+x])
			sums[(y+1)*stride+x+1] = sums[y*stride+x+1] + row
		}
	}
	return sums
}

// convolve runs a normalized 3×3 kernel through imaging
func convolve(img *image.Gray, kernel [9]float64) *image.Gray {
	return toGray(imaging.Convolve3x3(img, kernel, &imaging.ConvolveOptions{Normalize: true}))
}

// keepBorder copies the outermost pixels of src onto dst
func keepBorder(src, dst *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y != 0 && y != h-1 && x != 0 && x != w-1 {
				continue
			}
			dst.Pix[y*dst.Stride+x] = src.Pix[y*src.Stride+x]
		}
	}
	return dst
}

// toGray converts an NRGBA image whose channels are equal into a Gray
// image with origin at (0, 0)
func toGray(img *image.NRGBA) *image.Gray {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*out.Stride+x] = img.Pix[y*img.Stride+x*4]
		}
	}
	return out
}

func copyGray(dst, src *image.Gray) {
	draw.Draw(dst, dst.Rect, src, src.Rect.Min, draw.Src)
}

func clamp(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(math.Round(v))
}
