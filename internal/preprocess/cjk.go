package preprocess

import "image"

const (
	cjkPatches       = 50
	cjkPatchSize     = 20
	cjkVariance      = 2000.0
	cjkPatchFraction = 0.3
)

// DetectCJK samples random patches and reports whether enough of them have
// the high local variance dense CJK glyphs produce. intN(n) must return a
// value in [0, n).
func DetectCJK(img *image.Gray, intN func(int) int) bool {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w < cjkPatchSize || h < cjkPatchSize {
		return false
	}

	busy := 0
	for i := 0; i < cjkPatches; i++ {
		x0 := intN(w - cjkPatchSize + 1)
		y0 := intN(h - cjkPatchSize + 1)
		if patchVariance(img, x0, y0) > cjkVariance {
			busy++
		}
	}
	return float64(busy)/cjkPatches > cjkPatchFraction
}

func patchVariance(img *image.Gray, x0, y0 int) float64 {
	var sum, sumSq float64
	for y := y0; y < y0+cjkPatchSize; y++ {
		row := img.Pix[y*img.Stride+x0 : y*img.Stride+x0+cjkPatchSize]
		for _, v := range row {
			f := float64(v)
			sum += f
			sumSq += f * f
		}
	}
	n := float64(cjkPatchSize * cjkPatchSize)
	mean := sum / n
	return sumSq/n - mean*mean
}
