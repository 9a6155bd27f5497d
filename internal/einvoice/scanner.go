package einvoice

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// rightCodePrefix starts the right-hand QR code, which only continues the
// item list
const rightCodePrefix = "**"

// Scanner finds and decodes the left e-invoice QR code in a receipt image
type Scanner struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// NewScanner creates a Scanner
func NewScanner() *Scanner {
	return &Scanner{
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER:    true,
			gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
		},
	}
}

// Scan decodes the left QR code. When the right code is found first, the
// left half of the image is searched again.
func (s *Scanner) Scan(img image.Image) (*Invoice, error) {
	text, err := s.decode(img)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(text, rightCodePrefix) {
		b := img.Bounds()
		left := imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+b.Dx()/2, b.Max.Y))
		if text, err = s.decode(left); err != nil {
			return nil, err
		}
	}

	return Parse(text)
}

func (s *Scanner) decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("creating binary bitmap: %w", err)
	}

	// readers keep state between calls
	result, err := qrcode.NewQRCodeReader().Decode(bmp, s.hints)
	if err == nil {
		return result.GetText(), nil
	}

	// dense low-redundancy codes can fail perspective sampling but still
	// read when the image is taken as the code itself
	result, pureErr := qrcode.NewQRCodeReader().Decode(bmp, s.pureHints())
	if pureErr != nil {
		return "", fmt.Errorf("decoding QR code: %w", err)
	}
	return result.GetText(), nil
}

func (s *Scanner) pureHints() map[gozxing.DecodeHintType]interface{} {
	hints := make(map[gozxing.DecodeHintType]interface{}, len(s.hints)+1)
	for k, v := range s.hints {
		hints[k] = v
	}
	hints[gozxing.DecodeHintType_PURE_BARCODE] = true
	return hints
}
