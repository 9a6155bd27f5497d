package preprocess

import (
	"bytes"
	"context"
	"errors"
	"image"
	"math/rand/v2"

	"github.com/disintegration/imaging"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockOrientation is a mock implementation of OrientationDetector
type mockOrientation struct {
	degrees    float64
	confidence float64
	err        error
	calls      int
}

func (m *mockOrientation) DetectOrientation(ctx context.Context, img image.Image) (float64, float64, error) {
	m.calls++
	return m.degrees, m.confidence, m.err
}

var _ = Describe("Decode", func() {
	It("decodes PNG data", func() {
		var buf bytes.Buffer
		Expect(imaging.Encode(&buf, checkerboard(12, 8), imaging.PNG)).To(Succeed())

		img, err := Decode(buf.Bytes(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Bounds().Dx()).To(Equal(12))
		Expect(img.Bounds().Dy()).To(Equal(8))
	})

	It("rejects empty input", func() {
		_, err := Decode(nil, "image/jpeg")
		Expect(errors.Is(err, ErrUnsupportedFormat)).To(BeTrue())
	})

	It("rejects unknown formats", func() {
		_, err := Decode([]byte("definitely not an image"), "text/plain")
		Expect(errors.Is(err, ErrUnsupportedFormat)).To(BeTrue())
	})

	It("recognizes HEIC magic bytes", func() {
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00"))).To(BeTrue())
		Expect(isHEICFormat([]byte("\x00\x00\x00\x18ftypisom\x00\x00"))).To(BeFalse())
		Expect(isHEICMimeType("image/heif")).To(BeTrue())
	})
})

var _ = Describe("Rescale", func() {
	It("upscales so the shorter side reaches the minimum", func() {
		out, scale := Rescale(image.NewGray(image.Rect(0, 0, 10, 30)), 20, 40)
		Expect(scale).To(Equal(2.0))
		Expect(out.Bounds().Dx()).To(Equal(20))
		Expect(out.Bounds().Dy()).To(Equal(60))
	})

	It("downscales so the shorter side stays under the maximum", func() {
		out, scale := Rescale(image.NewGray(image.Rect(0, 0, 100, 80)), 20, 40)
		Expect(scale).To(Equal(0.5))
		Expect(out.Bounds().Dx()).To(Equal(50))
		Expect(out.Bounds().Dy()).To(Equal(40))
	})

	It("leaves images in range alone", func() {
		in := image.NewGray(image.Rect(0, 0, 30, 90))
		out, scale := Rescale(in, 20, 40)
		Expect(scale).To(Equal(1.0))
		Expect(out).To(BeIdenticalTo(in))
	})
})

var _ = Describe("Rotate", func() {
	It("computes the rotated surface size", func() {
		w, h := RotatedSize(100, 50, 90)
		Expect([]int{w, h}).To(Equal([]int{50, 100}))
		w, h = RotatedSize(100, 50, 180)
		Expect([]int{w, h}).To(Equal([]int{100, 50}))
		w, h = RotatedSize(100, 100, 45)
		Expect([]int{w, h}).To(Equal([]int{142, 142}))
	})

	It("swaps dimensions on a quarter turn", func() {
		out, err := Rotate(image.NewGray(image.Rect(0, 0, 10, 4)), 90, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Bounds().Dx()).To(Equal(4))
		Expect(out.Bounds().Dy()).To(Equal(10))
	})

	It("fails when the surface cannot be allocated", func() {
		_, err := Rotate(image.NewGray(image.Rect(0, 0, 100, 100)), 45, 1000)
		Expect(errors.Is(err, ErrSurface)).To(BeTrue())

		var perr *Error
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Op).To(Equal("rotate"))
	})
})

var _ = Describe("Preprocessor", func() {
	var (
		opts        Options
		orientation *mockOrientation
		input       image.Image
		result      *Result
		err         error
	)

	BeforeEach(func() {
		orientation = &mockOrientation{}
		opts = Options{
			MinShortSide: 40,
			MaxShortSide: 80,
			Orientation:  orientation,
			Rand:         rand.New(rand.NewPCG(3, 4)),
		}
		input = uniformGray(30, 60, 240)
	})

	JustBeforeEach(func() {
		result, err = New(opts).Process(context.Background(), input)
	})

	It("rescales and returns a grayscale image", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Scale).To(BeNumerically("~", 4.0/3.0, 1e-9))
		Expect(result.Image.Bounds().Dx()).To(Equal(40))
		Expect(result.Image.Bounds().Dy()).To(Equal(80))
		Expect(result.CJK).To(BeFalse())
	})

	When("the page is confidently upside down", func() {
		BeforeEach(func() {
			orientation.degrees = 180
			orientation.confidence = 0.9
		})

		It("rotates it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Rotation).To(Equal(180.0))
		})
	})

	When("the orientation estimate is weak", func() {
		BeforeEach(func() {
			orientation.degrees = 90
			orientation.confidence = 0.5
		})

		It("does not rotate", func() {
			Expect(result.Rotation).To(BeZero())
			Expect(result.Image.Bounds().Dx()).To(Equal(40))
		})
	})

	When("orientation detection fails", func() {
		BeforeEach(func() {
			orientation.err = errors.New("classifier offline")
		})

		It("continues without rotating", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(orientation.calls).To(Equal(1))
		})
	})

	When("the rotated surface is too large", func() {
		BeforeEach(func() {
			orientation.degrees = 30
			orientation.confidence = 0.99
			opts.MaxPixels = 100
		})

		It("fails the image", func() {
			Expect(errors.Is(err, ErrSurface)).To(BeTrue())
		})
	})

	When("the content looks like CJK", func() {
		BeforeEach(func() {
			opts.Orientation = nil
			input = checkerboard(60, 60)
		})

		It("flags it", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.CJK).To(BeTrue())
		})
	})

	When("the image is empty", func() {
		BeforeEach(func() {
			input = image.NewGray(image.Rect(0, 0, 0, 0))
		})

		It("returns a preprocessing error", func() {
			var perr *Error
			Expect(errors.As(err, &perr)).To(BeTrue())
		})
	})
})
