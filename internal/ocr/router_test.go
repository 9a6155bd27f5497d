package ocr

import (
	"context"
	"errors"

	"github.com/go-text/typesetting/language"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Router", func() {
	var (
		general     *fakeBackend
		specialized *fakeBackend
		router      *Router
		mode        EngineMode
		rec         *Recognition
		err         error
	)

	BeforeEach(func() {
		general = newFakeBackend("tesseract")
		specialized = newFakeBackend("paddle")
		general.results[PSMSingleBlock] = &Result{Text: "WALMART\nTOTAL 4.00", Confidence: 90}
		specialized.results[PSMAuto] = &Result{Text: "全聯福利中心\n合計 120", Confidence: 88}
		mode = ModeAuto
	})

	JustBeforeEach(func() {
		router = NewRouter(general, specialized, mode)
		rec, err = router.Recognize(context.Background(), blankImage())
	})

	Describe("tesseract mode", func() {
		BeforeEach(func() {
			mode = ModeTesseract
		})

		It("uses only the general engine", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Engine).To(Equal("tesseract"))
			Expect(specialized.calls).To(BeEmpty())
		})

		It("reports the dominant script of the text", func() {
			Expect(rec.Script).To(Equal(language.Latin))
		})
	})

	Describe("specialized mode", func() {
		BeforeEach(func() {
			mode = ModeSpecialized
		})

		It("uses the specialized engine", func() {
			Expect(rec.Engine).To(Equal("paddle"))
			Expect(rec.Script).To(Equal(language.Han))
			Expect(general.calls).To(BeEmpty())
		})

		When("the specialized engine fails", func() {
			BeforeEach(func() {
				specialized.errs[PSMAuto] = errors.New("server down")
			})

			It("falls back to the general engine silently", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.Engine).To(Equal("tesseract"))
			})
		})
	})

	Describe("auto mode", func() {
		When("the quick pass reads Latin text", func() {
			It("keeps the general engine result", func() {
				Expect(rec.Engine).To(Equal("tesseract"))
				Expect(rec.Result.Text).To(ContainSubstring("WALMART"))
				Expect(specialized.calls).To(BeEmpty())
			})

			It("does not repeat the quick pass", func() {
				Expect(general.calls).To(Equal([]PageSegMode{PSMSingleBlock}))
			})
		})

		When("the quick pass finds CJK text", func() {
			BeforeEach(func() {
				general.results[PSMSingleBlock] = &Result{Text: "全聯 合計 NT$120", Confidence: 40}
				general.results[PSMSingleColumn] = &Result{Text: "column", Confidence: 30}
				general.results[PSMSparseText] = &Result{Text: "sparse", Confidence: 10}
			})

			It("routes to the specialized engine", func() {
				Expect(rec.Engine).To(Equal("paddle"))
				Expect(rec.Result.Text).To(ContainSubstring("全聯福利中心"))
			})

			When("the specialized engine fails", func() {
				BeforeEach(func() {
					specialized.errs[PSMAuto] = errors.New("timeout")
				})

				It("returns the general multi-pass result", func() {
					Expect(err).NotTo(HaveOccurred())
					Expect(rec.Engine).To(Equal("tesseract"))
					Expect(general.calls).To(Equal([]PageSegMode{PSMSingleBlock, PSMSingleColumn, PSMSparseText}))
				})
			})
		})

		When("no specialized engine is configured", func() {
			BeforeEach(func() {
				general.results[PSMSingleBlock] = &Result{Text: "合計 1200円", Confidence: 95}
			})

			JustBeforeEach(func() {
				router = NewRouter(general, nil, ModeAuto)
				rec, err = router.Recognize(context.Background(), blankImage())
			})

			It("uses the general engine", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.Engine).To(Equal("tesseract"))
			})
		})
	})

	Describe("SetMode", func() {
		It("changes the routing for later calls", func() {
			router.SetMode(ModeSpecialized)
			Expect(router.Mode()).To(Equal(ModeSpecialized))
		})
	})
})

var _ = Describe("ParseEngineMode", func() {
	It("accepts known modes case-insensitively", func() {
		m, err := ParseEngineMode(" Auto ")
		Expect(err).NotTo(HaveOccurred())
		Expect(m).To(Equal(ModeAuto))
	})

	It("rejects unknown modes", func() {
		_, err := ParseEngineMode("gpu")
		Expect(err).To(HaveOccurred())
	})
})
