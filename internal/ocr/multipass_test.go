package ocr

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("MultiPass", func() {
	var (
		engine *fakeBackend
		result *Result
		err    error
	)

	BeforeEach(func() {
		engine = newFakeBackend("tesseract")
	})

	JustBeforeEach(func() {
		result, err = NewMultiPass(engine).Run(context.Background(), blankImage())
	})

	When("the first pass is excellent", func() {
		BeforeEach(func() {
			engine.results[PSMSingleBlock] = &Result{Text: "block", Confidence: 91}
		})

		It("returns it without further passes", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("block"))
			Expect(engine.calls).To(Equal([]PageSegMode{PSMSingleBlock}))
		})
	})

	When("the first pass is good", func() {
		BeforeEach(func() {
			engine.results[PSMSingleBlock] = &Result{Text: "block", Confidence: 72}
		})

		It("returns it as-is", func() {
			Expect(result.Text).To(Equal("block"))
			Expect(engine.calls).To(HaveLen(1))
		})
	})

	When("the first pass is poor and the column pass is good", func() {
		BeforeEach(func() {
			engine.results[PSMSingleBlock] = &Result{Text: "block", Confidence: 50}
			engine.results[PSMSingleColumn] = &Result{Text: "column", Confidence: 75}
		})

		It("returns the column pass without a sparse pass", func() {
			Expect(result.Text).To(Equal("column"))
			Expect(engine.calls).To(Equal([]PageSegMode{PSMSingleBlock, PSMSingleColumn}))
		})
	})

	When("all passes are poor", func() {
		BeforeEach(func() {
			engine.results[PSMSingleBlock] = &Result{
				Text:       "COFFEE 3.50\nTOTAL 3.50",
				Confidence: 60,
				Lines:      []Line{line("COFFEE 3.50", 65, 10), line("TOTAL 3.50", 62, 50)},
			}
			engine.results[PSMSingleColumn] = &Result{
				Text:       "Coffee 3.50\nMUFFIN 2.00",
				Confidence: 55,
				Lines:      []Line{line("Coffee 3.50", 70, 11), line("MUFFIN 2.00", 68, 30)},
			}
			engine.results[PSMSparseText] = &Result{
				Text:       "TAX 0.20",
				Confidence: 52,
				Lines:      []Line{line("TAX 0.20", 40, 40)},
			}
		})

		It("runs all three passes", func() {
			Expect(engine.calls).To(Equal([]PageSegMode{PSMSingleBlock, PSMSingleColumn, PSMSparseText}))
		})

		It("merges unique confident lines in vertical order", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("COFFEE 3.50\nMUFFIN 2.00\nTOTAL 3.50"))
		})

		It("keeps the best pass confidence", func() {
			Expect(result.Confidence).To(Equal(60.0))
		})
	})

	When("a retry pass fails", func() {
		BeforeEach(func() {
			engine.results[PSMSingleBlock] = &Result{Text: "block", Confidence: 40}
			engine.errs[PSMSingleColumn] = errors.New("engine crashed")
			engine.results[PSMSparseText] = &Result{Text: "sparse", Confidence: 20}
		})

		It("continues with the remaining passes", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("block"))
		})
	})

	When("the first pass fails", func() {
		BeforeEach(func() {
			engine.errs[PSMSingleBlock] = errors.New("no image")
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(ContainSubstring("no image")))
		})
	})
})

var _ = Describe("MergePasses", func() {
	It("returns the best pass when it leads by more than ten points", func() {
		best := &Result{Text: "best", Confidence: 69, Lines: []Line{line("best line", 69, 0)}}
		other := &Result{Text: "other", Confidence: 58, Lines: []Line{line("other line", 90, 0)}}
		Expect(MergePasses([]*Result{other, best})).To(BeIdenticalTo(best))
	})

	It("skips short and duplicate lines from other passes", func() {
		best := &Result{Confidence: 60, Lines: []Line{line("Milk 1.99", 60, 0)}}
		other := &Result{Confidence: 55, Lines: []Line{
			line("MILK  1.99", 99, 5),
			line("ab", 99, 6),
		}}
		merged := MergePasses([]*Result{best, other})
		Expect(merged.Lines).To(HaveLen(1))
		Expect(merged.Text).To(Equal("Milk 1.99"))
	})

	It("returns an empty result for no passes", func() {
		Expect(MergePasses(nil).Text).To(BeEmpty())
	})
})
