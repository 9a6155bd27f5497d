package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Extractor", func() {
	var (
		extractor *Extractor
		text      string
		ocrConf   float64
		receipt   *Receipt
	)

	BeforeEach(func() {
		extractor = NewWithTimeSource(&mockTimeSource{now: fixedNow})
		ocrConf = 90
	})

	JustBeforeEach(func() {
		receipt = extractor.Extract(text, ocrConf)
	})

	When("reading a clean English receipt", func() {
		BeforeEach(func() {
			text = "WALMART\n...\nTOTAL: $45.67\n01/15/2024"
		})

		It("extracts the merchant, total, currency and date", func() {
			Expect(receipt.Merchant).To(Equal("Walmart"))
			Expect(receipt.Total.StringFixed(2)).To(Equal("45.67"))
			Expect(receipt.Currency).To(Equal("USD"))
			Expect(receipt.Date).To(Equal("2024-01-15"))
		})

		It("applies only the missing-items penalty", func() {
			Expect(receipt.Items).To(BeEmpty())
			Expect(receipt.Confidence).To(BeNumerically("~", 0.9*0.8, 1e-9))
		})
	})

	When("the receipt has items", func() {
		BeforeEach(func() {
			text = "WALMART SUPERCENTER\nGREAT VALUE MILK 3.98\nBANANAS 1.24\nSUBTOTAL 5.22\nTAX 0.00\nTOTAL $5.22\n01/15/2024 14:02"
		})

		It("keeps the OCR confidence", func() {
			Expect(receipt.Items).To(HaveLen(2))
			Expect(receipt.Merchant).To(Equal("Walmart Supercenter"))
			Expect(receipt.Confidence).To(BeNumerically("~", 0.9, 1e-9))
		})
	})

	When("reading a Taiwanese receipt", func() {
		BeforeEach(func() {
			text = "全家便利商店\n民國113年01月15日\n鮮奶 NT$65\n飯糰 NT$35\n合計 NT$100"
		})

		It("extracts CJK fields", func() {
			Expect(receipt.Merchant).To(Equal("全家便利商店"))
			Expect(receipt.Date).To(Equal("2024-01-15"))
			Expect(receipt.Currency).To(Equal("TWD"))
			Expect(receipt.Total.StringFixed(0)).To(Equal("100"))
			Expect(receipt.Items).To(HaveLen(2))
		})
	})

	When("reading a Japanese receipt with full-width digits", func() {
		BeforeEach(func() {
			text = "ローソン 渋谷店\n令和6年1月15日\nおにぎり ￥１５０\nお茶 ￥１３０\n合計 ￥２８０"
		})

		It("folds the digits and reads the fields", func() {
			Expect(receipt.Date).To(Equal("2024-01-15"))
			Expect(receipt.Currency).To(Equal("JPY"))
			Expect(receipt.Total.StringFixed(0)).To(Equal("280"))
		})
	})

	When("the OCR text is empty", func() {
		BeforeEach(func() {
			text = ""
		})

		It("returns defaults with every penalty applied", func() {
			Expect(receipt.Merchant).To(Equal(UnknownMerchant))
			Expect(receipt.Total.IsZero()).To(BeTrue())
			Expect(receipt.Items).To(BeEmpty())
			Expect(receipt.Items).NotTo(BeNil())
			Expect(receipt.Confidence).To(BeNumerically("<=", 0.8*0.7*0.8*0.9+1e-9))
		})
	})

	When("the receipt is a refund", func() {
		BeforeEach(func() {
			text = "TARGET\nREFUND\nTOTAL 12.00"
		})

		It("flags it", func() {
			Expect(receipt.Refund).To(BeTrue())
		})
	})
})

var _ = Describe("Score", func() {
	It("never increases as penalties are added", func() {
		r := &Receipt{
			Merchant: "Cafe",
			Total:    decimal.NewFromInt(10),
			Items:    []Item{{Description: "Tea", Amount: decimal.NewFromInt(10)}},
		}
		full := Score(80, r)
		Expect(full).To(BeNumerically("~", 0.8, 1e-9))

		r.Merchant = UnknownMerchant
		noMerchant := Score(80, r)
		Expect(noMerchant).To(BeNumerically("<=", full))

		r.Total = decimal.Zero
		noTotal := Score(80, r)
		Expect(noTotal).To(BeNumerically("<=", noMerchant))

		r.Items = nil
		Expect(Score(80, r)).To(BeNumerically("<=", noTotal))
	})

	It("clamps to [0, 1]", func() {
		r := &Receipt{Merchant: "Cafe", Total: decimal.NewFromInt(1), Items: []Item{{}}}
		Expect(Score(150, r)).To(Equal(1.0))
		Expect(Score(-5, r)).To(Equal(0.0))
	})
})
