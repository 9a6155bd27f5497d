package extract

import (
	"math/rand/v2"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("DetectCurrency", func() {
	When("currency symbols are present", func() {
		It("picks the most frequent symbol", func() {
			Expect(DetectCurrency("Coffee €3.50\nTea €2.00\nTip $1.00")).To(Equal("EUR"))
		})

		It("does not count NT$ as a dollar sign", func() {
			Expect(DetectCurrency("奶茶 NT$55\n蛋糕 NT$65\n$ coupon")).To(Equal("TWD"))
		})

		It("breaks ties in table order", func() {
			Expect(DetectCurrency("£2.00 €2.00")).To(Equal("EUR"))
		})
	})

	When("only a currency code is present", func() {
		It("matches word-bounded codes", func() {
			Expect(DetectCurrency("TOTAL 45.00 GBP")).To(Equal("GBP"))
		})

		It("matches regional script names", func() {
			Expect(DetectCurrency("合計 120 新台幣")).To(Equal("TWD"))
		})

		It("reads a bare 元 suffix as New Taiwan dollars", func() {
			Expect(DetectCurrency("合計 100元\n鮮奶 65元")).To(Equal("TWD"))
		})

		It("lets explicit renminbi win over 元", func() {
			Expect(DetectCurrency("人民幣 100元")).To(Equal("CNY"))
		})

		It("does not read 元年 as a currency", func() {
			Expect(DetectCurrency("令和元年5月1日\nラーメン 980\n餃子 450")).To(Equal("JPY"))
		})

		It("ignores codes inside words", func() {
			Expect(DetectCurrency("CAUSDRIVE 3.50")).To(Equal("USD"))
		})
	})

	When("only the number format is informative", func() {
		It("infers yen from integral amounts of three or more digits", func() {
			Expect(DetectCurrency("ラーメン 980\n餃子 450\n合計 1,430")).To(Equal("JPY"))
		})

		It("accepts amounts written with a 円 suffix", func() {
			Expect(looksLikeYen("ラーメン 980円\n餃子 450円")).To(BeTrue())
		})

		It("does not infer yen when any amount has decimals", func() {
			Expect(DetectCurrency("Item 980\nOther 4.50")).To(Equal("USD"))
		})
	})

	It("defaults to USD", func() {
		Expect(DetectCurrency("Coffee 3.50")).To(Equal("USD"))
	})
})

var _ = Describe("ExtractMerchant", func() {
	It("skips phone, address and receipt lines", func() {
		lines := []string{"RECEIPT", "Tel: 555-123-4567", "123 Main Street", "STARBUCKS COFFEE", "Thank you"}
		Expect(ExtractMerchant(lines)).To(Equal("Starbucks Coffee"))
	})

	It("prefers earlier lines", func() {
		Expect(ExtractMerchant([]string{"Corner Bistro", "Table 4 Server Ann"})).To(Equal("Corner Bistro"))
	})

	It("keeps CJK names as-is", func() {
		lines := []string{"全聯福利中心", "台北市中山路100號", "電話 02-2345-6789"}
		Expect(ExtractMerchant(lines)).To(Equal("全聯福利中心"))
	})

	It("rejects mostly numeric lines", func() {
		Expect(ExtractMerchant([]string{"12345678 A", "-----"})).To(Equal(UnknownMerchant))
	})

	It("only looks at the first eight lines", func() {
		lines := append(strings.Split(strings.Repeat("1234\n", 8), "\n")[:8], "LATE STORE")
		Expect(ExtractMerchant(lines)).To(Equal(UnknownMerchant))
	})
})

var _ = Describe("ExtractItems", func() {
	It("extracts priced lines and skips totals, tax and payment", func() {
		lines := []string{
			"STARBUCKS",
			"2 x Latte 9.00",
			"Muffin $3.25",
			"muffin  $3.25",
			"SUBTOTAL 12.25",
			"TAX 1.00",
			"VISA 13.25",
			"X 5.00",
			"Espresso Machine 20000.00",
			"01/15/2024 10:32",
		}

		items := ExtractItems(lines, "Starbucks")
		Expect(items).To(HaveLen(2))
		Expect(items[0].Description).To(Equal("Latte"))
		Expect(items[0].Quantity).To(Equal(2))
		Expect(items[0].Amount.StringFixed(2)).To(Equal("9.00"))
		Expect(items[1].Description).To(Equal("Muffin"))
		Expect(items[1].Amount.StringFixed(2)).To(Equal("3.25"))
	})

	It("handles CJK items and suffix currency marks", func() {
		items := ExtractItems([]string{"牛奶 NT$65", "ラーメン 980円", "合計 1045"}, "")
		Expect(items).To(HaveLen(2))
		Expect(items[0].Description).To(Equal("牛奶"))
		Expect(items[1].Amount.StringFixed(0)).To(Equal("980"))
	})

	It("takes the description from the line above a count line", func() {
		items := ExtractItems([]string{"ORGANIC MILK", "2 @ 3.50 7.00", "BREAD 2.49"}, "")
		Expect(items).To(HaveLen(2))
		Expect(items[0].Description).To(Equal("ORGANIC MILK"))
		Expect(items[0].Quantity).To(Equal(2))
		Expect(items[0].Amount.StringFixed(2)).To(Equal("7.00"))
		Expect(items[1].Description).To(Equal("BREAD"))
	})

	It("strips a count and unit price after the description", func() {
		items := ExtractItems([]string{"COKE 2L 3 @ 1.50 4.50"}, "")
		Expect(items).To(HaveLen(1))
		Expect(items[0].Description).To(Equal("COKE 2L"))
		Expect(items[0].Quantity).To(Equal(3))
		Expect(items[0].Amount.StringFixed(2)).To(Equal("4.50"))
	})

	It("drops a count line with nothing to describe it", func() {
		Expect(ExtractItems([]string{"2 @ 3.50 7.00"}, "")).To(BeEmpty())
	})

	It("parses thousands separators", func() {
		items := ExtractItems([]string{"Laptop Stand 1,299.99"}, "")
		Expect(items[0].Amount.StringFixed(2)).To(Equal("1299.99"))
	})
})

var _ = Describe("ExtractTotal", func() {
	It("returns the largest keyword match", func() {
		text := "SUBTOTAL 40.00\nTAX 3.20\nTOTAL 43.20\nGRAND TOTAL 45.00\nTOTAL DUE 44.00"
		Expect(ExtractTotal(text, nil).StringFixed(2)).To(Equal("45.00"))
	})

	It("is independent of line order", func() {
		lines := []string{"TOTAL 43.20", "GRAND TOTAL 45.00", "TOTAL DUE 44.00", "Balance due: $12.00", "合計 30"}
		rng := rand.New(rand.NewPCG(5, 6))
		for i := 0; i < 10; i++ {
			rng.Shuffle(len(lines), func(a, b int) { lines[a], lines[b] = lines[b], lines[a] })
			Expect(ExtractTotal(strings.Join(lines, "\n"), nil).StringFixed(2)).To(Equal("45.00"))
		}
	})

	It("takes the amount ending the line, not a count after the keyword", func() {
		Expect(ExtractTotal("TOTAL 2 ITEMS 45.67", nil).StringFixed(2)).To(Equal("45.67"))
		Expect(ExtractTotal("合計 3点 ¥1,430", nil).StringFixed(0)).To(Equal("1430"))
	})

	It("allows a currency word after the amount", func() {
		Expect(ExtractTotal("TOTAL 45.00 GBP", nil).StringFixed(2)).To(Equal("45.00"))
		Expect(ExtractTotal("合計 100元", nil).StringFixed(0)).To(Equal("100"))
	})

	It("understands Traditional Chinese and Japanese keywords", func() {
		Expect(ExtractTotal("小計 100\n合計 NT$1,050", nil).StringFixed(0)).To(Equal("1050"))
		Expect(ExtractTotal("お会計 ¥2,980", nil).StringFixed(0)).To(Equal("2980"))
	})

	It("falls back to the largest line-end amount under the cap", func() {
		text := "REF 123456\nCOFFEE 3.50\nMUFFIN 2.25"
		Expect(ExtractTotal(text, nil).StringFixed(2)).To(Equal("3.50"))
	})

	It("falls back to the sum of items", func() {
		items := []Item{
			{Description: "A", Amount: decimal.RequireFromString("1.25")},
			{Description: "B", Amount: decimal.RequireFromString("2.50")},
		}
		Expect(ExtractTotal("no amounts", items).StringFixed(2)).To(Equal("3.75"))
	})
})

var _ = Describe("ItemKey", func() {
	It("uses a lower-cased prefix and cents", func() {
		a := ItemKey("Organic Bananas Large", decimal.RequireFromString("1.5"), 10)
		b := ItemKey("ORGANIC BAnanas", decimal.RequireFromString("1.50"), 10)
		Expect(a).To(Equal(b))
	})
})
