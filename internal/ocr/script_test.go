package ocr

import (
	"strings"

	"github.com/go-text/typesetting/language"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("HasCJK", func() {
	It("detects Han characters", func() {
		Expect(HasCJK("全家便利商店\n合計 85")).To(BeTrue())
	})

	It("detects kana", func() {
		Expect(HasCJK("ローソン レシート")).To(BeTrue())
	})

	It("detects lexical markers in otherwise Latin text", func() {
		Expect(HasCJK("FAMILYMART NT$85")).To(BeTrue())
	})

	It("ignores plain English receipts", func() {
		Expect(HasCJK("WALMART\nMILK 2.99\nTOTAL 2.99")).To(BeFalse())
	})

	It("only inspects the first 500 characters", func() {
		text := strings.Repeat("a", 600) + "合計金額"
		Expect(HasCJK(text)).To(BeFalse())
	})
})

var _ = Describe("DetectScript", func() {
	It("returns the dominant script", func() {
		Expect(DetectScript("ファミリーマート abc")).To(Equal(language.Katakana))
		Expect(DetectScript("Target store")).To(Equal(language.Latin))
	})

	It("ignores digits and punctuation", func() {
		Expect(DetectScript("合計 1,234.00 / 5")).To(Equal(language.Han))
	})

	It("defaults to Latin", func() {
		Expect(DetectScript("12345")).To(Equal(language.Latin))
	})
})

var _ = Describe("script hints", func() {
	It("parses comma-separated hints and skips unknown ones", func() {
		Expect(ParseScriptHints("latin, Japanese,klingon")).To(Equal([]ScriptHint{ScriptLatin, ScriptJapanese}))
	})

	It("maps hints to tesseract languages with English first", func() {
		Expect(LanguagesFor([]ScriptHint{ScriptTraditionalChinese, ScriptLatin})).To(Equal([]string{"eng", "chi_tra"}))
	})
})
