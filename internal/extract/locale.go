package extract

import (
	"regexp"
	"strings"
)

// Locale keys the keyword tables. Adding a locale means adding rows, not code.
type Locale string

const (
	LocaleEnglish            Locale = "en"
	LocaleTraditionalChinese Locale = "zh-Hant"
	LocaleJapanese           Locale = "ja"
)

// locales fixes the order patterns are joined in
var locales = []Locale{LocaleEnglish, LocaleTraditionalChinese, LocaleJapanese}

// keywordTable holds regexp fragments per locale
type keywordTable map[Locale][]string

// compile joins every locale's fragments into one case-insensitive alternation
func (t keywordTable) compile() *regexp.Regexp {
	var parts []string
	for _, loc := range locales {
		parts = append(parts, t[loc]...)
	}
	return regexp.MustCompile(`(?i)(?:` + strings.Join(parts, "|") + `)`)
}

var (
	// lines that are never a merchant name
	phoneKeywords = keywordTable{
		LocaleEnglish:            {`\btel\b`, `\bphone\b`, `\bfax\b`, `\(\d{2,4}\)\s*\d{3,4}[-\s]?\d{3,4}`, `\b\d{2,4}[-.\s]\d{3,4}[-.\s]\d{3,4}\b`},
		LocaleTraditionalChinese: {`電話`, `电话`, `傳真`},
		LocaleJapanese:           {`☎`, `℡`},
	}
	addressKeywords = keywordTable{
		LocaleEnglish:            {`\d+\s+[a-z0-9 .]*\b(?:st|street|ave|avenue|rd|road|blvd|boulevard|dr|drive|ln|lane|hwy|highway|way|pkwy|suite|ste)\b\.?`},
		LocaleTraditionalChinese: {`\d+\s*(?:號|号|樓|楼|巷|弄)`, `(?:路|街|段)\s*\d`},
		LocaleJapanese:           {`\d+\s*(?:丁目|番地|番|号)`, `〒\s*\d`},
	}
	receiptKeywords = keywordTable{
		LocaleEnglish:            {`\breceipt\b`, `\binvoice\b`, `\border\s*#`, `\btransaction\b`, `\bcashier\b`, `\bstore\s*#`},
		LocaleTraditionalChinese: {`收據`, `收据`, `發票`, `发票`, `統一編號`, `交易明細`},
		LocaleJapanese:           {`領収書`, `領収証`, `レシート`, `明細`, `お客様控`},
	}
	thankYouKeywords = keywordTable{
		LocaleEnglish:            {`thank`, `welcome`, `come again`, `have a nice`},
		LocaleTraditionalChinese: {`歡迎`, `欢迎`, `謝謝`, `谢谢`, `光臨`, `光临`},
		LocaleJapanese:           {`ありがとう`, `いらっしゃいませ`, `またのご来店`},
	}
	storeKeywords = keywordTable{
		LocaleEnglish:            {`\bstore\b`, `\bmarket\b`, `mart\b`, `\bshop\b`, `\bcaf[eé]`, `\bcoffee\b`, `\brestaurant\b`, `\bpharmacy\b`, `\bsupermarket\b`, `\bbakery\b`, `\bgrill\b`, `\bdeli\b`, `\binc\b`, `\bltd\b`, `\bllc\b`, `\bco\.`},
		LocaleTraditionalChinese: {`商店`, `超市`, `便利`, `餐廳`, `餐厅`, `咖啡`, `藥局`, `药局`, `百貨`, `百货`, `有限公司`, `福利中心`, `商行`, `店`},
		LocaleJapanese:           {`スーパー`, `マート`, `ストア`, `コンビニ`, `薬局`, `カフェ`, `株式会社`, `食堂`, `商事`},
	}

	// lines that are never line items
	itemSkipKeywords = keywordTable{
		LocaleEnglish: {`total`, `\btax\b`, `\bvat\b`, `\bgst\b`, `\bhst\b`, `\bchange\b`, `\bcash\b`, `\bcard\b`, `\bvisa\b`, `mastercard`, `\bamex\b`,
			`\bdebit\b`, `\bcredit\b`, `\bpayment\b`, `\bpaid\b`, `\bbalance\b`, `\bdue\b`, `\btender`, `\bsum\b`, `\bauth`, `\bacct\b`},
		LocaleTraditionalChinese: {`合計`, `合计`, `小計`, `小计`, `總計`, `总计`, `總金額`, `應付`, `应付`, `稅`, `税`, `找零`, `找錢`, `現金`, `现金`, `信用卡`, `付款`, `實收`, `悠遊卡`},
		LocaleJapanese:           {`小計`, `総合計`, `お会計`, `ご請求`, `お釣`, `釣銭`, `お預`, `預り`, `クレジット`, `支払`, `消費税`, `内税`, `外税`, `電子マネー`},
	}

	refundKeywords = keywordTable{
		LocaleEnglish:            {`\brefund\b`, `\breturned?\b`},
		LocaleTraditionalChinese: {`退款`, `退貨`, `退货`},
		LocaleJapanese:           {`返品`, `返金`},
	}
)

var (
	phonePattern    = phoneKeywords.compile()
	addressPattern  = addressKeywords.compile()
	receiptPattern  = receiptKeywords.compile()
	thankYouPattern = thankYouKeywords.compile()
	storePattern    = storeKeywords.compile()
	itemSkipPattern = itemSkipKeywords.compile()
	refundPattern   = refundKeywords.compile()
	dateLikePattern = regexp.MustCompile(`\d{1,4}[/.-]\d{1,2}[/.-]\d{1,4}|\d+\s*年\s*\d+\s*月|\b\d{1,2}:\d{2}\b`)
	decorativeLine  = regexp.MustCompile(`^[\s\-=*_#~.+|/\\]+$`)
	digitMidLine    = regexp.MustCompile(`\d\D`)
)

// amountPattern matches a money amount: digits with optional thousands
// separators and up to two decimals
const amountPattern = `(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?`

// totalKeyword matches the amount ending a line that carries keyword, so
// counts between the keyword and the amount are skipped. A short unit or
// currency word may follow the amount.
func totalKeyword(keyword string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)(?:` + keyword + `)[^\n]*?` + amountPattern + `[ \t]*[^\d\s]{0,3}[ \t]*\r?$`)
}

// totalPatterns run most specific first
var totalPatterns = []*regexp.Regexp{
	totalKeyword(`grand\s*total`),
	totalKeyword(`total\s*due`),
	totalKeyword(`balance\s*due`),
	totalKeyword(`amount\s*due`),
	// zh-Hant, with simplified variants OCR often produces
	totalKeyword(`總計|总计|合計|合计|總金額|总金额|應付金額|应付金额|實收金額|實付`),
	// ja
	totalKeyword(`総合計|税込合計|合計|お会計|ご請求額|お買上計`),
	totalKeyword(`\btotal\b|\bsum\b|to\s*pay`),
}
