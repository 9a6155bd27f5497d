package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// Calendar offsets for era-based years
const (
	rocOffset    = 1911 // 民國 1 = 1912
	reiwaOffset  = 2018 // 令和 1 = 2019
	heiseiOffset = 1988 // 平成 1 = 1989
)

// datePattern turns a match into year, month and day. ok is false when the
// match cannot be interpreted.
type datePattern struct {
	re    *regexp.Regexp
	build func(m []string, now time.Time) (y, mo, d int, ok bool)
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

const monthAlternation = `(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?`

// datePatterns are tried in order; the first valid date wins
var datePatterns = []datePattern{
	// ISO
	{regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`), ymd(1, 2, 3, 0)},
	{regexp.MustCompile(`(\d{4})/(\d{1,2})/(\d{1,2})`), ymd(1, 2, 3, 0)},
	{regexp.MustCompile(`\b(\d{4})\.(\d{1,2})\.(\d{1,2})\b`), ymd(1, 2, 3, 0)},
	// DD/MM/YYYY
	{regexp.MustCompile(`\b(\d{1,2})[/.](\d{1,2})[/.](\d{4})\b`), ymd(3, 2, 1, 0)},
	// MM-DD-YYYY
	{regexp.MustCompile(`\b(\d{1,2})[-/](\d{1,2})[-/](\d{4})\b`), ymd(3, 1, 2, 0)},
	// 15 Jan 2024
	{regexp.MustCompile(`(?i)\b(\d{1,2})\s+` + monthAlternation + `,?\s+(\d{4})\b`), func(m []string, _ time.Time) (int, int, int, bool) {
		return atoi(m[3]), monthNames[strings.ToLower(m[2])], atoi(m[1]), true
	}},
	// Jan 15, 2024
	{regexp.MustCompile(`(?i)\b` + monthAlternation + `\s+(\d{1,2}),?\s+(\d{4})\b`), func(m []string, _ time.Time) (int, int, int, bool) {
		return atoi(m[3]), monthNames[strings.ToLower(m[1])], atoi(m[2]), true
	}},
	// 2024年1月15日
	{regexp.MustCompile(`(\d{4})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日?`), ymd(1, 2, 3, 0)},
	// 民國113年1月15日
	{regexp.MustCompile(`民[國国]\s*(\d{1,3})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})`), ymd(1, 2, 3, rocOffset)},
	// 113/01/15 or 24/01/15
	{regexp.MustCompile(`\b(\d{2,3})[/.-](\d{1,2})[/.-](\d{1,2})\b`), func(m []string, _ time.Time) (int, int, int, bool) {
		y := atoi(m[1])
		if y > 50 {
			y += rocOffset
		} else {
			y += 2000
		}
		return y, atoi(m[2]), atoi(m[3]), true
	}},
	// 令和6年1月15日
	{regexp.MustCompile(`令和\s*(\d{1,2}|元)\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})`), ymd(1, 2, 3, reiwaOffset)},
	// 平成30年1月15日
	{regexp.MustCompile(`平成\s*(\d{1,2}|元)\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})`), ymd(1, 2, 3, heiseiOffset)},
	// 15/01 14:32
	{regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\s+\d{1,2}:\d{2}\b`), func(m []string, now time.Time) (int, int, int, bool) {
		return now.Year(), atoi(m[2]), atoi(m[1]), true
	}},
}

// ParseDate returns the first valid date found in text as YYYY-MM-DD, or
// today's date when none is found
func (e *Extractor) ParseDate(text string) string {
	now := e.timeSource.Now()
	if d, ok := FindDate(text, now); ok {
		return d
	}
	return now.Format(isoDate)
}

// FindDate tries each date pattern in order. now supplies the year for
// forms that omit it.
func FindDate(text string, now time.Time) (string, bool) {
	text = Normalize(text)
	for _, p := range datePatterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			y, mo, d, ok := p.build(m, now)
			if !ok || !validDate(y, mo, d) {
				continue
			}
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC).Format(isoDate), true
		}
	}
	return "", false
}

// ymd builds a date from submatch indexes, adding offset to the year
func ymd(yi, mi, di, offset int) func([]string, time.Time) (int, int, int, bool) {
	return func(m []string, _ time.Time) (int, int, int, bool) {
		y := eraYear(m[yi])
		if y < 0 {
			return 0, 0, 0, false
		}
		return y + offset, atoi(m[mi]), atoi(m[di]), true
	}
}

// eraYear parses a year number, accepting 元 for the first year of an era
func eraYear(s string) int {
	if s == "元" {
		return 1
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func validDate(y, mo, d int) bool {
	if mo < 1 || mo > 12 || d < 1 || d > 31 || y < 2000 || y > 2100 {
		return false
	}
	// reject Feb 30 and friends
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	return t.Day() == d
}
