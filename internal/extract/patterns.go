package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// fieldPattern pairs a pattern with the function that turns its first capture into a value.
type fieldPattern struct {
	re      *regexp.Regexp
	extract func(match string) (string, bool)
}

const decimal = `(\d+(?:\.\d+)?)`

var (
	dapPatterns = []fieldPattern{
		{re: regexp.MustCompile(`(?i)` + decimal + `\s*Gy[·.]?cm2?`), extract: milliUnits},
	}

	akPatterns = []fieldPattern{
		{re: regexp.MustCompile(`(?is)` + decimal + `\s*mGy.*?Total\s*Air\s*Kerma`), extract: integerPart},
		{re: regexp.MustCompile(`(?is)Total\s*Air\s*Kerma.*?` + decimal + `\s*mGy`), extract: integerPart},
		{re: regexp.MustCompile(`(?i)` + decimal + `\s*mGy`), extract: integerPart},
	}

	fluoroPatterns = []fieldPattern{
		{re: regexp.MustCompile(`(?is)(\d{1,2}:\d{2}:\d{2}).*?Total\s*Fluoroscopy\s*Time`), extract: verbatim},
		{re: regexp.MustCompile(`(?is)Total\s*Fluoroscopy\s*Time.*?(\d{1,2}:\d{2}:\d{2})`), extract: verbatim},
		{re: regexp.MustCompile(`(\d{1,2}:\d{2}:\d{2})`), extract: verbatim},
	}

	seriesPatterns = []fieldPattern{
		{re: regexp.MustCompile(`(?i)(\d+)\s*Exposure\s*Series`), extract: verbatim},
		{re: regexp.MustCompile(`(?i)Exposure\s*Series\s*(\d+)`), extract: verbatim},
	}

	imagesPatterns = []fieldPattern{
		{re: regexp.MustCompile(`(?i)(\d+)\s*Exposure\s*Images`), extract: verbatim},
		{re: regexp.MustCompile(`(?i)Exposure\s*Images\s*(\d+)`), extract: verbatim},
	}

	roomTwoPattern = regexp.MustCompile(`(?i)15\s*cm\s*(?:from\s*the\s*)?isocenter`)
)

// firstMatch runs the patterns in order and returns the first extracted value.
func firstMatch(text string, patterns []fieldPattern) string {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		if v, ok := p.extract(m[1]); ok {
			return v
		}
	}
	return ""
}

func verbatim(s string) (string, bool) { return s, s != "" }

// integerPart keeps the digits before the decimal point.
func integerPart(s string) (string, bool) {
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return s, s != ""
}

// milliUnits converts Gy·cm² to mGy·cm², rounded to the nearest integer.
func milliUnits(s string) (string, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return "", false
	}
	return strconv.FormatFloat(math.Round(v*1000), 'f', 0, 64), true
}
