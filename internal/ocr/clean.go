package ocr

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// CleanOptions controls line post-processing.
type CleanOptions struct {
	NormalizeForm      string // "NFC" (default), "NFKC", or "none"
	CollapseWhitespace bool
	RemoveControlChars bool
	RemoveZeroWidth    bool
}

// DefaultCleanOptions returns the cleanup applied to recognized lines.
func DefaultCleanOptions() CleanOptions {
	return CleanOptions{
		NormalizeForm:      "NFC",
		CollapseWhitespace: true,
		RemoveControlChars: true,
		RemoveZeroWidth:    true,
	}
}

var wsRe = regexp.MustCompile(`\s+`)

// CleanText normalizes a single recognized line.
func CleanText(s string, opts CleanOptions) string {
	if s == "" {
		return s
	}
	switch strings.ToUpper(opts.NormalizeForm) {
	case "NFC", "":
		s = norm.NFC.String(s)
	case "NFKC":
		s = norm.NFKC.String(s)
	}
	if opts.RemoveZeroWidth || opts.RemoveControlChars {
		s = strings.Map(func(r rune) rune {
			switch {
			case opts.RemoveZeroWidth && isZeroWidth(r):
				return -1
			case opts.RemoveControlChars && unicode.IsControl(r) && r != '\t':
				return -1
			}
			return r
		}, s)
	}
	if opts.CollapseWhitespace {
		s = wsRe.ReplaceAllString(s, " ")
	}
	return strings.TrimSpace(s)
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF':
		return true
	}
	return false
}

// FilterLines drops lines below the confidence threshold, cleans the rest and
// discards lines that end up empty.
func FilterLines(lines []Line, threshold float64, opts CleanOptions) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if l.Confidence < threshold {
			continue
		}
		text := CleanText(l.Text, opts)
		if text == "" {
			continue
		}
		out = append(out, Line{Text: text, Confidence: l.Confidence})
	}
	return out
}

// JoinLines joins line texts with newlines.
func JoinLines(lines []Line) string {
	texts := make([]string, len(lines))
	for i, l := range lines {
		texts[i] = l.Text
	}
	return strings.Join(texts, "\n")
}
