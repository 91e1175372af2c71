// Package extract turns OCR text from dose reports into structured records.
package extract

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Extractor converts OCR text into records. The zero value is ready to use.
type Extractor struct {
	referenceDate string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithReferenceDate enables single-date mode: records without a study date
// take this date instead.
func WithReferenceDate(date string) Option {
	return func(e *Extractor) {
		e.referenceDate = strings.TrimSpace(date)
	}
}

// New creates an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SingleDate reports whether single-date mode is active.
func (e *Extractor) SingleDate() bool {
	return e != nil && e.referenceDate != ""
}

// Extract parses text with the default extractor.
func Extract(text string, meta *PatientMeta) Record {
	var e Extractor
	return e.Extract(text, meta)
}

// Extract parses one OCR text blob. It never fails: fields that are not
// found are left empty.
func (e *Extractor) Extract(text string, meta *PatientMeta) Record {
	text = norm.NFKC.String(text)

	rec := Record{
		Gender:         NormalizeGender(metaGender(meta)),
		Date:           e.resolveDate(meta),
		DAP:            firstMatch(text, dapPatterns),
		AK:             firstMatch(text, akPatterns),
		FluoroTime:     firstMatch(text, fluoroPatterns),
		ExposureSeries: firstMatch(text, seriesPatterns),
		ExposureImages: firstMatch(text, imagesPatterns),
		Room:           "1",
	}
	if rec.ExposureSeries != "" && rec.ExposureImages != "" {
		rec.Run = rec.ExposureSeries + "/" + rec.ExposureImages
	}
	if roomTwoPattern.MatchString(text) {
		rec.Room = "2"
	}
	return rec
}

// ForPatient extracts a record and stamps it with the patient identity.
func (e *Extractor) ForPatient(patientID, patientName, text string, meta *PatientMeta) Record {
	rec := e.Extract(text, meta)
	rec.PatientID = patientID
	rec.PatientName = patientName
	return rec
}

func (e *Extractor) resolveDate(meta *PatientMeta) string {
	if meta != nil && strings.TrimSpace(meta.StudyDate) != "" {
		return FormatDate(meta.StudyDate)
	}
	if e.SingleDate() {
		return FormatDate(e.referenceDate)
	}
	return ""
}

func metaGender(meta *PatientMeta) string {
	if meta == nil {
		return ""
	}
	return meta.Gender
}

// NormalizeGender maps gender spellings to "M" or "F". Unknown values keep
// their first character, uppercased.
func NormalizeGender(g string) string {
	g = strings.TrimSpace(g)
	if g == "" {
		return ""
	}
	switch strings.ToUpper(g) {
	case "M", "MALE", "남", "남자":
		return "M"
	case "F", "FEMALE", "여", "여자":
		return "F"
	}
	r, _ := utf8.DecodeRuneInString(g)
	return string(unicode.ToUpper(r))
}

// FormatDate turns "YYYY-MM-DD" or "<time> YYYY-MM-DD" into "YY.MM.DD".
// Input that does not end in a three-part dashed date is returned unchanged.
func FormatDate(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return s
	}
	parts := strings.Split(fields[len(fields)-1], "-")
	if len(parts) != 3 {
		return s
	}
	year := []rune(parts[0])
	if len(year) > 2 {
		year = year[len(year)-2:]
	}
	return string(year) + "." + parts[1] + "." + parts[2]
}
