package extract

import (
	"regexp"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var digitsOnly = regexp.MustCompile(`^\d*$`)

// TestExtract_Total verifies extraction never panics and always yields well-formed fields.
func TestExtract_Total(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("every field is matched or empty", prop.ForAll(
		func(text string) bool {
			rec := Extract(text, nil)
			if rec.Room != "1" && rec.Room != "2" {
				return false
			}
			if !digitsOnly.MatchString(rec.DAP) || !digitsOnly.MatchString(rec.AK) {
				return false
			}
			if rec.Gender != "" || rec.Date != "" {
				return false
			}
			return (rec.Run == "") == (rec.ExposureSeries == "" || rec.ExposureImages == "")
		},
		gen.AnyString(),
	))

	properties.Property("report fragments in any order are total", prop.ForAll(
		func(parts []string) bool {
			text := ""
			for _, p := range parts {
				text += p + "\n"
			}
			rec := Extract(text, &PatientMeta{Gender: text, StudyDate: text})
			return digitsOnly.MatchString(rec.DAP) && digitsOnly.MatchString(rec.AK)
		},
		gen.SliceOf(gen.OneConstOf(
			"Total Air Kerma", "125.7 mGy", "1.234 Gy.cm2", "0:15:42", "Total Fluoroscopy Time",
			"22 Exposure Series", "Exposure Images 780", "15 cm from the isocenter", "", "…", "·",
		)),
	))

	properties.TestingRun(t)
}

// TestNormalizeGender_Domain verifies gender output is one rune at most.
func TestNormalizeGender_Domain(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("normalized gender has at most one rune", prop.ForAll(
		func(g string) bool {
			return len([]rune(NormalizeGender(g))) <= 1
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
