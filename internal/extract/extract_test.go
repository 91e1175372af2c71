package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleReport = `Dose Report
Patient 00306304
22 Exposure Series
780 Exposure Images
39.7 Gy·cm2
Total Air Kerma
465.3 mGy
0:15:42
Total Fluoroscopy Time
Reference point 15 cm from the isocenter`

func TestExtract_SampleReport(t *testing.T) {
	rec := Extract(sampleReport, &PatientMeta{Gender: "남", StudyDate: "10:52:53 2025-12-10"})

	assert.Equal(t, "M", rec.Gender)
	assert.Equal(t, "25.12.10", rec.Date)
	assert.Equal(t, "39700", rec.DAP)
	assert.Equal(t, "465", rec.AK)
	assert.Equal(t, "0:15:42", rec.FluoroTime)
	assert.Equal(t, "22", rec.ExposureSeries)
	assert.Equal(t, "780", rec.ExposureImages)
	assert.Equal(t, "22/780", rec.Run)
	assert.Equal(t, "2", rec.Room)
}

func TestExtract_DAP(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "period separator", text: "DAP 1.234 Gy.cm2", want: "1234"},
		{name: "middle dot no space", text: "0.5Gy·cm2", want: "500"},
		{name: "lowercase unit", text: "12 gy.cm", want: "12000"},
		{name: "superscript two", text: "2.5 Gy·cm²", want: "2500"},
		{name: "rounds to nearest", text: "0.0125 Gy.cm2", want: "13"},
		{name: "integer value", text: "3Gycm2", want: "3000"},
		{name: "full width digits", text: "１．５ Gy·cm2", want: "1500"},
		{name: "no unit", text: "1.234 mGy", want: ""},
		{name: "empty", text: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text, nil).DAP)
		})
	}
}

func TestExtract_AirKerma(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "label before value", text: "Total Air Kerma\n125.7 mGy", want: "125"},
		{name: "value before label", text: "88.9 mGy\nTotal Air Kerma", want: "88"},
		{name: "value before label wins", text: "10 mGy\nTotal Air Kerma\n20 mGy", want: "10"},
		{name: "bare value", text: "Dose 42.0 mGy", want: "42"},
		{name: "case insensitive", text: "TOTAL AIR KERMA 7 MGY", want: "7"},
		{name: "no mGy token", text: "Total Air Kerma 125.7", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text, nil).AK)
		})
	}
}

func TestExtract_FluoroTime(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "time before label", text: "00:02:15\nTotal Fluoroscopy Time", want: "00:02:15"},
		{name: "label before time", text: "Total Fluoroscopy Time\n0:15:42", want: "0:15:42"},
		{name: "bare time", text: "elapsed 1:02:03", want: "1:02:03"},
		{name: "no time", text: "Total Fluoroscopy Time n/a", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.text, nil).FluoroTime)
		})
	}
}

func TestExtract_Run(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantSeries string
		wantImages string
		wantRun    string
	}{
		{name: "number first", text: "22 Exposure Series\n780 Exposure Images", wantSeries: "22", wantImages: "780", wantRun: "22/780"},
		{name: "label first", text: "Exposure Series 3, Exposure Images 41", wantSeries: "3", wantImages: "41", wantRun: "3/41"},
		{name: "wrapped lines", text: "5\nExposure\nSeries", wantSeries: "5", wantImages: "", wantRun: ""},
		{name: "images only", text: "12 Exposure Images", wantSeries: "", wantImages: "12", wantRun: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := Extract(tt.text, nil)
			assert.Equal(t, tt.wantSeries, rec.ExposureSeries)
			assert.Equal(t, tt.wantImages, rec.ExposureImages)
			assert.Equal(t, tt.wantRun, rec.Run)
		})
	}
}

func TestExtract_Room(t *testing.T) {
	assert.Equal(t, "2", Extract("Reference 15 cm from the isocenter", nil).Room)
	assert.Equal(t, "2", Extract("15cm isocenter", nil).Room)
	assert.Equal(t, "2", Extract("15 CM FROM THE\nISOCENTER", nil).Room)
	assert.Equal(t, "1", Extract("Reference point 10 cm", nil).Room)
	assert.Equal(t, "1", Extract("", nil).Room)
}

func TestNormalizeGender(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"M", "M"}, {"male", "M"}, {"Male", "M"}, {"남", "M"}, {"남자", "M"},
		{"F", "F"}, {"female", "F"}, {"여", "F"}, {"여자", "F"},
		{"other", "O"}, {" u ", "U"}, {"", ""}, {"   ", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeGender(tt.in), "input %q", tt.in)
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-12-10", "25.12.10"},
		{"10:52:53 2025-12-10", "25.12.10"},
		{"2025/12/10", "2025/12/10"},
		{"2025-12", "2025-12"},
		{"", ""},
		{"25.12.10", "25.12.10"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDate(tt.in), "input %q", tt.in)
	}
}

func TestExtract_DateResolution(t *testing.T) {
	e := New(WithReferenceDate("2024-01-31"))
	assert.True(t, e.SingleDate())

	assert.Equal(t, "25.12.10", e.Extract("", &PatientMeta{StudyDate: "2025-12-10"}).Date)
	assert.Equal(t, "24.01.31", e.Extract("", nil).Date)
	assert.Equal(t, "24.01.31", e.Extract("", &PatientMeta{Gender: "F"}).Date)

	plain := New()
	assert.False(t, plain.SingleDate())
	assert.Empty(t, plain.Extract("", nil).Date)
}

func TestForPatient(t *testing.T) {
	rec := New().ForPatient("00306304", "Hong", "0.5Gy·cm2", &PatientMeta{Gender: "F"})
	assert.Equal(t, "00306304", rec.PatientID)
	assert.Equal(t, "Hong", rec.PatientName)
	assert.Equal(t, "F", rec.Gender)
	assert.Equal(t, "500", rec.DAP)
}
