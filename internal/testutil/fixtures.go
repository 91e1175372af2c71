package testutil

import (
	"fmt"

	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// SampleReport is the recognized text of a typical angiography dose report.
const SampleReport = `Dose Report
Exam: Coronary Angiography
39.7 Gy·cm2
Total Air Kerma
465.3 mGy
Total Fluoroscopy Time
0:15:42
3 Exposure Series
41 Exposure Images
Reference point 15 cm from the isocenter`

// LabelFirstReport carries every label before its value.
const LabelFirstReport = `Total Air Kerma: 125.7 mGy
Total Fluoroscopy Time 0:04:10
DAP 12.35 Gy.cm2
Exposure Series 2, Exposure Images 18`

// Items returns n distinct work items whose image references are "cine-<i>".
func Items(n int) []jobs.WorkItem {
	out := make([]jobs.WorkItem, n)
	for i := range out {
		out[i] = jobs.WorkItem{
			ImageRef:    fmt.Sprintf("cine-%d", i),
			PatientID:   fmt.Sprintf("%08d", 12340+i),
			PatientName: fmt.Sprintf("Patient %d", i),
		}
	}
	return out
}
