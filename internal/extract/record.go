package extract

// PatientMeta is the optional per-patient metadata used for gender and date resolution.
type PatientMeta struct {
	Gender    string `json:"gender,omitempty" yaml:"gender,omitempty"`
	StudyDate string `json:"study_date,omitempty" yaml:"study_date,omitempty"`
}

// Record is one structured dose-report row. Unmatched fields are empty strings.
type Record struct {
	PatientID      string `json:"patient_id"`
	PatientName    string `json:"patient_name"`
	Gender         string `json:"gender"`
	Date           string `json:"date"`
	DAP            string `json:"dap"`
	AK             string `json:"ak"`
	FluoroTime     string `json:"fluoro_time"`
	ExposureSeries string `json:"exposure_series"`
	ExposureImages string `json:"exposure_images"`
	Run            string `json:"run"`
	Room           string `json:"room"`
}
