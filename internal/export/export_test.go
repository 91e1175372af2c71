package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

var sample = extract.Record{
	PatientID:  "00012345",
	Gender:     "M",
	Date:       "25.12.10",
	DAP:        "39700",
	AK:         "465",
	FluoroTime: "0:15:42",
	Run:        "3/41",
	Room:       "2",
}

func TestToCSV(t *testing.T) {
	got := ToCSV([]extract.Record{sample})

	want := BOM +
		`"날짜","등록번호","성별","DAP","AK","투시시간","예비1","예비2","예비3","RUN","ROOM"` + "\r\n" +
		`"25.12.10","00012345","M","39700","465","0:15:42","0","0","0","3/41","2"` + "\r\n"
	assert.Equal(t, want, got)
}

func TestToCSV_Empty(t *testing.T) {
	got := ToCSV(nil)
	assert.True(t, strings.HasPrefix(got, BOM))
	assert.Equal(t, 1, strings.Count(got, "\r\n"))
}

func TestToCSV_QuotesAreDoubled(t *testing.T) {
	r := sample
	r.PatientID = `12"34`
	got := ToCSV([]extract.Record{r})
	assert.Contains(t, got, `"12""34"`)
}

func TestToCSV_EmptyFieldsStayQuoted(t *testing.T) {
	got := ToCSV([]extract.Record{{Room: "1"}})
	lines := strings.Split(strings.TrimSuffix(got, "\r\n"), "\r\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `"","","","","","","0","0","0","","1"`, lines[1])
}

func TestToTSV(t *testing.T) {
	r := sample
	r.PatientID = "0001\t2345"
	r.Run = "3/\n41"

	got := ToTSV([]extract.Record{sample, r})
	assert.Equal(t,
		"25.12.10\t00012345\tM\t39700\t465\t0:15:42\t0\t0\t0\t3/41\t2\n"+
			"25.12.10\t0001 2345\tM\t39700\t465\t0:15:42\t0\t0\t0\t3/ 41\t2\n",
		got)
	assert.False(t, strings.HasPrefix(got, BOM))
	assert.NotContains(t, got, `"`)
}

func TestToXLSX(t *testing.T) {
	data, err := ToXLSX([]extract.Record{sample})
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Header, rows[0])
	assert.Equal(t, Row(sample), rows[1])
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatCSV},
		{in: "CSV", want: FormatCSV},
		{in: " tsv ", want: FormatTSV},
		{in: "xlsx", want: FormatXLSX},
		{in: "json", want: FormatJSON},
		{in: "pdf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatJSON, nil))
	assert.JSONEq(t, `[]`, buf.String())

	buf.Reset()
	require.NoError(t, Write(&buf, FormatJSON, []extract.Record{sample}))
	var decoded []extract.Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []extract.Record{sample}, decoded)

	buf.Reset()
	require.NoError(t, Write(&buf, FormatTSV, []extract.Record{sample}))
	assert.Equal(t, ToTSV([]extract.Record{sample}), buf.String())

	require.Error(t, Write(&buf, Format("pdf"), nil))
}

func TestRecords(t *testing.T) {
	results := []jobs.Result{
		{Item: jobs.WorkItem{ImageRef: "a", PatientID: "00012345", PatientName: "HONG"}, Success: true, Text: "39.7 Gy·cm2\n465.3 mGy"},
		{Item: jobs.WorkItem{ImageRef: "b", PatientID: "00099999"}, Success: false, Error: "timeout"},
		{Item: jobs.WorkItem{ImageRef: "c", PatientID: "00067890"}, Success: true, Text: ""},
	}
	meta := MetaMap(map[string]extract.PatientMeta{
		"00012345": {Gender: "남", StudyDate: "10:52:53 2025-12-10"},
	})

	records := Records(results, extract.New(extract.WithReferenceDate("2025-12-11")), meta)
	require.Len(t, records, 2)

	assert.Equal(t, "00012345", records[0].PatientID)
	assert.Equal(t, "HONG", records[0].PatientName)
	assert.Equal(t, "M", records[0].Gender)
	assert.Equal(t, "25.12.10", records[0].Date)
	assert.Equal(t, "39700", records[0].DAP)
	assert.Equal(t, "465", records[0].AK)

	assert.Equal(t, "00067890", records[1].PatientID)
	assert.Equal(t, "25.12.11", records[1].Date)
	assert.Equal(t, "1", records[1].Room)
}
