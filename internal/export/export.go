// Package export serializes extracted dose-report records for spreadsheets,
// clipboard copy and downstream systems.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
)

// BOM is the UTF-8 byte-order mark prefixed to CSV output.
const BOM = "\ufeff"

// Header is the CSV/XLSX header row. The three 예비 columns are reserved and
// always "0".
var Header = []string{"날짜", "등록번호", "성별", "DAP", "AK", "투시시간", "예비1", "예비2", "예비3", "RUN", "ROOM"}

// Format names an output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatTSV, FormatXLSX, FormatJSON:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported export format %q (want csv, tsv, xlsx or json)", s)
	}
}

// ContentType returns the HTTP content type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatJSON:
		return "application/json"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Row returns the fields of r in export column order.
func Row(r extract.Record) []string {
	return []string{r.Date, r.PatientID, r.Gender, r.DAP, r.AK, r.FluoroTime, "0", "0", "0", r.Run, r.Room}
}

// ToCSV renders records as BOM-prefixed CSV with a header row. Every field is
// quoted and rows end with CRLF.
func ToCSV(records []extract.Record) string {
	var b strings.Builder
	b.WriteString(BOM)
	writeCSVRow(&b, Header)
	for _, r := range records {
		writeCSVRow(&b, Row(r))
	}
	return b.String()
}

func writeCSVRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
	b.WriteString("\r\n")
}

var tsvReplacer = strings.NewReplacer("\t", " ", "\r\n", " ", "\n", " ", "\r", " ")

// ToTSV renders records as tab-separated data rows for pasting into a
// spreadsheet. There is no header, quoting or BOM.
func ToTSV(records []extract.Record) string {
	var b strings.Builder
	for _, r := range records {
		row := Row(r)
		for i, f := range row {
			row[i] = tsvReplacer.Replace(f)
		}
		b.WriteString(strings.Join(row, "\t"))
		b.WriteByte('\n')
	}
	return b.String()
}

// Write renders records in format f to w.
func Write(w io.Writer, f Format, records []extract.Record) error {
	var err error
	switch f {
	case FormatCSV:
		_, err = io.WriteString(w, ToCSV(records))
	case FormatTSV:
		_, err = io.WriteString(w, ToTSV(records))
	case FormatXLSX:
		var data []byte
		if data, err = ToXLSX(records); err == nil {
			_, err = w.Write(data)
		}
	case FormatJSON:
		if records == nil {
			records = []extract.Record{}
		}
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err = enc.Encode(records); err == nil {
			_, err = w.Write(buf.Bytes())
		}
	default:
		err = fmt.Errorf("unsupported export format %q", f)
	}
	return err
}

// MetaFunc resolves optional patient metadata by patient id.
type MetaFunc func(patientID string) *extract.PatientMeta

// MetaMap adapts a map to a MetaFunc.
func MetaMap(m map[string]extract.PatientMeta) MetaFunc {
	return func(id string) *extract.PatientMeta {
		if meta, ok := m[id]; ok {
			return &meta
		}
		return nil
	}
}

// Records extracts one record per successful result, in result order.
// Failed results are skipped.
func Records(results []jobs.Result, ex *extract.Extractor, meta MetaFunc) []extract.Record {
	if ex == nil {
		ex = extract.New()
	}
	out := make([]extract.Record, 0, len(results))
	for _, r := range results {
		if !r.Success {
			continue
		}
		var m *extract.PatientMeta
		if meta != nil {
			m = meta(r.Item.PatientID)
		}
		out = append(out, ex.ForPatient(r.Item.PatientID, r.Item.PatientName, r.Text, m))
	}
	return out
}
