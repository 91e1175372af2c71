package support

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
	"github.com/xuri/excelize/v2"

	"github.com/MeKo-Tech/doseocr/internal/export"
	"github.com/MeKo-Tech/doseocr/internal/server"
)

func (testCtx *TestContext) iExportTheJobAs(format string) error {
	return testCtx.Do(http.MethodGet, "/export."+format+"?job_id="+testCtx.JobID, nil)
}

func (testCtx *TestContext) iExtractRecordsFromTheJob() error {
	return testCtx.extract(server.ExtractRequest{JobID: testCtx.JobID})
}

func (testCtx *TestContext) iExtractRecordsWithReferenceDate(date string) error {
	return testCtx.extract(server.ExtractRequest{JobID: testCtx.JobID, ReferenceDate: date})
}

func (testCtx *TestContext) extract(req server.ExtractRequest) error {
	if err := testCtx.DoJSON(http.MethodPost, "/extract", req); err != nil {
		return err
	}
	if testCtx.LastHTTPStatusCode != http.StatusOK {
		return fmt.Errorf("extract failed with status %d: %s", testCtx.LastHTTPStatusCode, testCtx.responseText())
	}
	var resp server.ExtractResponse
	if err := testCtx.DecodeResponse(&resp); err != nil {
		return err
	}
	testCtx.Records = resp.Records
	return nil
}

func (testCtx *TestContext) theExportShouldStartWithABOM() error {
	if !bytes.HasPrefix(testCtx.LastHTTPResponse, []byte(export.BOM)) {
		return fmt.Errorf("export does not start with a byte-order mark: %q", testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theExportShouldNotStartWithABOM() error {
	if bytes.HasPrefix(testCtx.LastHTTPResponse, []byte(export.BOM)) {
		return fmt.Errorf("export starts with a byte-order mark")
	}
	return nil
}

func (testCtx *TestContext) exportLines() []string {
	text := strings.TrimPrefix(string(testCtx.LastHTTPResponse), export.BOM)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func (testCtx *TestContext) theExportShouldHaveLines(n int) error {
	if lines := testCtx.exportLines(); len(lines) != n {
		return fmt.Errorf("expected %d lines, got %d: %q", n, len(lines), lines)
	}
	return nil
}

func (testCtx *TestContext) everyExportLineShouldEndWithCRLF() error {
	body := strings.TrimPrefix(string(testCtx.LastHTTPResponse), export.BOM)
	if !strings.HasSuffix(body, "\r\n") {
		return fmt.Errorf("export does not end with CRLF")
	}
	if strings.Count(body, "\n") != strings.Count(body, "\r\n") {
		return fmt.Errorf("export mixes line endings")
	}
	return nil
}

func (testCtx *TestContext) theExportHeaderShouldBe(header *godog.DocString) error {
	if got, want := testCtx.exportLines()[0], strings.TrimSpace(header.Content); got != want {
		return fmt.Errorf("expected header %q, got %q", want, got)
	}
	return nil
}

func (testCtx *TestContext) theExportShouldContainTheRow(row *godog.DocString) error {
	want := strings.TrimSpace(row.Content)
	for _, line := range testCtx.exportLines() {
		if line == want {
			return nil
		}
	}
	return fmt.Errorf("row %q not found in export:\n%s", want, strings.Join(testCtx.exportLines(), "\n"))
}

func (testCtx *TestContext) theWorkbookShouldHaveDataRows(n int) error {
	f, err := excelize.OpenReader(bytes.NewReader(testCtx.LastHTTPResponse))
	if err != nil {
		return fmt.Errorf("export is not a workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return err
	}
	if len(rows) != n+1 {
		return fmt.Errorf("expected header plus %d rows, got %d rows", n, len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(export.Header, ",") {
		return fmt.Errorf("unexpected workbook header %v", rows[0])
	}
	return nil
}

func (testCtx *TestContext) iShouldGetRecords(n int) error {
	if len(testCtx.Records) != n {
		return fmt.Errorf("expected %d records, got %d", n, len(testCtx.Records))
	}
	return nil
}

func (testCtx *TestContext) theRecordForShouldHave(patientID, field, value string) error {
	for _, rec := range testCtx.Records {
		if rec.PatientID != patientID {
			continue
		}
		fields := map[string]string{
			"date":        rec.Date,
			"gender":      rec.Gender,
			"dap":         rec.DAP,
			"ak":          rec.AK,
			"fluoro_time": rec.FluoroTime,
			"run":         rec.Run,
			"room":        rec.Room,
		}
		got, ok := fields[field]
		if !ok {
			return fmt.Errorf("unknown record field %q", field)
		}
		if got != value {
			return fmt.Errorf("record %s: expected %s %q, got %q", patientID, field, value, got)
		}
		return nil
	}
	return fmt.Errorf("no record for patient %s", patientID)
}

// RegisterExportSteps registers extraction and export steps.
func (testCtx *TestContext) RegisterExportSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I export the job as (csv|tsv|xlsx|json)$`, testCtx.iExportTheJobAs)
	sc.Step(`^I extract records from the job$`, testCtx.iExtractRecordsFromTheJob)
	sc.Step(`^I extract records from the job with reference date "([^"]*)"$`, testCtx.iExtractRecordsWithReferenceDate)
	sc.Step(`^the export should start with a byte-order mark$`, testCtx.theExportShouldStartWithABOM)
	sc.Step(`^the export should not start with a byte-order mark$`, testCtx.theExportShouldNotStartWithABOM)
	sc.Step(`^the export should have (\d+) lines?$`, testCtx.theExportShouldHaveLines)
	sc.Step(`^every export line should end with CRLF$`, testCtx.everyExportLineShouldEndWithCRLF)
	sc.Step(`^the export header should be:$`, testCtx.theExportHeaderShouldBe)
	sc.Step(`^the export should contain the row:$`, testCtx.theExportShouldContainTheRow)
	sc.Step(`^the workbook should have (\d+) data rows?$`, testCtx.theWorkbookShouldHaveDataRows)
	sc.Step(`^I should get (\d+) records?$`, testCtx.iShouldGetRecords)
	sc.Step(`^the record for "([^"]*)" should have (\w+) "([^"]*)"$`, testCtx.theRecordForShouldHave)
}
