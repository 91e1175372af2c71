package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/MeKo-Tech/doseocr/internal/extract"
)

const sheetName = "Dose"

// ToXLSX renders records as a single-sheet workbook with the CSV header.
// All cells are text so ids keep their leading zeros.
func ToXLSX(records []extract.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	textStyle, err := f.NewStyle(&excelize.Style{NumFmt: 49})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: 49})
	if err != nil {
		return nil, fmt.Errorf("xlsx style: %w", err)
	}

	writeRow := func(row int, fields []string) error {
		for i, v := range fields {
			cell, err := excelize.CoordinatesToCellName(i+1, row)
			if err != nil {
				return err
			}
			if err := f.SetCellStr(sheetName, cell, v); err != nil {
				return err
			}
		}
		return nil
	}

	if err := writeRow(1, Header); err != nil {
		return nil, fmt.Errorf("xlsx header: %w", err)
	}
	for i, r := range records {
		if err := writeRow(i+2, Row(r)); err != nil {
			return nil, fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}

	lastCol, _ := excelize.ColumnNumberToName(len(Header))
	lastCell := fmt.Sprintf("%s%d", lastCol, len(records)+1)
	_ = f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle)
	if len(records) > 0 {
		_ = f.SetCellStyle(sheetName, "A2", lastCell, textStyle)
	}
	_ = f.SetColWidth(sheetName, "A", "A", 12) // date
	_ = f.SetColWidth(sheetName, "B", "B", 14) // patient id
	_ = f.SetColWidth(sheetName, "C", lastCol, 10)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
