package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/doseocr/internal/extract"
)

var extractCmd = &cobra.Command{
	Use:   "extract [text files...]",
	Short: "Extract dose fields from already recognized report text",
	Long: `Extract dose fields from OCR text without calling an OCR backend.
Each file holds the recognized text of one report; "-" reads standard input.

The patient id defaults to the file name up to the first "_".

Examples:
  doseocr extract 00012345_report.txt
  ocr-tool report.png | doseocr extract - --patient-id 00012345 --gender F
  doseocr extract texts/*.txt --patients patients.yaml --format tsv`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyExportFlags(cmd, cfg)

		src, err := patientSource(cfg, slog.Default())
		if err != nil {
			return err
		}

		gender, _ := cmd.Flags().GetString("gender")
		studyDate, _ := cmd.Flags().GetString("study-date")
		patientID, _ := cmd.Flags().GetString("patient-id")
		patientName, _ := cmd.Flags().GetString("patient-name")

		ex := extract.New(extract.WithReferenceDate(cfg.Extract.ReferenceDate))
		records := make([]extract.Record, 0, len(args))

		for _, path := range args {
			text, err := readText(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			id := patientID
			if id == "" && path != "-" {
				id, _, _ = strings.Cut(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), "_")
			}

			var meta *extract.PatientMeta
			if gender != "" || studyDate != "" {
				meta = &extract.PatientMeta{Gender: gender, StudyDate: studyDate}
			} else if src != nil && id != "" {
				m, ok, err := src.Lookup(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("patient %s: %w", id, err)
				}
				if ok {
					meta = &m
				}
			}

			records = append(records, ex.ForPatient(id, patientName, text, meta))
		}

		return writeRecords(cmd.OutOrStdout(), cfg, records)
	},
}

func readText(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

func init() {
	rootCmd.AddCommand(extractCmd)
	addExportFlags(extractCmd)
	extractCmd.Flags().String("gender", "", "patient gender (M/F, 남/여)")
	extractCmd.Flags().String("study-date", "", "study date, YYYY-MM-DD or YYYYMMDD")
	extractCmd.Flags().String("patient-id", "", "patient id for every input")
	extractCmd.Flags().String("patient-name", "", "patient name for every input")
}
