package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/config"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/ocr"
)

// runCmd processes a batch in-process and exports the records.
var runCmd = &cobra.Command{
	Use:   "run [files or directories...]",
	Short: "OCR a batch of dose reports and export the extracted fields",
	Long: `Run a batch job in this process: every report is sent to the OCR backend
with bounded concurrency, dose fields are extracted from the recognized text
and the records are exported.

The patient id is taken from the file name (everything before the first "_"),
unless a manifest lists the items explicitly.

Supported inputs: PNG, JPEG, BMP, TIFF and PDF reports.

Examples:
  doseocr run reports/ --recursive
  doseocr run reports/*.png --format tsv --output dose.tsv
  doseocr run --manifest batch.yaml --concurrency 8 --language korean
  doseocr run reports/ --patients patients.yaml --reference-date 2024-03-01`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyExportFlags(cmd, cfg)
		applyBackendFlags(cmd, cfg)

		recognizer, err := cfg.NewRecognizer()
		if err != nil {
			return err
		}
		return runBatch(cmd, args, cfg, recognizer)
	},
}

// applyBackendFlags overrides the OCR backend settings.
func applyBackendFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("backend") {
		cfg.OCR.Backend, _ = cmd.Flags().GetString("backend")
	}
	if cmd.Flags().Changed("endpoint") {
		cfg.OCR.Endpoint, _ = cmd.Flags().GetString("endpoint")
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Batch.OCRTimeoutSec, _ = cmd.Flags().GetInt("timeout")
	}
}

func runBatch(cmd *cobra.Command, args []string, cfg *config.Config, recognizer ocr.Recognizer) error {
	logger := slog.Default()

	in, err := loadWorkInput(cmd, args)
	if err != nil {
		return err
	}
	if in.ReferenceDate != "" && !cmd.Flags().Changed("reference-date") {
		cfg.Extract.ReferenceDate = in.ReferenceDate
	}

	src, err := patientSource(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bc := cfg.ToBatchConfig(logger)
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		bc.Progress = func(string) batch.ProgressCallback {
			return batch.NewConsoleProgressCallback(cmd.ErrOrStderr(), "OCR")
		}
	}

	store := jobs.NewStore(jobs.WithLogger(logger))
	coordinator := batch.New(store, recognizer, bc)

	id, err := coordinator.Submit(in.Items, in.Options)
	if err != nil {
		return err
	}
	logger.Debug("Batch job submitted", "job_id", id, "items", len(in.Items))

	job, err := batch.Poll(ctx, store, id, cfg.PollInterval(), nil)
	if err != nil {
		// Workers stop on their own once their OCR calls time out.
		return fmt.Errorf("batch interrupted: %w", err)
	}
	if err := coordinator.Wait(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	printSummary(cmd.ErrOrStderr(), job)

	records := buildRecords(ctx, job, src, in.Patients, cfg.Extract.ReferenceDate, logger)
	if err := writeRecords(cmd.OutOrStdout(), cfg, records); err != nil {
		return err
	}
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("job %s failed: no report could be recognized", job.ID)
	}
	return nil
}

func addBackendFlags(cmd *cobra.Command) {
	cmd.Flags().String("backend", "", "OCR backend: http or tesseract (default ocr.backend)")
	cmd.Flags().String("endpoint", "", "OCR service endpoint for the http backend")
	cmd.Flags().Int("timeout", 0, "per-report OCR timeout in seconds")
}

func init() {
	rootCmd.AddCommand(runCmd)
	addInputFlags(runCmd)
	addOCRFlags(runCmd)
	addBackendFlags(runCmd)
	addExportFlags(runCmd)
	runCmd.Flags().BoolP("quiet", "q", false, "hide the progress bar")
}
