package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/config"
	"github.com/MeKo-Tech/doseocr/internal/export"
	"github.com/MeKo-Tech/doseocr/internal/extract"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/patients"
)

// addOCRFlags registers the per-batch OCR flags shared by run and submit.
func addOCRFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("concurrency", "c", 0, "parallel OCR calls (0 uses batch.default_concurrency)")
	cmd.Flags().StringP("language", "l", "", "recognition language (korean, en, japan, ch, chinese_cht)")
	cmd.Flags().Float64("threshold", 0, "minimum line confidence (0..1)")
}

// addInputFlags registers the flags that select work items.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("manifest", "m", "", "YAML or JSON batch manifest")
	cmd.Flags().BoolP("recursive", "r", false, "descend into directories")
	cmd.Flags().StringSlice("include", nil, "glob patterns a report file must match")
	cmd.Flags().StringSlice("exclude", nil, "glob patterns that skip a report file")
}

// addExportFlags registers output flags.
func addExportFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "", "export format: csv, tsv, xlsx or json (default export.format)")
	cmd.Flags().StringP("output", "o", "", "output file (default stdout)")
	cmd.Flags().String("reference-date", "", "single-date mode: use this date when a patient has no study date")
	cmd.Flags().String("patients", "", "YAML or JSON file with patient gender and study dates")
}

// applyExportFlags overrides config values with explicitly set export flags.
func applyExportFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("format") {
		cfg.Export.Format, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("output") {
		cfg.Export.Output, _ = cmd.Flags().GetString("output")
	}
	if cmd.Flags().Changed("reference-date") {
		cfg.Extract.ReferenceDate, _ = cmd.Flags().GetString("reference-date")
	}
	if cmd.Flags().Changed("patients") {
		cfg.Patients.File, _ = cmd.Flags().GetString("patients")
	}
}

// batchOptions merges manifest options with explicitly set flags; flags win.
func batchOptions(cmd *cobra.Command, base batch.Options) batch.Options {
	opts := base
	if cmd.Flags().Changed("concurrency") {
		opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	if cmd.Flags().Changed("language") {
		opts.Language, _ = cmd.Flags().GetString("language")
	}
	if cmd.Flags().Changed("threshold") {
		v, _ := cmd.Flags().GetFloat64("threshold")
		opts.ConfidenceThreshold = batch.Threshold(v)
	}
	return opts
}

// workInput is what a batch command was asked to process.
type workInput struct {
	Items         []jobs.WorkItem
	Options       batch.Options
	Patients      map[string]extract.PatientMeta
	ReferenceDate string
}

// loadWorkInput reads the manifest, if any, and discovers report files from args.
func loadWorkInput(cmd *cobra.Command, args []string) (workInput, error) {
	var in workInput

	manifestPath, _ := cmd.Flags().GetString("manifest")
	recursive, _ := cmd.Flags().GetBool("recursive")
	include, _ := cmd.Flags().GetStringSlice("include")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")

	if manifestPath != "" {
		m, err := batch.LoadManifest(manifestPath)
		if err != nil {
			return in, err
		}
		items, err := m.WorkItems()
		if err != nil {
			return in, err
		}
		in.Items = items
		in.Options = m.Options
		in.Patients = m.Patients
		in.ReferenceDate = m.ReferenceDate
	}

	if len(args) > 0 {
		found, err := batch.DiscoverItems(args, recursive, include, exclude)
		if err != nil {
			return in, fmt.Errorf("failed to discover report files: %w", err)
		}
		in.Items = append(in.Items, found...)
	}

	if len(in.Items) == 0 {
		return in, errors.New("no reports to process: pass files, directories or --manifest")
	}
	in.Options = batchOptions(cmd, in.Options)
	return in, nil
}

// patientSource chains the configured metadata sources: the patients file
// first, then the imaging archive.
func patientSource(cfg *config.Config, logger *slog.Logger) (patients.Source, error) {
	var chain patients.Chain
	if cfg.Patients.File != "" {
		src, err := patients.LoadFile(cfg.Patients.File)
		if err != nil {
			return nil, err
		}
		chain = append(chain, src)
	}
	if cfg.ArchiveEnabled() {
		archive, err := patients.NewArchiveClient(cfg.ToArchiveConfig(), logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, archive)
	}
	if len(chain) == 0 {
		return nil, nil
	}
	return chain, nil
}

// buildRecords turns a finished job into records. Metadata from the input
// overrides what the configured sources know.
func buildRecords(ctx context.Context, job jobs.Job, src patients.Source, known map[string]extract.PatientMeta,
	referenceDate string, logger *slog.Logger) []extract.Record {
	var missing []string
	for _, r := range job.Successful() {
		if _, ok := known[r.Item.PatientID]; !ok {
			missing = append(missing, r.Item.PatientID)
		}
	}

	meta, err := patients.Resolve(ctx, src, missing)
	if err != nil {
		logger.Warn("Patient metadata lookup failed", "error", err)
	}
	for id, m := range known {
		meta[id] = m
	}

	ex := extract.New(extract.WithReferenceDate(referenceDate))
	return export.Records(job.Results, ex, export.MetaMap(meta))
}

// writeRecords renders records to the configured output file, or w when none is set.
func writeRecords(w io.Writer, cfg *config.Config, records []extract.Record) error {
	format, err := export.ParseFormat(cfg.Export.Format)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, records); err != nil {
		return fmt.Errorf("failed to render %s: %w", format, err)
	}
	return writeOutput(w, cfg.Export.Output, buf.Bytes())
}

func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// printSummary reports the job outcome on w.
func printSummary(w io.Writer, job jobs.Job) {
	_, _ = fmt.Fprintf(w, "Job %s %s: %d of %d reports recognized, %d failed\n",
		job.ID, job.Status, job.SuccessCount, job.Total, job.FailureCount)
	for _, r := range job.Results {
		if !r.Success {
			_, _ = fmt.Fprintf(w, "  %s: %s\n", r.Item.Label(), r.Error)
		}
	}
}
