package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/doseocr/internal/client"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/server"
)

var submitCmd = &cobra.Command{
	Use:   "submit [files or directories...]",
	Short: "Submit a batch to a running server",
	Long: `Submit a batch job to a doseocr server. Report paths are sent as image
references, so they must be readable by the server's OCR backend.

Without --wait the job id is printed and the command returns immediately.
With --wait the job is polled until it finishes and its records are exported.

Examples:
  doseocr submit --manifest batch.yaml
  doseocr submit /shared/reports --wait --format xlsx --output dose.xlsx
  doseocr submit --server http://ocr.local:8080 /shared/reports --concurrency 8`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyExportFlags(cmd, cfg)
		logger := slog.Default()

		in, err := loadWorkInput(cmd, args)
		if err != nil {
			return err
		}

		serverURL, _ := cmd.Flags().GetString("server")
		c := client.New(serverURL)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		id, err := c.Submit(ctx, server.SubmitJobRequest{
			Items:               in.Items,
			Concurrency:         in.Options.Concurrency,
			Language:            in.Options.Language,
			ConfidenceThreshold: in.Options.ConfidenceThreshold,
			Patients:            in.Patients,
		})
		if err != nil {
			return fmt.Errorf("submit failed: %w", err)
		}
		logger.Info("Batch job submitted", "job_id", id, "items", len(in.Items))

		if wait, _ := cmd.Flags().GetBool("wait"); !wait {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		}

		last := -1
		job, err := c.Poll(ctx, id, cfg.PollInterval(), func(j jobs.Job) {
			if j.CompletedCount != last {
				last = j.CompletedCount
				logger.Info("Job progress", "job_id", id, "status", j.Status,
					"completed", j.CompletedCount, "total", j.Total)
			}
		})
		if err != nil {
			return fmt.Errorf("polling job %s: %w", id, err)
		}
		printSummary(cmd.ErrOrStderr(), job)

		refDate := cfg.Extract.ReferenceDate
		if in.ReferenceDate != "" && !cmd.Flags().Changed("reference-date") {
			refDate = in.ReferenceDate
		}
		records, err := c.Extract(ctx, server.ExtractRequest{
			JobID:         id,
			Patients:      in.Patients,
			ReferenceDate: refDate,
		})
		if err != nil {
			return fmt.Errorf("extracting job %s: %w", id, err)
		}
		if err := writeRecords(cmd.OutOrStdout(), cfg, records); err != nil {
			return err
		}
		if job.Status == jobs.StatusFailed {
			return fmt.Errorf("job %s failed: no report could be recognized", id)
		}
		return nil
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs [id]",
	Short: "List jobs on a running server, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverURL, _ := cmd.Flags().GetString("server")
		c := client.New(serverURL)
		out := cmd.OutOrStdout()

		if len(args) == 1 {
			job, err := c.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if del, _ := cmd.Flags().GetBool("delete"); del {
				if err := c.DeleteJob(cmd.Context(), job.ID); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "Deleted job %s\n", job.ID)
				return nil
			}
			printSummary(out, job)
			return nil
		}

		list, err := c.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		for _, j := range list {
			_, _ = fmt.Fprintf(out, "%s\t%s\t%d/%d\t%s\n", j.ID, j.Status, j.CompletedCount, j.Total,
				j.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	addInputFlags(submitCmd)
	addOCRFlags(submitCmd)
	addExportFlags(submitCmd)
	submitCmd.Flags().String("server", "http://localhost:8080", "doseocr server URL")
	submitCmd.Flags().BoolP("wait", "w", false, "wait for the job and export its records")

	rootCmd.AddCommand(jobsCmd)
	jobsCmd.Flags().String("server", "http://localhost:8080", "doseocr server URL")
	jobsCmd.Flags().Bool("delete", false, "delete the finished job")
}
