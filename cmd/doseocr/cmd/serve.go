package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/doseocr/internal/batch"
	"github.com/MeKo-Tech/doseocr/internal/config"
	"github.com/MeKo-Tech/doseocr/internal/jobs"
	"github.com/MeKo-Tech/doseocr/internal/patients"
	"github.com/MeKo-Tech/doseocr/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the batch job API",
	Long: `Start an HTTP server that accepts batch jobs and reports their progress.

The server provides the following endpoints:
  POST   /jobs              - Submit a batch of reports
  GET    /jobs              - List jobs
  GET    /jobs/{id}         - Job snapshot with results
  DELETE /jobs/{id}         - Delete a finished job
  GET    /jobs/{id}/ws      - Stream job snapshots over a websocket
  POST   /extract           - Extract dose records from results or a job
  GET    /export.{csv,tsv,xlsx}?job_id= - Export a job's records
  GET    /patients          - List patients from the imaging archive
  GET    /languages         - Supported recognition languages
  GET    /health            - Health check endpoint
  GET    /metrics           - Prometheus metrics

Examples:
  doseocr serve
  doseocr serve --port 8080
  doseocr serve --host 0.0.0.0 --port 3000 --archive-db jobs.db`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		applyServeFlags(cmd, cfg)
		applyBackendFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("host") {
		cfg.Server.Host, _ = cmd.Flags().GetString("host")
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("cors-origin") {
		cfg.Server.CORSOrigin, _ = cmd.Flags().GetString("cors-origin")
	}
	if cmd.Flags().Changed("max-body-size") {
		cfg.Server.MaxBodyMB, _ = cmd.Flags().GetInt("max-body-size")
	}
	if cmd.Flags().Changed("shutdown-timeout") {
		cfg.Server.ShutdownTimeout, _ = cmd.Flags().GetInt("shutdown-timeout")
	}
	if cmd.Flags().Changed("retention") {
		cfg.Store.Retention, _ = cmd.Flags().GetString("retention")
	}
	if cmd.Flags().Changed("archive-db") {
		cfg.Store.ArchivePath, _ = cmd.Flags().GetString("archive-db")
	}
	if cmd.Flags().Changed("reference-date") {
		cfg.Extract.ReferenceDate, _ = cmd.Flags().GetString("reference-date")
	}
	if cmd.Flags().Changed("patients") {
		cfg.Patients.File, _ = cmd.Flags().GetString("patients")
	}
	if cmd.Flags().Changed("rate-limit-enabled") {
		cfg.Server.RateLimit.Enabled, _ = cmd.Flags().GetBool("rate-limit-enabled")
	}
	if cmd.Flags().Changed("requests-per-minute") {
		cfg.Server.RateLimit.RequestsPerMinute, _ = cmd.Flags().GetInt("requests-per-minute")
	}
	if cmd.Flags().Changed("requests-per-hour") {
		cfg.Server.RateLimit.RequestsPerHour, _ = cmd.Flags().GetInt("requests-per-hour")
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()

	recognizer, err := cfg.NewRecognizer()
	if err != nil {
		return err
	}

	storeOpts := []jobs.StoreOption{jobs.WithLogger(logger)}
	if cfg.Store.ArchivePath != "" {
		archive, err := jobs.OpenSQLiteArchive(cfg.Store.ArchivePath, logger)
		if err != nil {
			return fmt.Errorf("failed to open job archive: %w", err)
		}
		defer func() { _ = archive.Close() }()
		storeOpts = append(storeOpts, jobs.WithArchive(archive))
	}
	store := jobs.NewStore(storeOpts...)

	retention, err := cfg.Store.RetentionDuration()
	if err != nil {
		return err
	}
	if retention > 0 {
		evictor, err := jobs.NewEvictor(store, cfg.Store.EvictSchedule, retention, logger)
		if err != nil {
			return fmt.Errorf("failed to schedule job eviction: %w", err)
		}
		evictor.Start()
		defer evictor.Stop()
	}

	bc := cfg.ToBatchConfig(logger)
	bc.Progress = func(jobID string) batch.ProgressCallback {
		return batch.NewLogProgressCallback(logger.With("job_id", jobID), slog.LevelDebug)
	}
	coordinator := batch.New(store, recognizer, bc)

	serverConfig := server.Config{
		Host:          cfg.Server.Host,
		Port:          cfg.Server.Port,
		CORSOrigin:    cfg.Server.CORSOrigin,
		MaxBodyMB:     int64(cfg.Server.MaxBodyMB),
		ReferenceDate: cfg.Extract.ReferenceDate,
		RateLimit: server.RateLimitConfig{
			Enabled:           cfg.Server.RateLimit.Enabled,
			RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
			RequestsPerHour:   cfg.Server.RateLimit.RequestsPerHour,
			MaxRequestsPerDay: cfg.Server.RateLimit.MaxRequestsPerDay,
			MaxDataPerDay:     int64(cfg.Server.RateLimit.MaxDataPerDayMB) * 1024 * 1024,
		},
		StreamInterval: time.Duration(cfg.Server.StreamIntervalMs) * time.Millisecond,
		Logger:         logger,
	}

	if cfg.Patients.File != "" {
		src, err := patients.LoadFile(cfg.Patients.File)
		if err != nil {
			return err
		}
		serverConfig.Patients = src
	}
	if cfg.ArchiveEnabled() {
		archive, err := patients.NewArchiveClient(cfg.ToArchiveConfig(), logger)
		if err != nil {
			return err
		}
		serverConfig.Archive = archive
		if serverConfig.Patients != nil {
			serverConfig.Patients = patients.Chain{serverConfig.Patients, archive}
		} else {
			serverConfig.Patients = archive
		}
	}

	doseServer, err := server.NewServer(serverConfig, coordinator)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	mux := http.NewServeMux()
	doseServer.SetupRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		logger.Info("Starting dose OCR server", "host", cfg.Server.Host, "port", cfg.Server.Port,
			"ocr_backend", cfg.OCR.Backend)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	logger.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	// Running jobs finish or hit their OCR timeouts before the archive closes.
	if err := doseServer.Wait(shutdownCtx); err != nil {
		logger.Warn("Jobs still running at shutdown", "error", err)
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-body-size", 10, "maximum request body size in MB")
	serveCmd.Flags().Int("shutdown-timeout", 30, "shutdown timeout in seconds")
	serveCmd.Flags().String("retention", "24h", "how long finished jobs are kept (0 keeps them forever)")
	serveCmd.Flags().String("archive-db", "", "SQLite file that archives finished jobs")
	serveCmd.Flags().String("reference-date", "", "single-date mode: use this date when a patient has no study date")
	serveCmd.Flags().String("patients", "", "YAML or JSON file with patient gender and study dates")
	addBackendFlags(serveCmd)
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting of job submissions")
	serveCmd.Flags().Int("requests-per-minute", 30, "maximum job submissions per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 300, "maximum job submissions per hour per client")
}
