package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/jmylchreest/digwatch/internal/database"
	"github.com/jmylchreest/digwatch/internal/database/migrations"
	"github.com/jmylchreest/digwatch/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/digwatch/internal/http"
	"github.com/jmylchreest/digwatch/internal/http/handlers"
	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/observability"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/scheduler"
	"github.com/jmylchreest/digwatch/internal/service"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/internal/startup"
	"github.com/jmylchreest/digwatch/internal/storage"
	"github.com/jmylchreest/digwatch/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the digwatch server",
	Long: `Start the digwatch HTTP server and API.

The server provides:
- REST API for starting analyses and browsing runs, cycles, and reports
- Server-sent events with live pipeline progress
- Health check endpoint with database and classifier circuit status
- OpenAPI documentation at /docs
- An optional inbox watcher that analyzes new videos as they arrive`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// These override the config only when explicitly set; see runServe.
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("dsn", "", "Database DSN (default from config)")
	serveCmd.Flags().String("workspace", "", "Workspace base directory (default from config)")
	serveCmd.Flags().Bool("watch", false, "Watch the inbox directory for new videos")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Flag overrides. The flags are not bound to viper because loadConfig
	// reads through its own viper instance; applying only changed flags
	// keeps the flag > env > config priority.
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("workspace") {
		cfg.Workspace.BaseDir, _ = flags.GetString("workspace")
	}
	if flags.Changed("watch") {
		cfg.Watch.Enabled, _ = flags.GetBool("watch")
	}

	logger := slog.Default()

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := runMigrations(db.DB, logger); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	runRepo := repository.NewRunRepository(db.DB)

	workspace, err := storage.NewWorkspace(cfg.Workspace.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing workspace: %w", err)
	}

	// Startup hygiene: drop stale run directories and mark runs that were
	// mid-flight when the previous process died.
	if removed, err := startup.CleanupStaleRunDirs(logger, workspace, cfg.Workspace.StaleMaxAge); err != nil {
		observability.WithError(logger, err).Warn("failed to clean stale run directories")
	} else if removed > 0 {
		logger.Info("cleaned stale run directories on startup", slog.Int("removed_count", removed))
	}
	if recovered, err := startup.RecoverInterruptedRuns(context.Background(), logger, runRepo); err != nil {
		observability.WithError(logger, err).Warn("failed to recover interrupted runs")
	} else if recovered > 0 {
		logger.Info("marked interrupted runs as failed", slog.Int("recovered_count", recovered))
	}

	promptStore, err := prompts.NewStore(cfg.Prompts.Dir)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	llmClient := llm.NewClient(cfg.LLM, observability.WithComponent(logger, "llm"))

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath)
	if info, err := detector.Detect(context.Background()); err != nil {
		logger.Warn("ffmpeg not available, analyses will fail until it is installed",
			slog.String("error", err.Error()))
	} else {
		logger.Info("ffmpeg detected",
			slog.String("path", info.FFmpegPath),
			slog.String("version", info.Version))
	}

	factory := pipeline.NewDefaultFactory(&pipeline.Dependencies{
		Config:    cfg,
		Logger:    logger,
		LLM:       llmClient,
		Prompts:   promptStore,
		FFmpeg:    detector,
		Prober:    ffmpeg.NewProber(cfg.FFmpeg.ProbePath),
		Workspace: workspace,
	})

	progressService := progress.NewService(logger)
	progressService.Start()
	defer progressService.Stop()

	analysisService := service.NewAnalysisService(runRepo, factory, workspace).
		WithLogger(logger).
		WithProgressService(progressService).
		WithTotalDeadline(cfg.Pipeline.TotalDeadline)

	serverConfig := internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		LogRequests:     true,
	}
	server := internalhttp.NewServer(serverConfig, logger, version.Version)

	healthHandler := handlers.NewHealthHandler(version.Version).
		WithDB(db.DB).
		WithClassifier(llmClient)
	healthHandler.Register(server.API())

	runsHandler := handlers.NewRunsHandler(analysisService, logger)
	runsHandler.Register(server.API())

	progressHandler := handlers.NewProgressHandler(progressService)
	progressHandler.Register(server.API())
	progressHandler.RegisterSSE(server.Router())

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db.StartStatsMonitor(ctx)

	if cfg.Watch.Enabled {
		watcher := scheduler.NewInboxWatcher(cfg.Watch, analysisService, runRepo).
			WithLogger(observability.WithComponent(logger, "watcher"))
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("starting inbox watcher: %w", err)
		}
		defer watcher.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting digwatch server",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.String("version", version.Version),
		slog.String("database", db.Driver()),
		slog.Bool("watch", cfg.Watch.Enabled),
	)

	return server.ListenAndServe(ctx)
}

func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	migrator := migrations.NewMigrator(db, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	return migrator.Up(context.Background())
}
