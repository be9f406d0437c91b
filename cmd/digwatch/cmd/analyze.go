package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/digwatch/internal/cli"
	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/database"
	"github.com/jmylchreest/digwatch/internal/ffmpeg"
	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/service"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/internal/storage"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video|directory>",
	Short: "Analyze a video into work cycles",
	Long: `Analyze one excavator video (or every video in a directory) into timed
work cycles, with statistics and a rendered report.

The run is recorded in the database, so it shows up in 'digwatch serve'
afterwards. Exit codes: 0 success, 1 configuration, 2 source unavailable,
3 classifier unavailable, 4 timeout, 5 cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().Int("fps", 0, "Sampling rate in frames per second (1, 3, 5, or 10)")
	analyzeCmd.Flags().Int("max-frames", -1, "Cap on extracted frames (0 = unbounded)")
	analyzeCmd.Flags().Bool("keep-frames", false, "Keep extracted frame files after the run")
	analyzeCmd.Flags().String("classify-mode", "", "Frame classification mode (sequential, parallel)")
	analyzeCmd.Flags().BoolP("quiet", "q", false, "Suppress the progress bar")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	source := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyAnalyzeFlags(cmd.Flags(), cfg); err != nil {
		return err
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

	workspace, err := storage.NewWorkspace(cfg.Workspace.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing workspace: %w", err)
	}

	promptStore, err := prompts.NewStore(cfg.Prompts.Dir)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	factory := pipeline.NewDefaultFactory(&pipeline.Dependencies{
		Config:    cfg,
		Logger:    logger,
		LLM:       llm.NewClient(cfg.LLM, logger),
		Prompts:   promptStore,
		FFmpeg:    ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath),
		Prober:    ffmpeg.NewProber(cfg.FFmpeg.ProbePath),
		Workspace: workspace,
	})

	progressService := progress.NewService(logger)
	progressService.Start()
	defer progressService.Stop()

	svc := service.NewAnalysisService(repository.NewRunRepository(db.DB), factory, workspace).
		WithLogger(logger).
		WithProgressService(progressService).
		WithTotalDeadline(cfg.Pipeline.TotalDeadline)

	reporter := cli.NewTerminalReporter()
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		reporter.Quiet()
	}

	sub := progressService.Subscribe(nil)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		reporter.Watch(sub.Events)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		items, err := svc.AnalyzeDirectory(ctx, source)
		finishWatch(progressService, sub, watchDone)
		if err != nil {
			return err
		}
		reporter.BatchSummary(items)
		runErr = firstBatchError(items)
	} else {
		_, result, err := svc.Analyze(ctx, source)
		finishWatch(progressService, sub, watchDone)
		if err != nil {
			reporter.Failure(source, err)
			return err
		}
		reporter.Summary(result)
	}

	return runErr
}

// applyAnalyzeFlags copies explicitly set flags onto the loaded config.
func applyAnalyzeFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	if flags.Changed("fps") {
		cfg.Pipeline.SamplingFPS, _ = flags.GetInt("fps")
	}
	if flags.Changed("max-frames") {
		cfg.Pipeline.MaxFrames, _ = flags.GetInt("max-frames")
	}
	if flags.Changed("keep-frames") {
		cfg.Workspace.KeepFrames, _ = flags.GetBool("keep-frames")
	}
	if flags.Changed("classify-mode") {
		cfg.Pipeline.ClassifyMode, _ = flags.GetString("classify-mode")
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.NewConfigurationError("flags", err.Error())
	}
	return nil
}

// finishWatch tears down the progress subscription and waits for the
// reporter goroutine so the bar never interleaves with the summary.
func finishWatch(svc *progress.Service, sub *progress.Subscriber, done <-chan struct{}) {
	svc.Unsubscribe(sub.ID)
	<-done
}

// firstBatchError returns the first per-file failure, which decides the
// batch exit code.
func firstBatchError(items []service.BatchItem) error {
	for _, item := range items {
		if item.Err != nil {
			return item.Err
		}
	}
	return nil
}
