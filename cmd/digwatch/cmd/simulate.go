package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/digwatch/internal/cli"
	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/internal/simulate"
	"github.com/jmylchreest/digwatch/internal/storage"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Replay a synthetic activity timeline through the pipeline",
	Long: `Replay a scripted activity timeline through event detection, cycle
assembly, telemetry enrichment, and report generation. No video and no
vision model are involved, which makes scenarios useful for validating
cycle gates, telemetry sidecars, and report templates.

A scenario file looks like:

  name: two-cycles
  sampling_fps: 1
  segments:
    - label: digging
      duration: 6
    - label: swing_to_dump
      duration: 3

Simulated runs are not recorded in the database; report artifacts are
still written to the workspace when report saving is enabled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().String("scenario", "", "Path to the scenario file (alternative to the positional argument)")
	simulateCmd.Flags().Bool("print-report", false, "Print the rendered markdown report to stdout")
	simulateCmd.Flags().BoolP("quiet", "q", false, "Suppress the progress bar")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("scenario")
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return pipeline.NewConfigurationError("scenario", "no scenario file given")
	}

	sc, err := simulate.LoadScenario(path)
	if err != nil {
		return pipeline.NewConfigurationError("scenario", err.Error())
	}

	logger := slog.Default()

	workspace, err := storage.NewWorkspace(cfg.Workspace.BaseDir)
	if err != nil {
		return fmt.Errorf("initializing workspace: %w", err)
	}

	promptStore, err := prompts.NewStore(cfg.Prompts.Dir)
	if err != nil {
		return fmt.Errorf("loading prompts: %w", err)
	}

	progressService := progress.NewService(logger)
	progressService.Start()
	defer progressService.Stop()

	runner := simulate.NewRunner(&pipeline.Dependencies{
		Config:    cfg,
		Logger:    logger,
		LLM:       llm.NewClient(cfg.LLM, logger),
		Prompts:   promptStore,
		Workspace: workspace,
	}).WithProgressService(progressService)

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

	result, err := runner.Run(ctx, sc)
	finishWatch(progressService, sub, watchDone)
	if err != nil {
		reporter.Failure("simulation:"+sc.Name, err)
		return err
	}

	reporter.Summary(result)

	if printReport, _ := cmd.Flags().GetBool("print-report"); printReport {
		fmt.Fprintln(os.Stdout)
		_, _ = os.Stdout.Write(result.Report.Bytes)
	}
	return nil
}
