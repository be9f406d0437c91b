package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
)

// running tracks which sources currently have a pipeline in flight, so two
// runs never fight over the same frame workspace.
var running = struct {
	sync.Mutex
	sources map[string]bool
}{sources: make(map[string]bool)}

// Orchestrator executes the analysis stages in strict order and assembles
// the PipelineResult. It is the coordinator: no stage starts until its
// predecessor finished, soft timeouts are enforced per stage, and
// cancellation unwinds the run without a partial result.
type Orchestrator struct {
	stages           []Stage
	state            *State
	logger           *slog.Logger
	progressReporter ProgressReporter
	stageTimeouts    map[string]time.Duration
	keepFrames       bool
}

// NewOrchestrator creates a new Orchestrator over the given run state.
func NewOrchestrator(state *State, stages []Stage, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stages:        stages,
		state:         state,
		logger:        logger,
		stageTimeouts: make(map[string]time.Duration),
	}
}

// SetProgressReporter sets an optional progress reporter.
func (o *Orchestrator) SetProgressReporter(reporter ProgressReporter) {
	o.progressReporter = reporter
}

// SetStageTimeouts configures per-stage soft timeouts keyed by stage ID.
// A zero duration leaves the stage unbounded (the total-run deadline on the
// context still applies).
func (o *Orchestrator) SetStageTimeouts(timeouts map[string]time.Duration) {
	for id, d := range timeouts {
		o.stageTimeouts[id] = d
	}
}

// SetKeepFrames controls whether the extracted frame files survive the run.
func (o *Orchestrator) SetKeepFrames(keep bool) {
	o.keepFrames = keep
}

// Execute runs all stages in sequence and returns the assembled result.
// A hard failure returns a *PipelineError and no result.
func (o *Orchestrator) Execute(ctx context.Context) (*models.PipelineResult, error) {
	if !lockSource(o.state.Source) {
		return nil, ErrPipelineAlreadyRunning
	}
	defer unlockSource(o.state.Source)

	if err := os.MkdirAll(o.state.FramesDir, 0o755); err != nil {
		return nil, NewError(KindInternal, "", o.state.SourceID, err)
	}
	defer o.removeFrames()

	o.state.ProgressReporter = o.progressReporter

	o.logger.InfoContext(ctx, "starting pipeline execution",
		slog.String("run_id", o.state.RunID),
		slog.String("source", o.state.Source),
		slog.String("source_id", o.state.SourceID),
		slog.Int("stage_count", len(o.stages)),
	)
	startTime := time.Now()

	for i, stage := range o.stages {
		if err := ctx.Err(); err != nil {
			o.cleanupStages(ctx, o.stages[:i+1])
			return nil, o.contextError(err, stage)
		}

		if err := o.runStage(ctx, i, stage); err != nil {
			o.cleanupStages(ctx, o.stages[:i+1])
			return nil, err
		}

		// Force GC between stages: released frame and classification
		// buffers should not outlive their consumers.
		runtime.GC()
	}

	result := o.state.Result()

	o.logger.InfoContext(ctx, "pipeline execution completed",
		slog.String("run_id", o.state.RunID),
		slog.String("source_id", o.state.SourceID),
		slog.Int("frames", result.FramesExtracted),
		slog.Int("events", result.EventCount),
		slog.Int("cycles", len(result.Cycles)),
		slog.Duration("duration", time.Since(startTime)),
	)

	o.cleanupStages(ctx, o.stages)
	return result, nil
}

// runStage runs one stage under its soft timeout, registers its artifacts
// and maps any failure onto the error taxonomy.
func (o *Orchestrator) runStage(ctx context.Context, index int, stage Stage) error {
	o.logger.InfoContext(ctx, "executing stage",
		slog.Int("stage_num", index+1),
		slog.Int("total_stages", len(o.stages)),
		slog.String("stage_id", stage.ID()),
		slog.String("stage_name", stage.Name()),
	)
	o.report(ctx, stage, 0.0, "Starting")

	stageCtx := ctx
	if timeout := o.stageTimeouts[stage.ID()]; timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := stage.Execute(stageCtx, o.state)
	elapsed := time.Since(start)

	if err != nil {
		err = o.classifyStageError(ctx, stageCtx, stage, err)
		o.logger.ErrorContext(ctx, "stage failed",
			slog.String("stage_id", stage.ID()),
			slog.String("stage_name", stage.Name()),
			slog.String("error", err.Error()),
			slog.Duration("duration", elapsed),
		)
		return err
	}

	records := 0
	if result != nil {
		result.Duration = elapsed
		records = result.RecordsProcessed
		for _, artifact := range result.Artifacts {
			o.state.AddArtifact(stage.ID(), artifact)
		}
	}

	o.logger.InfoContext(ctx, "stage completed",
		slog.String("stage_id", stage.ID()),
		slog.String("stage_name", stage.Name()),
		slog.Duration("duration", elapsed),
		slog.Int("records_processed", records),
	)
	o.report(ctx, stage, 1.0, "Complete")
	return nil
}

func (o *Orchestrator) report(ctx context.Context, stage Stage, progress float64, msg string) {
	if o.progressReporter != nil {
		o.progressReporter.ReportProgress(ctx, stage.ID(), progress, msg)
	}
}

// classifyStageError maps a stage failure onto the error taxonomy.
func (o *Orchestrator) classifyStageError(ctx, stageCtx context.Context, stage Stage, err error) error {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.Stage == "" {
			pe.Stage = stage.ID()
		}
		if pe.Source == "" {
			pe.Source = o.state.SourceID
		}
		return pe
	}

	// The stage's own soft timeout fired while the run context was healthy.
	if stageCtx.Err() != nil && ctx.Err() == nil {
		return NewError(KindStageTimeout, stage.ID(), o.state.SourceID, err)
	}
	if ctx.Err() != nil {
		return o.contextError(ctx.Err(), stage)
	}

	return NewError(KindInternal, stage.ID(), o.state.SourceID,
		NewStageError(stage.ID(), stage.Name(), err))
}

// contextError maps a run-context failure to Cancelled or StageTimeout.
func (o *Orchestrator) contextError(err error, stage Stage) error {
	kind := KindCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindStageTimeout
	}
	return NewError(kind, stage.ID(), o.state.SourceID, err)
}

// removeFrames drops the run's frame directory unless frames are kept.
func (o *Orchestrator) removeFrames() {
	if o.keepFrames {
		return
	}
	if err := os.RemoveAll(o.state.FramesDir); err != nil {
		o.logger.Warn("failed to remove frames directory",
			slog.String("path", o.state.FramesDir),
			slog.String("error", err.Error()))
		return
	}
	o.logger.Debug("removed frames directory", slog.String("path", o.state.FramesDir))
}

// cleanupStages calls Cleanup on all given stages.
func (o *Orchestrator) cleanupStages(ctx context.Context, stages []Stage) {
	for _, stage := range stages {
		if err := stage.Cleanup(ctx); err != nil {
			o.logger.Warn("stage cleanup failed",
				slog.String("stage_id", stage.ID()),
				slog.String("error", err.Error()))
		}
	}
}

func lockSource(source string) bool {
	running.Lock()
	defer running.Unlock()
	if running.sources[source] {
		return false
	}
	running.sources[source] = true
	return true
}

func unlockSource(source string) {
	running.Lock()
	defer running.Unlock()
	delete(running.sources, source)
}

// State returns the current pipeline state (for testing).
func (o *Orchestrator) State() *State {
	return o.state
}

// Stages returns the configured stages (for testing).
func (o *Orchestrator) Stages() []Stage {
	return o.stages
}
