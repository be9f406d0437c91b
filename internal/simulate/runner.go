package simulate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/assemble"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/detect"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/report"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/telemetry"
	"github.com/jmylchreest/digwatch/internal/service/progress"
)

// Runner replays scenarios through the pipeline. Extraction and
// classification are replaced by the scenario's synthetic timeline; the
// remaining stages run unchanged.
type Runner struct {
	factory         *pipeline.Factory
	logger          *slog.Logger
	progressService *progress.Service
}

// NewRunner builds a runner over the given pipeline dependencies. The
// workspace must be set so each replay gets a run directory for report
// artifacts.
func NewRunner(deps *pipeline.Dependencies) *Runner {
	factory := pipeline.NewFactory(deps)
	factory.RegisterStage(detect.NewConstructor())
	factory.RegisterStage(assemble.NewConstructor())
	factory.RegisterStage(telemetry.NewConstructor())
	factory.RegisterStage(report.NewConstructor())

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{factory: factory, logger: logger}
}

// WithProgressService enables progress reporting for replays.
func (r *Runner) WithProgressService(svc *progress.Service) *Runner {
	r.progressService = svc
	return r
}

// Run replays one scenario and returns the pipeline result. The run is not
// recorded in the database; simulation output is ephemeral apart from any
// report artifacts written to the workspace.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*models.PipelineResult, error) {
	runID := models.NewULID().String()
	source := "simulation:" + sc.Name

	orch, err := r.factory.Create(runID, source)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	// Pre-seed the state the extract and classify stages would have
	// produced. SourceID stays derived from the source unless the scenario
	// overrides it to point at telemetry sidecars.
	cs := sc.Classifications()
	state := orch.State()
	if sc.SourceID != "" {
		state.SourceID = sc.SourceID
	}
	state.SamplingFPS = sc.SamplingFPS
	state.Classifications = cs
	state.FramesExtracted = len(cs)
	state.VideoDuration = sc.TotalDuration()

	var mgr *progress.OperationManager
	if r.progressService != nil {
		mgr, err = progress.StartPipelineOperation(r.progressService, "simulation", models.NewULID(), orch.Stages())
		if err != nil {
			r.logger.Warn("failed to start progress tracking", "error", err)
		} else {
			mgr.SetMetadata("scenario", sc.Name)
			orch.SetProgressReporter(mgr)
		}
	}

	r.logger.Info("replaying scenario",
		"run_id", runID,
		"scenario", sc.Name,
		"samples", len(cs),
		"duration_s", sc.TotalDuration())

	result, err := orch.Execute(ctx)
	if err != nil {
		if mgr != nil {
			if errors.Is(err, context.Canceled) {
				mgr.Cancel()
			} else {
				mgr.Fail(err)
			}
		}
		return nil, err
	}

	if mgr != nil {
		mgr.Complete(fmt.Sprintf("Simulated %s (%d cycles)", sc.Name, len(result.Cycles)))
	}
	return result, nil
}
