package core

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/ffmpeg"
	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/internal/storage"
)

// Dependencies bundles all dependencies needed by pipeline stages.
// This reduces parameter count and makes dependency injection cleaner.
type Dependencies struct {
	// Config is the full application configuration; stages read their own
	// sections at construction.
	Config *config.Config

	// Logger is the base logger; stages derive component loggers from it.
	Logger *slog.Logger

	// LLM talks to the external vision and text models.
	LLM llm.ChatClient

	// Prompts loads the declarative prompt templates.
	Prompts *prompts.Store

	// FFmpeg locates the ffmpeg/ffprobe binaries.
	FFmpeg *ffmpeg.BinaryDetector

	// Prober reads video container metadata.
	Prober *ffmpeg.Prober

	// Workspace manages per-run directories.
	Workspace *storage.Workspace

	// Clock supplies the report timestamp; nil means time.Now. Injectable
	// so deterministic rendering is reproducible in tests.
	Clock func() time.Time
}

// Validate reports missing dependencies the factory itself dereferences.
// Stage-specific dependencies are checked by the stage constructors, since
// reduced pipelines (simulation, tests) legitimately omit them.
func (d *Dependencies) Validate() error {
	switch {
	case d.Config == nil:
		return NewConfigurationError("config", "configuration is required")
	case d.Workspace == nil:
		return NewConfigurationError("workspace", "run workspace is required")
	}
	return nil
}

// StageConstructor is a function that creates a stage given dependencies.
type StageConstructor func(deps *Dependencies) Stage

// Factory creates configured Orchestrator instances with all required stages.
type Factory struct {
	deps              *Dependencies
	stageConstructors []StageConstructor
}

// NewFactory creates a new pipeline Factory.
func NewFactory(deps *Dependencies) *Factory {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Factory{
		deps:              deps,
		stageConstructors: make([]StageConstructor, 0),
	}
}

// RegisterStage adds a stage constructor to the factory.
// Stages are executed in the order they are registered.
func (f *Factory) RegisterStage(constructor StageConstructor) {
	f.stageConstructors = append(f.stageConstructors, constructor)
}

// Create creates a new Orchestrator configured for one run over the given
// source. The returned orchestrator includes all registered stages.
func (f *Factory) Create(runID, source string) (*Orchestrator, error) {
	if err := f.deps.Validate(); err != nil {
		return nil, err
	}

	workDir, err := f.deps.Workspace.EnsureRunDir(runID)
	if err != nil {
		return nil, err
	}

	cfg := f.deps.Config

	state := NewState(runID, source, models.DeriveSourceID(source))
	state.SamplingFPS = cfg.Pipeline.SamplingFPS
	state.MaxFrames = cfg.Pipeline.MaxFrames
	state.WorkDir = workDir
	state.FramesDir = filepath.Join(workDir, "frames")
	state.Now = f.deps.Clock

	// Build stages from constructors
	stages := make([]Stage, 0, len(f.stageConstructors))
	for _, constructor := range f.stageConstructors {
		stages = append(stages, constructor(f.deps))
	}

	orch := NewOrchestrator(state, stages, f.deps.Logger)
	orch.SetStageTimeouts(cfg.Pipeline.StageTimeoutsByID())
	orch.SetKeepFrames(cfg.Workspace.KeepFrames)

	return orch, nil
}

// OrchestratorFactory defines the interface for creating orchestrators.
type OrchestratorFactory interface {
	Create(runID, source string) (*Orchestrator, error)
}

// Ensure Factory implements OrchestratorFactory.
var _ OrchestratorFactory = (*Factory)(nil)
