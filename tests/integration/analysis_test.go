// Package integration exercises the analysis path end to end: the real
// orchestrator and stages, the real chat client against a scripted model
// endpoint, the embedded prompt store, a sqlite database with migrations
// applied, and a workspace on disk. Only frame extraction is bypassed: the
// factory plants frames in each run directory the way the extract stage
// would have left them, so no ffmpeg binary is needed.
package integration

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/database"
	"github.com/jmylchreest/digwatch/internal/database/migrations"
	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/assemble"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/classify"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/detect"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/report"
	"github.com/jmylchreest/digwatch/internal/pipeline/stages/telemetry"
	"github.com/jmylchreest/digwatch/internal/prompts"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/service"
	"github.com/jmylchreest/digwatch/internal/storage"
	"github.com/jmylchreest/digwatch/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// seededFactory wraps the pipeline factory and plants extracted frames in
// each new run's directory before execution starts, standing in for the
// extraction stage so every later stage runs for real.
type seededFactory struct {
	t      *testing.T
	inner  *pipeline.Factory
	frames int

	// onCreate, when set, fires after the orchestrator is built and the
	// run record exists, but before the service executes the pipeline.
	onCreate func()
}

func (f *seededFactory) Create(runID, source string) (*pipeline.Orchestrator, error) {
	orch, err := f.inner.Create(runID, source)
	if err != nil {
		return nil, err
	}

	state := orch.State()
	state.Frames = testutil.WriteFrames(f.t, state.FramesDir, f.frames)
	state.FramesExtracted = len(state.Frames)
	state.NativeFPS = 25
	state.VideoDuration = float64(f.frames)

	if f.onCreate != nil {
		f.onCreate()
	}
	return orch, nil
}

// integrationConfig builds a config pointing at the scripted endpoint with
// everything on temp dirs. Report generation is fully enabled so the run
// exercises narrative, HTML, and contact sheet output.
func integrationConfig(t *testing.T, llmURL string) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.Database = config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "digwatch.db"),
	}
	cfg.Workspace.BaseDir = t.TempDir()
	cfg.Pipeline = config.PipelineConfig{
		SamplingFPS:          1,
		ClassifyMode:         config.ClassifyModeSequential,
		CompleteCycleSeconds: 5,
		PartialCycleSeconds:  3,
	}
	cfg.LLM = config.LLMConfig{
		BaseURL:          llmURL,
		VisionModel:      "gpt-4o",
		TextModel:        "gpt-4o-mini",
		RequestTimeout:   5 * time.Second,
		VisionMaxTokens:  120,
		TextMaxTokens:    600,
		RetryAttempts:    1,
		RetryDelay:       time.Millisecond,
		RetryBackoff:     2,
		BreakerThreshold: 10,
	}
	cfg.Report = config.ReportConfig{
		Template:     "default",
		Narrative:    true,
		HTML:         true,
		ContactSheet: true,
		Save:         true,
	}
	return cfg
}

type analysisFixture struct {
	svc     *service.AnalysisService
	repo    repository.RunRepository
	factory *seededFactory
}

func newAnalysisFixture(t *testing.T, cfg *config.Config, frames int) *analysisFixture {
	t.Helper()
	logger := testLogger()

	db, err := database.New(cfg.Database, logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))

	workspace, err := storage.NewWorkspace(cfg.Workspace.BaseDir)
	require.NoError(t, err)

	promptStore, err := prompts.NewStore("")
	require.NoError(t, err)

	inner := pipeline.NewFactory(&pipeline.Dependencies{
		Config:    cfg,
		Logger:    logger,
		LLM:       llm.NewClient(cfg.LLM, logger),
		Prompts:   promptStore,
		Workspace: workspace,
	})
	inner.RegisterStage(classify.NewConstructor())
	inner.RegisterStage(detect.NewConstructor())
	inner.RegisterStage(assemble.NewConstructor())
	inner.RegisterStage(telemetry.NewConstructor())
	inner.RegisterStage(report.NewConstructor())

	factory := &seededFactory{t: t, inner: inner, frames: frames}
	repo := repository.NewRunRepository(db.DB)
	svc := service.NewAnalysisService(repo, factory, workspace).WithLogger(logger)

	return &analysisFixture{svc: svc, repo: repo, factory: factory}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	script := testutil.RepeatCycles(2)
	vision := testutil.NewVisionServer(t, script...)

	cfg := integrationConfig(t, vision.URL())
	sidecars := t.TempDir()
	testutil.WriteJoystickStats(t, sidecars, "EX-7", 0.81)
	cfg.Telemetry.Dir = sidecars

	fx := newAnalysisFixture(t, cfg, len(script))

	run, result, err := fx.svc.Analyze(context.Background(), "videos/EX-7.mp4")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.NotNil(t, result)

	assert.Equal(t, len(script), vision.VisionCalls(), "one vision call per frame")
	assert.Equal(t, 1, vision.TextCalls(), "one narrative call per run")

	assert.Equal(t, "EX-7", result.SourceID)
	assert.Equal(t, len(script), result.FramesExtracted)
	assert.Equal(t, 10, result.EventCount)
	assert.Zero(t, result.SoftFailures)

	require.Len(t, result.Cycles, 2)
	for _, c := range result.Cycles {
		assert.Equal(t, models.CycleComplete, c.Completeness)
		assert.InDelta(t, 9.0, c.Duration, 1e-9)
	}
	assert.Equal(t, 2, result.Statistics.Count)
	assert.Equal(t, 2, result.Statistics.CompleteCount)
	assert.InDelta(t, 9.0, result.Statistics.SpecificAverage, 1e-9)

	assert.Equal(t, "EX-7", result.Telemetry.SourceID)
	require.NotNil(t, result.Telemetry.Joystick)
	assert.InDelta(t, 0.81, result.Telemetry.Joystick.BCSScore, 1e-9)

	assert.Equal(t, "text/markdown", result.Report.MIME)
	assert.Contains(t, string(result.Report.Bytes), testutil.DefaultNarrative)
	require.NotEmpty(t, result.Report.Path)
	_, err = os.Stat(result.Report.Path)
	require.NoError(t, err, "saved report should exist on disk")
	assert.NotEmpty(t, result.Report.HTMLPath)
	assert.NotEmpty(t, result.Report.ContactSheetPath)

	stored, err := fx.repo.GetByIDWithCycles(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, "EX-7", stored.SourceID)
	assert.Equal(t, len(script), stored.FramesExtracted)
	assert.Equal(t, 10, stored.EventCount)
	assert.Equal(t, 2, stored.CycleCount)
	assert.Equal(t, result.Report.Path, stored.ReportPath)
	require.Len(t, stored.Cycles, 2)
	assert.Equal(t, 1, stored.Cycles[0].Number)
	assert.Equal(t, 2, stored.Cycles[1].Number)
	assert.InDelta(t, 3.0, stored.Cycles[0].PhaseDig, 1e-9)
	assert.InDelta(t, 2.0, stored.Cycles[0].PhaseReturn, 1e-9)
}

func TestAnalyzeDirectoryBatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// One cycle per video; the script serves both runs in discovery order.
	perRun := testutil.RepeatCycles(1)
	script := append(append([]models.ActivityLabel{}, perRun...), perRun...)
	vision := testutil.NewVisionServer(t, script...)

	cfg := integrationConfig(t, vision.URL())
	fx := newAnalysisFixture(t, cfg, len(perRun))

	dir := t.TempDir()
	for _, name := range []string{"b-roll.mp4", "a-cut.mp4", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	items, err := fx.svc.AnalyzeDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, items, 2, "only video extensions are picked up")

	assert.Equal(t, filepath.Join(dir, "a-cut.mp4"), items[0].Source)
	assert.Equal(t, filepath.Join(dir, "b-roll.mp4"), items[1].Source)

	for _, item := range items {
		require.NoError(t, item.Err)
		require.NotNil(t, item.Run)
		require.NotNil(t, item.Result)
		assert.Equal(t, models.RunStatusCompleted, item.Run.Status)
		require.Len(t, item.Result.Cycles, 1)
		assert.Equal(t, models.CycleComplete, item.Result.Cycles[0].Completeness)
	}

	assert.Equal(t, len(script), vision.VisionCalls(), "both runs consumed the script")

	_, total, err := fx.repo.List(context.Background(), nil, "", 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestAnalyzeTruncatedTailYieldsPartialCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// One clean cycle, then a second that the video cuts off mid-dump.
	script := append(append([]models.ActivityLabel{}, testutil.RepeatCycles(1)...),
		models.LabelDigging, models.LabelDigging, models.LabelDigging,
		models.LabelSwingToDump, models.LabelSwingToDump,
		models.LabelDumping, models.LabelDumping,
	)
	vision := testutil.NewVisionServer(t, script...)

	cfg := integrationConfig(t, vision.URL())
	fx := newAnalysisFixture(t, cfg, len(script))

	run, result, err := fx.svc.Analyze(context.Background(), "videos/EX-8.mp4")
	require.NoError(t, err)
	require.NotNil(t, result)

	require.Len(t, result.Cycles, 2)
	assert.Equal(t, models.CycleComplete, result.Cycles[0].Completeness)

	partial := result.Cycles[1]
	assert.Equal(t, models.CyclePartial, partial.Completeness)
	assert.InDelta(t, 10.0, partial.Start, 1e-9)
	assert.InDelta(t, 15.0, partial.End, 1e-9)
	assert.InDelta(t, 3.0, partial.Phases.Dig, 1e-9)
	assert.Zero(t, partial.Phases.Dump)
	assert.Zero(t, partial.Phases.Return)
	assert.NotEmpty(t, partial.Note)

	assert.Equal(t, 2, result.Statistics.Count)
	assert.Equal(t, 1, result.Statistics.CompleteCount)
	assert.InDelta(t, 7.0, result.Statistics.SpecificAverage, 1e-9)

	stored, err := fx.repo.GetByIDWithCycles(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, stored.Cycles, 2)
	assert.Equal(t, models.CyclePartial, stored.Cycles[1].Completeness)
	assert.Zero(t, stored.Cycles[1].PhaseReturn)
}

func TestAnalyzeClassifierOutageFailsRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"backend down"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(failing.Close)

	cfg := integrationConfig(t, failing.URL)
	// Enough frames for the consecutive-failure count to reach the breaker
	// threshold mid-stage.
	fx := newAnalysisFixture(t, cfg, cfg.LLM.BreakerThreshold+2)

	run, result, err := fx.svc.Analyze(context.Background(), "videos/EX-11.mp4")
	require.Error(t, err)
	assert.True(t, pipeline.IsKind(err, pipeline.KindClassifierUnavailable), "got %v", err)
	assert.Equal(t, 3, pipeline.ExitCode(err))
	assert.Nil(t, result)
	require.NotNil(t, run)

	stored, err := fx.repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestAnalyzeStageTimeoutPersistsFailedRun(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	vision := testutil.NewVisionServer(t, testutil.WorkCycleLabels()...)
	cfg := integrationConfig(t, vision.URL())
	cfg.Pipeline.StageTimeouts.ClassifyFrames = time.Nanosecond

	fx := newAnalysisFixture(t, cfg, 4)

	run, result, err := fx.svc.Analyze(context.Background(), "videos/EX-9.mp4")
	require.Error(t, err)
	assert.True(t, pipeline.IsKind(err, pipeline.KindStageTimeout), "got %v", err)
	assert.Nil(t, result)
	require.NotNil(t, run)

	stored, err := fx.repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)
}

func TestAnalyzeCancelledRunIsPersisted(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	vision := testutil.NewVisionServer(t, testutil.WorkCycleLabels()...)
	cfg := integrationConfig(t, vision.URL())
	fx := newAnalysisFixture(t, cfg, 4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancel once the orchestrator exists: the run record is already in
	// the store but no stage has started.
	fx.factory.onCreate = cancel

	run, result, err := fx.svc.Analyze(ctx, "videos/EX-10.mp4")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, result)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Zero(t, vision.VisionCalls(), "no model calls after cancellation")

	stored, err := fx.repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusCancelled, stored.Status)
}
