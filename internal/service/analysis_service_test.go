package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline/core"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubStage implements core.Stage for testing.
type stubStage struct {
	id      string
	execute func(ctx context.Context, state *core.State) (*core.StageResult, error)
}

func (s *stubStage) ID() string   { return s.id }
func (s *stubStage) Name() string { return s.id }
func (s *stubStage) Execute(ctx context.Context, state *core.State) (*core.StageResult, error) {
	if s.execute == nil {
		return &core.StageResult{}, nil
	}
	return s.execute(ctx, state)
}
func (s *stubStage) Cleanup(context.Context) error { return nil }

// stubFactory builds orchestrators around canned stages.
type stubFactory struct {
	workDir string
	stages  []core.Stage
	err     error
}

func (f *stubFactory) Create(runID, source string) (*core.Orchestrator, error) {
	if f.err != nil {
		return nil, f.err
	}
	state := core.NewState(runID, source, models.DeriveSourceID(source))
	state.SamplingFPS = 1
	state.WorkDir = filepath.Join(f.workDir, runID)
	state.FramesDir = filepath.Join(state.WorkDir, "frames")
	return core.NewOrchestrator(state, f.stages, testLogger()), nil
}

type analysisFixture struct {
	svc     *AnalysisService
	repo    repository.RunRepository
	ws      *storage.Workspace
	factory *stubFactory
}

func newAnalysisFixture(t *testing.T, stages ...core.Stage) *analysisFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Run{}, &models.RunCycle{}))

	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)

	repo := repository.NewRunRepository(db)
	factory := &stubFactory{workDir: t.TempDir(), stages: stages}
	svc := NewAnalysisService(repo, factory, ws).WithLogger(testLogger())

	return &analysisFixture{svc: svc, repo: repo, ws: ws, factory: factory}
}

func successfulStage(reportPath string) *stubStage {
	return &stubStage{id: "assemble_cycles", execute: func(ctx context.Context, state *core.State) (*core.StageResult, error) {
		state.FramesExtracted = 120
		state.SoftFailures = 2
		state.Events = append(state.Events,
			models.Event{Kind: models.EventDigStart, Timestamp: 10, PrevLabel: models.LabelIdle, NextLabel: models.LabelDigging},
			models.Event{Kind: models.EventReturnToDig, Timestamp: 28, PrevLabel: models.LabelSwingToDig, NextLabel: models.LabelDigging},
		)
		state.Cycles = []models.Cycle{
			{Number: 1, Start: 10, End: 28, Duration: 18, Phases: models.PhaseDurations{Dig: 5, SwingToDump: 4, Dump: 4, Return: 5}, Completeness: models.CycleComplete},
			{Number: 2, Start: 32, End: 52, Duration: 20, Phases: models.PhaseDurations{Dig: 6, SwingToDump: 5, Dump: 4, Return: 5}, Completeness: models.CycleComplete},
		}
		state.Statistics = models.CycleStatistics{Count: 2, CompleteCount: 2, SpecificAverage: 19}
		state.Telemetry = models.TelemetryRecord{Found: true, SourceID: state.SourceID}
		state.Report = models.ReportArtifact{MIME: "text/markdown", Path: reportPath}
		return &core.StageResult{RecordsProcessed: 2}, nil
	}}
}

func TestAnalysisService_Analyze_Success(t *testing.T) {
	fx := newAnalysisFixture(t)
	reportPath, err := fx.ws.SaveReport("S1", "report.md", []byte("# S1"))
	require.NoError(t, err)
	fx.factory.stages = []core.Stage{successfulStage(reportPath)}

	run, result, err := fx.svc.Analyze(context.Background(), "/videos/S1.mp4")
	require.NoError(t, err)
	require.NotNil(t, run)
	require.NotNil(t, result)

	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "S1", run.SourceID)
	assert.Equal(t, 120, run.FramesExtracted)
	assert.Equal(t, 2, run.EventCount)
	assert.Equal(t, 2, run.CycleCount)
	assert.Equal(t, 2, run.SoftFailures)
	assert.True(t, run.TelemetryFound)
	assert.Equal(t, reportPath, run.ReportPath)
	assert.Contains(t, run.StatsJSON, `"count":2`)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)

	// Run and cycles are persisted
	stored, err := fx.repo.GetByIDWithCycles(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	require.Len(t, stored.Cycles, 2)
	assert.Equal(t, 1, stored.Cycles[0].Number)
	assert.Equal(t, 18.0, stored.Cycles[0].Duration)
	assert.Equal(t, 2, stored.Cycles[1].Number)
}

func TestAnalysisService_Analyze_PipelineFailure(t *testing.T) {
	fx := newAnalysisFixture(t, &stubStage{id: "extract_frames", execute: func(ctx context.Context, state *core.State) (*core.StageResult, error) {
		state.FramesExtracted = 42
		return nil, errors.New("ffmpeg exploded")
	}})

	run, result, err := fx.svc.Analyze(context.Background(), "/videos/S2.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg exploded")
	assert.Nil(t, result)
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "ffmpeg exploded")
	assert.Equal(t, 42, run.FramesExtracted)

	stored, err := fx.repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
}

func TestAnalysisService_Analyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fx := newAnalysisFixture(t, &stubStage{id: "classify_frames", execute: func(stageCtx context.Context, state *core.State) (*core.StageResult, error) {
		cancel()
		return nil, context.Canceled
	}})

	run, _, err := fx.svc.Analyze(ctx, "/videos/S3.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusCancelled, run.Status)

	// The cancelled status is persisted despite the dead context
	stored, err := fx.repo.GetByID(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.RunStatusCancelled, stored.Status)
}

func TestAnalysisService_Analyze_FactoryError(t *testing.T) {
	fx := newAnalysisFixture(t)
	fx.factory.err = errors.New("ffmpeg binary not found")

	run, _, err := fx.svc.Analyze(context.Background(), "/videos/S4.mp4")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating pipeline")
	require.NotNil(t, run)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "ffmpeg binary not found")
}

func TestAnalysisService_AnalyzeDirectory(t *testing.T) {
	fx := newAnalysisFixture(t, &stubStage{id: "assemble_cycles", execute: func(ctx context.Context, state *core.State) (*core.StageResult, error) {
		if strings.Contains(state.Source, "broken") {
			return nil, errors.New("unreadable video")
		}
		state.Cycles = []models.Cycle{{Number: 1, Start: 0, End: 15, Duration: 15, Completeness: models.CycleComplete}}
		return &core.StageResult{}, nil
	}})

	dir := t.TempDir()
	for _, name := range []string{"broken.mp4", "good.mov", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "clips.mp4"), 0o755))

	items, err := fx.svc.AnalyzeDirectory(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, filepath.Join(dir, "broken.mp4"), items[0].Source)
	require.Error(t, items[0].Err)
	assert.Equal(t, models.RunStatusFailed, items[0].Run.Status)

	assert.Equal(t, filepath.Join(dir, "good.mov"), items[1].Source)
	require.NoError(t, items[1].Err)
	assert.Equal(t, models.RunStatusCompleted, items[1].Run.Status)
	assert.Equal(t, 1, items[1].Run.CycleCount)
}

func TestAnalysisService_AnalyzeDirectory_Empty(t *testing.T) {
	fx := newAnalysisFixture(t)

	items, err := fx.svc.AnalyzeDirectory(context.Background(), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAnalysisService_AnalyzeDirectory_MissingDir(t *testing.T) {
	fx := newAnalysisFixture(t)

	_, err := fx.svc.AnalyzeDirectory(context.Background(), filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading directory")
}

func TestAnalysisService_GetRun(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()

	run := &models.Run{Source: "/videos/S5.mp4", SourceID: "S5", Status: models.RunStatusCompleted}
	require.NoError(t, fx.repo.Create(ctx, run))
	require.NoError(t, fx.repo.ReplaceCycles(ctx, run.ID, []models.RunCycle{
		{RunID: run.ID, Number: 1, Start: 5, End: 20, Duration: 15, Completeness: models.CycleComplete},
	}))

	t.Run("existing run with cycles", func(t *testing.T) {
		found, err := fx.svc.GetRun(ctx, run.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Len(t, found.Cycles, 1)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := fx.svc.GetRun(ctx, models.NewULID())
		assert.ErrorIs(t, err, models.ErrRunNotFound)
	})
}

func TestAnalysisService_DeleteRun(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()

	run := &models.Run{Source: "/videos/old.mp4", SourceID: "old", Status: models.RunStatusCompleted}
	require.NoError(t, fx.repo.Create(ctx, run))
	dir, err := fx.ws.EnsureRunDir(run.ID.String())
	require.NoError(t, err)

	require.NoError(t, fx.svc.DeleteRun(ctx, run.ID))

	stored, err := fx.repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Nil(t, stored)
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "run directory should be removed")

	assert.ErrorIs(t, fx.svc.DeleteRun(ctx, models.NewULID()), models.ErrRunNotFound)
}

func TestAnalysisService_GetReport(t *testing.T) {
	fx := newAnalysisFixture(t)
	ctx := context.Background()

	mdPath, err := fx.ws.SaveReport("S6", "run.md", []byte("# Markdown report"))
	require.NoError(t, err)
	htmlPath, err := fx.ws.SaveReport("S6", "run.html", []byte("<html>report</html>"))
	require.NoError(t, err)
	_ = htmlPath

	run := &models.Run{Source: "/videos/S6.mp4", SourceID: "S6", Status: models.RunStatusCompleted, ReportPath: mdPath}
	require.NoError(t, fx.repo.Create(ctx, run))

	t.Run("markdown by default", func(t *testing.T) {
		found, data, mime, err := fx.svc.GetReport(ctx, run.ID, false)
		require.NoError(t, err)
		assert.Equal(t, run.ID, found.ID)
		assert.Equal(t, "text/markdown", mime)
		assert.Equal(t, "# Markdown report", string(data))
	})

	t.Run("html variant when preferred", func(t *testing.T) {
		_, data, mime, err := fx.svc.GetReport(ctx, run.ID, true)
		require.NoError(t, err)
		assert.Equal(t, "text/html", mime)
		assert.Equal(t, "<html>report</html>", string(data))
	})

	t.Run("falls back to markdown when html missing", func(t *testing.T) {
		other, err := fx.ws.SaveReport("S7", "only.md", []byte("md only"))
		require.NoError(t, err)
		runMD := &models.Run{Source: "/videos/S7.mp4", SourceID: "S7", Status: models.RunStatusCompleted, ReportPath: other}
		require.NoError(t, fx.repo.Create(ctx, runMD))

		_, data, mime, err := fx.svc.GetReport(ctx, runMD.ID, true)
		require.NoError(t, err)
		assert.Equal(t, "text/markdown", mime)
		assert.Equal(t, "md only", string(data))
	})

	t.Run("unknown run", func(t *testing.T) {
		_, _, _, err := fx.svc.GetReport(ctx, models.NewULID(), false)
		assert.ErrorIs(t, err, models.ErrRunNotFound)
	})

	t.Run("run without report", func(t *testing.T) {
		bare := &models.Run{Source: "/videos/S8.mp4", SourceID: "S8", Status: models.RunStatusFailed}
		require.NoError(t, fx.repo.Create(ctx, bare))

		_, _, _, err := fx.svc.GetReport(ctx, bare.ID, false)
		assert.ErrorIs(t, err, ErrReportNotFound)
	})

	t.Run("report path outside workspace", func(t *testing.T) {
		escape := &models.Run{Source: "/videos/S9.mp4", SourceID: "S9", Status: models.RunStatusCompleted, ReportPath: "/etc/passwd"}
		require.NoError(t, fx.repo.Create(ctx, escape))

		_, _, _, err := fx.svc.GetReport(ctx, escape.ID, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "outside workspace")
	})

	t.Run("report file deleted", func(t *testing.T) {
		gonePath, err := fx.ws.SaveReport("S10", "gone.md", []byte("temp"))
		require.NoError(t, err)
		require.NoError(t, os.Remove(gonePath))

		gone := &models.Run{Source: "/videos/S10.mp4", SourceID: "S10", Status: models.RunStatusCompleted, ReportPath: gonePath}
		require.NoError(t, fx.repo.Create(ctx, gone))

		_, _, _, err = fx.svc.GetReport(ctx, gone.ID, false)
		assert.ErrorIs(t, err, ErrReportNotFound)
	})
}

func TestAnalysisService_Analyze_WithProgress(t *testing.T) {
	fx := newAnalysisFixture(t)
	reportPath, err := fx.ws.SaveReport("S11", "report.md", []byte("# S11"))
	require.NoError(t, err)
	fx.factory.stages = []core.Stage{successfulStage(reportPath)}

	progressSvc := progress.NewService(testLogger())
	fx.svc.WithProgressService(progressSvc)

	run, _, err := fx.svc.Analyze(context.Background(), "/videos/S11.mp4")
	require.NoError(t, err)

	op, err := progressSvc.GetOperationByOwner("run", run.ID)
	require.NoError(t, err)
	assert.Equal(t, progress.StateCompleted, op.State)
	assert.InDelta(t, 1.0, op.Progress, 0.001)
}
