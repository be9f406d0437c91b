// Package service provides business logic on top of the repositories and
// the analysis pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/service/progress"
	"github.com/jmylchreest/digwatch/internal/storage"
)

// videoExtensions are the file types AnalyzeDirectory picks up.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
	".mkv": true,
}

// BatchItem is the outcome for one source within a directory analysis.
type BatchItem struct {
	// Source is the video path that was analyzed.
	Source string
	// Run is the persisted run record, nil when creation itself failed.
	Run *models.Run
	// Result is the pipeline output, nil when the run failed.
	Result *models.PipelineResult
	// Err is the hard failure for this source, nil on success.
	Err error
}

// AnalysisService runs the analysis pipeline against video sources and
// persists the outcome as run records.
type AnalysisService struct {
	runRepo         repository.RunRepository
	pipelineFactory pipeline.OrchestratorFactory
	workspace       *storage.Workspace
	progressService *progress.Service
	totalDeadline   time.Duration
	logger          *slog.Logger
}

// NewAnalysisService creates a new analysis service.
func NewAnalysisService(
	runRepo repository.RunRepository,
	pipelineFactory pipeline.OrchestratorFactory,
	workspace *storage.Workspace,
) *AnalysisService {
	return &AnalysisService{
		runRepo:         runRepo,
		pipelineFactory: pipelineFactory,
		workspace:       workspace,
		logger:          slog.Default(),
	}
}

// WithProgressService sets the progress service for progress reporting.
func (s *AnalysisService) WithProgressService(svc *progress.Service) *AnalysisService {
	s.progressService = svc
	return s
}

// WithLogger sets the logger for the service.
func (s *AnalysisService) WithLogger(logger *slog.Logger) *AnalysisService {
	s.logger = logger
	return s
}

// WithTotalDeadline bounds each analysis to d of wall-clock time. Zero
// leaves runs unbounded.
func (s *AnalysisService) WithTotalDeadline(d time.Duration) *AnalysisService {
	s.totalDeadline = d
	return s
}

// Analyze runs the full pipeline against one video source and persists the
// run record through its lifecycle. The returned run reflects the terminal
// state even when the pipeline fails.
func (s *AnalysisService) Analyze(ctx context.Context, source string) (*models.Run, *models.PipelineResult, error) {
	if s.totalDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.totalDeadline)
		defer cancel()
	}

	run := &models.Run{
		Source:   source,
		SourceID: models.DeriveSourceID(source),
		Status:   models.RunStatusPending,
	}
	if err := s.runRepo.Create(ctx, run); err != nil {
		return nil, nil, fmt.Errorf("creating run record: %w", err)
	}

	orchestrator, err := s.pipelineFactory.Create(run.ID.String(), source)
	if err != nil {
		run.MarkFailed(err)
		s.persistRun(ctx, run)
		return run, nil, fmt.Errorf("creating pipeline: %w", err)
	}

	// Start progress tracking if service is available
	var progressMgr *progress.OperationManager
	if s.progressService != nil {
		progressMgr, err = progress.StartPipelineOperation(s.progressService, "run", run.ID, orchestrator.Stages())
		if err != nil {
			// Log but don't fail - progress tracking is non-essential
			s.logger.WarnContext(ctx, "failed to start progress tracking",
				slog.String("run_id", run.ID.String()),
				slog.String("error", err.Error()),
			)
		} else {
			progressMgr.SetMetadata("source", source)
			orchestrator.SetProgressReporter(progressMgr)
		}
	}

	run.MarkRunning()
	run.SamplingFPS = orchestrator.State().SamplingFPS
	s.persistRun(ctx, run)

	s.logger.InfoContext(ctx, "starting analysis",
		slog.String("run_id", run.ID.String()),
		slog.String("source", source),
		slog.String("source_id", run.SourceID),
	)

	result, err := orchestrator.Execute(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			run.MarkCancelled()
			if progressMgr != nil {
				progressMgr.Cancel()
			}
		} else {
			run.MarkFailed(err)
			if progressMgr != nil {
				progressMgr.Fail(err)
			}
		}
		s.captureState(run, orchestrator.State())
		s.persistRun(context.WithoutCancel(ctx), run)
		return run, nil, fmt.Errorf("executing pipeline: %w", err)
	}

	run.MarkCompleted()
	s.captureResult(run, result)
	s.persistRun(ctx, run)
	s.persistCycles(ctx, run.ID, result.Cycles)

	if progressMgr != nil {
		progressMgr.Complete(fmt.Sprintf("Analyzed %s (%d cycles)", result.SourceID, len(result.Cycles)))
	}

	s.logger.InfoContext(ctx, "analysis completed",
		slog.String("run_id", run.ID.String()),
		slog.String("source_id", result.SourceID),
		slog.Int("cycle_count", len(result.Cycles)),
		slog.Int("frames_extracted", result.FramesExtracted),
		slog.Int("soft_failures", result.SoftFailures),
		slog.Duration("duration", result.WorkDuration()),
	)

	return run, result, nil
}

// AnalyzeDirectory analyzes every video file in a directory in lexical
// order, continuing past per-file failures. The returned slice has one item
// per video found; the error covers only directory access itself.
func (s *AnalysisService) AnalyzeDirectory(ctx context.Context, dir string) ([]BatchItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			sources = append(sources, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(sources)

	s.logger.InfoContext(ctx, "starting batch analysis",
		slog.String("dir", dir),
		slog.Int("video_count", len(sources)),
	)

	items := make([]BatchItem, 0, len(sources))
	for _, source := range sources {
		select {
		case <-ctx.Done():
			return items, ctx.Err()
		default:
		}

		run, result, err := s.Analyze(ctx, source)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				items = append(items, BatchItem{Source: source, Run: run, Err: err})
				return items, ctx.Err()
			}
			s.logger.ErrorContext(ctx, "failed to analyze video",
				slog.String("source", source),
				slog.String("error", err.Error()),
			)
			// Continue with other videos
			items = append(items, BatchItem{Source: source, Run: run, Err: err})
			continue
		}
		items = append(items, BatchItem{Source: source, Run: run, Result: result})
	}

	return items, nil
}

// GetRun retrieves a run with its cycle rows. Returns ErrRunNotFound when
// no such run exists.
func (s *AnalysisService) GetRun(ctx context.Context, id models.ULID) (*models.Run, error) {
	run, err := s.runRepo.GetByIDWithCycles(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting run: %w", err)
	}
	if run == nil {
		return nil, models.ErrRunNotFound
	}
	return run, nil
}

// ListRuns retrieves runs newest first with optional status and source
// filters. Returns the page of runs and the total match count.
func (s *AnalysisService) ListRuns(ctx context.Context, status *models.RunStatus, sourceID string, offset, limit int) ([]*models.Run, int64, error) {
	runs, total, err := s.runRepo.List(ctx, status, sourceID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}
	return runs, total, nil
}

// GetReport loads the saved report artifact for a run. The markdown variant
// is returned unless preferHTML is set and an HTML report was saved.
// Returns ErrRunNotFound when the run does not exist and ErrReportNotFound
// when it produced no report.
func (s *AnalysisService) GetReport(ctx context.Context, id models.ULID, preferHTML bool) (*models.Run, []byte, string, error) {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, "", fmt.Errorf("getting run: %w", err)
	}
	if run == nil {
		return nil, nil, "", models.ErrRunNotFound
	}
	if run.ReportPath == "" {
		return run, nil, "", ErrReportNotFound
	}

	path := run.ReportPath
	mime := "text/markdown"
	if preferHTML {
		htmlPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".html"
		if s.workspace.Contains(htmlPath) {
			if _, err := os.Stat(htmlPath); err == nil {
				path = htmlPath
				mime = "text/html"
			}
		}
	}

	if !s.workspace.Contains(path) {
		return run, nil, "", fmt.Errorf("report path outside workspace: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return run, nil, "", ErrReportNotFound
		}
		return run, nil, "", fmt.Errorf("reading report: %w", err)
	}
	return run, data, mime, nil
}

// DeleteRun removes a run record, its cycle rows, and any leftover work
// directory. Saved report files are kept until retention removes them.
func (s *AnalysisService) DeleteRun(ctx context.Context, id models.ULID) error {
	run, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}
	if run == nil {
		return models.ErrRunNotFound
	}

	if err := s.runRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	if err := s.workspace.RemoveRun(id.String()); err != nil {
		s.logger.WarnContext(ctx, "failed to remove run directory",
			slog.String("run_id", id.String()),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// DeleteFinishedBefore removes terminal runs older than the retention
// cutoff. Returns the number of runs deleted.
func (s *AnalysisService) DeleteFinishedBefore(ctx context.Context, before models.Time) (int64, error) {
	deleted, err := s.runRepo.DeleteFinishedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("deleting finished runs: %w", err)
	}
	if deleted > 0 {
		s.logger.InfoContext(ctx, "deleted finished runs",
			slog.Int64("count", deleted),
		)
	}
	return deleted, nil
}

// ErrReportNotFound is returned when a run has no saved report artifact.
var ErrReportNotFound = errors.New("report not found")

// captureResult copies the pipeline result into the run record.
func (s *AnalysisService) captureResult(run *models.Run, result *models.PipelineResult) {
	run.SamplingFPS = result.SamplingFPS
	run.FramesExtracted = result.FramesExtracted
	run.EventCount = result.EventCount
	run.CycleCount = len(result.Cycles)
	run.SoftFailures = result.SoftFailures
	run.TelemetryFound = result.Telemetry.Found
	run.ReportPath = result.Report.Path

	stats, err := json.Marshal(result.Statistics)
	if err != nil {
		s.logger.Warn("failed to serialize run statistics",
			slog.String("run_id", run.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	run.StatsJSON = string(stats)
}

// captureState copies whatever a failed pipeline still produced into the
// run record so partial progress is visible in the store.
func (s *AnalysisService) captureState(run *models.Run, state *pipeline.State) {
	if state == nil {
		return
	}
	run.FramesExtracted = state.FramesExtracted
	run.EventCount = len(state.Events)
	run.CycleCount = len(state.Cycles)
	run.SoftFailures = state.SoftFailures
}

// persistRun updates the run record, logging instead of failing since the
// pipeline outcome matters more than the bookkeeping write.
func (s *AnalysisService) persistRun(ctx context.Context, run *models.Run) {
	if err := s.runRepo.Update(ctx, run); err != nil {
		s.logger.WarnContext(ctx, "failed to persist run",
			slog.String("run_id", run.ID.String()),
			slog.String("status", string(run.Status)),
			slog.String("error", err.Error()),
		)
	}
}

// persistCycles replaces the run's cycle rows with the validated cycles.
func (s *AnalysisService) persistCycles(ctx context.Context, runID models.ULID, cycles []models.Cycle) {
	rows := make([]models.RunCycle, 0, len(cycles))
	for _, c := range cycles {
		rows = append(rows, models.NewRunCycle(runID, c))
	}
	if err := s.runRepo.ReplaceCycles(ctx, runID, rows); err != nil {
		s.logger.WarnContext(ctx, "failed to persist run cycles",
			slog.String("run_id", runID.String()),
			slog.Int("cycle_count", len(rows)),
			slog.String("error", err.Error()),
		)
	}
}
