// Package startup holds the recovery tasks that run before the server or
// scheduler begins accepting work.
package startup

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/storage"
)

// DefaultStaleRunAge is the default maximum age for orphaned run directories.
const DefaultStaleRunAge = 72 * time.Hour

// CleanupStaleRunDirs removes per-run workspace directories older than maxAge.
// Run directories normally disappear when their pipeline finishes; directories
// that survive belong to crashed runs or to --keep-frames runs nobody came
// back for. Call this before accepting work so an in-flight run's directory
// can never be swept. Returns the number of directories removed.
func CleanupStaleRunDirs(logger *slog.Logger, ws *storage.Workspace, maxAge time.Duration) (int, error) {
	dirs, err := ws.ListRuns()
	if err != nil {
		logger.Error("failed to list run directories for cleanup", slog.Any("error", err))
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, dir := range dirs {
		age := time.Since(dir.ModTime).Round(time.Second)

		if dir.ModTime.After(cutoff) {
			logger.Debug("preserving recent run directory",
				slog.String("path", dir.Path),
				slog.Duration("age", age))
			continue
		}
		if err := ws.RemoveRun(dir.RunID); err != nil {
			logger.Warn("failed to remove stale run directory",
				slog.String("path", dir.Path),
				slog.Any("error", err))
			continue
		}

		logger.Info("removed stale run directory",
			slog.String("path", dir.Path),
			slog.Duration("age", age))
		removed++
	}
	return removed, nil
}

// RecoverInterruptedRuns marks runs stuck in "pending" or "running" as failed.
// A server crash or restart loses the in-memory pipeline state, so any run
// still recorded as active can never finish; without this recovery it would
// sit in an active status forever. Returns the number of runs recovered.
func RecoverInterruptedRuns(ctx context.Context, logger *slog.Logger, runRepo repository.RunRepository) (int, error) {
	runs, err := runRepo.GetActive(ctx)
	if err != nil {
		logger.Error("failed to list active runs for recovery", slog.Any("error", err))
		return 0, err
	}

	recovered := 0
	for _, run := range runs {
		logger.Warn("recovering interrupted run",
			slog.String("run_id", run.ID.String()),
			slog.String("source", run.Source),
			slog.String("status", string(run.Status)))

		err := runRepo.UpdateStatus(ctx, run.ID, models.RunStatusFailed, "interrupted by server restart")
		if err != nil {
			logger.Error("failed to recover interrupted run",
				slog.String("run_id", run.ID.String()),
				slog.Any("error", err))
			continue
		}
		recovered++
	}
	return recovered, nil
}
