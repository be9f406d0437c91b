package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestWorkspace(t *testing.T) *storage.Workspace {
	ws, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

// ageRunDir creates a run directory with a frame file and backdates it.
func ageRunDir(t *testing.T, ws *storage.Workspace, runID string, age time.Duration) string {
	path, err := ws.EnsureRunDir(runID)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "frame_00001.jpg"), []byte("jpeg"), 0o644))

	// Backdate AFTER writing the file (writing updates the dir mtime)
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestCleanupStaleRunDirs(t *testing.T) {
	t.Run("removes old run directories", func(t *testing.T) {
		ws := newTestWorkspace(t)
		oldDir := ageRunDir(t, ws, "01HZ1234567890ABCDEFGHJKMN", 2*time.Hour)

		count, err := CleanupStaleRunDirs(newTestLogger(), ws, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 1, count)
		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err), "old directory should be removed")
	})

	t.Run("preserves recent run directories", func(t *testing.T) {
		ws := newTestWorkspace(t)
		recentDir := ageRunDir(t, ws, "01HZ0987654321FEDCBAHJKMNP", 30*time.Minute)

		count, err := CleanupStaleRunDirs(newTestLogger(), ws, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(recentDir)
		assert.NoError(t, err, "recent directory should be preserved")
	})

	t.Run("handles empty workspace gracefully", func(t *testing.T) {
		ws := newTestWorkspace(t)

		count, err := CleanupStaleRunDirs(newTestLogger(), ws, 1*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("cleans up multiple old directories", func(t *testing.T) {
		ws := newTestWorkspace(t)
		for _, runID := range []string{"01HZAAAAAAAAAAAAAAAAAAAAAA", "01HZBBBBBBBBBBBBBBBBBBBBBB", "01HZCCCCCCCCCCCCCCCCCCCCCC"} {
			ageRunDir(t, ws, runID, 3*time.Hour)
		}
		kept := ageRunDir(t, ws, "01HZDDDDDDDDDDDDDDDDDDDDDD", 10*time.Minute)

		count, err := CleanupStaleRunDirs(newTestLogger(), ws, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 3, count)
		_, err = os.Stat(kept)
		assert.NoError(t, err, "recent directory should be preserved")
	})
}

func TestRecoverInterruptedRuns(t *testing.T) {
	setup := func(t *testing.T) repository.RunRepository {
		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		require.NoError(t, err)
		require.NoError(t, db.AutoMigrate(&models.Run{}, &models.RunCycle{}))
		return repository.NewRunRepository(db)
	}

	t.Run("marks active runs as failed", func(t *testing.T) {
		repo := setup(t)
		ctx := context.Background()

		running := &models.Run{Source: "/videos/a.mp4", SourceID: "a", Status: models.RunStatusRunning}
		require.NoError(t, repo.Create(ctx, running))
		pending := &models.Run{Source: "/videos/b.mp4", SourceID: "b", Status: models.RunStatusPending}
		require.NoError(t, repo.Create(ctx, pending))
		done := &models.Run{Source: "/videos/c.mp4", SourceID: "c", Status: models.RunStatusCompleted}
		require.NoError(t, repo.Create(ctx, done))

		recovered, err := RecoverInterruptedRuns(ctx, newTestLogger(), repo)
		require.NoError(t, err)
		assert.Equal(t, 2, recovered)

		for _, id := range []models.ULID{running.ID, pending.ID} {
			run, err := repo.GetByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, run)
			assert.Equal(t, models.RunStatusFailed, run.Status)
			assert.Equal(t, "interrupted by server restart", run.Error)
			assert.NotNil(t, run.CompletedAt)
		}

		// Completed runs are untouched
		run, err := repo.GetByID(ctx, done.ID)
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, models.RunStatusCompleted, run.Status)
		assert.Empty(t, run.Error)
	})

	t.Run("no active runs", func(t *testing.T) {
		repo := setup(t)

		recovered, err := RecoverInterruptedRuns(context.Background(), newTestLogger(), repo)
		require.NoError(t, err)
		assert.Equal(t, 0, recovered)
	})
}
