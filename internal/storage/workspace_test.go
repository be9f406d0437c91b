package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(filepath.Join(t.TempDir(), "workspace"))
	require.NoError(t, err)
	return ws
}

func TestNewWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	baseDir := filepath.Join(tmpDir, "workspace")

	ws, err := NewWorkspace(baseDir)
	require.NoError(t, err)
	require.NotNil(t, ws)

	// Verify directory was created
	info, err := os.Stat(baseDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Verify BaseDir returns absolute path
	assert.True(t, filepath.IsAbs(ws.BaseDir()))
}

func TestWorkspace_ResolvePath(t *testing.T) {
	ws := setupTestWorkspace(t)

	tests := []struct {
		name        string
		path        string
		shouldError bool
	}{
		{"simple file", "test.txt", false},
		{"nested path", "runs/abc/frames/frame_000001.jpg", false},
		{"current dir", ".", false},
		{"parent escape attempt", "../escape.txt", true},
		{"nested parent escape", "runs/../../escape.txt", true},
		{"absolute path escape", "/etc/passwd", true},
		{"hidden file", ".hidden", false},
		{"dot dot name", "..test", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := ws.ResolvePath(tt.path)
			if tt.shouldError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "escapes workspace")
			} else {
				assert.NoError(t, err)
				assert.True(t, strings.HasPrefix(resolved, ws.BaseDir()))
			}
		})
	}
}

func TestWorkspace_Contains(t *testing.T) {
	ws := setupTestWorkspace(t)

	assert.True(t, ws.Contains(filepath.Join(ws.BaseDir(), "reports", "B6", "x.md")))
	assert.False(t, ws.Contains("/etc/passwd"))
	assert.False(t, ws.Contains(filepath.Join(ws.BaseDir(), "..", "outside.txt")))
}

func TestWorkspace_EnsureRunDir(t *testing.T) {
	ws := setupTestWorkspace(t)

	dir, err := ws.EnsureRunDir("01JB2X3Y4Z")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.BaseDir(), "runs", "01JB2X3Y4Z"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	// Idempotent
	again, err := ws.EnsureRunDir("01JB2X3Y4Z")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}

func TestWorkspace_EnsureRunDir_RejectsBadIDs(t *testing.T) {
	ws := setupTestWorkspace(t)

	for _, id := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		_, err := ws.EnsureRunDir(id)
		assert.Error(t, err, "id %q should be rejected", id)
	}
}

func TestWorkspace_RemoveRun(t *testing.T) {
	ws := setupTestWorkspace(t)

	dir, err := ws.EnsureRunDir("run1")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame_000000.jpg"), []byte("jpg"), 0o644))

	require.NoError(t, ws.RemoveRun("run1"))

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	// Removing a missing run is not an error
	assert.NoError(t, ws.RemoveRun("run1"))
}

func TestWorkspace_ListRuns(t *testing.T) {
	ws := setupTestWorkspace(t)

	// No runs directory yet
	runs, err := ws.ListRuns()
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = ws.EnsureRunDir("run-a")
	require.NoError(t, err)
	_, err = ws.EnsureRunDir("run-b")
	require.NoError(t, err)

	// Stray files under runs/ are ignored
	require.NoError(t, os.WriteFile(filepath.Join(ws.BaseDir(), "runs", "stray.txt"), []byte("x"), 0o644))

	runs, err = ws.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)

	ids := []string{runs[0].RunID, runs[1].RunID}
	assert.ElementsMatch(t, []string{"run-a", "run-b"}, ids)
	for _, run := range runs {
		assert.True(t, strings.HasPrefix(run.Path, ws.BaseDir()))
		assert.False(t, run.ModTime.IsZero())
	}
}

func TestWorkspace_SaveReport(t *testing.T) {
	ws := setupTestWorkspace(t)
	content := []byte("# Cycle Time Report: B6\n")

	path, err := ws.SaveReport("B6", "01JB2X3Y4Z.md", content)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.BaseDir(), "reports", "B6", "01JB2X3Y4Z.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	// Overwrite is atomic and keeps the same path
	path2, err := ws.SaveReport("B6", "01JB2X3Y4Z.md", []byte("updated"))
	require.NoError(t, err)
	assert.Equal(t, path, path2)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("updated"), data)
}

func TestWorkspace_SaveReport_RejectsBadIDs(t *testing.T) {
	ws := setupTestWorkspace(t)

	_, err := ws.SaveReport("../escape", "r.md", []byte("x"))
	assert.Error(t, err)

	_, err = ws.SaveReport("B6", "../escape.md", []byte("x"))
	assert.Error(t, err)

	_, err = ws.SaveReport("", "r.md", []byte("x"))
	assert.Error(t, err)
}

func TestWorkspace_ReportPath(t *testing.T) {
	ws := setupTestWorkspace(t)

	path, err := ws.ReportPath("B6", "run.html")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.BaseDir(), "reports", "B6", "run.html"), path)

	// Path is computed without creating anything
	_, err = os.Stat(filepath.Join(ws.BaseDir(), "reports"))
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_AtomicWrite(t *testing.T) {
	ws := setupTestWorkspace(t)

	err := ws.AtomicWrite("reports/B6/report.md", []byte("content"))
	require.NoError(t, err)

	data, err := ws.ReadFile("reports/B6/report.md")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), data)

	// No temporary files left behind
	entries, err := os.ReadDir(filepath.Join(ws.BaseDir(), "reports", "B6"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "report.md", entries[0].Name())
}

func TestWorkspace_AtomicWrite_EscapeRejected(t *testing.T) {
	ws := setupTestWorkspace(t)

	err := ws.AtomicWrite("../outside.txt", []byte("x"))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "escapes workspace")
}

func TestWorkspace_Exists(t *testing.T) {
	ws := setupTestWorkspace(t)

	exists, err := ws.Exists("nonexistent.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, ws.AtomicWrite("present.txt", []byte("x")))

	exists, err = ws.Exists("present.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}
