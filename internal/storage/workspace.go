// Package storage provides the sandboxed run workspace for digwatch.
// All file operations are restricted to the configured base directory to
// prevent path traversal, and report writes are atomic so readers never
// observe a half-written file.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Layout under the workspace base directory.
const (
	runsDirName    = "runs"
	reportsDirName = "reports"
)

// Workspace manages per-run work directories and saved reports under a
// single base directory. It prevents path traversal by ensuring all paths
// resolve within the base.
type Workspace struct {
	baseDir string
}

// RunDirInfo describes one per-run directory under runs/.
type RunDirInfo struct {
	RunID   string
	Path    string
	ModTime time.Time
}

// NewWorkspace creates a Workspace rooted at the given base directory.
// The base directory is created if it doesn't exist.
func NewWorkspace(baseDir string) (*Workspace, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	if err := os.MkdirAll(absPath, 0750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}

	return &Workspace{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the workspace base directory.
func (w *Workspace) BaseDir() string {
	return w.baseDir
}

// ResolvePath resolves a relative path within the workspace.
// Returns an error if the path would escape the workspace or is absolute.
func (w *Workspace) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("path escapes workspace: %s (absolute paths not allowed)", relativePath)
	}

	cleanPath := filepath.Clean(relativePath)
	fullPath := filepath.Join(w.baseDir, cleanPath)

	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if !strings.HasPrefix(absPath, w.baseDir+string(filepath.Separator)) && absPath != w.baseDir {
		return "", fmt.Errorf("path escapes workspace: %s", relativePath)
	}

	return absPath, nil
}

// Contains reports whether an absolute path lies within the workspace.
// Used to validate stored report paths before serving them.
func (w *Workspace) Contains(absPath string) bool {
	cleaned := filepath.Clean(absPath)
	return strings.HasPrefix(cleaned, w.baseDir+string(filepath.Separator))
}

// EnsureRunDir creates the work directory for a run and returns its
// absolute path. The run ID becomes a single directory name under runs/.
func (w *Workspace) EnsureRunDir(runID string) (string, error) {
	if err := validateID(runID, "run id"); err != nil {
		return "", err
	}

	path, err := w.ResolvePath(filepath.Join(runsDirName, runID))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(path, 0750); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return path, nil
}

// RunDir returns the absolute path of a run's work directory without
// creating it.
func (w *Workspace) RunDir(runID string) (string, error) {
	if err := validateID(runID, "run id"); err != nil {
		return "", err
	}
	return w.ResolvePath(filepath.Join(runsDirName, runID))
}

// RemoveRun deletes a run's work directory and all its contents.
// Removing a run that does not exist is not an error.
func (w *Workspace) RemoveRun(runID string) error {
	path, err := w.RunDir(runID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing run directory: %w", err)
	}
	return nil
}

// ListRuns returns the per-run directories currently present under runs/.
// A missing runs/ directory yields an empty list.
func (w *Workspace) ListRuns() ([]RunDirInfo, error) {
	path, err := w.ResolvePath(runsDirName)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	runs := make([]RunDirInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		runs = append(runs, RunDirInfo{
			RunID:   entry.Name(),
			Path:    filepath.Join(path, entry.Name()),
			ModTime: info.ModTime(),
		})
	}
	return runs, nil
}

// SaveReport atomically writes a report artifact under
// reports/<source_id>/<filename> and returns its absolute path.
func (w *Workspace) SaveReport(sourceID, filename string, data []byte) (string, error) {
	if err := validateID(sourceID, "source id"); err != nil {
		return "", err
	}
	if err := validateID(filename, "filename"); err != nil {
		return "", err
	}

	rel := filepath.Join(reportsDirName, sourceID, filename)
	if err := w.AtomicWrite(rel, data); err != nil {
		return "", err
	}
	return w.ResolvePath(rel)
}

// ReportPath returns the absolute path a report artifact would be saved at.
func (w *Workspace) ReportPath(sourceID, filename string) (string, error) {
	if err := validateID(sourceID, "source id"); err != nil {
		return "", err
	}
	if err := validateID(filename, "filename"); err != nil {
		return "", err
	}
	return w.ResolvePath(filepath.Join(reportsDirName, sourceID, filename))
}

// Exists checks if a path exists within the workspace.
func (w *Workspace) Exists(relativePath string) (bool, error) {
	path, err := w.ResolvePath(relativePath)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// ReadFile reads a file from within the workspace.
func (w *Workspace) ReadFile(relativePath string) ([]byte, error) {
	path, err := w.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// AtomicWrite writes data to a file atomically within the workspace.
// It writes to a temporary file first, then renames it to the target, so
// the file is either completely written or not at all.
func (w *Workspace) AtomicWrite(relativePath string, data []byte) error {
	targetPath, err := w.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempName := fmt.Sprintf(".%s.%s.tmp", filepath.Base(relativePath), randomHex(8))
	tempPath := filepath.Join(dir, tempName)

	if err := os.WriteFile(tempPath, data, 0640); err != nil {
		return fmt.Errorf("writing temporary file: %w", err)
	}

	// Rename to target (atomic on most filesystems)
	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}

	return nil
}

// validateID rejects values that would change the directory layout when
// joined into a path. Run IDs and source IDs must be single path elements.
func validateID(id, what string) error {
	if id == "" {
		return fmt.Errorf("%s is empty", what)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("%s contains path separators: %s", what, id)
	}
	return nil
}

// randomHex generates a random hex string of the specified length.
func randomHex(n int) string {
	bytes := make([]byte, n/2+1)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to less random but still unique
		return fmt.Sprintf("%d", os.Getpid())
	}
	return hex.EncodeToString(bytes)[:n]
}
