// Package scheduler watches an inbox directory for new video files and
// dispatches them to the analysis service. Arrivals are detected through
// filesystem events, with a cron-scheduled rescan as a safety net for
// events missed while the server was down.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/models"
	"github.com/jmylchreest/digwatch/internal/repository"
	"github.com/jmylchreest/digwatch/pkg/format"
)

// AnalysisRunner runs a full analysis for one video source.
type AnalysisRunner interface {
	Analyze(ctx context.Context, source string) (*models.Run, *models.PipelineResult, error)
}

// InboxWatcher watches the inbox directory and analyzes new video files.
// A file is dispatched once its last filesystem event is older than the
// debounce window, so partially copied videos are left alone until the
// writer goes quiet. Files that already have a run record are skipped.
//
// Only the top level of the inbox is watched; subdirectories are ignored.
type InboxWatcher struct {
	mu sync.RWMutex

	runner  AnalysisRunner
	runRepo repository.RunRepository
	config  config.WatchConfig
	logger  *slog.Logger

	parser cron.Parser

	// Running state
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// pending maps inbox paths to the time of their last filesystem event.
	pendingMu sync.Mutex
	pending   map[string]time.Time
}

// NewInboxWatcher creates a new inbox watcher.
func NewInboxWatcher(cfg config.WatchConfig, runner AnalysisRunner, runRepo repository.RunRepository) *InboxWatcher {
	return &InboxWatcher{
		runner:  runner,
		runRepo: runRepo,
		config:  cfg,
		logger:  slog.Default(),
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		pending: make(map[string]time.Time),
	}
}

// WithLogger sets a custom logger.
func (w *InboxWatcher) WithLogger(logger *slog.Logger) *InboxWatcher {
	w.logger = logger
	return w
}

// Start begins watching the inbox directory. It returns an error when the
// inbox does not exist, the rescan cron expression is invalid, or the
// watcher is already running.
func (w *InboxWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx != nil {
		return fmt.Errorf("inbox watcher already started")
	}

	info, err := os.Stat(w.config.InboxDir)
	if err != nil {
		return fmt.Errorf("inbox directory %q is unusable: %w", w.config.InboxDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox path %q is not a directory", w.config.InboxDir)
	}

	var schedule cron.Schedule
	if w.config.RescanCron != "" {
		schedule, err = w.parser.Parse(w.config.RescanCron)
		if err != nil {
			return fmt.Errorf("invalid rescan cron expression %q: %w", w.config.RescanCron, err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := watcher.Add(w.config.InboxDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching inbox directory: %w", err)
	}

	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(3)
	go w.watchLoop(watcher)
	go w.dispatchLoop()
	go w.rescanLoop(schedule)

	w.logger.Info("inbox watcher started",
		slog.String("inbox_dir", w.config.InboxDir),
		slog.String("rescan_cron", w.config.RescanCron),
		slog.String("rescan_schedule", format.CronDescription(w.config.RescanCron)),
		slog.Duration("debounce", w.config.Debounce))

	return nil
}

// Stop stops the watcher and waits for any in-flight analysis to wind down.
func (w *InboxWatcher) Stop() {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	w.ctx = nil
	w.cancel = nil
	w.mu.Unlock()

	w.logger.Info("inbox watcher stopped")
}

// watchLoop forwards filesystem events into the pending set.
func (w *InboxWatcher) watchLoop(watcher *fsnotify.Watcher) {
	defer w.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.config.HasExtension(ev.Name) {
				continue
			}
			w.markPending(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("inbox watch error", slog.Any("error", err))
		}
	}
}

// markPending records a filesystem event for path, restarting its
// debounce window.
func (w *InboxWatcher) markPending(path string) {
	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()
}

// takeQuiet removes and returns the pending paths whose last event is
// older than the debounce window, in lexical order.
func (w *InboxWatcher) takeQuiet(now time.Time) []string {
	cutoff := now.Add(-w.config.Debounce)

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()

	var quiet []string
	for path, last := range w.pending {
		if last.After(cutoff) {
			continue
		}
		quiet = append(quiet, path)
		delete(w.pending, path)
	}
	sort.Strings(quiet)
	return quiet
}

// dispatchLoop periodically drains quiet pending files into analyses.
// Dispatch is sequential so a directory full of videos does not swamp
// the classifier.
func (w *InboxWatcher) dispatchLoop() {
	defer w.wg.Done()

	interval := w.config.Debounce / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			for _, path := range w.takeQuiet(time.Now()) {
				if w.ctx.Err() != nil {
					return
				}
				w.dispatch(w.ctx, path)
			}
		}
	}
}

// dispatch analyzes one inbox file unless a run already exists for it.
func (w *InboxWatcher) dispatch(ctx context.Context, path string) {
	exists, err := w.runRepo.ExistsBySource(ctx, path)
	if err != nil {
		w.logger.Error("failed to check for existing run",
			slog.String("source", path),
			slog.Any("error", err))
		return
	}
	if exists {
		w.logger.Debug("skipping already analyzed video", slog.String("source", path))
		return
	}

	// The file may have been moved away while it sat in the debounce window.
	if _, err := os.Stat(path); err != nil {
		w.logger.Debug("skipping vanished inbox file", slog.String("source", path))
		return
	}

	w.logger.Info("analyzing new inbox video", slog.String("source", path))

	if _, _, err := w.runner.Analyze(ctx, path); err != nil {
		w.logger.Error("inbox analysis failed",
			slog.String("source", path),
			slog.Any("error", err))
	}
}

// rescanLoop scans the inbox once at startup, then on the cron schedule.
// A nil schedule disables periodic rescans.
func (w *InboxWatcher) rescanLoop(schedule cron.Schedule) {
	defer w.wg.Done()

	// Pick up files that arrived while the watcher was down.
	w.rescan()

	if schedule == nil {
		return
	}

	for {
		timer := time.NewTimer(time.Until(schedule.Next(time.Now())))
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			w.rescan()
		}
	}
}

// rescan marks every video file in the inbox as pending. Already analyzed
// files are filtered out later by dispatch, so a rescan is cheap to repeat.
func (w *InboxWatcher) rescan() {
	entries, err := os.ReadDir(w.config.InboxDir)
	if err != nil {
		w.logger.Error("failed to read inbox directory",
			slog.String("inbox_dir", w.config.InboxDir),
			slog.Any("error", err))
		return
	}

	marked := 0
	for _, entry := range entries {
		if entry.IsDir() || !w.config.HasExtension(entry.Name()) {
			continue
		}
		w.markPending(filepath.Join(w.config.InboxDir, entry.Name()))
		marked++
	}

	if marked > 0 {
		w.logger.Debug("inbox rescan queued candidates", slog.Int("count", marked))
	}
}
