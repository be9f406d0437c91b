// Package repository defines data access interfaces for digwatch entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
)

// RunRepository defines operations for managing analysis runs.
type RunRepository interface {
	// Create creates a new run record.
	Create(ctx context.Context, run *models.Run) error

	// GetByID retrieves a run by ID. Returns nil if not found.
	GetByID(ctx context.Context, id models.ULID) (*models.Run, error)

	// GetByIDWithCycles retrieves a run with its cycle rows preloaded,
	// ordered by cycle number. Returns nil if not found.
	GetByIDWithCycles(ctx context.Context, id models.ULID) (*models.Run, error)

	// List retrieves runs newest first with pagination. A nil status
	// matches every lifecycle state and an empty sourceID matches every
	// source. A limit of zero or less returns all matching runs.
	// Returns the page of runs and the total match count.
	List(ctx context.Context, status *models.RunStatus, sourceID string, offset, limit int) ([]*models.Run, int64, error)

	// GetActive retrieves runs that have not reached a terminal state,
	// oldest first.
	GetActive(ctx context.Context) ([]*models.Run, error)

	// ExistsBySource reports whether any run exists for the given source.
	ExistsBySource(ctx context.Context, source string) (bool, error)

	// Update updates an existing run.
	Update(ctx context.Context, run *models.Run) error

	// UpdateStatus updates a run's status and error message without
	// loading the full record. Terminal statuses also set completed_at.
	UpdateStatus(ctx context.Context, id models.ULID, status models.RunStatus, message string) error

	// ReplaceCycles replaces all cycle rows for a run.
	ReplaceCycles(ctx context.Context, runID models.ULID, cycles []models.RunCycle) error

	// GetCycles retrieves the cycle rows for a run ordered by number.
	GetCycles(ctx context.Context, runID models.ULID) ([]*models.RunCycle, error)

	// Delete deletes a run and its cycle rows.
	Delete(ctx context.Context, id models.ULID) error

	// DeleteFinishedBefore deletes terminal runs that completed before the
	// given time, along with their cycle rows. Returns the number of runs
	// deleted.
	DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error)
}
