package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmylchreest/digwatch/internal/models"
	"gorm.io/gorm"
)

// runRepo implements RunRepository using GORM.
type runRepo struct {
	db *gorm.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *gorm.DB) *runRepo {
	return &runRepo{db: db}
}

// Create creates a new run record.
func (r *runRepo) Create(ctx context.Context, run *models.Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID. Returns nil if not found.
func (r *runRepo) GetByID(ctx context.Context, id models.ULID) (*models.Run, error) {
	var run models.Run
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting run: %w", err)
	}
	return &run, nil
}

// GetByIDWithCycles retrieves a run with its cycle rows preloaded,
// ordered by cycle number. Returns nil if not found.
func (r *runRepo) GetByIDWithCycles(ctx context.Context, id models.ULID) (*models.Run, error) {
	var run models.Run
	if err := r.db.WithContext(ctx).
		Preload("Cycles", func(db *gorm.DB) *gorm.DB {
			return db.Order("number ASC")
		}).
		Where("id = ?", id).
		First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting run with cycles: %w", err)
	}
	return &run, nil
}

// List retrieves runs newest first with pagination.
func (r *runRepo) List(ctx context.Context, status *models.RunStatus, sourceID string, offset, limit int) ([]*models.Run, int64, error) {
	var runs []*models.Run
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Run{})
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if sourceID != "" {
		query = query.Where("source_id = ?", sourceID)
	}

	// Get total count
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting runs: %w", err)
	}

	if limit <= 0 {
		limit = -1
	}

	// Get paginated results
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&runs).Error; err != nil {
		return nil, 0, fmt.Errorf("listing runs: %w", err)
	}

	return runs, total, nil
}

// GetActive retrieves runs that have not reached a terminal state.
func (r *runRepo) GetActive(ctx context.Context) ([]*models.Run, error) {
	var runs []*models.Run
	if err := r.db.WithContext(ctx).
		Where("status IN (?, ?)", models.RunStatusPending, models.RunStatusRunning).
		Order("created_at ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("getting active runs: %w", err)
	}
	return runs, nil
}

// ExistsBySource reports whether any run exists for the given source.
func (r *runRepo) ExistsBySource(ctx context.Context, source string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Run{}).
		Where("source = ?", source).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("counting runs by source: %w", err)
	}
	return count > 0, nil
}

// Update updates an existing run.
func (r *runRepo) Update(ctx context.Context, run *models.Run) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

// UpdateStatus updates a run's status and error message without loading the
// full record. Terminal statuses also set completed_at.
func (r *runRepo) UpdateStatus(ctx context.Context, id models.ULID, status models.RunStatus, message string) error {
	// Use UpdateColumns to skip hooks (BeforeUpdate validation requires full model)
	// Note: Must explicitly set updated_at since UpdateColumns bypasses GORM auto-update
	now := models.Now()
	columns := map[string]interface{}{
		"status":     status,
		"error":      message,
		"updated_at": now,
	}
	if status.IsTerminal() {
		columns["completed_at"] = now
	}

	if err := r.db.WithContext(ctx).Model(&models.Run{}).Where("id = ?", id).UpdateColumns(columns).Error; err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	return nil
}

// ReplaceCycles replaces all cycle rows for a run.
// Uses Unscoped() for permanent deletion since cycle rows are fully replaced
// when a run finishes.
func (r *runRepo) ReplaceCycles(ctx context.Context, runID models.ULID, cycles []models.RunCycle) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("run_id = ?", runID).Delete(&models.RunCycle{}).Error; err != nil {
			return fmt.Errorf("deleting run cycles: %w", err)
		}
		if len(cycles) == 0 {
			return nil
		}
		if err := tx.Create(&cycles).Error; err != nil {
			return fmt.Errorf("creating run cycles: %w", err)
		}
		return nil
	})
}

// GetCycles retrieves the cycle rows for a run ordered by number.
func (r *runRepo) GetCycles(ctx context.Context, runID models.ULID) ([]*models.RunCycle, error) {
	var cycles []*models.RunCycle
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("number ASC").
		Find(&cycles).Error; err != nil {
		return nil, fmt.Errorf("getting run cycles: %w", err)
	}
	return cycles, nil
}

// Delete deletes a run and its cycle rows.
// Uses Unscoped() for permanent deletion for consistency with DeleteFinishedBefore.
func (r *runRepo) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("run_id = ?", id).Delete(&models.RunCycle{}).Error; err != nil {
			return fmt.Errorf("deleting run cycles: %w", err)
		}
		if err := tx.Unscoped().Where("id = ?", id).Delete(&models.Run{}).Error; err != nil {
			return fmt.Errorf("deleting run: %w", err)
		}
		return nil
	})
}

// DeleteFinishedBefore deletes terminal runs that completed before the given
// time, along with their cycle rows.
// Uses Unscoped() for permanent deletion since expired runs have no value.
func (r *runRepo) DeleteFinishedBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []models.ULID
		if err := tx.Model(&models.Run{}).
			Where("status IN (?, ?, ?) AND completed_at < ?",
				models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled, before).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("finding finished runs: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Unscoped().Where("run_id IN ?", ids).Delete(&models.RunCycle{}).Error; err != nil {
			return fmt.Errorf("deleting run cycles: %w", err)
		}

		result := tx.Unscoped().Where("id IN ?", ids).Delete(&models.Run{})
		if result.Error != nil {
			return fmt.Errorf("deleting finished runs: %w", result.Error)
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

// Ensure runRepo implements RunRepository at compile time.
var _ RunRepository = (*runRepo)(nil)
