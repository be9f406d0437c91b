// Package migrations versions the run store schema. Each migration is a
// GORM transaction tracked in a schema_migrations table so Up is idempotent
// across restarts.
package migrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gorm.io/gorm"
)

// Migration is one schema step. Down may be nil for irreversible steps.
type Migration struct {
	Version     string
	Description string
	Up          func(tx *gorm.DB) error
	Down        func(tx *gorm.DB) error
}

// MigrationRecord is the bookkeeping row for an applied migration.
type MigrationRecord struct {
	ID          uint      `gorm:"primarykey"`
	Version     string    `gorm:"uniqueIndex;not null"`
	Description string    `gorm:"not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (MigrationRecord) TableName() string {
	return "schema_migrations"
}

// MigrationStatus pairs a known migration with whether it has been applied.
type MigrationStatus struct {
	Version     string
	Description string
	Applied     bool
	AppliedAt   *time.Time
}

// Migrator applies registered migrations against one database.
type Migrator struct {
	db         *gorm.DB
	logger     *slog.Logger
	migrations []Migration
}

// NewMigrator creates a migrator. A nil logger falls back to slog.Default.
func NewMigrator(db *gorm.DB, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{db: db, logger: logger}
}

// RegisterAll adds migrations to the set Up will consider.
func (m *Migrator) RegisterAll(migrations []Migration) {
	m.migrations = append(m.migrations, migrations...)
}

// Init ensures the bookkeeping table exists.
func (m *Migrator) Init(ctx context.Context) error {
	return m.db.WithContext(ctx).AutoMigrate(&MigrationRecord{})
}

// sorted returns the registered migrations in version order.
func (m *Migrator) sorted() []Migration {
	out := append([]Migration(nil), m.migrations...)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// applied loads the bookkeeping rows keyed by version.
func (m *Migrator) applied(ctx context.Context) (map[string]MigrationRecord, error) {
	var records []MigrationRecord
	if err := m.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	byVersion := make(map[string]MigrationRecord, len(records))
	for _, r := range records {
		byVersion[r.Version] = r
	}
	return byVersion, nil
}

// Up applies every registered migration that has not run yet, in version
// order, each in its own transaction.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("initializing migrations table: %w", err)
	}

	done, err := m.applied(ctx)
	if err != nil {
		return fmt.Errorf("loading applied migrations: %w", err)
	}

	for _, mig := range m.sorted() {
		if _, ok := done[mig.Version]; ok {
			continue
		}

		m.logger.InfoContext(ctx, "applying migration",
			slog.String("version", mig.Version),
			slog.String("description", mig.Description),
		)

		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:     mig.Version,
				Description: mig.Description,
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("applying migration %s: %w", mig.Version, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration. A store with nothing
// applied is a no-op.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.Init(ctx); err != nil {
		return fmt.Errorf("initializing migrations table: %w", err)
	}

	var last MigrationRecord
	if err := m.db.WithContext(ctx).Order("version DESC").First(&last).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			m.logger.InfoContext(ctx, "no migrations to roll back")
			return nil
		}
		return fmt.Errorf("loading last migration: %w", err)
	}

	var target *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == last.Version {
			target = &m.migrations[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no definition registered for applied version %s", last.Version)
	}
	if target.Down == nil {
		return fmt.Errorf("migration %s is irreversible", last.Version)
	}

	m.logger.InfoContext(ctx, "rolling back migration",
		slog.String("version", target.Version),
		slog.String("description", target.Description),
	)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := target.Down(tx); err != nil {
			return err
		}
		return tx.Where("version = ?", target.Version).Delete(&MigrationRecord{}).Error
	})
	if err != nil {
		return fmt.Errorf("rolling back migration %s: %w", target.Version, err)
	}
	return nil
}

// Status reports every registered migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing migrations table: %w", err)
	}

	done, err := m.applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading applied migrations: %w", err)
	}

	var statuses []MigrationStatus
	for _, mig := range m.sorted() {
		st := MigrationStatus{Version: mig.Version, Description: mig.Description}
		if record, ok := done[mig.Version]; ok {
			st.Applied = true
			at := record.AppliedAt
			st.AppliedAt = &at
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Pending returns the migrations Up would apply, in order.
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing migrations table: %w", err)
	}

	done, err := m.applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading applied migrations: %w", err)
	}

	pending := make([]Migration, 0)
	for _, mig := range m.sorted() {
		if _, ok := done[mig.Version]; !ok {
			pending = append(pending, mig)
		}
	}
	return pending, nil
}
