// Package migrations provides database migration management for the run store.
package migrations

import (
	"github.com/jmylchreest/digwatch/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order:
// - 001: Schema creation using GORM AutoMigrate (runs, run_cycles)
func AllMigrations() []Migration {
	return []Migration{
		migration001Schema(),
	}
}

// migration001Schema creates the run store tables.
func migration001Schema() Migration {
	return Migration{
		Version:     "001",
		Description: "Create run store tables",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(
				&models.Run{},
				&models.RunCycle{},
			)
		},
		Down: func(tx *gorm.DB) error {
			// Drop tables in reverse dependency order
			tables := []string{
				"run_cycles",
				"runs",
			}
			for _, table := range tables {
				if tx.Migrator().HasTable(table) {
					if err := tx.Migrator().DropTable(table); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
