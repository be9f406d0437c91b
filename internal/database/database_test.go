package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/digwatch/internal/config"
)

// memoryDB opens an in-memory SQLite store. One connection only: each pooled
// connection would otherwise see its own empty database.
func memoryDB(t *testing.T, opts *Options) *DB {
	t.Helper()

	cfg := config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
		LogLevel:        "silent",
	}

	db, err := New(cfg, nil, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNew(t *testing.T) {
	t.Run("opens sqlite", func(t *testing.T) {
		db := memoryDB(t, nil)
		assert.Equal(t, "sqlite", db.Driver())
		assert.NoError(t, db.Ping(context.Background()))
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		db, err := New(config.DatabaseConfig{Driver: "oracle", DSN: "x"}, nil, nil)
		assert.Nil(t, db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported database driver")
	})
}

func TestDB_Close(t *testing.T) {
	db := memoryDB(t, nil)
	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestDB_Stats(t *testing.T) {
	db := memoryDB(t, nil)

	stats, err := db.Stats()
	require.NoError(t, err)
	assert.Contains(t, stats, "max_open_connections")
	assert.Contains(t, stats, "open_connections")
	assert.Contains(t, stats, "in_use")
	assert.Contains(t, stats, "wait_count")
}

func TestDB_Transaction(t *testing.T) {
	db := memoryDB(t, &Options{PrepareStmt: false})
	ctx := context.Background()

	type txItem struct {
		ID    uint   `gorm:"primarykey"`
		Value string `gorm:"not null"`
	}
	require.NoError(t, db.DB.AutoMigrate(&txItem{}))

	count := func(value string) int64 {
		var n int64
		require.NoError(t, db.DB.Model(&txItem{}).Where("value = ?", value).Count(&n).Error)
		return n
	}

	t.Run("commits on success", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			return tx.Create(&txItem{Value: "kept"}).Error
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), count("kept"))
	})

	t.Run("rolls back on error", func(t *testing.T) {
		boom := errors.New("forced rollback")
		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(&txItem{Value: "discarded"}).Error; err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int64(0), count("discarded"))
	})
}

func TestDB_SQLitePragmas(t *testing.T) {
	db := memoryDB(t, nil)

	// In-memory databases report journal_mode=memory; WAL only applies to
	// files. Foreign keys must be on either way.
	var journalMode string
	require.NoError(t, db.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	assert.Equal(t, "memory", journalMode)

	var foreignKeys int
	require.NoError(t, db.DB.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)
}

func TestParseGormLevel(t *testing.T) {
	cases := map[string]logger.LogLevel{
		"silent":  logger.Silent,
		"error":   logger.Error,
		"warn":    logger.Warn,
		"info":    logger.Info,
		"unknown": logger.Warn,
		"":        logger.Warn,
	}
	for level, want := range cases {
		assert.Equal(t, want, parseGormLevel(level), "level %q", level)
	}
}
