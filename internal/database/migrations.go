package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationWriteAheadJournal = "2026-10-16_write_ahead_journal"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationWriteAheadJournal, apply: enableWriteAheadJournal},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// enableWriteAheadJournal switches the database file to WAL. The mode persists
// in the file; in-memory databases keep reporting "memory".
func enableWriteAheadJournal(db *gorm.DB) error {
	var mode string
	if err := db.Raw("PRAGMA journal_mode = WAL").Row().Scan(&mode); err != nil {
		return err
	}
	switch strings.ToLower(mode) {
	case "wal", "memory":
		return nil
	default:
		return fmt.Errorf("journal_mode: got %q, want wal", mode)
	}
}
