package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/linking"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/users"
)

const (
	migrationRetireUnexpiringCodes = "2026-10-01_retire_unexpiring_codes"
	migrationNullBlankLegacyTokens = "2026-10-08_null_blank_legacy_tokens"
)

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
		{name: migrationRetireUnexpiringCodes, apply: retireUnexpiringCodes},
		{name: migrationNullBlankLegacyTokens, apply: nullBlankLegacyTokens},
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

// retireUnexpiringCodes consumes codes stored without an expiry so they can never be exchanged.
func retireUnexpiringCodes(db *gorm.DB) error {
	return db.Model(&linking.AuthorizationCode{}).
		Where("expires_at_s = 0 AND used = ?", false).
		Update("used", true).Error
}

// nullBlankLegacyTokens clears empty legacy tokens so they never match a bearer lookup.
func nullBlankLegacyTokens(db *gorm.DB) error {
	return db.Model(&users.User{}).
		Where("TRIM(lwa_access_token) = ''").
		Update("lwa_access_token", nil).Error
}
