package database

import (
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/linking"
	"github.com/MarcoPoloResearchLab/locksure-gateway/internal/users"
)

func TestApplyMigrationsRetiresUnexpiringCodes(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&linking.AuthorizationCode{}, &users.User{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	for _, code := range []linking.AuthorizationCode{
		{Code: "legacy", UserID: "U1", CreatedAtSeconds: 1700000000, ExpiresAtSeconds: 0},
		{Code: "current", UserID: "U1", CreatedAtSeconds: 1700000000, ExpiresAtSeconds: 1700000300},
	} {
		if err := database.Create(&code).Error; err != nil {
			testContext.Fatalf("failed to insert code: %v", err)
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var legacy, current linking.AuthorizationCode
	if err := database.Where("code = ?", "legacy").Take(&legacy).Error; err != nil {
		testContext.Fatalf("failed to reload legacy code: %v", err)
	}
	if err := database.Where("code = ?", "current").Take(&current).Error; err != nil {
		testContext.Fatalf("failed to reload current code: %v", err)
	}
	if !legacy.Used {
		testContext.Fatalf("expected unexpiring code to be retired")
	}
	if current.Used {
		testContext.Fatalf("expected expiring code to stay usable")
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationRetireUnexpiringCodes).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestApplyMigrationsClearsBlankLegacyTokensOnce(testContext *testing.T) {
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "tokens.db")), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&linking.AuthorizationCode{}, &users.User{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	blank := " "
	if err := database.Create(&users.User{UserID: "U1", LegacyAccessToken: &blank}).Error; err != nil {
		testContext.Fatalf("failed to insert user: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}
	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to re-apply migrations: %v", err)
	}

	var stored users.User
	if err := database.Where("user_id = ?", "U1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload user: %v", err)
	}
	if stored.LegacyAccessToken != nil {
		testContext.Fatalf("expected blank legacy token to be cleared, got %q", *stored.LegacyAccessToken)
	}
	var count int64
	database.Model(&migrationRecord{}).Count(&count)
	if count != 2 {
		testContext.Fatalf("expected two ledger rows, got %d", count)
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	database, err := OpenSQLite(filepath.Join(testContext.TempDir(), "gateway.db"), zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}
	for _, table := range []string{"users", "rooms", "authorization_codes", "token_map", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s", table)
		}
	}
	if _, err := OpenSQLite("", nil); err == nil {
		testContext.Fatalf("expected empty path to be rejected")
	}
}
