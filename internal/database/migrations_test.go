package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestApplyMigrationsNormalizesRecords(testContext *testing.T) {
	tempDir := testContext.TempDir()
	databasePath := filepath.Join(tempDir, "migration.db")

	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}

	if err := database.AutoMigrate(&records.Record{}, &migrationRecord{}); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	now := time.Now().UTC()
	record := records.Record{
		ID:           "record-1",
		Artist:       "Miles Davis",
		Album:        "Kind of Blue",
		Format:       records.FormatVinyl,
		Category:     records.CategoryJazz,
		Price:        decimal.NewFromInt(30),
		Qty:          3,
		ExternalID:   "B10BBBFC-CF9E-42E0-BE17-E2C3E1D2600D",
		Tracklist:    records.NewTracklist([]records.Track{{Title: "So What", Length: "9:22"}}),
		TrackCount:   0,
		Created:      now,
		LastModified: now,
	}
	if err := database.Create(&record).Error; err != nil {
		testContext.Fatalf("failed to insert record: %v", err)
	}
	legacyColumns := map[string]any{"artist_search": "", "album_search": ""}
	if err := database.Model(&records.Record{}).Where("id = ?", record.ID).UpdateColumns(legacyColumns).Error; err != nil {
		testContext.Fatalf("failed to clear search columns: %v", err)
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to apply migrations: %v", err)
	}

	var stored records.Record
	if err := database.Where("id = ?", record.ID).Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload record: %v", err)
	}
	if stored.ExternalID != "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d" {
		testContext.Fatalf("expected lowercase external id, got %q", stored.ExternalID)
	}
	if stored.TrackCount != 1 {
		testContext.Fatalf("expected track count to be synced, got %d", stored.TrackCount)
	}
	if stored.ArtistSearch != "miles davis" || stored.AlbumSearch != "kind of blue" {
		testContext.Fatalf("expected folded search columns, got %q / %q", stored.ArtistSearch, stored.AlbumSearch)
	}

	for _, name := range []string{migrationLowercaseExternalIDs, migrationSyncTrackCounts, migrationFillSearchColumns} {
		var ledger migrationRecord
		if err := database.Where("name = ?", name).Take(&ledger).Error; err != nil {
			testContext.Fatalf("expected migration record %s to be created: %v", name, err)
		}
		if ledger.AppliedAtSeconds == 0 {
			testContext.Fatalf("expected migration timestamp to be set")
		}
	}

	if err := applyMigrations(database, zap.NewNop()); err != nil {
		testContext.Fatalf("expected migrations to be idempotent: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}, zap.NewNop()); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
}

func TestOpenSQLiteCreatesSchema(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "store.db")

	database, err := Open(Config{Driver: DriverSQLite, Path: databasePath}, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	for _, table := range []string{"records", "orders", "metadata_cache", "db_migrations"} {
		if !database.Migrator().HasTable(table) {
			testContext.Fatalf("expected table %s to exist", table)
		}
	}
	if !database.Migrator().HasIndex(&records.Record{}, "idx_records_identity") {
		testContext.Fatalf("expected unique identity index on records")
	}
}
