package gormstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/database"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "store.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

var baseTime = time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)

func seedRecord(t *testing.T, repo *RecordRepository, id, artist, album string, price int64, qty int, createdOffset time.Duration) records.Record {
	t.Helper()
	record := records.Record{
		ID:           id,
		Artist:       artist,
		Album:        album,
		Format:       records.FormatVinyl,
		Category:     records.CategoryRock,
		Price:        decimal.NewFromInt(price),
		Qty:          qty,
		Tracklist:    records.NewTracklist(nil),
		Created:      baseTime.Add(createdOffset),
		LastModified: baseTime.Add(createdOffset),
	}
	require.NoError(t, repo.Create(t.Context(), &record))
	return record
}
