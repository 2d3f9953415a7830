package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationLowercaseExternalIDs = "2026-10-01_lowercase_external_ids"
	migrationSyncTrackCounts      = "2026-10-01_sync_track_counts"
	migrationFillSearchColumns    = "2026-10-18_fill_search_columns"
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
		{name: migrationLowercaseExternalIDs, apply: lowercaseExternalIDs},
		{name: migrationSyncTrackCounts, apply: syncTrackCounts},
		{name: migrationFillSearchColumns, apply: fillSearchColumns},
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

// lowercaseExternalIDs normalizes identifiers imported before ids were canonicalized.
func lowercaseExternalIDs(db *gorm.DB) error {
	return db.Model(&records.Record{}).
		Where("external_id <> LOWER(external_id)").
		UpdateColumn("external_id", gorm.Expr("LOWER(external_id)")).Error
}

// syncTrackCounts recomputes the denormalized track_count used by the backfill query.
func syncTrackCounts(db *gorm.DB) error {
	var stored []records.Record
	if err := db.Select("id", "tracklist", "track_count").Find(&stored).Error; err != nil {
		return err
	}
	for _, record := range stored {
		if record.TrackCount == len(record.Tracklist) {
			continue
		}
		err := db.Model(&records.Record{}).
			Where("id = ?", record.ID).
			UpdateColumn("track_count", len(record.Tracklist)).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// fillSearchColumns folds artist and album for rows written before the search columns existed.
func fillSearchColumns(db *gorm.DB) error {
	var stored []records.Record
	if err := db.Select("id", "artist", "album", "artist_search", "album_search").Find(&stored).Error; err != nil {
		return err
	}
	for _, record := range stored {
		artistSearch, albumSearch := records.SearchKey(record.Artist), records.SearchKey(record.Album)
		if record.ArtistSearch == artistSearch && record.AlbumSearch == albumSearch {
			continue
		}
		err := db.Model(&records.Record{}).
			Where("id = ?", record.ID).
			UpdateColumns(map[string]any{"artist_search": artistSearch, "album_search": albumSearch}).Error
		if err != nil {
			return err
		}
	}
	return nil
}
