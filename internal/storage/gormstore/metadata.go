package gormstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ metadata.CacheRepository = (*MetadataCacheRepository)(nil)

type MetadataCacheRepository struct {
	db *gorm.DB
}

func NewMetadataCacheRepository(db *gorm.DB) *MetadataCacheRepository {
	return &MetadataCacheRepository{db: db}
}

func (r *MetadataCacheRepository) Get(ctx context.Context, key string, now time.Time) (metadata.CacheEntry, bool, error) {
	var entry metadata.CacheEntry
	err := r.db.WithContext(ctx).
		Where("cache_key = ? AND expires_at > ?", key, now).
		Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return metadata.CacheEntry{}, false, nil
	}
	if err != nil {
		return metadata.CacheEntry{}, false, err
	}
	return entry, true, nil
}

func (r *MetadataCacheRepository) Put(ctx context.Context, entries ...metadata.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "cache_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "external_id", "tracklist", "fetched_at", "expires_at"}),
		}).
		Create(&entries).Error
}

func (r *MetadataCacheRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&metadata.CacheEntry{})
	return result.RowsAffected, result.Error
}
