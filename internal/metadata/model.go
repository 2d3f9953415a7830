package metadata

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"gorm.io/datatypes"
)

const DefaultCacheTTL = 7 * 24 * time.Hour

type EntryKind string

const (
	KindRelease EntryKind = "release"
	KindSearch  EntryKind = "search"
)

// CacheEntry is one cached lookup. Release entries hold a tracklist, search entries hold the
// resolved external id. Entries whose ExpiresAt has passed are treated as absent.
type CacheEntry struct {
	Key        string                             `gorm:"column:cache_key;primaryKey;size:1024"`
	Kind       EntryKind                          `gorm:"column:kind;size:16;not null"`
	ExternalID records.ExternalID                 `gorm:"column:external_id;size:36;not null;default:''"`
	Tracklist  datatypes.JSONSlice[records.Track] `gorm:"column:tracklist"`
	FetchedAt  time.Time                          `gorm:"column:fetched_at;not null"`
	ExpiresAt  time.Time                          `gorm:"column:expires_at;not null;index:idx_metadata_cache_expires_at"`
}

func (CacheEntry) TableName() string {
	return "metadata_cache"
}

type CacheRepository interface {
	// Get returns the entry only if it has not expired at now.
	Get(ctx context.Context, key string, now time.Time) (CacheEntry, bool, error)
	Put(ctx context.Context, entries ...CacheEntry) error
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

func releaseKey(id records.ExternalID) string {
	return string(KindRelease) + ":" + id.String()
}
