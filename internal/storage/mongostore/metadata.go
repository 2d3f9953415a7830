package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ metadata.CacheRepository = (*MetadataCacheRepository)(nil)

// MetadataCacheRepository relies on the TTL index for background cleanup, but Get still
// filters on expiresAt because the TTL monitor only runs about once a minute.
type MetadataCacheRepository struct {
	col *mongo.Collection
}

func (r *MetadataCacheRepository) Get(ctx context.Context, key string, now time.Time) (metadata.CacheEntry, bool, error) {
	var doc cacheDocument
	err := r.col.FindOne(ctx, bson.M{"_id": key, "expiresAt": bson.M{"$gt": now.UTC()}}).Decode(&doc)
	if isNoDocuments(err) {
		return metadata.CacheEntry{}, false, nil
	}
	if err != nil {
		return metadata.CacheEntry{}, false, fmt.Errorf("recordstore/mongo: get cache entry: %w", err)
	}
	return fromCacheDocument(doc), true, nil
}

func (r *MetadataCacheRepository) Put(ctx context.Context, entries ...metadata.CacheEntry) error {
	for _, entry := range entries {
		doc := toCacheDocument(entry)
		_, err := r.col.ReplaceOne(ctx, bson.M{"_id": doc.Key}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("recordstore/mongo: put cache entry %s: %w", doc.Key, err)
		}
	}
	return nil
}

func (r *MetadataCacheRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.col.DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, fmt.Errorf("recordstore/mongo: purge cache: %w", err)
	}
	return res.DeletedCount, nil
}
