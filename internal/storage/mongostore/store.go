// Package mongostore implements the record, order and metadata cache repositories on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection name constants.
const (
	colRecords       = "records"
	colOrders        = "orders"
	colMetadataCache = "metadata_cache"

	DefaultDatabase = "recordstore"
)

type Config struct {
	URI      string
	Database string
}

// Store owns the client and hands out repositories bound to its collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, errors.New("recordstore/mongo: uri is required")
	}
	database := strings.TrimSpace(cfg.Database)
	if database == "" {
		database = DefaultDatabase
	}
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("recordstore/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("recordstore/mongo: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Migrate creates the indexes every repository depends on. The unique identity index is
// what turns concurrent duplicate creates into ErrDuplicateRecord.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("recordstore/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) Records() *RecordRepository {
	return &RecordRepository{col: s.db.Collection(colRecords)}
}

func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{
		records: s.db.Collection(colRecords),
		orders:  s.db.Collection(colOrders),
	}
}

func (s *Store) MetadataCache() *MetadataCacheRepository {
	return &MetadataCacheRepository{col: s.db.Collection(colMetadataCache)}
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colRecords: {
			{
				Keys:    bson.D{{Key: "artist", Value: 1}, {Key: "album", Value: 1}, {Key: "format", Value: 1}},
				Options: options.Index().SetUnique(true).SetName("uniq_records_identity"),
			},
			{
				Keys: bson.D{{Key: "artist", Value: "text"}, {Key: "album", Value: "text"}},
				Options: options.Index().
					SetName("text_records_artist_album").
					SetWeights(bson.D{{Key: "artist", Value: 5}, {Key: "album", Value: 4}}),
			},
			{Keys: bson.D{{Key: "created", Value: -1}}, Options: options.Index().SetName("idx_records_created")},
			{Keys: bson.D{{Key: "price", Value: 1}}, Options: options.Index().SetName("idx_records_price")},
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "format", Value: 1}}, Options: options.Index().SetName("idx_records_category_format")},
			{Keys: bson.D{{Key: "externalId", Value: 1}, {Key: "trackCount", Value: 1}}, Options: options.Index().SetName("idx_records_enrichment")},
		},
		colOrders: {
			{Keys: bson.D{{Key: "created", Value: -1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("idx_orders_created")},
			{Keys: bson.D{{Key: "recordId", Value: 1}}, Options: options.Index().SetName("idx_orders_record_id")},
		},
		colMetadataCache: {
			{
				Keys:    bson.D{{Key: "expiresAt", Value: 1}},
				Options: options.Index().SetName("ttl_metadata_cache_expires_at").SetExpireAfterSeconds(0),
			},
		},
	}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
