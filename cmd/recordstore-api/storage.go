package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/recordstore/internal/config"
	"github.com/MarcoPoloResearchLab/recordstore/internal/database"
	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/MarcoPoloResearchLab/recordstore/internal/server"
	"github.com/MarcoPoloResearchLab/recordstore/internal/storage/gormstore"
	"github.com/MarcoPoloResearchLab/recordstore/internal/storage/mongostore"
	"go.uber.org/zap"
)

// storage bundles the repositories of whichever backend is configured.
type storage struct {
	records       records.Repository
	orders        orders.Repository
	metadataCache metadata.CacheRepository
	pinger        server.Pinger
	close         func(ctx context.Context) error
}

func openStorage(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (*storage, error) {
	switch appConfig.StorageBackend {
	case config.BackendMongo:
		store, err := mongostore.Connect(ctx, mongostore.Config{
			URI:      appConfig.MongoURI,
			Database: appConfig.MongoDatabase,
		})
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close(context.Background())
			return nil, err
		}
		logger.Info("mongo storage initialized", zap.String("database", appConfig.MongoDatabase))
		return &storage{
			records:       store.Records(),
			orders:        store.Orders(),
			metadataCache: store.MetadataCache(),
			pinger:        store,
			close:         store.Close,
		}, nil
	case config.BackendGorm:
		db, err := database.Open(database.Config{
			Driver: appConfig.DatabaseDriver,
			Path:   appConfig.DatabasePath,
			DSN:    appConfig.DatabaseDSN,
		}, logger)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		return &storage{
			records:       gormstore.NewRecordRepository(db),
			orders:        gormstore.NewOrderRepository(db),
			metadataCache: gormstore.NewMetadataCacheRepository(db),
			pinger:        gormstore.NewPinger(db),
			close: func(context.Context) error {
				return sqlDB.Close()
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", appConfig.StorageBackend)
	}
}
