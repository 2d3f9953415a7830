package database

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Driver string
	Path   string
	DSN    string
}

// Open connects with the configured dialect and brings the schema up to date.
func Open(cfg Config, zapLogger *zap.Logger) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Discard,
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, fmt.Errorf("database path is required")
		}
		db, err = gorm.Open(sqlite.Open(cfg.Path), gormConfig)
	case DriverPostgres:
		if strings.TrimSpace(cfg.DSN) == "" {
			return nil, fmt.Errorf("database dsn is required")
		}
		db, err = gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, zapLogger); err != nil {
		return nil, err
	}

	if zapLogger != nil {
		zapLogger.Info("database initialized",
			zap.String("driver", driver),
			zap.String("path", cfg.Path))
	}

	return db, nil
}

// Migrate creates tables and indexes, then applies named one-off data migrations.
func Migrate(db *gorm.DB, zapLogger *zap.Logger) error {
	if err := db.AutoMigrate(&records.Record{}, &orders.Order{}, &metadata.CacheEntry{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, zapLogger)
}
