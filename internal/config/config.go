package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "RECORDSTORE"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultStorageBackend     = "gorm"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabasePath       = "recordstore.db"
	defaultMongoDatabase      = "recordstore"
	defaultLogLevel           = "info"
	defaultLogEncoding        = "json"
	defaultCacheTTL           = 5 * time.Minute
	defaultCacheSize          = 1024
	defaultMetadataBaseURL    = "https://musicbrainz.org/ws/2"
	defaultMetadataUserAgent  = "RecordStore/1.0 (records@example.com)"
	defaultMetadataTimeout    = 5 * time.Second
	defaultMetadataCacheTTL   = 7 * 24 * time.Hour
	defaultMetadataRate       = 1.0
	defaultBackfillBatchSize  = 10
	defaultEventBufferSize    = 64
	defaultShutdownTimeout    = 10 * time.Second
	defaultMetadataPurgeEvery = time.Hour
)

// Storage backends.
const (
	BackendGorm  = "gorm"
	BackendMongo = "mongo"
)

// AppConfig captures runtime configuration for the API server and the backfill command.
type AppConfig struct {
	HTTPAddress     string
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	StorageBackend string
	DatabaseDriver string
	DatabasePath   string
	DatabaseDSN    string
	MongoURI       string
	MongoDatabase  string

	LogLevel    string
	LogEncoding string

	CacheTTL  time.Duration
	CacheSize int

	EventBufferSize int

	MetadataBaseURL       string
	MetadataUserAgent     string
	MetadataTimeout       time.Duration
	MetadataCacheTTL      time.Duration
	MetadataRatePerSecond float64
	MetadataPurgeInterval time.Duration

	BackfillOnStart   bool
	BackfillBatchSize int
	AutoResolve       bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.shutdown_timeout", defaultShutdownTimeout)
	configViper.SetDefault("cors.allowed_origins", []string{})
	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("mongo.uri", "")
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.encoding", defaultLogEncoding)
	configViper.SetDefault("cache.ttl", defaultCacheTTL)
	configViper.SetDefault("cache.size", defaultCacheSize)
	configViper.SetDefault("events.buffer_size", defaultEventBufferSize)
	configViper.SetDefault("metadata.base_url", defaultMetadataBaseURL)
	configViper.SetDefault("metadata.user_agent", defaultMetadataUserAgent)
	configViper.SetDefault("metadata.timeout", defaultMetadataTimeout)
	configViper.SetDefault("metadata.cache_ttl", defaultMetadataCacheTTL)
	configViper.SetDefault("metadata.rate_per_second", defaultMetadataRate)
	configViper.SetDefault("metadata.purge_interval", defaultMetadataPurgeEvery)
	configViper.SetDefault("enrichment.backfill_on_start", false)
	configViper.SetDefault("enrichment.batch_size", defaultBackfillBatchSize)
	configViper.SetDefault("enrichment.auto_resolve", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		ShutdownTimeout: configViper.GetDuration("http.shutdown_timeout"),
		AllowedOrigins:  splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),

		StorageBackend: strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		MongoURI:       configViper.GetString("mongo.uri"),
		MongoDatabase:  configViper.GetString("mongo.database"),

		LogLevel:    configViper.GetString("log.level"),
		LogEncoding: configViper.GetString("log.encoding"),

		CacheTTL:  configViper.GetDuration("cache.ttl"),
		CacheSize: configViper.GetInt("cache.size"),

		EventBufferSize: configViper.GetInt("events.buffer_size"),

		MetadataBaseURL:       configViper.GetString("metadata.base_url"),
		MetadataUserAgent:     configViper.GetString("metadata.user_agent"),
		MetadataTimeout:       configViper.GetDuration("metadata.timeout"),
		MetadataCacheTTL:      configViper.GetDuration("metadata.cache_ttl"),
		MetadataRatePerSecond: configViper.GetFloat64("metadata.rate_per_second"),
		MetadataPurgeInterval: configViper.GetDuration("metadata.purge_interval"),

		BackfillOnStart:   configViper.GetBool("enrichment.backfill_on_start"),
		BackfillBatchSize: configViper.GetInt("enrichment.batch_size"),
		AutoResolve:       configViper.GetBool("enrichment.auto_resolve"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.HTTPAddress) == "" {
		return fmt.Errorf("http.address is required")
	}
	switch c.StorageBackend {
	case BackendGorm:
		switch c.DatabaseDriver {
		case "sqlite":
			if strings.TrimSpace(c.DatabasePath) == "" {
				return fmt.Errorf("database.path is required for the sqlite driver")
			}
		case "postgres":
			if strings.TrimSpace(c.DatabaseDSN) == "" {
				return fmt.Errorf("database.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
		}
	case BackendMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required for the mongo backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.StorageBackend)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache.size must be positive")
	}
	if c.MetadataTimeout <= 0 {
		return fmt.Errorf("metadata.timeout must be positive")
	}
	if c.MetadataCacheTTL <= 0 {
		return fmt.Errorf("metadata.cache_ttl must be positive")
	}
	if c.MetadataRatePerSecond < 0 {
		return fmt.Errorf("metadata.rate_per_second must not be negative")
	}
	if c.BackfillBatchSize <= 0 {
		return fmt.Errorf("enrichment.batch_size must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env string.
func splitOrigins(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
