package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/MarcoPoloResearchLab/recordstore/internal/cache"
	"github.com/MarcoPoloResearchLab/recordstore/internal/config"
	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"github.com/MarcoPoloResearchLab/recordstore/internal/ids"
	"github.com/MarcoPoloResearchLab/recordstore/internal/logging"
	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/MarcoPoloResearchLab/recordstore/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recordstore-api",
		Short: "Record store catalog and order service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	backfillCmd := &cobra.Command{
		Use:   "backfill",
		Short: "Fetch missing tracklists for records that have an external id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackfill(cmd.Context())
		},
	}
	rootCmd.AddCommand(backfillCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("storage-backend", defaults.GetString("storage.backend"), "Storage backend (gorm, mongo)")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "SQL driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", "", "PostgreSQL DSN (overrides env)")
	cmd.PersistentFlags().String("mongo-uri", "", "MongoDB connection URI (overrides env)")
	cmd.PersistentFlags().String("mongo-database", defaults.GetString("mongo.database"), "MongoDB database name")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-encoding", defaults.GetString("log.encoding"), "Log encoding (json, console)")
	cmd.PersistentFlags().String("metadata-base-url", defaults.GetString("metadata.base_url"), "MusicBrainz web service base URL")
	cmd.PersistentFlags().Bool("backfill-on-start", defaults.GetBool("enrichment.backfill_on_start"), "Run a tracklist backfill pass when the server starts")
	cmd.PersistentFlags().Bool("auto-resolve", defaults.GetBool("enrichment.auto_resolve"), "Resolve external ids for records created without one")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "storage.backend", "storage-backend")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "mongo.database", "mongo-database")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.encoding", "log-encoding")
	bindFlag(cmd, "metadata.base_url", "metadata-base-url")
	bindFlag(cmd, "enrichment.backfill_on_start", "backfill-on-start")
	bindFlag(cmd, "enrichment.auto_resolve", "auto-resolve")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func loadRuntime() (config.AppConfig, *zap.Logger, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogEncoding)
	if err != nil {
		return config.AppConfig{}, nil, err
	}
	return appConfig, logger, nil
}

func runServer(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.close(context.Background()); err != nil {
			logger.Warn("storage close failed", zap.Error(err))
		}
	}()

	backgroundCtx, cancelBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup
	defer func() {
		cancelBackground()
		background.Wait()
	}()

	bus := events.NewBus(events.BusConfig{BufferSize: appConfig.EventBufferSize, Logger: logger})
	listings := cache.New[records.RecordsPage](cache.Config{TTL: appConfig.CacheTTL, Size: appConfig.CacheSize})
	invalidatorDone := cache.NewInvalidator(cache.InvalidatorConfig{
		Events:  bus,
		Targets: []cache.PrefixInvalidator{listings},
		Logger:  logger,
	}).Start(backgroundCtx)

	gateway, err := newMetadataGateway(appConfig, store, logger)
	if err != nil {
		return err
	}
	background.Add(1)
	go func() {
		defer background.Done()
		metadata.RunJanitor(backgroundCtx, store.metadataCache, appConfig.MetadataPurgeInterval, logger)
	}()

	recordService, err := records.NewService(records.ServiceConfig{
		Repository:  store.records,
		Metadata:    gateway,
		Events:      bus,
		Cache:       listings,
		IDProvider:  ids.NewUUIDProvider(),
		Logger:      logger,
		AutoResolve: appConfig.AutoResolve,
	})
	if err != nil {
		return err
	}

	orderService, err := orders.NewService(orders.ServiceConfig{
		Repository: store.orders,
		Events:     bus,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	enricher, err := records.NewEnricher(records.EnricherConfig{
		Repository: store.records,
		Metadata:   gateway,
		Events:     bus,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	enricherDone := enricher.Start(backgroundCtx)
	background.Add(1)
	go func() {
		defer background.Done()
		<-invalidatorDone
		<-enricherDone
	}()

	if appConfig.BackfillOnStart {
		backfiller, err := newBackfiller(appConfig, store, gateway, bus, logger)
		if err != nil {
			return err
		}
		background.Add(1)
		go func() {
			defer background.Done()
			if _, err := backfiller.Run(backgroundCtx); err != nil && backgroundCtx.Err() == nil {
				logger.Error("startup backfill failed", zap.Error(err))
			}
		}()
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		RecordService:  recordService,
		OrderService:   orderService,
		Readiness:      store.pinger,
		Logger:         logger,
		AllowedOrigins: appConfig.AllowedOrigins,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("storage", appConfig.StorageBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.ShutdownTimeout)
		defer cancel()
		logger.Info("server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runBackfill(ctx context.Context) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStorage(signalCtx, appConfig, logger)
	if err != nil {
		return err
	}
	defer store.close(context.Background()) //nolint:errcheck

	gateway, err := newMetadataGateway(appConfig, store, logger)
	if err != nil {
		return err
	}
	backfiller, err := newBackfiller(appConfig, store, gateway, nil, logger)
	if err != nil {
		return err
	}
	report, err := backfiller.Run(signalCtx)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		logger.Warn("backfill finished with failures", zap.Int("failed", report.Failed))
	}
	return nil
}

func newMetadataGateway(appConfig config.AppConfig, store *storage, logger *zap.Logger) (*metadata.Gateway, error) {
	client := metadata.NewClient(metadata.ClientConfig{
		BaseURL:       appConfig.MetadataBaseURL,
		UserAgent:     appConfig.MetadataUserAgent,
		Timeout:       appConfig.MetadataTimeout,
		RatePerSecond: appConfig.MetadataRatePerSecond,
		Logger:        logger,
	})
	return metadata.NewGateway(metadata.GatewayConfig{
		Lookup: client,
		Cache:  store.metadataCache,
		TTL:    appConfig.MetadataCacheTTL,
		Logger: logger,
	})
}

func newBackfiller(appConfig config.AppConfig, store *storage, gateway records.MetadataGateway, publisher records.EventPublisher, logger *zap.Logger) (*records.Backfiller, error) {
	return records.NewBackfiller(records.BackfillConfig{
		Repository: store.records,
		Metadata:   gateway,
		Events:     publisher,
		BatchSize:  appConfig.BackfillBatchSize,
		Logger:     logger,
	})
}
