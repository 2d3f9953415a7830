package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const cacheHeader = "X-Cache"

var (
	errMissingRecordService = errors.New("record service dependency required")
	errMissingOrderService  = errors.New("order service dependency required")
)

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	RecordService  *records.Service
	OrderService   *orders.Service
	Readiness      Pinger
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.RecordService == nil {
		return nil, errMissingRecordService
	}
	if deps.OrderService == nil {
		return nil, errMissingOrderService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		recordService: deps.RecordService,
		orderService:  deps.OrderService,
		readiness:     deps.Readiness,
		logger:        logger,
	}

	router.GET("/health", handler.handleHealth)
	router.GET("/ready", handler.handleReady)

	router.POST("/records", handler.handleCreateRecord)
	router.GET("/records", handler.handleListRecords)
	router.GET("/records/lookup", handler.handleLookupRecord)
	router.GET("/records/:id", handler.handleGetRecord)
	router.PUT("/records/:id", handler.handleUpdateRecord)

	router.POST("/orders", handler.handlePlaceOrder)
	router.GET("/orders", handler.handleListOrders)

	return router, nil
}

type httpHandler struct {
	recordService *records.Service
	orderService  *orders.Service
	readiness     Pinger
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Authorization"},
		ExposeHeaders: []string{cacheHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("http request", fields...)
			return
		}
		logger.Debug("http request", fields...)
	}
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}

func (h *httpHandler) handleReady(c *gin.Context) {
	if h.readiness != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.readiness.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "UNAVAILABLE"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "READY"})
}
