package orders

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	errMissingRepository = errors.New("order repository is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
	MaxPage         = math.MaxInt32 / MaxPageSize
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "orders.service.new"
	opPlaceOrder = "orders.place_order"
	opListOrders = "orders.list_orders"
	opBuildOrder = "orders.build_order"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type IDProvider interface {
	NewID() (string, error)
}

type EventPublisher interface {
	Publish(event events.Event)
}

type ServiceConfig struct {
	Repository Repository
	Events     EventPublisher
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	repository Repository
	events     EventPublisher
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opServiceNew, "missing_repository", errMissingRepository)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		repository: cfg.Repository,
		events:     cfg.Events,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// PlaceOrder takes quantity units of the record's stock and records the sale.
func (s *Service) PlaceOrder(ctx context.Context, recordID string, quantity int) (Order, error) {
	recordID = strings.TrimSpace(recordID)
	if recordID == "" {
		return Order{}, newServiceError(opPlaceOrder, "invalid_input", fmt.Errorf("%w: recordId is required", ErrInvalidInput))
	}
	if quantity < 1 {
		return Order{}, newServiceError(opPlaceOrder, "invalid_input", fmt.Errorf("%w: quantity must be at least 1", ErrInvalidInput))
	}

	orderID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opPlaceOrder, "id_generation_failed", err)
		return Order{}, newServiceError(opPlaceOrder, "id_generation_failed", err)
	}

	placedAt := s.clock().UTC()
	remainingQty := 0
	build := func(snapshot StockSnapshot) (Order, error) {
		if snapshot.RecordID != recordID {
			return Order{}, newServiceError(opBuildOrder, "snapshot_mismatch",
				fmt.Errorf("snapshot for %q while ordering %q", snapshot.RecordID, recordID))
		}
		remainingQty = snapshot.RemainingQty
		unitPrice := snapshot.Price
		return Order{
			ID:          orderID,
			RecordID:    recordID,
			RecordTitle: snapshot.Title(),
			Quantity:    quantity,
			UnitPrice:   unitPrice,
			TotalPrice:  unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
			Created:     placedAt,
		}, nil
	}

	order, err := s.repository.PlaceOrder(ctx, recordID, quantity, build)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return Order{}, newServiceError(opPlaceOrder, "record_not_found", err)
		case errors.Is(err, ErrInsufficientStock):
			s.logger.Info("order rejected for insufficient stock",
				zap.String("record_id", recordID),
				zap.Int("quantity", quantity))
			return Order{}, newServiceError(opPlaceOrder, "insufficient_stock", err)
		}
		s.logError(opPlaceOrder, "order_insert_failed", err, zap.String("record_id", recordID))
		return Order{}, newServiceError(opPlaceOrder, "order_insert_failed", err)
	}

	s.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("record_id", recordID),
		zap.Int("quantity", quantity),
		zap.Int("remaining_qty", remainingQty))

	if s.events != nil {
		s.events.Publish(events.InvalidateRecordListings(placedAt))
	}
	return order, nil
}

// ListOrders returns a newest-first page of orders. Page and page size fall back to the
// defaults when below one; page is capped at MaxPage and page size at MaxPageSize.
func (s *Service) ListOrders(ctx context.Context, page, pageSize int) (OrdersPage, error) {
	if page < 1 {
		page = DefaultPage
	}
	if page > MaxPage {
		page = MaxPage
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	items, err := s.repository.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		s.logError(opListOrders, "orders_query_failed", err)
		return OrdersPage{}, newServiceError(opListOrders, "orders_query_failed", err)
	}
	total, err := s.repository.Count(ctx)
	if err != nil {
		s.logError(opListOrders, "orders_count_failed", err)
		return OrdersPage{}, newServiceError(opListOrders, "orders_count_failed", err)
	}
	if items == nil {
		items = []Order{}
	}
	return OrdersPage{Page: page, PerPage: pageSize, Total: total, Data: items}, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("orders service error", attrs...)
}
