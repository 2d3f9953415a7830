package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidInput      = errors.New("invalid input")
)

// Order is immutable once placed. Price and title are copied from the record at the moment
// stock was taken, so later catalog edits never change past orders.
type Order struct {
	ID          string          `gorm:"column:id;primaryKey;size:36" json:"id"`
	RecordID    string          `gorm:"column:record_id;size:36;not null;index:idx_orders_record_id" json:"recordId"`
	RecordTitle string          `gorm:"column:record_title;size:512;not null" json:"recordTitle"`
	Quantity    int             `gorm:"column:quantity;not null;check:chk_orders_quantity_positive,quantity >= 1" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:decimal(10,2);not null" json:"unitPrice"`
	TotalPrice  decimal.Decimal `gorm:"column:total_price;type:decimal(12,2);not null" json:"totalPrice"`
	Created     time.Time       `gorm:"column:created;not null;index:idx_orders_created" json:"created"`
}

func (Order) TableName() string {
	return "orders"
}

// StockSnapshot is the record state observed by a successful conditional decrement.
type StockSnapshot struct {
	RecordID     string
	Artist       string
	Album        string
	Price        decimal.Decimal
	RemainingQty int
}

// Title is the denormalized label stored on orders.
func (s StockSnapshot) Title() string {
	return s.Artist + " - " + s.Album
}

// OrderBuilder turns a snapshot into the order to insert alongside the decrement.
type OrderBuilder func(snapshot StockSnapshot) (Order, error)

// Repository places and lists orders.
//
// PlaceOrder must decrement the record's qty by quantity only when qty >= quantity, as one
// atomic storage operation. It returns ErrRecordNotFound when the record does not exist and
// ErrInsufficientStock when the conditional decrement matched nothing. The order returned by
// build is persisted only if the decrement succeeded; if persisting fails the decrement must
// not remain applied.
type Repository interface {
	PlaceOrder(ctx context.Context, recordID string, quantity int, build OrderBuilder) (Order, error)
	List(ctx context.Context, offset, limit int) ([]Order, error)
	Count(ctx context.Context) (int64, error)
}

type OrdersPage struct {
	Page    int     `json:"page"`
	PerPage int     `json:"perPage"`
	Total   int64   `json:"total"`
	Data    []Order `json:"data"`
}
