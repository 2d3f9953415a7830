package gormstore

import (
	"context"

	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"gorm.io/gorm"
)

var _ orders.Repository = (*OrderRepository)(nil)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// PlaceOrder runs existence check, conditional decrement and insert in one transaction.
// The decrement is a single UPDATE guarded by qty >= quantity, so concurrent orders can
// never drive stock negative regardless of isolation level.
func (r *OrderRepository) PlaceOrder(ctx context.Context, recordID string, quantity int, build orders.OrderBuilder) (orders.Order, error) {
	var placed orders.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&records.Record{}).Where("id = ?", recordID).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			return orders.ErrRecordNotFound
		}

		result := tx.Model(&records.Record{}).
			Where("id = ? AND qty >= ?", recordID, quantity).
			UpdateColumn("qty", gorm.Expr("qty - ?", quantity))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return orders.ErrInsufficientStock
		}

		var record records.Record
		if err := tx.Where("id = ?", recordID).Take(&record).Error; err != nil {
			return err
		}

		order, err := build(orders.StockSnapshot{
			RecordID:     record.ID,
			Artist:       record.Artist,
			Album:        record.Album,
			Price:        record.Price,
			RemainingQty: record.Qty,
		})
		if err != nil {
			return err
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	return placed, nil
}

func (r *OrderRepository) List(ctx context.Context, offset, limit int) ([]orders.Order, error) {
	var out []orders.Order
	err := r.db.WithContext(ctx).
		Order("created DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *OrderRepository) Count(ctx context.Context) (int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&orders.Order{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
