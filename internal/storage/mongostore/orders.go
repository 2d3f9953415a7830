package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ orders.Repository = (*OrderRepository)(nil)

type OrderRepository struct {
	records *mongo.Collection
	orders  *mongo.Collection
}

// PlaceOrder decrements stock with a single guarded $inc. A standalone server has no
// multi-document transactions, so a failed insert is undone by a compensating $inc.
func (r *OrderRepository) PlaceOrder(ctx context.Context, recordID string, quantity int, build orders.OrderBuilder) (orders.Order, error) {
	existing, err := r.records.CountDocuments(ctx, bson.M{"_id": recordID})
	if err != nil {
		return orders.Order{}, fmt.Errorf("recordstore/mongo: check record: %w", err)
	}
	if existing == 0 {
		return orders.Order{}, orders.ErrRecordNotFound
	}

	var record recordDocument
	err = r.records.FindOneAndUpdate(ctx,
		bson.M{"_id": recordID, "qty": bson.M{"$gte": quantity}},
		bson.M{"$inc": bson.M{"qty": -quantity}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&record)
	if err != nil {
		if isNoDocuments(err) {
			return orders.Order{}, orders.ErrInsufficientStock
		}
		return orders.Order{}, fmt.Errorf("recordstore/mongo: decrement stock: %w", err)
	}

	placed, err := r.insertOrder(ctx, record, build)
	if err != nil {
		if restoreErr := r.restoreStock(recordID, quantity); restoreErr != nil {
			return orders.Order{}, errors.Join(err, restoreErr)
		}
		return orders.Order{}, err
	}
	return placed, nil
}

func (r *OrderRepository) insertOrder(ctx context.Context, record recordDocument, build orders.OrderBuilder) (orders.Order, error) {
	price, err := fromDecimal128(record.Price)
	if err != nil {
		return orders.Order{}, err
	}
	order, err := build(orders.StockSnapshot{
		RecordID:     record.ID,
		Artist:       record.Artist,
		Album:        record.Album,
		Price:        price,
		RemainingQty: record.Qty,
	})
	if err != nil {
		return orders.Order{}, err
	}
	doc, err := toOrderDocument(order)
	if err != nil {
		return orders.Order{}, err
	}
	if _, err := r.orders.InsertOne(ctx, doc); err != nil {
		return orders.Order{}, fmt.Errorf("recordstore/mongo: insert order: %w", err)
	}
	return order, nil
}

// restoreStock ignores the caller's context so a cancelled request still gives its stock back.
func (r *OrderRepository) restoreStock(recordID string, quantity int) error {
	_, err := r.records.UpdateOne(context.Background(),
		bson.M{"_id": recordID},
		bson.M{"$inc": bson.M{"qty": quantity}},
	)
	if err != nil {
		return fmt.Errorf("recordstore/mongo: restore stock: %w", err)
	}
	return nil
}

func (r *OrderRepository) List(ctx context.Context, offset, limit int) ([]orders.Order, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cursor, err := r.orders.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("recordstore/mongo: list orders: %w", err)
	}
	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("recordstore/mongo: decode orders: %w", err)
	}
	out := make([]orders.Order, 0, len(docs))
	for _, doc := range docs {
		order, err := fromOrderDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, order)
	}
	return out, nil
}

func (r *OrderRepository) Count(ctx context.Context) (int64, error) {
	total, err := r.orders.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("recordstore/mongo: count orders: %w", err)
	}
	return total, nil
}
