package mongostore

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type recordDocument struct {
	ID           string          `bson:"_id"`
	Artist       string          `bson:"artist"`
	Album        string          `bson:"album"`
	Format       string          `bson:"format"`
	Category     string          `bson:"category"`
	Price        bson.Decimal128 `bson:"price"`
	Qty          int             `bson:"qty"`
	ExternalID   string          `bson:"externalId"`
	Tracklist    []records.Track `bson:"tracklist"`
	TrackCount   int             `bson:"trackCount"`
	Created      time.Time       `bson:"created"`
	LastModified time.Time       `bson:"lastModified"`
}

type orderDocument struct {
	ID          string          `bson:"_id"`
	RecordID    string          `bson:"recordId"`
	RecordTitle string          `bson:"recordTitle"`
	Quantity    int             `bson:"quantity"`
	UnitPrice   bson.Decimal128 `bson:"unitPrice"`
	TotalPrice  bson.Decimal128 `bson:"totalPrice"`
	Created     time.Time       `bson:"created"`
}

type cacheDocument struct {
	Key        string          `bson:"_id"`
	Kind       string          `bson:"kind"`
	ExternalID string          `bson:"externalId"`
	Tracklist  []records.Track `bson:"tracklist"`
	FetchedAt  time.Time       `bson:"fetchedAt"`
	ExpiresAt  time.Time       `bson:"expiresAt"`
}

func toDecimal128(value decimal.Decimal) (bson.Decimal128, error) {
	parsed, err := bson.ParseDecimal128(value.String())
	if err != nil {
		return bson.Decimal128{}, fmt.Errorf("recordstore/mongo: encode decimal %s: %w", value, err)
	}
	return parsed, nil
}

func fromDecimal128(value bson.Decimal128) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(value.String())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("recordstore/mongo: decode decimal %s: %w", value.String(), err)
	}
	return parsed, nil
}

func toRecordDocument(r records.Record) (recordDocument, error) {
	price, err := toDecimal128(r.Price)
	if err != nil {
		return recordDocument{}, err
	}
	tracks := []records.Track(r.Tracklist)
	if tracks == nil {
		tracks = []records.Track{}
	}
	return recordDocument{
		ID:           r.ID,
		Artist:       r.Artist,
		Album:        r.Album,
		Format:       string(r.Format),
		Category:     string(r.Category),
		Price:        price,
		Qty:          r.Qty,
		ExternalID:   r.ExternalID.String(),
		Tracklist:    tracks,
		TrackCount:   len(tracks),
		Created:      r.Created.UTC(),
		LastModified: r.LastModified.UTC(),
	}, nil
}

func fromRecordDocument(d recordDocument) (records.Record, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return records.Record{}, err
	}
	return records.Record{
		ID:           d.ID,
		Artist:       d.Artist,
		Album:        d.Album,
		Format:       records.Format(d.Format),
		Category:     records.Category(d.Category),
		Price:        price,
		Qty:          d.Qty,
		ExternalID:   records.ExternalID(d.ExternalID),
		Tracklist:    records.NewTracklist(d.Tracklist),
		TrackCount:   d.TrackCount,
		Created:      d.Created.UTC(),
		LastModified: d.LastModified.UTC(),
	}, nil
}

func toOrderDocument(o orders.Order) (orderDocument, error) {
	unitPrice, err := toDecimal128(o.UnitPrice)
	if err != nil {
		return orderDocument{}, err
	}
	totalPrice, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return orderDocument{}, err
	}
	return orderDocument{
		ID:          o.ID,
		RecordID:    o.RecordID,
		RecordTitle: o.RecordTitle,
		Quantity:    o.Quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  totalPrice,
		Created:     o.Created.UTC(),
	}, nil
}

func fromOrderDocument(d orderDocument) (orders.Order, error) {
	unitPrice, err := fromDecimal128(d.UnitPrice)
	if err != nil {
		return orders.Order{}, err
	}
	totalPrice, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return orders.Order{}, err
	}
	return orders.Order{
		ID:          d.ID,
		RecordID:    d.RecordID,
		RecordTitle: d.RecordTitle,
		Quantity:    d.Quantity,
		UnitPrice:   unitPrice,
		TotalPrice:  totalPrice,
		Created:     d.Created.UTC(),
	}, nil
}

func toCacheDocument(e metadata.CacheEntry) cacheDocument {
	tracks := []records.Track(e.Tracklist)
	if tracks == nil {
		tracks = []records.Track{}
	}
	return cacheDocument{
		Key:        e.Key,
		Kind:       string(e.Kind),
		ExternalID: e.ExternalID.String(),
		Tracklist:  tracks,
		FetchedAt:  e.FetchedAt.UTC(),
		ExpiresAt:  e.ExpiresAt.UTC(),
	}
}

func fromCacheDocument(d cacheDocument) metadata.CacheEntry {
	return metadata.CacheEntry{
		Key:        d.Key,
		Kind:       metadata.EntryKind(d.Kind),
		ExternalID: records.ExternalID(d.ExternalID),
		Tracklist:  records.NewTracklist(d.Tracklist),
		FetchedAt:  d.FetchedAt.UTC(),
		ExpiresAt:  d.ExpiresAt.UTC(),
	}
}
