package mongostore

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// compile-time interface check
var _ records.Repository = (*RecordRepository)(nil)

type RecordRepository struct {
	col *mongo.Collection
}

func (r *RecordRepository) Create(ctx context.Context, record *records.Record) error {
	doc, err := toRecordDocument(*record)
	if err != nil {
		return err
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", records.ErrDuplicateRecord, err)
		}
		return fmt.Errorf("recordstore/mongo: create record: %w", err)
	}
	return nil
}

func (r *RecordRepository) FindByID(ctx context.Context, id string) (records.Record, error) {
	return r.findOne(ctx, bson.M{"_id": id}, records.ErrRecordNotFound)
}

func (r *RecordRepository) FindByIdentity(ctx context.Context, artist, album string, format records.Format) (records.Record, bool, error) {
	record, err := r.findOne(ctx, bson.M{"artist": artist, "album": album, "format": string(format)}, records.ErrRecordNotFound)
	if err == records.ErrRecordNotFound {
		return records.Record{}, false, nil
	}
	if err != nil {
		return records.Record{}, false, err
	}
	return record, true, nil
}

func (r *RecordRepository) findOne(ctx context.Context, filter bson.M, notFound error) (records.Record, error) {
	var doc recordDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if isNoDocuments(err) {
			return records.Record{}, notFound
		}
		return records.Record{}, fmt.Errorf("recordstore/mongo: find record: %w", err)
	}
	return fromRecordDocument(doc)
}

func (r *RecordRepository) Update(ctx context.Context, id string, changes records.Changes) (records.Record, error) {
	set := bson.M{"lastModified": changes.LastModified.UTC()}
	if changes.Artist != nil {
		set["artist"] = *changes.Artist
	}
	if changes.Album != nil {
		set["album"] = *changes.Album
	}
	if changes.Price != nil {
		price, err := toDecimal128(*changes.Price)
		if err != nil {
			return records.Record{}, err
		}
		set["price"] = price
	}
	if changes.Qty != nil {
		set["qty"] = *changes.Qty
	}
	if changes.Format != nil {
		set["format"] = string(*changes.Format)
	}
	if changes.Category != nil {
		set["category"] = string(*changes.Category)
	}
	if changes.ExternalID != nil {
		set["externalId"] = changes.ExternalID.String()
	}
	if changes.Tracklist != nil {
		tracks := *changes.Tracklist
		if tracks == nil {
			tracks = []records.Track{}
		}
		set["tracklist"] = tracks
		set["trackCount"] = len(tracks)
	}

	var doc recordDocument
	err := r.col.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		switch {
		case isNoDocuments(err):
			return records.Record{}, records.ErrRecordNotFound
		case mongo.IsDuplicateKeyError(err):
			return records.Record{}, fmt.Errorf("%w: %v", records.ErrDuplicateRecord, err)
		}
		return records.Record{}, fmt.Errorf("recordstore/mongo: update record: %w", err)
	}
	return fromRecordDocument(doc)
}

func (r *RecordRepository) List(ctx context.Context, filter records.ListFilter) ([]records.Record, error) {
	opts := options.Find().
		SetSkip(int64(filter.Offset())).
		SetLimit(int64(filter.PageSize))

	switch filter.EffectiveSort() {
	case records.SortPrice:
		opts.SetSort(bson.D{{Key: "price", Value: 1}, {Key: "_id", Value: 1}})
	case records.SortArtist:
		opts.SetSort(bson.D{{Key: "artist", Value: 1}, {Key: "_id", Value: 1}})
	case records.SortAlbum:
		opts.SetSort(bson.D{{Key: "album", Value: 1}, {Key: "_id", Value: 1}})
	case records.SortRelevance:
		score := bson.M{"$meta": "textScore"}
		opts.SetProjection(bson.M{"score": score})
		opts.SetSort(bson.D{{Key: "score", Value: score}, {Key: "created", Value: -1}, {Key: "_id", Value: -1}})
	default:
		opts.SetSort(bson.D{{Key: "created", Value: -1}, {Key: "_id", Value: -1}})
	}

	cursor, err := r.col.Find(ctx, listFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("recordstore/mongo: list records: %w", err)
	}
	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("recordstore/mongo: decode records: %w", err)
	}
	return fromRecordDocuments(docs)
}

func (r *RecordRepository) Count(ctx context.Context, filter records.ListFilter) (int64, error) {
	total, err := r.col.CountDocuments(ctx, listFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("recordstore/mongo: count records: %w", err)
	}
	return total, nil
}

func (r *RecordRepository) FindMissingTracklists(ctx context.Context, afterID string, limit int) ([]records.Record, error) {
	filter := bson.M{
		"externalId": bson.M{"$ne": ""},
		"trackCount": 0,
		"_id":        bson.M{"$gt": afterID},
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetLimit(int64(limit))
	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("recordstore/mongo: find missing tracklists: %w", err)
	}
	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("recordstore/mongo: decode records: %w", err)
	}
	return fromRecordDocuments(docs)
}

func (r *RecordRepository) ApplyEnrichment(ctx context.Context, update records.EnrichmentUpdate) (bool, error) {
	tracks := update.Tracklist
	if tracks == nil {
		tracks = []records.Track{}
	}
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": update.RecordID, "externalId": update.ExpectedExternalID.String()},
		bson.M{"$set": bson.M{
			"externalId":   update.ExternalID.String(),
			"tracklist":    tracks,
			"trackCount":   len(tracks),
			"lastModified": update.LastModified.UTC(),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("recordstore/mongo: apply enrichment: %w", err)
	}
	return res.MatchedCount > 0, nil
}

func listFilter(filter records.ListFilter) bson.M {
	out := bson.M{}
	if filter.Category != "" {
		out["category"] = string(filter.Category)
	}
	if filter.Format != "" {
		out["format"] = string(filter.Format)
	}
	if filter.Search != "" {
		out["$text"] = bson.M{"$search": filter.Search}
	}
	return out
}

func fromRecordDocuments(docs []recordDocument) ([]records.Record, error) {
	out := make([]records.Record, 0, len(docs))
	for _, doc := range docs {
		record, err := fromRecordDocument(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}
