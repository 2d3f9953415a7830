package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	artistWeight = 5
	albumWeight  = 4
	likeClause   = "LIKE ? ESCAPE '\\'"
)

var _ records.Repository = (*RecordRepository)(nil)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Create(ctx context.Context, record *records.Record) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", records.ErrDuplicateRecord, err)
		}
		return err
	}
	return nil
}

func (r *RecordRepository) FindByID(ctx context.Context, id string) (records.Record, error) {
	var record records.Record
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return records.Record{}, records.ErrRecordNotFound
	}
	if err != nil {
		return records.Record{}, err
	}
	return record, nil
}

func (r *RecordRepository) FindByIdentity(ctx context.Context, artist, album string, format records.Format) (records.Record, bool, error) {
	var record records.Record
	err := r.db.WithContext(ctx).
		Where("artist = ? AND album = ? AND format = ?", artist, album, format).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return records.Record{}, false, nil
	}
	if err != nil {
		return records.Record{}, false, err
	}
	return record, true, nil
}

func (r *RecordRepository) Update(ctx context.Context, id string, changes records.Changes) (records.Record, error) {
	columns := map[string]any{
		"last_modified": changes.LastModified,
	}
	if changes.Artist != nil {
		columns["artist"] = *changes.Artist
		columns["artist_search"] = records.SearchKey(*changes.Artist)
	}
	if changes.Album != nil {
		columns["album"] = *changes.Album
		columns["album_search"] = records.SearchKey(*changes.Album)
	}
	if changes.Price != nil {
		columns["price"] = *changes.Price
	}
	if changes.Qty != nil {
		columns["qty"] = *changes.Qty
	}
	if changes.Format != nil {
		columns["format"] = *changes.Format
	}
	if changes.Category != nil {
		columns["category"] = *changes.Category
	}
	if changes.ExternalID != nil {
		columns["external_id"] = *changes.ExternalID
	}
	if changes.Tracklist != nil {
		columns["tracklist"] = records.NewTracklist(*changes.Tracklist)
		columns["track_count"] = len(*changes.Tracklist)
	}

	var updated records.Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&records.Record{}).Where("id = ?", id).Updates(columns)
		if result.Error != nil {
			if isUniqueViolation(result.Error) {
				return fmt.Errorf("%w: %v", records.ErrDuplicateRecord, result.Error)
			}
			return result.Error
		}
		if result.RowsAffected == 0 {
			return records.ErrRecordNotFound
		}
		return tx.Where("id = ?", id).Take(&updated).Error
	})
	if err != nil {
		return records.Record{}, err
	}
	return updated, nil
}

func (r *RecordRepository) List(ctx context.Context, filter records.ListFilter) ([]records.Record, error) {
	query := r.filtered(ctx, filter)
	query = applyRecordOrder(query, filter)

	var out []records.Record
	if err := query.Offset(filter.Offset()).Limit(filter.PageSize).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RecordRepository) Count(ctx context.Context, filter records.ListFilter) (int64, error) {
	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *RecordRepository) FindMissingTracklists(ctx context.Context, afterID string, limit int) ([]records.Record, error) {
	var out []records.Record
	err := r.db.WithContext(ctx).
		Where("external_id <> '' AND track_count = 0 AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RecordRepository) ApplyEnrichment(ctx context.Context, update records.EnrichmentUpdate) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&records.Record{}).
		Where("id = ? AND external_id = ?", update.RecordID, update.ExpectedExternalID).
		Updates(map[string]any{
			"external_id":   update.ExternalID,
			"tracklist":     records.NewTracklist(update.Tracklist),
			"track_count":   len(update.Tracklist),
			"last_modified": update.LastModified,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *RecordRepository) filtered(ctx context.Context, filter records.ListFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&records.Record{})
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Format != "" {
		query = query.Where("format = ?", filter.Format)
	}
	terms := filter.Terms()
	if len(terms) == 0 {
		return query
	}
	conditions := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*2)
	for _, term := range terms {
		pattern := "%" + escapeLike(term) + "%"
		conditions = append(conditions, "artist_search "+likeClause+" OR album_search "+likeClause)
		args = append(args, pattern, pattern)
	}
	return query.Where("("+strings.Join(conditions, " OR ")+")", args...)
}

// applyRecordOrder ranks search hits by weighted term matches in artist and album, and
// breaks every tie on id so pages are deterministic.
func applyRecordOrder(query *gorm.DB, filter records.ListFilter) *gorm.DB {
	switch filter.EffectiveSort() {
	case records.SortPrice:
		return query.Order("price ASC").Order("id ASC")
	case records.SortArtist:
		return query.Order("artist ASC").Order("id ASC")
	case records.SortAlbum:
		return query.Order("album ASC").Order("id ASC")
	case records.SortRelevance:
		terms := filter.Terms()
		parts := make([]string, 0, len(terms)*2)
		args := make([]any, 0, len(terms)*2)
		for _, term := range terms {
			pattern := "%" + escapeLike(term) + "%"
			parts = append(parts,
				fmt.Sprintf("CASE WHEN artist_search %s THEN %d ELSE 0 END", likeClause, artistWeight),
				fmt.Sprintf("CASE WHEN album_search %s THEN %d ELSE 0 END", likeClause, albumWeight))
			args = append(args, pattern, pattern)
		}
		return query.Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "(" + strings.Join(parts, " + ") + ") DESC, created DESC, id DESC",
			Vars:               args,
			WithoutParentheses: true,
		}})
	default:
		return query.Order("created DESC").Order("id DESC")
	}
}
