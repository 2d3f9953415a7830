package records

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository persists records. Implementations must enforce the artist/album/format
// uniqueness with a storage-level constraint and report violations as ErrDuplicateRecord.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	FindByID(ctx context.Context, id string) (Record, error)
	FindByIdentity(ctx context.Context, artist, album string, format Format) (Record, bool, error)
	// Update writes only the fields set in changes and returns the stored record.
	// It must never rewrite qty unless changes.Qty is set, so concurrent stock
	// decrements are preserved.
	Update(ctx context.Context, id string, changes Changes) (Record, error)
	List(ctx context.Context, filter ListFilter) ([]Record, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	// FindMissingTracklists returns records with an external id and no tracks, ordered by
	// id and starting strictly after afterID.
	FindMissingTracklists(ctx context.Context, afterID string, limit int) ([]Record, error)
	// ApplyEnrichment stores metadata only while the record still carries
	// ExpectedExternalID. It reports whether a record was updated.
	ApplyEnrichment(ctx context.Context, update EnrichmentUpdate) (bool, error)
}

type Changes struct {
	Artist       *string
	Album        *string
	Price        *decimal.Decimal
	Qty          *int
	Format       *Format
	Category     *Category
	ExternalID   *ExternalID
	Tracklist    *[]Track
	LastModified time.Time
}

func (c Changes) touchesIdentity() bool {
	return c.Artist != nil || c.Album != nil || c.Format != nil
}

type EnrichmentUpdate struct {
	RecordID           string
	ExpectedExternalID ExternalID
	ExternalID         ExternalID
	Tracklist          []Track
	LastModified       time.Time
}
