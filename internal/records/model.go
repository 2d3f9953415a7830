package records

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Format string

const (
	FormatVinyl    Format = "Vinyl"
	FormatCD       Format = "CD"
	FormatCassette Format = "Cassette"
	FormatDigital  Format = "Digital"
)

var formats = []Format{FormatVinyl, FormatCD, FormatCassette, FormatDigital}

// ParseFormat accepts the canonical spelling case-insensitively.
func ParseFormat(raw string) (Format, error) {
	trimmed := strings.TrimSpace(raw)
	for _, candidate := range formats {
		if strings.EqualFold(trimmed, string(candidate)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unsupported format %q", raw)
}

type Category string

const (
	CategoryRock        Category = "Rock"
	CategoryJazz        Category = "Jazz"
	CategoryHipHop      Category = "Hip-Hop"
	CategoryClassical   Category = "Classical"
	CategoryPop         Category = "Pop"
	CategoryAlternative Category = "Alternative"
	CategoryIndie       Category = "Indie"
)

var categories = []Category{
	CategoryRock, CategoryJazz, CategoryHipHop, CategoryClassical,
	CategoryPop, CategoryAlternative, CategoryIndie,
}

func ParseCategory(raw string) (Category, error) {
	trimmed := strings.TrimSpace(raw)
	for _, candidate := range categories {
		if strings.EqualFold(trimmed, string(candidate)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("unsupported category %q", raw)
}

// ExternalID is a MusicBrainz release identifier in canonical lowercase UUIDv4 form.
// The zero value means the record has no external identifier.
type ExternalID string

func ParseExternalID(raw string) (ExternalID, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) != 36 {
		return "", fmt.Errorf("external id %q is not a canonical uuid", raw)
	}
	parsed, err := uuid.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("external id %q: %w", raw, err)
	}
	if parsed.Version() != 4 || parsed.Variant() != uuid.RFC4122 {
		return "", fmt.Errorf("external id %q is not a version 4 uuid", raw)
	}
	return ExternalID(parsed.String()), nil
}

func (id ExternalID) String() string {
	return string(id)
}

func (id ExternalID) IsZero() bool {
	return id == ""
}

type Track struct {
	Title       string `json:"title" bson:"title"`
	Length      string `json:"length" bson:"length"`
	ReleaseDate string `json:"releaseDate" bson:"releaseDate"`
	HasVideo    bool   `json:"hasVideo" bson:"hasVideo"`
}

// Record is a catalog entry. Artist, album and format together identify a record.
type Record struct {
	ID           string                     `gorm:"column:id;primaryKey;size:36" json:"id"`
	Artist       string                     `gorm:"column:artist;size:255;not null;uniqueIndex:idx_records_identity,priority:1" json:"artist"`
	Album        string                     `gorm:"column:album;size:255;not null;uniqueIndex:idx_records_identity,priority:2" json:"album"`
	Format       Format                     `gorm:"column:format;size:16;not null;uniqueIndex:idx_records_identity,priority:3;index:idx_records_format" json:"format"`
	Category     Category                   `gorm:"column:category;size:32;not null;index:idx_records_category" json:"category"`
	Price        decimal.Decimal            `gorm:"column:price;type:decimal(10,2);not null;index:idx_records_price" json:"price"`
	Qty          int                        `gorm:"column:qty;not null;check:chk_records_qty_non_negative,qty >= 0" json:"qty"`
	ExternalID   ExternalID                 `gorm:"column:external_id;size:36;not null;default:'';index:idx_records_external_id" json:"externalId,omitempty"`
	Tracklist    datatypes.JSONSlice[Track] `gorm:"column:tracklist" json:"tracklist"`
	TrackCount   int                        `gorm:"column:track_count;not null;default:0" json:"-"`
	ArtistSearch string                     `gorm:"column:artist_search;size:255;not null;default:''" json:"-"`
	AlbumSearch  string                     `gorm:"column:album_search;size:255;not null;default:''" json:"-"`
	Created      time.Time                  `gorm:"column:created;not null;index:idx_records_created" json:"created"`
	LastModified time.Time                  `gorm:"column:last_modified;not null" json:"lastModified"`
}

func (Record) TableName() string {
	return "records"
}

// SearchKey folds a value the same way search terms are folded. SQLite's LOWER only
// handles ASCII, so the folded artist and album are stored alongside the originals.
func SearchKey(value string) string {
	return strings.ToLower(value)
}

func (r *Record) BeforeCreate(*gorm.DB) error {
	r.ArtistSearch = SearchKey(r.Artist)
	r.AlbumSearch = SearchKey(r.Album)
	return nil
}

func (r *Record) AfterFind(*gorm.DB) error {
	if r.Tracklist == nil {
		r.Tracklist = datatypes.JSONSlice[Track]{}
	}
	return nil
}

// NewTracklist copies tracks into a non-nil column value.
func NewTracklist(tracks []Track) datatypes.JSONSlice[Track] {
	out := make(datatypes.JSONSlice[Track], len(tracks))
	copy(out, tracks)
	return out
}
