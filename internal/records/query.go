package records

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
)

type SortOrder string

const (
	SortRelevance SortOrder = "relevance"
	SortPrice     SortOrder = "price"
	SortCreated   SortOrder = "created"
	SortArtist    SortOrder = "artist"
	SortAlbum     SortOrder = "album"
)

const (
	DefaultPage     = 1
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps the row offset within 32 bits.
	MaxPage         = math.MaxInt32 / MaxPageSize

	listCacheNamespace = events.ScopeRecordListings
)

func ParseSortOrder(raw string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortPrice:
		return SortPrice, nil
	case SortCreated:
		return SortCreated, nil
	case SortArtist:
		return SortArtist, nil
	case SortAlbum:
		return SortAlbum, nil
	default:
		return "", invalid("sort", "must be one of relevance, price, created, artist, album")
	}
}

// ListQuery is the raw listing request as received from a caller.
type ListQuery struct {
	Search   string
	Category string
	Format   string
	Sort     string
	Page     int
	PageSize int
}

// ListFilter is a validated, normalized ListQuery. Two equivalent queries produce the same
// filter and therefore the same cache key.
type ListFilter struct {
	Search   string
	Category Category
	Format   Format
	Sort     SortOrder
	Page     int
	PageSize int
}

func (q ListQuery) Normalize() (ListFilter, error) {
	filter := ListFilter{
		Search:   strings.Join(strings.Fields(SearchKey(q.Search)), " "),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	if strings.TrimSpace(q.Category) != "" {
		category, err := ParseCategory(q.Category)
		if err != nil {
			return ListFilter{}, invalid("category", "%v", err)
		}
		filter.Category = category
	}
	if strings.TrimSpace(q.Format) != "" {
		format, err := ParseFormat(q.Format)
		if err != nil {
			return ListFilter{}, invalid("format", "%v", err)
		}
		filter.Format = format
	}
	sort, err := ParseSortOrder(q.Sort)
	if err != nil {
		return ListFilter{}, err
	}
	filter.Sort = sort
	if filter.Page < 1 {
		filter.Page = DefaultPage
	}
	if filter.Page > MaxPage {
		filter.Page = MaxPage
	}
	if filter.PageSize < 1 {
		filter.PageSize = DefaultPageSize
	}
	if filter.PageSize > MaxPageSize {
		filter.PageSize = MaxPageSize
	}
	return filter, nil
}

// Terms splits the search string into the words matched against artist and album.
func (f ListFilter) Terms() []string {
	return strings.Fields(f.Search)
}

// EffectiveSort resolves relevance to created-descending when there is nothing to rank.
func (f ListFilter) EffectiveSort() SortOrder {
	if f.Sort == SortRelevance && f.Search == "" {
		return SortCreated
	}
	return f.Sort
}

func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.PageSize
}

func (f ListFilter) CacheKey() string {
	values := url.Values{}
	values.Set("q", f.Search)
	values.Set("category", string(f.Category))
	values.Set("format", string(f.Format))
	values.Set("sort", string(f.Sort))
	values.Set("page", strconv.Itoa(f.Page))
	values.Set("pageSize", strconv.Itoa(f.PageSize))
	return listCacheNamespace + ":" + values.Encode()
}

type RecordsPage struct {
	Page    int      `json:"page"`
	PerPage int      `json:"perPage"`
	Total   int64    `json:"total"`
	Data    []Record `json:"data"`
}
