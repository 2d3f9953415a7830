package records

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecimal(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	require.NoError(t, err)
	return value
}

func TestListQueryNormalizeAppliesDefaults(t *testing.T) {
	filter, err := ListQuery{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultPage, filter.Page)
	assert.Equal(t, DefaultPageSize, filter.PageSize)
	assert.Equal(t, SortRelevance, filter.Sort)
	assert.Equal(t, SortCreated, filter.EffectiveSort())
	assert.Equal(t, 0, filter.Offset())

	filter, err = ListQuery{Page: 3, PageSize: 500}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, filter.PageSize)
	assert.Equal(t, 200, filter.Offset())
}

func TestListQueryNormalizeCapsHugePages(t *testing.T) {
	filter, err := ListQuery{Page: math.MaxInt, PageSize: MaxPageSize}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, MaxPage, filter.Page)
	assert.Positive(t, filter.Offset())
	assert.LessOrEqual(t, filter.Offset(), math.MaxInt32)
}

func TestEquivalentQueriesShareACacheKey(t *testing.T) {
	first, err := ListQuery{Search: "  Pink   FLOYD ", Format: "vinyl", Sort: "PRICE"}.Normalize()
	require.NoError(t, err)
	second, err := ListQuery{Search: "pink floyd", Format: "Vinyl", Sort: "price", Page: 1, PageSize: 20}.Normalize()
	require.NoError(t, err)

	assert.Equal(t, first.CacheKey(), second.CacheKey())
	assert.True(t, strings.HasPrefix(first.CacheKey(), "records:list:"))
	assert.Equal(t, []string{"pink", "floyd"}, first.Terms())
	assert.Equal(t, SortRelevance, ListFilter{Sort: SortRelevance, Search: "x"}.EffectiveSort())

	third, err := ListQuery{Search: "pink floyd", Page: 2}.Normalize()
	require.NoError(t, err)
	assert.NotEqual(t, first.CacheKey(), third.CacheKey())
}

func TestListQueryRejectsUnknownValues(t *testing.T) {
	for _, query := range []ListQuery{
		{Sort: "popularity"},
		{Category: "polka"},
		{Format: "minidisc"},
	} {
		_, err := query.Normalize()
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}
