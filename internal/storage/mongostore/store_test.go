package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/orders"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var baseTime = time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC)

// openTestStore starts a throwaway mongo container and returns a migrated store on a
// database unique to the test.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("mongo integration tests need docker")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.PortEndpoint(ctx, "27017/tcp", "mongodb")
	require.NoError(t, err)

	store, err := Connect(ctx, Config{URI: uri, Database: "recordstore_test"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func seedRecord(t *testing.T, repo *RecordRepository, id, artist, album string, price string, qty int, createdOffset time.Duration) records.Record {
	t.Helper()
	record := records.Record{
		ID:           id,
		Artist:       artist,
		Album:        album,
		Format:       records.FormatVinyl,
		Category:     records.CategoryRock,
		Price:        decimal.RequireFromString(price),
		Qty:          qty,
		Tracklist:    records.NewTracklist(nil),
		Created:      baseTime.Add(createdOffset),
		LastModified: baseTime.Add(createdOffset),
	}
	require.NoError(t, repo.Create(t.Context(), &record))
	return record
}

func TestMongoStore(t *testing.T) {
	store := openTestStore(t)

	t.Run("records", func(t *testing.T) {
		repo := store.Records()
		seedRecord(t, repo, "r1", "Nirvana", "Nevermind", "19.99", 5, 0)
		seedRecord(t, repo, "r2", "Pearl Jam", "Ten", "9.50", 5, time.Minute)
		seedRecord(t, repo, "r3", "Soundgarden", "Nirvana Tribute", "12.00", 5, 2*time.Minute)

		duplicate := records.Record{ID: "r4", Artist: "Nirvana", Album: "Nevermind", Format: records.FormatVinyl, Category: records.CategoryRock, Price: decimal.NewFromInt(1)}
		require.ErrorIs(t, repo.Create(t.Context(), &duplicate), records.ErrDuplicateRecord)

		found, err := repo.FindByID(t.Context(), "r1")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("19.99").Equal(found.Price))
		assert.NotNil(t, found.Tracklist)

		_, err = repo.FindByID(t.Context(), "missing")
		require.ErrorIs(t, err, records.ErrRecordNotFound)

		filter, err := records.ListQuery{Sort: "price"}.Normalize()
		require.NoError(t, err)
		list, err := repo.List(t.Context(), filter)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"r2", "r3", "r1"}, []string{list[0].ID, list[1].ID, list[2].ID})

		filter, err = records.ListQuery{Search: "nirvana"}.Normalize()
		require.NoError(t, err)
		list, err = repo.List(t.Context(), filter)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "r1", list[0].ID, "artist matches outrank album matches")
		total, err := repo.Count(t.Context(), filter)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)

		album := "Nevermind"
		_, err = repo.Update(t.Context(), "r3", records.Changes{Artist: ptr("Nirvana"), Album: &album, LastModified: baseTime})
		require.ErrorIs(t, err, records.ErrDuplicateRecord)

		id := records.ExternalID("b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d")
		updated, err := repo.Update(t.Context(), "r2", records.Changes{ExternalID: &id, LastModified: baseTime.Add(time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, id, updated.ExternalID)

		missing, err := repo.FindMissingTracklists(t.Context(), "", 10)
		require.NoError(t, err)
		require.Len(t, missing, 1)
		assert.Equal(t, "r2", missing[0].ID)

		applied, err := repo.ApplyEnrichment(t.Context(), records.EnrichmentUpdate{
			RecordID:           "r2",
			ExpectedExternalID: "",
			ExternalID:         id,
			Tracklist:          []records.Track{{Title: "Once"}},
			LastModified:       baseTime.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.False(t, applied, "stale expected id must not apply")

		applied, err = repo.ApplyEnrichment(t.Context(), records.EnrichmentUpdate{
			RecordID:           "r2",
			ExpectedExternalID: id,
			ExternalID:         id,
			Tracklist:          []records.Track{{Title: "Once"}},
			LastModified:       baseTime.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		assert.True(t, applied)
		enriched, err := repo.FindByID(t.Context(), "r2")
		require.NoError(t, err)
		assert.Equal(t, 1, enriched.TrackCount)
	})

	t.Run("orders never oversell", func(t *testing.T) {
		recordRepo := store.Records()
		orderRepo := store.Orders()
		seedRecord(t, recordRepo, "stock", "Radiohead", "OK Computer", "25.00", 10, 0)

		var (
			wg        sync.WaitGroup
			succeeded atomic.Int32
			rejected  atomic.Int32
		)
		for index := 0; index < 25; index++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := orderRepo.PlaceOrder(t.Context(), "stock", 1, func(s orders.StockSnapshot) (orders.Order, error) {
					return orders.Order{
						ID:          fmt.Sprintf("o-%02d", index),
						RecordID:    s.RecordID,
						RecordTitle: s.Artist + " - " + s.Album,
						Quantity:    1,
						UnitPrice:   s.Price,
						TotalPrice:  s.Price,
						Created:     baseTime.Add(time.Duration(index) * time.Second),
					}, nil
				})
				switch {
				case err == nil:
					succeeded.Add(1)
				case errors.Is(err, orders.ErrInsufficientStock):
					rejected.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(10), succeeded.Load())
		assert.Equal(t, int32(15), rejected.Load())
		record, err := recordRepo.FindByID(t.Context(), "stock")
		require.NoError(t, err)
		assert.Equal(t, 0, record.Qty)
		total, err := orderRepo.Count(t.Context())
		require.NoError(t, err)
		assert.Equal(t, int64(10), total)

		_, err = orderRepo.PlaceOrder(t.Context(), "ghost", 1, nil)
		require.ErrorIs(t, err, orders.ErrRecordNotFound)
	})

	t.Run("order build failure restores stock", func(t *testing.T) {
		recordRepo := store.Records()
		seedRecord(t, recordRepo, "restore", "Portishead", "Dummy", "18.00", 3, 0)

		_, err := store.Orders().PlaceOrder(t.Context(), "restore", 2, func(orders.StockSnapshot) (orders.Order, error) {
			return orders.Order{}, errors.New("boom")
		})
		require.Error(t, err)
		record, err := recordRepo.FindByID(t.Context(), "restore")
		require.NoError(t, err)
		assert.Equal(t, 3, record.Qty)
	})

	t.Run("metadata cache", func(t *testing.T) {
		cache := store.MetadataCache()
		now := baseTime
		require.NoError(t, cache.Put(t.Context(),
			metadata.CacheEntry{Key: "release:fresh", Kind: metadata.KindRelease, Tracklist: records.NewTracklist([]records.Track{{Title: "A"}}), FetchedAt: now, ExpiresAt: now.Add(time.Hour)},
			metadata.CacheEntry{Key: "release:stale", Kind: metadata.KindRelease, FetchedAt: now, ExpiresAt: now.Add(-time.Minute)},
		))

		entry, ok, err := cache.Get(t.Context(), "release:fresh", now)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Len(t, entry.Tracklist, 1)

		_, ok, err = cache.Get(t.Context(), "release:stale", now)
		require.NoError(t, err)
		assert.False(t, ok)

		removed, err := cache.PurgeExpired(t.Context(), now)
		require.NoError(t, err)
		assert.LessOrEqual(t, removed, int64(1))
	})
}

func ptr[T any](value T) *T {
	return &value
}
