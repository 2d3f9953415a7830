package gormstore

import (
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataCacheTreatsExpiredEntriesAsAbsent(t *testing.T) {
	repo := NewMetadataCacheRepository(openTestDatabase(t))

	entry := metadata.CacheEntry{
		Key:        "release:b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d",
		Kind:       metadata.KindRelease,
		ExternalID: "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d",
		Tracklist:  records.NewTracklist([]records.Track{{Title: "Song A", Length: "3:00"}}),
		FetchedAt:  baseTime,
		ExpiresAt:  baseTime.Add(time.Hour),
	}
	require.NoError(t, repo.Put(t.Context(), entry))

	stored, ok, err := repo.Get(t.Context(), entry.Key, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, stored.Tracklist, 1)
	assert.Equal(t, "Song A", stored.Tracklist[0].Title)

	_, ok, err = repo.Get(t.Context(), entry.Key, baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMetadataCachePutUpsertsAndPurges(t *testing.T) {
	repo := NewMetadataCacheRepository(openTestDatabase(t))
	key := "search:nirvana|nevermind"

	require.NoError(t, repo.Put(t.Context(), metadata.CacheEntry{
		Key: key, Kind: metadata.KindSearch, ExternalID: "b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d",
		Tracklist: records.NewTracklist(nil), FetchedAt: baseTime, ExpiresAt: baseTime.Add(time.Minute),
	}))
	require.NoError(t, repo.Put(t.Context(), metadata.CacheEntry{
		Key: key, Kind: metadata.KindSearch, ExternalID: "f1d2c3b4-a5b6-4c7d-8e9f-0a1b2c3d4e5f",
		Tracklist: records.NewTracklist(nil), FetchedAt: baseTime, ExpiresAt: baseTime.Add(time.Hour),
	}))

	stored, ok, err := repo.Get(t.Context(), key, baseTime.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, records.ExternalID("f1d2c3b4-a5b6-4c7d-8e9f-0a1b2c3d4e5f"), stored.ExternalID)

	removed, err := repo.PurgeExpired(t.Context(), baseTime.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
