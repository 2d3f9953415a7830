package metadata

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"go.uber.org/zap"
)

var errMissingLookup = errors.New("release lookup is required")

// ReleaseLookup is the remote catalog behind the gateway.
type ReleaseLookup interface {
	LookupRelease(ctx context.Context, id string) (Release, error)
	SearchRelease(ctx context.Context, artist, album string) (string, error)
}

type GatewayConfig struct {
	Lookup ReleaseLookup
	Cache  CacheRepository
	TTL    time.Duration
	Clock  func() time.Time
	Logger *zap.Logger
}

// Gateway serves external metadata through a persistent TTL cache. It never returns
// errors: failed lookups degrade to an absent id or an empty tracklist.
type Gateway struct {
	lookup ReleaseLookup
	cache  CacheRepository
	ttl    time.Duration
	clock  func() time.Time
	logger *zap.Logger
}

var _ records.MetadataGateway = (*Gateway)(nil)

func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Lookup == nil {
		return nil, errMissingLookup
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		lookup: cfg.Lookup,
		cache:  cfg.Cache,
		ttl:    ttl,
		clock:  clock,
		logger: logger,
	}, nil
}

func (g *Gateway) ResolveExternalID(ctx context.Context, artist, album string) (records.ExternalID, bool) {
	artist = strings.TrimSpace(artist)
	album = strings.TrimSpace(album)
	if artist == "" || album == "" {
		return "", false
	}

	key := searchKey(artist, album)
	if entry, ok := g.cached(ctx, key); ok && !entry.ExternalID.IsZero() {
		return entry.ExternalID, true
	}

	rawID, err := g.lookup.SearchRelease(ctx, artist, album)
	if err != nil {
		g.logLookupFailure("release search failed", err, zap.String("artist", artist), zap.String("album", album))
		return "", false
	}
	id, err := records.ParseExternalID(rawID)
	if err != nil {
		g.logger.Warn("release search returned an invalid id",
			zap.String("artist", artist),
			zap.String("album", album),
			zap.String("raw_id", rawID))
		return "", false
	}

	now := g.clock().UTC()
	g.store(ctx, CacheEntry{
		Key:        key,
		Kind:       KindSearch,
		ExternalID: id,
		Tracklist:  records.NewTracklist(nil),
		FetchedAt:  now,
		ExpiresAt:  now.Add(g.ttl),
	})
	return id, true
}

func (g *Gateway) FetchTracklist(ctx context.Context, id records.ExternalID) []records.Track {
	if id.IsZero() {
		return []records.Track{}
	}
	if entry, ok := g.cached(ctx, releaseKey(id)); ok {
		return append([]records.Track{}, entry.Tracklist...)
	}

	release, err := g.lookup.LookupRelease(ctx, id.String())
	if err != nil {
		g.logLookupFailure("release lookup failed", err, zap.String("external_id", id.String()))
		return []records.Track{}
	}

	tracks := make([]records.Track, 0, len(release.Tracks))
	for _, track := range release.Tracks {
		tracks = append(tracks, records.Track{
			Title:       track.Title,
			Length:      formatLength(track.LengthMS),
			ReleaseDate: release.Date,
			HasVideo:    track.HasVideo,
		})
	}

	now := g.clock().UTC()
	entries := make([]CacheEntry, 0, 2)
	resolved, err := records.ParseExternalID(release.ID)
	if err == nil && resolved != id {
		entries = append(entries, g.releaseEntry(resolved, tracks, now))
		g.logger.Info("release id redirected",
			zap.String("requested_id", id.String()),
			zap.String("resolved_id", resolved.String()))
	}
	entries = append(entries, g.releaseEntry(id, tracks, now))
	g.store(ctx, entries...)
	return tracks
}

func (g *Gateway) releaseEntry(id records.ExternalID, tracks []records.Track, now time.Time) CacheEntry {
	return CacheEntry{
		Key:        releaseKey(id),
		Kind:       KindRelease,
		ExternalID: id,
		Tracklist:  records.NewTracklist(tracks),
		FetchedAt:  now,
		ExpiresAt:  now.Add(g.ttl),
	}
}

func (g *Gateway) cached(ctx context.Context, key string) (CacheEntry, bool) {
	if g.cache == nil {
		return CacheEntry{}, false
	}
	entry, ok, err := g.cache.Get(ctx, key, g.clock().UTC())
	if err != nil {
		g.logger.Warn("metadata cache read failed", zap.String("key", key), zap.Error(err))
		return CacheEntry{}, false
	}
	return entry, ok
}

func (g *Gateway) store(ctx context.Context, entries ...CacheEntry) {
	if g.cache == nil || len(entries) == 0 {
		return
	}
	if err := g.cache.Put(ctx, entries...); err != nil {
		g.logger.Warn("metadata cache write failed", zap.Error(err))
	}
}

func (g *Gateway) logLookupFailure(message string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	if errors.Is(err, ErrReleaseNotFound) {
		g.logger.Info(message, fields...)
		return
	}
	g.logger.Warn(message, fields...)
}

func searchKey(artist, album string) string {
	return string(KindSearch) + ":" + url.QueryEscape(strings.ToLower(artist)) + "|" + url.QueryEscape(strings.ToLower(album))
}
