package records_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/cache"
	"github.com/MarcoPoloResearchLab/recordstore/internal/database"
	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"github.com/MarcoPoloResearchLab/recordstore/internal/ids"
	"github.com/MarcoPoloResearchLab/recordstore/internal/metadata"
	"github.com/MarcoPoloResearchLab/recordstore/internal/records"
	"github.com/MarcoPoloResearchLab/recordstore/internal/storage/gormstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const nevermindID = records.ExternalID("b10bbbfc-cf9e-42e0-be17-e2c3e1d2600d")

var nevermindTracks = []records.Track{
	{Title: "Smells Like Teen Spirit", Length: "5:02", ReleaseDate: "1991-09-24"},
	{Title: "In Bloom", Length: "4:14", ReleaseDate: "1991-09-24"},
}

type stubMetadata struct {
	mu       sync.Mutex
	resolved map[string]records.ExternalID
	tracks   map[records.ExternalID][]records.Track
	fetches  int
}

func newStubMetadata() *stubMetadata {
	return &stubMetadata{
		resolved: map[string]records.ExternalID{"Nirvana|Nevermind": nevermindID},
		tracks:   map[records.ExternalID][]records.Track{nevermindID: nevermindTracks},
	}
}

func (s *stubMetadata) ResolveExternalID(_ context.Context, artist, album string) (records.ExternalID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.resolved[artist+"|"+album]
	return id, ok
}

func (s *stubMetadata) FetchTracklist(_ context.Context, id records.ExternalID) []records.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return append([]records.Track{}, s.tracks[id]...)
}

type fixture struct {
	repository *gormstore.RecordRepository
	bus        *events.Bus
	listings   *cache.Cache[records.RecordsPage]
	ctx        context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "records.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := events.NewBus(events.BusConfig{})
	listings := cache.New[records.RecordsPage](cache.Config{TTL: time.Minute})
	cache.NewInvalidator(cache.InvalidatorConfig{
		Events:  bus,
		Targets: []cache.PrefixInvalidator{listings},
	}).Start(ctx)

	return &fixture{
		repository: gormstore.NewRecordRepository(db),
		bus:        bus,
		listings:   listings,
		ctx:        ctx,
	}
}

func (f *fixture) service(t *testing.T, metadataGateway records.MetadataGateway, autoResolve bool) *records.Service {
	t.Helper()
	service, err := records.NewService(records.ServiceConfig{
		Repository:  f.repository,
		Metadata:    metadataGateway,
		Events:      f.bus,
		Cache:       f.listings,
		IDProvider:  ids.NewUUIDProvider(),
		AutoResolve: autoResolve,
	})
	require.NoError(t, err)
	return service
}

func nevermind() records.CreateInput {
	return records.CreateInput{
		Artist:   "Nirvana",
		Album:    "Nevermind",
		Price:    decimal.RequireFromString("19.99"),
		Qty:      5,
		Format:   "vinyl",
		Category: "rock",
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := records.NewService(records.ServiceConfig{})
	require.Error(t, err)
	var serviceErr *records.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	assert.Equal(t, "records.service.new.missing_repository", serviceErr.Code())
}

func TestCreateRecordRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	service := f.service(t, nil, false)

	created, err := service.CreateRecord(t.Context(), nevermind())
	require.NoError(t, err)
	assert.Equal(t, records.FormatVinyl, created.Format)
	assert.Equal(t, records.CategoryRock, created.Category)

	_, err = service.CreateRecord(t.Context(), nevermind())
	require.ErrorIs(t, err, records.ErrDuplicateRecord)

	other := nevermind()
	other.Format = "CD"
	_, err = service.CreateRecord(t.Context(), other)
	require.NoError(t, err, "a different format is a different record")
}

func TestCreateRecordValidatesInput(t *testing.T) {
	service := newFixture(t).service(t, nil, false)

	cases := map[string]func(*records.CreateInput){
		"blank artist":      func(in *records.CreateInput) { in.Artist = "  " },
		"negative price":    func(in *records.CreateInput) { in.Price = decimal.NewFromInt(-1) },
		"fractional cents":  func(in *records.CreateInput) { in.Price = decimal.RequireFromString("1.999") },
		"qty above maximum": func(in *records.CreateInput) { in.Qty = records.MaxQty + 1 },
		"unknown category":  func(in *records.CreateInput) { in.Category = "polka" },
		"non v4 external":   func(in *records.CreateInput) { in.ExternalID = "b10bbbfc-cf9e-12e0-be17-e2c3e1d2600d" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := nevermind()
			mutate(&input)
			_, err := service.CreateRecord(t.Context(), input)
			require.ErrorIs(t, err, records.ErrInvalidInput)
			var validation *records.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestCreateRecordFetchesTracklistForExternalID(t *testing.T) {
	f := newFixture(t)
	service := f.service(t, newStubMetadata(), false)

	input := nevermind()
	input.ExternalID = "B10BBBFC-CF9E-42E0-BE17-E2C3E1D2600D"
	created, err := service.CreateRecord(t.Context(), input)
	require.NoError(t, err)
	assert.Equal(t, nevermindID, created.ExternalID)
	assert.Equal(t, nevermindTracks, []records.Track(created.Tracklist))

	stored, err := service.GetRecord(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, nevermindTracks, []records.Track(stored.Tracklist))
}

func TestCreateRecordDoesNotBlockOnUnreachableMetadata(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gateway, err := metadata.NewGateway(metadata.GatewayConfig{
		Lookup: metadata.NewClient(metadata.ClientConfig{BaseURL: server.URL, Timeout: time.Second}),
		Cache:  gormstore.NewMetadataCacheRepository(openDatabase(t)),
	})
	require.NoError(t, err)

	f := newFixture(t)
	service := f.service(t, gateway, false)

	input := nevermind()
	input.ExternalID = nevermindID.String()
	started := time.Now()
	created, err := service.CreateRecord(t.Context(), input)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 3*time.Second)
	assert.Empty(t, created.Tracklist)
	assert.NotNil(t, created.Tracklist)
	assert.Equal(t, nevermindID, created.ExternalID)
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestUpdateRecord(t *testing.T) {
	f := newFixture(t)
	stub := newStubMetadata()
	service := f.service(t, stub, false)

	created, err := service.CreateRecord(t.Context(), nevermind())
	require.NoError(t, err)
	inUtero := nevermind()
	inUtero.Album = "In Utero"
	_, err = service.CreateRecord(t.Context(), inUtero)
	require.NoError(t, err)

	price := decimal.RequireFromString("24.99")
	updated, err := service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{Price: &price})
	require.NoError(t, err)
	assert.True(t, price.Equal(updated.Price))
	assert.Equal(t, 5, updated.Qty)

	album := "In Utero"
	_, err = service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{Album: &album})
	require.ErrorIs(t, err, records.ErrDuplicateRecord)

	_, err = service.UpdateRecord(t.Context(), "missing", records.UpdateInput{Price: &price})
	require.ErrorIs(t, err, records.ErrRecordNotFound)

	externalID := nevermindID.String()
	updated, err = service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{ExternalID: &externalID})
	require.NoError(t, err)
	assert.Equal(t, nevermindTracks, []records.Track(updated.Tracklist))

	updated, err = service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{ClearExternalID: true})
	require.NoError(t, err)
	assert.True(t, updated.ExternalID.IsZero())
	assert.Empty(t, updated.Tracklist)

	_, err = service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{ExternalID: &externalID, ClearExternalID: true})
	require.ErrorIs(t, err, records.ErrInvalidInput)
}

func TestListRecordsServesFromCacheUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	service := f.service(t, nil, false)
	created, err := service.CreateRecord(t.Context(), nevermind())
	require.NoError(t, err)

	query := records.ListQuery{Search: "Nirvana"}
	require.Eventually(t, func() bool {
		_, _, _ = service.ListRecords(t.Context(), query)
		_, hit, err := service.ListRecords(t.Context(), query)
		return err == nil && hit
	}, 2*time.Second, 10*time.Millisecond)

	qty := 1
	_, err = service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{Qty: &qty})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		page, hit, err := service.ListRecords(t.Context(), query)
		return err == nil && !hit && len(page.Data) == 1 && page.Data[0].Qty == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestListRecordsRejectsUnknownSort(t *testing.T) {
	service := newFixture(t).service(t, nil, false)
	_, _, err := service.ListRecords(t.Context(), records.ListQuery{Sort: "popularity"})
	require.ErrorIs(t, err, records.ErrInvalidInput)
}

func TestEnricherResolvesRecordsInBackground(t *testing.T) {
	f := newFixture(t)
	stub := newStubMetadata()
	enricher, err := records.NewEnricher(records.EnricherConfig{
		Repository: f.repository,
		Metadata:   stub,
		Events:     f.bus,
	})
	require.NoError(t, err)
	enricher.Start(f.ctx)

	service := f.service(t, stub, true)
	created, err := service.CreateRecord(t.Context(), nevermind())
	require.NoError(t, err)
	assert.Empty(t, created.Tracklist)

	require.Eventually(t, func() bool {
		record, err := service.GetRecord(t.Context(), created.ID)
		return err == nil && record.ExternalID == nevermindID && len(record.Tracklist) == len(nevermindTracks)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnricherSkipsRecordsChangedInTheMeantime(t *testing.T) {
	f := newFixture(t)
	stub := newStubMetadata()
	service := f.service(t, nil, false)
	created, err := service.CreateRecord(t.Context(), nevermind())
	require.NoError(t, err)

	other := records.ExternalID("11111111-1111-4111-8111-111111111111")
	otherID := other.String()
	_, err = service.UpdateRecord(t.Context(), created.ID, records.UpdateInput{ExternalID: &otherID})
	require.NoError(t, err)

	enricher, err := records.NewEnricher(records.EnricherConfig{Repository: f.repository, Metadata: stub})
	require.NoError(t, err)
	applied, err := enricher.Enrich(t.Context(), events.Event{
		Topic:    events.TopicRecordEnrich,
		RecordID: created.ID,
		Artist:   "Nirvana",
		Album:    "Nevermind",
	})
	require.NoError(t, err)
	assert.False(t, applied)

	record, err := service.GetRecord(t.Context(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, other, record.ExternalID)
}

func TestBackfillerEnrichesRecordsWithoutTracks(t *testing.T) {
	f := newFixture(t)
	service := f.service(t, nil, false)

	first, err := service.CreateRecord(t.Context(), func() records.CreateInput {
		in := nevermind()
		in.ExternalID = nevermindID.String()
		return in
	}())
	require.NoError(t, err)
	unknown := nevermind()
	unknown.Album = "Bleach"
	unknown.ExternalID = "22222222-2222-4222-8222-222222222222"
	_, err = service.CreateRecord(t.Context(), unknown)
	require.NoError(t, err)
	noID := nevermind()
	noID.Album = "Incesticide"
	_, err = service.CreateRecord(t.Context(), noID)
	require.NoError(t, err)

	backfiller, err := records.NewBackfiller(records.BackfillConfig{
		Repository: f.repository,
		Metadata:   newStubMetadata(),
		Events:     f.bus,
		BatchSize:  1,
	})
	require.NoError(t, err)

	report, err := backfiller.Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, records.BackfillReport{Scanned: 2, Enriched: 1, Empty: 1}, report)

	record, err := service.GetRecord(t.Context(), first.ID)
	require.NoError(t, err)
	assert.Len(t, record.Tracklist, len(nevermindTracks))
}

func TestLookupExternalID(t *testing.T) {
	service := newFixture(t).service(t, newStubMetadata(), false)

	id, ok, err := service.LookupExternalID(t.Context(), " Nirvana ", "Nevermind")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, nevermindID, id)

	_, ok, err = service.LookupExternalID(t.Context(), "Unknown", "Nothing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = service.LookupExternalID(t.Context(), "", "Nevermind")
	require.ErrorIs(t, err, records.ErrInvalidInput)
}

func openDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "metadata.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
