package records

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errMissingRepository = errors.New("record repository is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "records.service.new"
	opCreateRecord    = "records.create_record"
	opUpdateRecord    = "records.update_record"
	opGetRecord       = "records.get_record"
	opListRecords     = "records.list_records"
	opLookupRecord    = "records.lookup_external_id"
	opEnrichRecord    = "records.enrich_record"
	opBackfillRecords = "records.backfill"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type IDProvider interface {
	NewID() (string, error)
}

// MetadataGateway resolves and fetches external catalog metadata. Implementations never
// fail: lookups that cannot be completed yield an absent id or an empty tracklist.
type MetadataGateway interface {
	ResolveExternalID(ctx context.Context, artist, album string) (ExternalID, bool)
	FetchTracklist(ctx context.Context, id ExternalID) []Track
}

type EventPublisher interface {
	Publish(event events.Event)
}

// ListCache is the read-through cache in front of ListRecords.
type ListCache interface {
	Fetch(ctx context.Context, key string, load func(context.Context) (RecordsPage, error)) (RecordsPage, bool, error)
}

type ServiceConfig struct {
	Repository  Repository
	Metadata    MetadataGateway
	Events      EventPublisher
	Cache       ListCache
	Clock       func() time.Time
	IDProvider  IDProvider
	Logger      *zap.Logger
	AutoResolve bool
}

type Service struct {
	repository  Repository
	metadata    MetadataGateway
	events      EventPublisher
	cache       ListCache
	clock       func() time.Time
	idProvider  IDProvider
	logger      *zap.Logger
	autoResolve bool
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opServiceNew, "missing_repository", errMissingRepository)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	metadata := cfg.Metadata
	if metadata == nil {
		metadata = noMetadata{}
	}

	publisher := cfg.Events
	if publisher == nil {
		publisher = discardEvents{}
	}

	return &Service{
		repository:  cfg.Repository,
		metadata:    metadata,
		events:      publisher,
		cache:       cfg.Cache,
		clock:       clock,
		idProvider:  cfg.IDProvider,
		logger:      logger,
		autoResolve: cfg.AutoResolve,
	}, nil
}

func (s *Service) CreateRecord(ctx context.Context, input CreateInput) (Record, error) {
	fields, err := input.normalize()
	if err != nil {
		return Record{}, newServiceError(opCreateRecord, "invalid_input", err)
	}

	_, exists, err := s.repository.FindByIdentity(ctx, fields.artist, fields.album, fields.format)
	if err != nil {
		s.logError(opCreateRecord, "identity_lookup_failed", err)
		return Record{}, newServiceError(opCreateRecord, "identity_lookup_failed", err)
	}
	if exists {
		return Record{}, newServiceError(opCreateRecord, "duplicate", ErrDuplicateRecord)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateRecord, "id_generation_failed", err)
		return Record{}, newServiceError(opCreateRecord, "id_generation_failed", err)
	}

	var tracks []Track
	if !fields.externalID.IsZero() {
		tracks = s.metadata.FetchTracklist(ctx, fields.externalID)
	}

	now := s.clock().UTC()
	record := Record{
		ID:           id,
		Artist:       fields.artist,
		Album:        fields.album,
		Format:       fields.format,
		Category:     fields.category,
		Price:        fields.price,
		Qty:          fields.qty,
		ExternalID:   fields.externalID,
		Tracklist:    NewTracklist(tracks),
		TrackCount:   len(tracks),
		Created:      now,
		LastModified: now,
	}

	if err := s.repository.Create(ctx, &record); err != nil {
		if errors.Is(err, ErrDuplicateRecord) {
			return Record{}, newServiceError(opCreateRecord, "duplicate", err)
		}
		s.logError(opCreateRecord, "record_insert_failed", err, zap.String("record_id", id))
		return Record{}, newServiceError(opCreateRecord, "record_insert_failed", err)
	}

	s.events.Publish(events.InvalidateRecordListings(now))
	s.requestEnrichment(record)
	return record, nil
}

func (s *Service) UpdateRecord(ctx context.Context, id string, input UpdateInput) (Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Record{}, newServiceError(opUpdateRecord, "invalid_input", invalid("id", "must not be empty"))
	}
	changes, err := input.normalize()
	if err != nil {
		return Record{}, newServiceError(opUpdateRecord, "invalid_input", err)
	}

	existing, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Record{}, newServiceError(opUpdateRecord, "not_found", err)
		}
		s.logError(opUpdateRecord, "record_select_failed", err, zap.String("record_id", id))
		return Record{}, newServiceError(opUpdateRecord, "record_select_failed", err)
	}

	if changes.touchesIdentity() {
		artist, album, format := existing.Artist, existing.Album, existing.Format
		if changes.Artist != nil {
			artist = *changes.Artist
		}
		if changes.Album != nil {
			album = *changes.Album
		}
		if changes.Format != nil {
			format = *changes.Format
		}
		other, exists, err := s.repository.FindByIdentity(ctx, artist, album, format)
		if err != nil {
			s.logError(opUpdateRecord, "identity_lookup_failed", err, zap.String("record_id", id))
			return Record{}, newServiceError(opUpdateRecord, "identity_lookup_failed", err)
		}
		if exists && other.ID != id {
			return Record{}, newServiceError(opUpdateRecord, "duplicate", ErrDuplicateRecord)
		}
	}

	switch {
	case input.ClearExternalID:
		cleared := ExternalID("")
		emptyTracks := []Track{}
		changes.ExternalID = &cleared
		changes.Tracklist = &emptyTracks
	case changes.ExternalID != nil && *changes.ExternalID == existing.ExternalID:
		changes.ExternalID = nil
	case changes.ExternalID != nil:
		tracks := s.metadata.FetchTracklist(ctx, *changes.ExternalID)
		if tracks == nil {
			tracks = []Track{}
		}
		changes.Tracklist = &tracks
	}

	now := s.clock().UTC()
	changes.LastModified = now

	updated, err := s.repository.Update(ctx, id, changes)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			return Record{}, newServiceError(opUpdateRecord, "not_found", err)
		case errors.Is(err, ErrDuplicateRecord):
			return Record{}, newServiceError(opUpdateRecord, "duplicate", err)
		}
		s.logError(opUpdateRecord, "record_update_failed", err, zap.String("record_id", id))
		return Record{}, newServiceError(opUpdateRecord, "record_update_failed", err)
	}

	s.events.Publish(events.InvalidateRecordListings(now))
	if changes.ExternalID != nil && !input.ClearExternalID {
		s.requestEnrichment(updated)
	}
	return updated, nil
}

func (s *Service) GetRecord(ctx context.Context, id string) (Record, error) {
	record, err := s.repository.FindByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Record{}, newServiceError(opGetRecord, "not_found", err)
		}
		s.logError(opGetRecord, "record_select_failed", err, zap.String("record_id", id))
		return Record{}, newServiceError(opGetRecord, "record_select_failed", err)
	}
	return record, nil
}

// ListRecords serves a page of records through the read-through cache. The boolean reports
// whether the page came from the cache.
func (s *Service) ListRecords(ctx context.Context, query ListQuery) (RecordsPage, bool, error) {
	filter, err := query.Normalize()
	if err != nil {
		return RecordsPage{}, false, newServiceError(opListRecords, "invalid_input", err)
	}

	load := func(loadCtx context.Context) (RecordsPage, error) {
		return s.loadPage(loadCtx, filter)
	}
	if s.cache == nil {
		page, err := load(ctx)
		return page, false, err
	}
	return s.cache.Fetch(ctx, filter.CacheKey(), load)
}

func (s *Service) loadPage(ctx context.Context, filter ListFilter) (RecordsPage, error) {
	var (
		items []Record
		total int64
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		items, err = s.repository.List(groupCtx, filter)
		return err
	})
	group.Go(func() error {
		var err error
		total, err = s.repository.Count(groupCtx, filter)
		return err
	})
	if err := group.Wait(); err != nil {
		s.logError(opListRecords, "records_query_failed", err, zap.String("cache_key", filter.CacheKey()))
		return RecordsPage{}, newServiceError(opListRecords, "records_query_failed", err)
	}
	if items == nil {
		items = []Record{}
	}
	return RecordsPage{
		Page:    filter.Page,
		PerPage: filter.PageSize,
		Total:   total,
		Data:    items,
	}, nil
}

// LookupExternalID resolves a release id for artist and album without touching any record.
func (s *Service) LookupExternalID(ctx context.Context, artist, album string) (ExternalID, bool, error) {
	normalizedArtist, err := normalizeText("artist", artist)
	if err != nil {
		return "", false, newServiceError(opLookupRecord, "invalid_input", err)
	}
	normalizedAlbum, err := normalizeText("album", album)
	if err != nil {
		return "", false, newServiceError(opLookupRecord, "invalid_input", err)
	}
	id, ok := s.metadata.ResolveExternalID(ctx, normalizedArtist, normalizedAlbum)
	return id, ok, nil
}

// requestEnrichment queues asynchronous metadata work when the synchronous path left the
// record without a tracklist.
func (s *Service) requestEnrichment(record Record) {
	if len(record.Tracklist) > 0 {
		return
	}
	if record.ExternalID.IsZero() && !s.autoResolve {
		return
	}
	s.events.Publish(events.Event{
		Topic:      events.TopicRecordEnrich,
		RecordID:   record.ID,
		ExternalID: record.ExternalID.String(),
		Artist:     record.Artist,
		Album:      record.Album,
		Timestamp:  s.clock().UTC(),
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	if s.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("record service failure", allFields...)
}

type noMetadata struct{}

func (noMetadata) ResolveExternalID(context.Context, string, string) (ExternalID, bool) {
	return "", false
}

func (noMetadata) FetchTracklist(context.Context, ExternalID) []Track {
	return nil
}

type discardEvents struct{}

func (discardEvents) Publish(events.Event) {}
