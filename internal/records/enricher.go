package records

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"go.uber.org/zap"
)

var errMissingMetadata = errors.New("metadata gateway is required")

type EventSubscriber interface {
	Subscribe(ctx context.Context, topic events.Topic) (<-chan events.Event, func())
}

type EnricherConfig struct {
	Repository Repository
	Metadata   MetadataGateway
	Events     interface {
		EventSubscriber
		EventPublisher
	}
	Clock  func() time.Time
	Logger *zap.Logger
}

// Enricher consumes records.enrich events and fills in external ids and tracklists
// outside of the request path.
type Enricher struct {
	repository Repository
	metadata   MetadataGateway
	subscriber EventSubscriber
	publisher  EventPublisher
	clock      func() time.Time
	logger     *zap.Logger
}

func NewEnricher(cfg EnricherConfig) (*Enricher, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opEnrichRecord, "missing_repository", errMissingRepository)
	}
	if cfg.Metadata == nil {
		return nil, newServiceError(opEnrichRecord, "missing_metadata", errMissingMetadata)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	enricher := &Enricher{
		repository: cfg.Repository,
		metadata:   cfg.Metadata,
		clock:      clock,
		logger:     logger,
		publisher:  discardEvents{},
	}
	if cfg.Events != nil {
		enricher.subscriber = cfg.Events
		enricher.publisher = cfg.Events
	}
	return enricher, nil
}

// Start subscribes synchronously and processes events until ctx is cancelled.
func (e *Enricher) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if e.subscriber == nil {
		close(done)
		return done
	}
	stream, cleanup := e.subscriber.Subscribe(ctx, events.TopicRecordEnrich)
	go func() {
		defer close(done)
		defer cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				if _, err := e.Enrich(ctx, event); err != nil && ctx.Err() == nil {
					e.logger.Warn("record enrichment failed",
						zap.String("record_id", event.RecordID),
						zap.Error(err))
				}
			}
		}
	}()
	return done
}

// Enrich resolves a missing external id and fetches the tracklist for one record.
// It reports whether the record was updated.
func (e *Enricher) Enrich(ctx context.Context, event events.Event) (bool, error) {
	expected := ExternalID(event.ExternalID)
	target := expected
	if target.IsZero() {
		resolved, ok := e.metadata.ResolveExternalID(ctx, event.Artist, event.Album)
		if !ok {
			e.logger.Info("no external id found for record",
				zap.String("record_id", event.RecordID),
				zap.String("artist", event.Artist),
				zap.String("album", event.Album))
			return false, nil
		}
		target = resolved
	}

	tracks := e.metadata.FetchTracklist(ctx, target)
	if len(tracks) == 0 && target == expected {
		e.logger.Info("tracklist still unavailable",
			zap.String("record_id", event.RecordID),
			zap.String("external_id", target.String()))
		return false, nil
	}

	applied, err := e.repository.ApplyEnrichment(ctx, EnrichmentUpdate{
		RecordID:           event.RecordID,
		ExpectedExternalID: expected,
		ExternalID:         target,
		Tracklist:          tracks,
		LastModified:       e.clock().UTC(),
	})
	if err != nil {
		return false, newServiceError(opEnrichRecord, "record_update_failed", err)
	}
	if !applied {
		e.logger.Info("record changed before enrichment completed",
			zap.String("record_id", event.RecordID))
		return false, nil
	}

	e.publisher.Publish(events.InvalidateRecordListings(e.clock().UTC()))
	e.logger.Info("record enriched",
		zap.String("record_id", event.RecordID),
		zap.String("external_id", target.String()),
		zap.Int("tracks", len(tracks)))
	return true, nil
}
