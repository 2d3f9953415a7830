package records

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultBackfillBatchSize = 10

type BackfillConfig struct {
	Repository Repository
	Metadata   MetadataGateway
	Events     EventPublisher
	BatchSize  int
	Clock      func() time.Time
	Logger     *zap.Logger
}

type BackfillReport struct {
	Scanned  int
	Enriched int
	Empty    int
	Failed   int
}

// Backfiller makes a single pass over records that carry an external id but no tracks.
type Backfiller struct {
	repository Repository
	metadata   MetadataGateway
	events     EventPublisher
	batchSize  int
	clock      func() time.Time
	logger     *zap.Logger
}

func NewBackfiller(cfg BackfillConfig) (*Backfiller, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opBackfillRecords, "missing_repository", errMissingRepository)
	}
	if cfg.Metadata == nil {
		return nil, newServiceError(opBackfillRecords, "missing_metadata", errMissingMetadata)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBackfillBatchSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	publisher := cfg.Events
	if publisher == nil {
		publisher = discardEvents{}
	}
	return &Backfiller{
		repository: cfg.Repository,
		metadata:   cfg.Metadata,
		events:     publisher,
		batchSize:  batchSize,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Run processes candidates batch by batch; records within a batch are enriched concurrently.
// Individual failures are logged and counted, never retried within the pass.
func (b *Backfiller) Run(ctx context.Context) (BackfillReport, error) {
	var (
		report   BackfillReport
		enriched atomic.Int64
		empty    atomic.Int64
		failed   atomic.Int64
		cursor   string
	)

	for {
		batch, err := b.repository.FindMissingTracklists(ctx, cursor, b.batchSize)
		if err != nil {
			b.logger.Error("backfill candidate query failed", zap.Error(err))
			return b.finish(report, &enriched, &empty, &failed), newServiceError(opBackfillRecords, "candidate_query_failed", err)
		}
		if len(batch) == 0 {
			break
		}
		report.Scanned += len(batch)
		cursor = batch[len(batch)-1].ID

		group, groupCtx := errgroup.WithContext(ctx)
		for _, record := range batch {
			group.Go(func() error {
				b.enrichOne(groupCtx, record, &enriched, &empty, &failed)
				return groupCtx.Err()
			})
		}
		if err := group.Wait(); err != nil {
			return b.finish(report, &enriched, &empty, &failed), newServiceError(opBackfillRecords, "cancelled", err)
		}
		if len(batch) < b.batchSize {
			break
		}
	}

	report = b.finish(report, &enriched, &empty, &failed)
	if report.Enriched > 0 {
		b.events.Publish(events.InvalidateRecordListings(b.clock().UTC()))
	}
	b.logger.Info("backfill completed",
		zap.Int("scanned", report.Scanned),
		zap.Int("enriched", report.Enriched),
		zap.Int("empty", report.Empty),
		zap.Int("failed", report.Failed))
	return report, nil
}

func (b *Backfiller) enrichOne(ctx context.Context, record Record, enriched, empty, failed *atomic.Int64) {
	tracks := b.metadata.FetchTracklist(ctx, record.ExternalID)
	if len(tracks) == 0 {
		empty.Add(1)
		b.logger.Warn("backfill found no tracks",
			zap.String("record_id", record.ID),
			zap.String("external_id", record.ExternalID.String()))
		return
	}
	applied, err := b.repository.ApplyEnrichment(ctx, EnrichmentUpdate{
		RecordID:           record.ID,
		ExpectedExternalID: record.ExternalID,
		ExternalID:         record.ExternalID,
		Tracklist:          tracks,
		LastModified:       b.clock().UTC(),
	})
	if err != nil {
		failed.Add(1)
		b.logger.Error("backfill update failed",
			zap.String("record_id", record.ID),
			zap.Error(err))
		return
	}
	if !applied {
		empty.Add(1)
		b.logger.Warn("backfill skipped record changed concurrently", zap.String("record_id", record.ID))
		return
	}
	enriched.Add(1)
	b.logger.Info("backfill enriched record",
		zap.String("record_id", record.ID),
		zap.Int("tracks", len(tracks)))
}

func (b *Backfiller) finish(report BackfillReport, enriched, empty, failed *atomic.Int64) BackfillReport {
	report.Enriched = int(enriched.Load())
	report.Empty = int(empty.Load())
	report.Failed = int(failed.Load())
	return report
}
