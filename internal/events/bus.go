package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Topic string

const (
	// TopicCacheInvalidate carries a cache key prefix in Scope. An empty scope clears everything.
	TopicCacheInvalidate Topic = "cache.invalidate"
	// TopicRecordEnrich asks the enrichment worker to resolve or refresh a record's metadata.
	TopicRecordEnrich Topic = "records.enrich"
)

const (
	ScopeRecordListings = "records:list"
	defaultBufferSize   = 64

	// DefaultDeliveryTimeout is how long Publish waits on a full subscriber of a topic
	// whose events cannot be coalesced.
	DefaultDeliveryTimeout = 250 * time.Millisecond
)

// coalescable reports whether a later event of the topic supersedes a dropped one.
func (t Topic) coalescable() bool {
	return t == TopicCacheInvalidate
}

type Event struct {
	Topic      Topic
	Scope      string
	RecordID   string
	ExternalID string
	Artist     string
	Album      string
	Timestamp  time.Time
}

// InvalidateRecordListings builds the event emitted after every stock or catalog write.
func InvalidateRecordListings(at time.Time) Event {
	return Event{Topic: TopicCacheInvalidate, Scope: ScopeRecordListings, Timestamp: at}
}

type BusConfig struct {
	BufferSize      int
	DeliveryTimeout time.Duration
	Logger          *zap.Logger
}

// Bus fans events out to per-topic subscribers. Cache invalidations never block: a full
// subscriber misses the event, and the next invalidation covers it. Enrichment requests
// wait up to the delivery timeout for buffer space before they are dropped. Every drop
// is logged.
type Bus struct {
	mu              sync.RWMutex
	subscribers     map[Topic]map[int64]*subscriber
	nextID          int64
	bufferSize      int
	deliveryTimeout time.Duration
	logger          *zap.Logger
}

type subscriber struct {
	id     int64
	stream chan Event
}

func NewBus(cfg BusConfig) *Bus {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	deliveryTimeout := cfg.DeliveryTimeout
	if deliveryTimeout <= 0 {
		deliveryTimeout = DefaultDeliveryTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers:     make(map[Topic]map[int64]*subscriber),
		bufferSize:      bufferSize,
		deliveryTimeout: deliveryTimeout,
		logger:          logger,
	}
}

// Subscribe registers a buffered stream for the topic. The subscription ends when ctx is
// cancelled or the returned cleanup function is called.
func (b *Bus) Subscribe(ctx context.Context, topic Topic) (<-chan Event, func()) {
	if topic == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     b.nextSequence(),
		stream: make(chan Event, b.bufferSize),
	}
	b.register(topic, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.unregister(topic, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

func (b *Bus) Publish(event Event) {
	if event.Topic == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	subscribers := b.subscribers[event.Topic]
	if len(subscribers) == 0 {
		b.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(subscribers))
	for _, sub := range subscribers {
		copies = append(copies, sub)
	}
	b.mu.RUnlock()
	for _, sub := range copies {
		if b.deliver(sub, event) {
			continue
		}
		b.logger.Warn("event dropped for slow subscriber",
			zap.String("topic", string(event.Topic)),
			zap.String("scope", event.Scope),
			zap.String("record_id", event.RecordID),
			zap.Int64("subscriber_id", sub.id))
	}
}

func (b *Bus) deliver(sub *subscriber, event Event) bool {
	select {
	case sub.stream <- event:
		return true
	default:
	}
	if event.Topic.coalescable() {
		return false
	}
	timer := time.NewTimer(b.deliveryTimeout)
	defer timer.Stop()
	select {
	case sub.stream <- event:
		return true
	case <-timer.C:
		return false
	}
}

func (b *Bus) nextSequence() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	return b.nextID
}

func (b *Bus) register(topic Topic, sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[int64]*subscriber)
	}
	b.subscribers[topic][sub.id] = sub
}

func (b *Bus) unregister(topic Topic, subscriberID int64) {
	b.mu.Lock()
	subscribers := b.subscribers[topic]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(b.subscribers, topic)
		}
	}
	b.mu.Unlock()
}
