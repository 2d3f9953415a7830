package cache

import (
	"context"

	"github.com/MarcoPoloResearchLab/recordstore/internal/events"
	"go.uber.org/zap"
)

type Subscriber interface {
	Subscribe(ctx context.Context, topic events.Topic) (<-chan events.Event, func())
}

type PrefixInvalidator interface {
	InvalidatePrefix(prefix string) int
}

type InvalidatorConfig struct {
	Events  Subscriber
	Targets []PrefixInvalidator
	Logger  *zap.Logger
}

// Invalidator evicts cached entries whose keys match the scope of cache.invalidate events.
type Invalidator struct {
	events  Subscriber
	targets []PrefixInvalidator
	logger  *zap.Logger
}

func NewInvalidator(cfg InvalidatorConfig) *Invalidator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		events:  cfg.Events,
		targets: cfg.Targets,
		logger:  logger,
	}
}

// Start subscribes before returning, so no event published afterwards is missed.
// The returned channel closes once ctx is cancelled and the loop has exited.
func (i *Invalidator) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	if i.events == nil {
		close(done)
		return done
	}
	stream, cleanup := i.events.Subscribe(ctx, events.TopicCacheInvalidate)
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
				i.apply(event)
			}
		}
	}()
	return done
}

func (i *Invalidator) apply(event events.Event) {
	removed := 0
	for _, target := range i.targets {
		removed += target.InvalidatePrefix(event.Scope)
	}
	i.logger.Debug("cache invalidated",
		zap.String("scope", event.Scope),
		zap.Int("removed", removed))
}
