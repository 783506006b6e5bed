package kg

import (
	"context"
	"sync"
	"time"

	"synapse/internal/observability"
)

// writeBuffer batches the three graphs' high-frequency mutations and
// flushes them in bulk every ~1.5s or on Close, per §4.7's write-buffer
// requirement. Test mode disables the ticker and flushes synchronously on
// every enqueue, so callers observe writes deterministically.
type writeBuffer struct {
	store Store

	mu       sync.Mutex
	routing  map[string][]RoutingDelta // user -> pending deltas
	entities map[string][]EntityDelta
	actions  map[string][]ActionDelta

	testMode bool
	stop     chan struct{}
	done     chan struct{}
}

const flushInterval = 1500 * time.Millisecond

func newWriteBuffer(store Store, testMode bool) *writeBuffer {
	b := &writeBuffer{
		store:    store,
		routing:  map[string][]RoutingDelta{},
		entities: map[string][]EntityDelta{},
		actions:  map[string][]ActionDelta{},
		testMode: testMode,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if !testMode {
		go b.run()
	} else {
		close(b.done)
	}
	return b
}

func (b *writeBuffer) run() {
	defer close(b.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.Flush(context.Background()); err != nil {
				observability.LoggerWithTrace(context.Background()).Warn().Err(err).Msg("kg write buffer flush failed")
			}
		case <-b.stop:
			_ = b.Flush(context.Background())
			return
		}
	}
}

// Close stops the flush ticker (if running) and flushes any remaining data.
func (b *writeBuffer) Close() {
	select {
	case <-b.done:
		return
	default:
	}
	close(b.stop)
	<-b.done
}

func (b *writeBuffer) enqueueRouting(user string, deltas []RoutingDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routing[user] = append(b.routing[user], deltas...)
	if b.testMode {
		b.flushLocked(context.Background())
	}
}

func (b *writeBuffer) enqueueEntities(user string, deltas []EntityDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entities[user] = append(b.entities[user], deltas...)
	if b.testMode {
		b.flushLocked(context.Background())
	}
}

func (b *writeBuffer) enqueueActions(user string, deltas []ActionDelta) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions[user] = append(b.actions[user], deltas...)
	if b.testMode {
		b.flushLocked(context.Background())
	}
}

// Flush applies every pending mutation to the store. Safe to call
// concurrently with enqueue*.
func (b *writeBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked(ctx)
}

func (b *writeBuffer) flushLocked(ctx context.Context) error {
	for user, deltas := range b.routing {
		if len(deltas) == 0 {
			continue
		}
		if err := b.store.BulkUpsertRoutingStats(ctx, user, deltas); err != nil {
			return err
		}
		delete(b.routing, user)
	}
	for user, deltas := range b.entities {
		if len(deltas) == 0 {
			continue
		}
		if err := b.store.BulkUpsertEntities(ctx, user, deltas); err != nil {
			return err
		}
		delete(b.entities, user)
	}
	for user, deltas := range b.actions {
		if len(deltas) == 0 {
			continue
		}
		if err := b.store.BulkUpsertActionEffectiveness(ctx, user, deltas); err != nil {
			return err
		}
		delete(b.actions, user)
	}
	return nil
}
