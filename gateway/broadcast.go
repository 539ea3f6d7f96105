package gateway

import (
	"sync"

	"github.com/brendan612/latchkey/wire"
)

// subscriberBuffer is the per-subscriber event queue depth. A subscriber
// that falls this far behind is evicted rather than stalling the publisher.
const subscriberBuffer = 8

type vaultKey struct {
	orgID   string
	vaultID string
}

// broadcaster fans vault-updated events out to live subscribers. Publish
// never blocks request handling.
type broadcaster struct {
	mu   sync.Mutex
	subs map[vaultKey]map[chan wire.VaultUpdatedEvent]struct{}

	metrics *metricsCollector
}

func newBroadcaster(metrics *metricsCollector) *broadcaster {
	return &broadcaster{
		subs:    make(map[vaultKey]map[chan wire.VaultUpdatedEvent]struct{}),
		metrics: metrics,
	}
}

// subscribe registers a new subscriber for one vault and returns its event
// channel plus an unsubscribe func.
func (b *broadcaster) subscribe(orgID, vaultID string) (<-chan wire.VaultUpdatedEvent, func()) {
	key := vaultKey{orgID: orgID, vaultID: vaultID}
	ch := make(chan wire.VaultUpdatedEvent, subscriberBuffer)

	b.mu.Lock()
	set, ok := b.subs[key]
	if !ok {
		set = make(map[chan wire.VaultUpdatedEvent]struct{})
		b.subs[key] = set
	}
	set[ch] = struct{}{}
	b.mu.Unlock()
	b.metrics.add(metricSubscribers, 1)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// The subscriber may already have been evicted by publish;
			// only count the removal once.
			if b.remove(key, ch) {
				b.metrics.add(metricSubscribers, -1)
			}
		})
	}
	return ch, cancel
}

// publish delivers the event to every subscriber of the vault. A subscriber
// whose buffer is full is evicted.
func (b *broadcaster) publish(orgID, vaultID string, event wire.VaultUpdatedEvent) {
	key := vaultKey{orgID: orgID, vaultID: vaultID}

	b.mu.Lock()
	var evicted []chan wire.VaultUpdatedEvent
	for ch := range b.subs[key] {
		select {
		case ch <- event:
		default:
			evicted = append(evicted, ch)
		}
	}
	for _, ch := range evicted {
		delete(b.subs[key], ch)
		close(ch)
	}
	if len(b.subs[key]) == 0 {
		delete(b.subs, key)
	}
	b.mu.Unlock()

	if n := len(evicted); n > 0 {
		b.metrics.add(metricSubscribers, -int64(n))
		b.metrics.add(metricEventsDropped, int64(n))
	}
}

func (b *broadcaster) remove(key vaultKey, ch chan wire.VaultUpdatedEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[key]
	if !ok {
		return false
	}
	_, present := set[ch]
	if present {
		delete(set, ch)
		close(ch)
	}
	if len(set) == 0 {
		delete(b.subs, key)
	}
	return present
}
