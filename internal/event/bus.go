package event

import (
	"strconv"
	"sync"

	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/dispatch/internal/logging"
)

// Handler receives published events.
type Handler func(Event)

type subscriber struct {
	id      string
	handler Handler
}

// Bus delivers events synchronously on the publishing goroutine. Handlers
// for the event's type run first, then wildcard handlers, each in
// subscription order. Publishers must not hold locks a handler may take.
type Bus struct {
	mu     sync.RWMutex
	byType map[string][]subscriber
	owner  map[string]string // subscription id -> event type
	seq    uint64
	logger *logging.Logger
}

// NewBus creates an empty bus. Handler panics are logged to logger.
func NewBus(logger *logging.Logger) *Bus {
	return &Bus{
		byType: make(map[string][]subscriber),
		owner:  make(map[string]string),
		logger: logging.OrNop(logger).WithComponent("event"),
	}
}

// Subscribe registers handler for eventType and returns the subscription id.
func (b *Bus) Subscribe(eventType string, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	id := eventType + "#" + strconv.FormatUint(b.seq, 10)
	b.byType[eventType] = append(b.byType[eventType], subscriber{id: id, handler: handler})
	b.owner[id] = eventType
	return id
}

// SubscribeAll registers handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) string {
	return b.Subscribe(Wildcard, handler)
}

// Unsubscribe removes a subscription. It reports whether id was registered.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.owner[id]
	if !ok {
		return false
	}
	delete(b.owner, id)

	subs := b.byType[eventType]
	for i := range subs {
		if subs[i].id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.byType, eventType)
	} else {
		b.byType[eventType] = subs
	}
	return true
}

// Publish delivers e to its subscribers. A panicking handler is logged and
// the remaining handlers still run.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	direct := b.byType[e.EventType()]
	wild := b.byType[Wildcard]
	b.mu.RUnlock()

	// Subscribe and Unsubscribe never mutate a published slice in place, so
	// the snapshots above stay valid without copying.
	for _, s := range direct {
		b.deliver(s, e)
	}
	for _, s := range wild {
		b.deliver(s, e)
	}
}

func (b *Bus) deliver(s subscriber, e Event) {
	var pc panics.Catcher
	pc.Try(func() { s.handler(e) })
	if r := pc.Recovered(); r != nil {
		b.logger.Error("event handler panicked",
			"event_type", e.EventType(),
			"subscription", s.id,
			"panic", r.String())
	}
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.byType)
	clear(b.owner)
}

// SubscriptionCount returns the number of registered handlers.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.owner)
}
