package streamevent

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber channel capacity before a
// subscriber is considered lagging and dropped.
const DefaultBufferSize = 64

// Subscription is a bounded channel of Events for one session, plus the
// lagged flag a consumer can check after the channel closes.
type Subscription struct {
	C   <-chan Event
	sub *subscriber
}

// Lagged reports whether this subscription was dropped for falling behind
// rather than because the session completed normally.
func (s *Subscription) Lagged() bool { return s.sub.lagged.Load() }

// Hub fans events for many sessions out to any number of subscribers per
// session. It never blocks the producer: a subscriber whose buffer fills is
// dropped (its Lagged flag set, its channel closed) instead of applying
// back-pressure to the Reasoning Loop. No lag event is sent on the channel.
type Hub struct {
	log *slog.Logger

	mu   sync.Mutex
	subs map[string][]*subscriber
}

type subscriber struct {
	ch     chan Event
	lagged atomic.Bool
}

// NewHub creates an empty Hub. log defaults to slog.Default() if nil.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, subs: make(map[string][]*subscriber)}
}

// Subscribe registers a new subscriber for sessionID and returns a read-only
// channel of Events. The channel is closed when Close(sessionID) is called
// or when the subscriber is dropped for lagging.
func (h *Hub) Subscribe(sessionID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, DefaultBufferSize)}
	h.subs[sessionID] = append(h.subs[sessionID], sub)

	return &Subscription{C: sub.ch, sub: sub}
}

// Publish delivers ev to every subscriber of ev.SessionID. A subscriber
// whose buffer is full is dropped immediately: its Lagged flag is set and
// its channel closed, and Publish never blocks waiting for a slow consumer.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[ev.SessionID]
	if len(subs) == 0 {
		return
	}

	kept := subs[:0]
	for _, sub := range subs {
		select {
		case sub.ch <- ev:
			kept = append(kept, sub)
		default:
			sub.lagged.Store(true)
			close(sub.ch)
			h.log.Warn("streamevent subscriber dropped for lag", "session_id", ev.SessionID)
		}
	}
	h.subs[ev.SessionID] = kept
}

// Close closes every subscriber channel for sessionID (normal completion,
// not lag) and forgets the session.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[sessionID] {
		close(sub.ch)
	}
	delete(h.subs, sessionID)
}

// SubscriberCount reports how many live subscribers a session currently has.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
