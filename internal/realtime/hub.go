package realtime

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rezerv/internal/metrics"
)

// Observer is one live connection able to receive channel events.
// The transport layer drains Events until Done is closed.
type Observer struct {
	ID string

	send chan []byte
	done chan struct{}
	once sync.Once
}

// Events returns the observer's outbound event stream.
func (o *Observer) Events() <-chan []byte {
	return o.send
}

// Done is closed when the observer has been dropped from the hub.
func (o *Observer) Done() <-chan struct{} {
	return o.done
}

func (o *Observer) close() {
	o.once.Do(func() { close(o.done) })
}

// Hub tracks which observers watch which owner channel and fans committed
// reservation events out to them. A slow or dead observer gets one bounded
// send attempt and is then evicted; it never stalls other observers or the
// publishing caller.
type Hub struct {
	mu        sync.RWMutex
	observers map[string]*Observer
	channels  map[string]map[string]struct{} // channel -> observer ids

	sendTimeout time.Duration
	bufferSize  int
	logger      *zerolog.Logger
}

func NewHub(sendTimeout time.Duration, bufferSize int, logger *zerolog.Logger) *Hub {
	if sendTimeout <= 0 {
		sendTimeout = 500 * time.Millisecond
	}
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Hub{
		observers:   make(map[string]*Observer),
		channels:    make(map[string]map[string]struct{}),
		sendTimeout: sendTimeout,
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Attach registers a live connection under an observer id. A reconnect
// with an id that is still attached replaces the previous connection:
// the old observer is dropped and a fresh one takes over the id.
func (h *Hub) Attach(id string) *Observer {
	o := &Observer{
		ID:   id,
		send: make(chan []byte, h.bufferSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	old, replaced := h.observers[id]
	if replaced {
		for channel := range h.channels {
			h.removeMember(id, channel)
		}
	}
	h.observers[id] = o
	h.mu.Unlock()

	if replaced {
		old.close()
	}
	return o
}

// Detach drops the observer only if it is still the one registered under
// its id. A stale connection detaching after a reconnect is a no-op, so
// it cannot take down its replacement.
func (h *Hub) Detach(o *Observer) {
	h.mu.Lock()
	registered := h.observers[o.ID] == o
	if registered {
		delete(h.observers, o.ID)
		for channel := range h.channels {
			h.removeMember(o.ID, channel)
		}
	}
	h.mu.Unlock()

	o.close()
}

// Subscribe adds the observer to a channel. Re-subscribing is a no-op.
// Unknown observer ids are ignored: the transport always attaches first.
func (h *Hub) Subscribe(observerID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.observers[observerID]; !ok {
		h.logger.Warn().Str("observer_id", observerID).Str("channel", channel).Msg("subscribe from unattached observer")
		return
	}

	members, ok := h.channels[channel]
	if !ok {
		members = make(map[string]struct{})
		h.channels[channel] = members
	}
	members[observerID] = struct{}{}
}

// Unsubscribe removes the observer from one channel.
func (h *Hub) Unsubscribe(observerID, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeMember(observerID, channel)
}

// DropObserver removes the observer from every channel it belonged to and
// detaches it. Safe to call multiple times.
func (h *Hub) DropObserver(observerID string) {
	h.mu.Lock()
	o, ok := h.observers[observerID]
	if ok {
		delete(h.observers, observerID)
		for channel := range h.channels {
			h.removeMember(observerID, channel)
		}
	}
	h.mu.Unlock()

	if ok {
		o.close()
	}
}

// MembersOf returns the current member ids of a channel.
func (h *Hub) MembersOf(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := h.channels[channel]
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// Publish delivers the event to every member of the channel at call time.
// Snapshot semantics: an observer subscribing during delivery may miss this
// event but receives all subsequent ones. Failed observers are dropped;
// the rest still get the event.
func (h *Hub) Publish(channel string, payload []byte) {
	h.mu.RLock()
	members := h.channels[channel]
	snapshot := make([]*Observer, 0, len(members))
	for id := range members {
		if o, ok := h.observers[id]; ok {
			snapshot = append(snapshot, o)
		}
	}
	h.mu.RUnlock()

	for _, o := range snapshot {
		if h.trySend(o, payload) {
			metrics.IncBroadcast("delivered")
			continue
		}
		metrics.IncBroadcast("dropped")
		h.logger.Warn().Str("observer_id", o.ID).Str("channel", channel).Msg("observer too slow, dropping")
		h.Detach(o)
	}
}

// trySend attempts one bounded delivery to the observer's buffer.
func (h *Hub) trySend(o *Observer, payload []byte) bool {
	select {
	case o.send <- payload:
		return true
	case <-o.done:
		return false
	default:
	}

	timer := time.NewTimer(h.sendTimeout)
	defer timer.Stop()

	select {
	case o.send <- payload:
		return true
	case <-o.done:
		return false
	case <-timer.C:
		return false
	}
}

// removeMember expects h.mu held.
func (h *Hub) removeMember(observerID, channel string) {
	members, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(members, observerID)
	if len(members) == 0 {
		delete(h.channels, channel)
	}
}
