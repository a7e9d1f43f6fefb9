package exchange

import (
	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/efreitasn/marketsim/internal/metrics"
)

// DefaultEventBuffer is the channel capacity used when Subscribe is
// given a non-positive buffer.
const DefaultEventBuffer = 64

// Subscription is a subscriber's handle on the exchange event stream.
// Events are delivered at most once; a full buffer drops the event.
type Subscription struct {
	key domain.Key
	ch  chan domain.Event
}

// Key returns the subscriber key.
func (s *Subscription) Key() domain.Key { return s.key }

// Events returns the receive side of the stream. It is closed by
// Unsubscribe.
func (s *Subscription) Events() <-chan domain.Event { return s.ch }

// Drain returns every buffered event without blocking.
func (s *Subscription) Drain() []domain.Event {
	var out []domain.Event
	for {
		select {
		case ev, ok := <-s.ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Subscribe registers key for events. Subscribing an existing key
// returns its current subscription.
func (ex *Exchange) Subscribe(key domain.Key, buffer int) *Subscription {
	ex.subMu.Lock()
	defer ex.subMu.Unlock()

	for _, s := range ex.subs {
		if s.key == key {
			return s
		}
	}
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	s := &Subscription{key: key, ch: make(chan domain.Event, buffer)}
	ex.subs = append(ex.subs, s)
	return s
}

// Unsubscribe removes key's subscription and closes its channel. It
// returns false if key was not subscribed.
func (ex *Exchange) Unsubscribe(key domain.Key) bool {
	ex.subMu.Lock()
	defer ex.subMu.Unlock()

	for i, s := range ex.subs {
		if s.key == key {
			ex.subs = append(ex.subs[:i], ex.subs[i+1:]...)
			close(s.ch)
			return true
		}
	}
	return false
}

// publish pushes ev to every subscriber in subscription order without
// blocking.
func (ex *Exchange) publish(ev domain.Event) {
	ex.subMu.Lock()
	defer ex.subMu.Unlock()

	for _, s := range ex.subs {
		select {
		case s.ch <- ev:
		default:
			metrics.EventsDroppedTotal.Inc()
		}
	}
}
