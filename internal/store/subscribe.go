package store

import (
	"time"
)

// DefaultChannelBufferSize is the buffer of each subscriber channel.
const DefaultChannelBufferSize = 64

// Op names the kind of change.
type Op string

const (
	OpSet      Op = "set"
	OpAdd      Op = "add"
	OpUpdate   Op = "update"
	OpRemove   Op = "remove"
	OpMarkRead Op = "mark_read"
	OpClear    Op = "clear"
	OpRestore  Op = "restore"
	OpLoading  Op = "loading"
	OpError    Op = "error"
)

// Change is delivered to subscribers after every mutation or state transition.
type Change struct {
	Collection Collection `json:"collection"`
	Op         Op         `json:"op"`
	ID         string     `json:"id,omitempty"`
	At         time.Time  `json:"at"`
}

type subscriber struct {
	ch chan Change
}

// Subscribe returns a channel of changes and a function that unsubscribes and
// closes the channel. Delivery never blocks a mutation: events for a
// subscriber whose buffer is full are dropped.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	sub := &subscriber{ch: make(chan Change, DefaultChannelBufferSize)}
	if s.closed {
		close(sub.ch)
		return sub.ch, func() {}
	}
	s.subscribers = append(s.subscribers, sub)

	return sub.ch, func() { s.unsubscribe(sub) }
}

func (s *Store) unsubscribe(sub *subscriber) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for i, existing := range s.subscribers {
		if existing == sub {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (s *Store) publish(change Change) {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	for _, sub := range s.subscribers {
		select {
		case sub.ch <- change:
		default:
			if s.metrics != nil {
				s.metrics.RecordSubscriberDrop()
			}
		}
	}
}

func (s *Store) closeSubscribers() {
	s.subscribersMu.Lock()
	defer s.subscribersMu.Unlock()

	s.closed = true
	for _, sub := range s.subscribers {
		close(sub.ch)
	}
	s.subscribers = nil
}
