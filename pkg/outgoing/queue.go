package outgoing

import "sync/atomic"

// Queue receives events of committed transactions in commit order.
type Queue interface {
	Put(Event)
}

// ChannelQueue is a bounded queue that never blocks the engine writer. When
// full it drops the oldest pending event to make room for the new one;
// consumers needing a complete history must drain fast enough and can watch
// Dropped for gaps.
type ChannelQueue struct {
	ch      chan Event
	dropped atomic.Uint64
}

func NewChannelQueue(capacity int) *ChannelQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &ChannelQueue{ch: make(chan Event, capacity)}
}

func (q *ChannelQueue) Put(e Event) {
	for {
		select {
		case q.ch <- e:
			return
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Events is the consumer side of the queue.
func (q *ChannelQueue) Events() <-chan Event { return q.ch }

// Dropped reports how many events were discarded because the queue was full.
func (q *ChannelQueue) Dropped() uint64 { return q.dropped.Load() }

// NopQueue discards all events.
type NopQueue struct{}

func (NopQueue) Put(Event) {}

// CollectQueue retains all events, for tests and batch consumers.
type CollectQueue struct {
	events []Event
}

func (q *CollectQueue) Put(e Event) { q.events = append(q.events, e) }

func (q *CollectQueue) All() []Event { return q.events }
