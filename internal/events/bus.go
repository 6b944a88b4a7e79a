package events

import (
	"context"
	"sync"

	"github.com/pueued/pueued/internal/logger"
)

// subscriberChanSize bounds how far a slow subscriber can lag before events
// are dropped for it; the daemon itself never blocks on a subscriber.
const subscriberChanSize = 64

// Bus is an in-process Publisher: a single daemon has no other process to
// pub/sub with, so fan-out happens over Go channels rather than a broker
// (replacing the teacher's Redis-backed implementation, which assumed a
// separate worker process on the other end).
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	types map[EventType]bool
	ch    chan *Event
}

// NewBus creates an empty in-process event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscription)}
}

// Publish fans event out to every subscriber interested in its type. A
// subscriber whose channel is full has the event dropped for it rather than
// blocking the publisher (the daemon's state lock must never wait on a
// slow reader).
func (b *Bus) Publish(ctx context.Context, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if len(sub.types) > 0 && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			logger.Get().Warn().
				Str("event_type", string(event.Type)).
				Msg("dropping event for slow subscriber")
		}
	}
	return nil
}

// Subscribe returns a channel that receives every published event matching
// one of eventTypes (or all events, if none are given). The channel closes
// when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, eventTypes ...EventType) (<-chan *Event, error) {
	types := make(map[EventType]bool, len(eventTypes))
	for _, et := range eventTypes {
		types[et] = true
	}

	sub := &subscription{types: types, ch: make(chan *Event, subscriberChanSize)}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

// Close drops every subscriber. Subscriber channels are left for the
// garbage collector; callers should have cancelled their subscribe context
// first.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]*subscription)
	return nil
}
