package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the runner.
const (
	ActionExecuted   = "action.executed"
	ActionDispatched = "action.dispatched"
	ActionFailed     = "action.failed"
	TriggerMatched   = "trigger.matched"
	TriggerPass      = "trigger.pass"
	AccountFailed    = "trigger.account_failed"
	ConfigReloaded   = "config.reloaded"
)

// Event is an in-process signal. Data should be small and JSON-serializable.
//
// Publish never blocks; a subscriber that falls behind loses events.
type Event struct {
	Type string    `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		deliver(ch, e)
	}
}

// deliver drops on a full buffer and tolerates a channel closed by a
// concurrent unsubscribe.
func deliver(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Consume subscribes and calls fn for every event until ctx is done.
// It blocks; run it in its own goroutine.
func Consume(ctx context.Context, b Bus, buffer int, fn func(Event)) {
	ch, unsub := b.Subscribe(buffer)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fn(e)
		}
	}
}
