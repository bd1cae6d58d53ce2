package action

import (
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Record is an immutable snapshot of one debug-mode execution.
type Record struct {
	ID       string        `json:"id"`
	TypeName string        `json:"type"`
	Key      string        `json:"key"`
	Started  time.Time     `json:"started"`
	Ended    time.Time     `json:"ended"`
	Elapsed  time.Duration `json:"elapsed"`
	Args     []any         `json:"args,omitempty"`
	Result   any           `json:"result,omitempty"`
	Direct   bool          `json:"direct"`
}

// ElapsedSeconds formats the elapsed time in seconds with 10 decimals.
func (r Record) ElapsedSeconds() string {
	return strconv.FormatFloat(r.Elapsed.Seconds(), 'f', 10, 64)
}

func newRecord(x *Execution) Record {
	r := Record{
		ID:      uuid.NewString(),
		Started: x.started,
		Ended:   x.ended,
		Elapsed: x.ended.Sub(x.started),
		Args:    x.Args(),
		Result:  x.result.Any(),
		Direct:  x.direct,
	}
	if x.desc != nil {
		r.TypeName = x.desc.TypeName
		r.Key = x.desc.Key
	}
	return r
}

// hooks is shared by a registry and every descriptor it creates.
type hooks struct {
	debug atomic.Bool

	mu        sync.RWMutex
	listeners map[uint64]func(Record)
	seq       uint64
}

func (h *hooks) debugEnabled() bool { return h.debug.Load() }

func (h *hooks) attach(fn func(Record)) func() {
	h.mu.Lock()
	h.seq++
	id := h.seq
	if h.listeners == nil {
		h.listeners = map[uint64]func(Record){}
	}
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// notify calls listeners in attach order outside the lock.
func (h *hooks) notify(r Record) {
	h.mu.RLock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		h.mu.RLock()
		fn := h.listeners[id]
		h.mu.RUnlock()
		if fn != nil {
			fn(r)
		}
	}
}
