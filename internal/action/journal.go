package action

import (
	"context"
	"sync"
	"time"

	"actionrunner/internal/eventbus"
	"actionrunner/pkg/logx"
)

const DefaultHistorySize = 200

// RecordSink persists execution records.
type RecordSink interface {
	AppendRecord(ctx context.Context, r Record) error
}

type JournalOptions struct {
	Size   int
	Logger logx.Logger
	Sink   RecordSink
	Bus    eventbus.Bus
	// SinkTimeout bounds a single persist call. Zero means 2s.
	SinkTimeout time.Duration
}

// Journal is the process execution log. Newest records come first.
type Journal struct {
	log     logx.Logger
	sink    RecordSink
	bus     eventbus.Bus
	timeout time.Duration

	mu      sync.Mutex
	size    int
	records []Record
}

func NewJournal(opts JournalOptions) *Journal {
	size := opts.Size
	if size <= 0 {
		size = DefaultHistorySize
	}
	timeout := opts.SinkTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Journal{
		log:     opts.Logger.With(logx.String("comp", "journal")),
		sink:    opts.Sink,
		bus:     opts.Bus,
		timeout: timeout,
		size:    size,
	}
}

// Observe records r. It is meant to be passed to Registry.Attach.
func (j *Journal) Observe(r Record) {
	j.mu.Lock()
	j.records = append([]Record{r}, j.records...)
	if len(j.records) > j.size {
		j.records = j.records[:j.size]
	}
	j.mu.Unlock()

	j.log.Debug("action executed",
		logx.String("id", r.ID),
		logx.String("type", r.TypeName),
		logx.String("key", r.Key),
		logx.String("elapsed", r.ElapsedSeconds()),
		logx.Bool("direct", r.Direct),
	)

	if j.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		if err := j.sink.AppendRecord(ctx, r); err != nil {
			j.log.Warn("record persist failed", logx.String("id", r.ID), logx.Err(err))
		}
		cancel()
	}
	if j.bus != nil {
		j.bus.Publish(eventbus.Event{Type: eventbus.ActionExecuted, Data: r})
	}
}

// Records returns up to n records, newest first. n <= 0 returns all.
func (j *Journal) Records(n int) []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	if n <= 0 || n > len(j.records) {
		n = len(j.records)
	}
	return append([]Record(nil), j.records[:n]...)
}

func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.records)
}

// Resize changes the bound, trimming the oldest records.
func (j *Journal) Resize(size int) {
	if size <= 0 {
		size = DefaultHistorySize
	}
	j.mu.Lock()
	j.size = size
	if len(j.records) > size {
		j.records = j.records[:size]
	}
	j.mu.Unlock()
}
