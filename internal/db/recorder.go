package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/scopae/internal/monitoring"
)

// Store is the subset of DB the Recorder writes to.
type Store interface {
	RecordLinkEvent(ctx context.Context, ev LinkEvent) error
	RecordTickStats(ctx context.Context, s TickStats) error
}

// Recorder writes events on its own goroutine so the frame loop never waits
// on sqlite. Records arriving while the queue is full are dropped.
type Recorder struct {
	store   Store
	queue   chan any
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	written atomic.Uint64
}

// NewRecorder starts a recorder with a queue of depth records.
func NewRecorder(store Store, depth int) *Recorder {
	if depth < 1 {
		depth = 1
	}
	r := &Recorder{
		store: store,
		queue: make(chan any, depth),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Recorder) loop() {
	defer close(r.done)
	for rec := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch v := rec.(type) {
		case LinkEvent:
			err = r.store.RecordLinkEvent(ctx, v)
		case TickStats:
			err = r.store.RecordTickStats(ctx, v)
		}
		cancel()
		if err != nil {
			monitoring.Logf("event log: write failed: %v", err)
			continue
		}
		r.written.Add(1)
	}
}

func (r *Recorder) enqueue(rec any) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}
	select {
	case r.queue <- rec:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// RecordLinkEvent queues ev without blocking.
func (r *Recorder) RecordLinkEvent(ev LinkEvent) bool { return r.enqueue(ev) }

// RecordTickStats queues s without blocking.
func (r *Recorder) RecordTickStats(s TickStats) bool { return r.enqueue(s) }

// Dropped returns the number of records discarded.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Written returns the number of records stored.
func (r *Recorder) Written() uint64 { return r.written.Load() }

// Close drains the queue and stops the writer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	<-r.done
}
