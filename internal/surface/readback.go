package surface

import (
	"image"
	"sync"
)

// Job is one capture travelling from the render target to the shared image.
type Job struct {
	Seq   uint64
	Image *image.RGBA
}

// Readback completes capture jobs at some later time, on some other
// goroutine, by calling done. Submit must not block; it reports false when
// the job was refused.
type Readback interface {
	Submit(job Job, done func(Job, error)) bool
	Close()
}

// AsyncReadback is a fixed pool of goroutines fed through a bounded queue.
// Jobs arriving while the queue is full are dropped.
type AsyncReadback struct {
	mu     sync.RWMutex
	queue  chan pending
	closed bool
	wg     sync.WaitGroup
}

type pending struct {
	job  Job
	done func(Job, error)
}

// NewAsyncReadback starts workers goroutines sharing a queue of depth slots.
func NewAsyncReadback(workers, depth int) *AsyncReadback {
	if workers < 1 {
		workers = 1
	}
	if depth < 0 {
		depth = 0
	}
	r := &AsyncReadback{queue: make(chan pending, depth)}
	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.worker()
	}
	return r
}

func (r *AsyncReadback) worker() {
	defer r.wg.Done()
	for p := range r.queue {
		p.done(p.job, nil)
	}
}

// Submit queues job without blocking.
func (r *AsyncReadback) Submit(job Job, done func(Job, error)) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- pending{job: job, done: done}:
		return true
	default:
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (r *AsyncReadback) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}
