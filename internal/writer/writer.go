// Package writer funnels every mutating Store operation through a single
// consumer goroutine so concurrent producers never contend at the storage
// layer. Modeled on the write_queue/writer_worker/enqueue_write pattern of
// the broker's original asyncio implementation, translated into a Go
// channel-of-jobs instead of an asyncio.Queue of futures.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/contextbroker/contextbroker/internal/store"
)

// backoffSchedule is the bounded exponential backoff the Writer applies to
// transient Store failures: up to six retries after the first attempt (seven
// calls in all), ~8.8s of waiting in total.
var backoffSchedule = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
}

// ErrShutdown is returned to any submission made after the Writer has begun
// draining for shutdown.
var ErrShutdown = errors.New("writer: shut down")

type job struct {
	fn   func() (interface{}, error)
	done chan result
}

type result struct {
	value interface{}
	err   error
}

// Writer is the single-consumer queue in front of the Store.
type Writer struct {
	jobs     chan job
	shutdown chan struct{}
	done     chan struct{}
}

// New starts a Writer with the given queue capacity. Submission blocks once
// the queue is full, exerting backpressure on callers. cmd/contextbroker
// starts and shuts down one Writer but submits no jobs to it: WriteDB
// inserts, embedding writes and connection updates call the Store directly,
// so their transient failures are not retried.
func New(queueCapacity int) *Writer {
	if queueCapacity <= 0 {
		queueCapacity = 64
	}

	w := &Writer{
		jobs:     make(chan job, queueCapacity),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}

	go w.run()

	return w
}

func (w *Writer) run() {
	defer close(w.done)

	for j := range w.jobs {
		if j.fn == nil {
			// Sentinel: every prior job has already been drained from the
			// channel (FIFO), so it's safe to stop.
			return
		}
		value, err := w.execute(j.fn)
		j.done <- result{value: value, err: err}
	}
}

func (w *Writer) execute(fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= len(backoffSchedule); attempt++ {
		value, err := fn()
		if err == nil {
			return value, nil
		}

		if !errors.Is(err, store.ErrTransient) {
			return nil, err
		}

		lastErr = err
		if attempt < len(backoffSchedule) {
			log.Printf("[WRITER] transient error on attempt %d, retrying in %s: %v", attempt+1, backoffSchedule[attempt], err)
			time.Sleep(backoffSchedule[attempt])
		}
	}

	return nil, fmt.Errorf("writer: retries exhausted: %w", lastErr)
}

// Submit enqueues fn and blocks until it reaches a terminal state, returning
// its value or its terminal error. Submission itself blocks (not fails) when
// the queue is full; it fails fast with ErrShutdown once shutdown has begun.
func (w *Writer) Submit(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	j := job{fn: fn, done: make(chan result, 1)}

	select {
	case <-w.shutdown:
		return nil, ErrShutdown
	default:
	}

	select {
	case w.jobs <- j:
	case <-w.shutdown:
		return nil, ErrShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-j.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown enqueues a sentinel job guaranteeing every prior submission
// reaches a terminal state before the consumer loop exits, then blocks until
// the consumer has stopped. Submissions made after Shutdown is called fail
// fast with ErrShutdown.
func (w *Writer) Shutdown() {
	close(w.shutdown)
	w.jobs <- job{}
	close(w.jobs)
	<-w.done
}
