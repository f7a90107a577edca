package service

import (
	"context"
	"sync"
	"time"

	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/pkg/logger"
	"github.com/tomevault/tomevault/internal/pkg/metrics"
)

// Dispatcher hands a fully-built record to the persistence path. The
// recorder is dispatcher-agnostic; the two implementations share one
// Persist contract through Sink.
type Dispatcher interface {
	Dispatch(entry *model.APILog)
}

// ImmediateDispatcher persists inline on the request goroutine. This is
// the default: an accepted latency/consistency tradeoff, not a defect.
type ImmediateDispatcher struct {
	sink *Sink
}

func NewImmediateDispatcher(sink *Sink) *ImmediateDispatcher {
	return &ImmediateDispatcher{sink: sink}
}

func (d *ImmediateDispatcher) Dispatch(entry *model.APILog) {
	if err := d.sink.Persist(context.Background(), entry); err != nil {
		metrics.LogRecordsTotal.WithLabelValues("failed").Inc()
		return
	}
	metrics.LogRecordsTotal.WithLabelValues("persisted").Inc()
}

// Retry schedule after a failed attempt: attempt 1 waits 10s, then 30s,
// then the record is dead-lettered.
var queueBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}

const maxAttempts = 3

type queuedRecord struct {
	entry   *model.APILog
	attempt int
}

// QueuedDispatcher decouples the request goroutine from persistence.
// Enqueue never blocks the request: a full buffer drops the record with
// an ops trace rather than stalling the response path.
type QueuedDispatcher struct {
	sink       *Sink
	ch         chan *queuedRecord
	batchDelay time.Duration

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
	done    chan struct{}
}

func NewQueuedDispatcher(sink *Sink, size int, batchDelay time.Duration) *QueuedDispatcher {
	if size <= 0 {
		size = 1000
	}
	d := &QueuedDispatcher{
		sink:       sink,
		ch:         make(chan *queuedRecord, size),
		batchDelay: batchDelay,
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *QueuedDispatcher) Dispatch(entry *model.APILog) {
	// Short fixed delay forms a batching window before the first
	// persistence attempt.
	d.pending.Add(1)
	time.AfterFunc(d.batchDelay, func() {
		d.push(&queuedRecord{entry: entry, attempt: 1})
	})
}

// push sends under the mutex so Close cannot close the channel between
// the closed check and the send.
func (d *QueuedDispatcher) push(rec *queuedRecord) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.deadLetter(rec, "dispatcher shut down")
		return
	}

	select {
	case d.ch <- rec:
		d.mu.Unlock()
		metrics.LogQueueDepth.Inc()
	default:
		d.mu.Unlock()
		// Buffer full: protect the producer, leave a trace.
		d.pending.Done()
		metrics.LogRecordsTotal.WithLabelValues("dropped").Inc()
		logger.Error("Log queue full, dropping record",
			"request_id", rec.entry.RequestID)
	}
}

func (d *QueuedDispatcher) run() {
	for rec := range d.ch {
		metrics.LogQueueDepth.Dec()
		d.process(rec)
	}
	close(d.done)
}

func (d *QueuedDispatcher) process(rec *queuedRecord) {
	err := d.sink.Persist(context.Background(), rec.entry)
	if err == nil {
		d.pending.Done()
		metrics.LogRecordsTotal.WithLabelValues("persisted").Inc()
		return
	}

	if rec.attempt >= maxAttempts {
		d.deadLetter(rec, err.Error())
		return
	}

	backoff := queueBackoff[rec.attempt-1]
	logger.Warn("Log record persist failed, scheduling retry",
		"request_id", rec.entry.RequestID,
		"attempt", rec.attempt,
		"retry_in", backoff.String(),
		"error", err.Error(),
	)
	next := &queuedRecord{entry: rec.entry, attempt: rec.attempt + 1}
	time.AfterFunc(backoff, func() { d.push(next) })
}

// deadLetter records a permanent failure. The record is not retried
// further and is never dropped without a trace.
func (d *QueuedDispatcher) deadLetter(rec *queuedRecord, reason string) {
	d.pending.Done()
	metrics.LogRecordsTotal.WithLabelValues("dead_lettered").Inc()
	logger.Error("Log record permanently failed",
		"request_id", rec.entry.RequestID,
		"attempts", rec.attempt,
		"error", reason,
	)
}

// Close stops accepting records, flushes what is already buffered and
// dead-letters anything still waiting on a retry timer.
func (d *QueuedDispatcher) Close(timeout time.Duration) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	close(d.ch)

	flushed := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(flushed)
	}()
	select {
	case <-flushed:
	case <-time.After(timeout):
		logger.Warn("Log queue shutdown timed out with records pending")
	}
}
