package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomevault/tomevault/internal/model"
)

type syncStore struct {
	mu      sync.Mutex
	entries []*model.APILog
}

func (s *syncStore) Insert(ctx context.Context, entry *model.APILog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *syncStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func TestImmediateDispatcherPersistsInline(t *testing.T) {
	store := &syncStore{}
	d := NewImmediateDispatcher(NewSink(testLoggingConfig(), store))

	d.Dispatch(&model.APILog{ID: "1", RequestID: "req-1", CreatedAt: time.Now()})

	require.Equal(t, 1, store.len())
}

func TestQueuedDispatcherFlushesAfterBatchDelay(t *testing.T) {
	store := &syncStore{}
	d := NewQueuedDispatcher(NewSink(testLoggingConfig(), store), 10, 10*time.Millisecond)

	d.Dispatch(&model.APILog{ID: "1", RequestID: "req-1"})
	d.Dispatch(&model.APILog{ID: "2", RequestID: "req-2"})

	assert.Eventually(t, func() bool { return store.len() == 2 },
		time.Second, 5*time.Millisecond)

	d.Close(time.Second)
}

func TestQueuedDispatcherCloseDeadLettersPending(t *testing.T) {
	store := &syncStore{}
	d := NewQueuedDispatcher(NewSink(testLoggingConfig(), store), 10, 200*time.Millisecond)

	// Batch timers have not fired yet when Close runs; the records are
	// dead-lettered instead of persisted, and Close still returns.
	for i := 0; i < 5; i++ {
		d.Dispatch(&model.APILog{ID: string(rune('a' + i)), RequestID: "req"})
	}
	done := make(chan struct{})
	go func() {
		d.Close(2 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close did not return")
	}
	assert.Equal(t, 0, store.len())
}

func TestQueuedDispatcherCloseRacesWithTimers(t *testing.T) {
	store := &syncStore{}
	d := NewQueuedDispatcher(NewSink(testLoggingConfig(), store), 10, time.Millisecond)

	// Batch timers fire right around Close; every record either persists
	// or dead-letters, never a send on the closed channel.
	assert.NotPanics(t, func() {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				d.Dispatch(&model.APILog{ID: string(rune('a' + n%26)), RequestID: "req"})
			}(i)
		}
		time.Sleep(time.Millisecond)
		d.Close(2 * time.Second)
		wg.Wait()
	})
}
