package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/contextbroker/contextbroker/internal/store"
)

func TestWriter_SubmitSuccess(t *testing.T) {
	w := New(4)
	defer w.Shutdown()

	value, err := w.Submit(context.Background(), func() (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.(int) != 42 {
		t.Fatalf("expected 42, got %v", value)
	}
}

func TestWriter_PermanentFailureNoRetry(t *testing.T) {
	w := New(4)
	defer w.Shutdown()

	calls := 0
	_, err := w.Submit(context.Background(), func() (interface{}, error) {
		calls++
		return nil, store.ErrPermanent
	})
	if !errors.Is(err, store.ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 call for a permanent failure, got %d", calls)
	}
}

func TestWriter_TransientFailureRetriesThenExhausts(t *testing.T) {
	w := New(4)
	defer w.Shutdown()

	calls := 0
	start := time.Now()
	_, err := w.Submit(context.Background(), func() (interface{}, error) {
		calls++
		return nil, fmt.Errorf("locked: %w", store.ErrTransient)
	})
	elapsed := time.Since(start)

	if !errors.Is(err, store.ErrTransient) {
		t.Fatalf("expected wrapped ErrTransient, got %v", err)
	}
	if calls != 7 {
		t.Fatalf("expected 7 attempts (1 + 6 retries), got %d", calls)
	}
	if elapsed < 8*time.Second {
		t.Fatalf("expected retries to span at least 8s, took %s", elapsed)
	}
}

func TestWriter_TransientFailureRecoversBeforeExhaustion(t *testing.T) {
	w := New(4)
	defer w.Shutdown()

	calls := 0
	value, err := w.Submit(context.Background(), func() (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, store.ErrTransient
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.(string) != "recovered" {
		t.Fatalf("expected recovered value, got %v", value)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestWriter_SerializesConcurrentSubmissions(t *testing.T) {
	w := New(16)
	defer w.Shutdown()

	var mu sync.Mutex
	var order []int
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			w.Submit(context.Background(), func() (interface{}, error) {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				active--
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected exactly one job executing at a time, saw max concurrency %d", maxActive)
	}
	if len(order) != 20 {
		t.Fatalf("expected all 20 jobs to complete, got %d", len(order))
	}
}

func TestWriter_SubmitAfterShutdownFailsFast(t *testing.T) {
	w := New(4)
	w.Shutdown()

	_, err := w.Submit(context.Background(), func() (interface{}, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrShutdown) {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}

func TestWriter_ShutdownDrainsPriorJobs(t *testing.T) {
	w := New(4)

	var mu sync.Mutex
	completed := 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Submit(context.Background(), func() (interface{}, error) {
				mu.Lock()
				completed++
				mu.Unlock()
				return nil, nil
			})
		}()
	}
	wg.Wait()

	w.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	if completed != 5 {
		t.Fatalf("expected all 5 jobs to complete before shutdown returns, got %d", completed)
	}
}
