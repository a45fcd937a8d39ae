package queue

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestQueueRunsJobs(t *testing.T) {
	q := NewQueue(10, 2)
	q.Start()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		ok := q.Enqueue(Job{Run: func() error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}})
		if !ok {
			t.Fatal("enqueue should succeed with capacity available")
		}
	}
	wg.Wait()
	q.Stop()

	if got := ran.Load(); got != 5 {
		t.Errorf("expected 5 jobs run, got %d", got)
	}
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	q := NewQueue(1, 1)
	// not started: the buffered slot fills, the second enqueue must fail fast

	if !q.Enqueue(Job{Run: func() error { return nil }}) {
		t.Fatal("first enqueue should fit the buffer")
	}
	if q.Enqueue(Job{Run: func() error { return nil }}) {
		t.Error("second enqueue should report a full queue")
	}
}

func TestQueueOnFail(t *testing.T) {
	q := NewQueue(1, 1)
	q.Start()

	boom := errors.New("boom")
	var got error
	var wg sync.WaitGroup
	wg.Add(1)
	q.Enqueue(Job{
		Run: func() error { return boom },
		OnFail: func(err error) {
			got = err
			wg.Done()
		},
	})
	wg.Wait()
	q.Stop()

	if !errors.Is(got, boom) {
		t.Errorf("expected OnFail to receive the job error, got %v", got)
	}
}
