package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueProcessesJobs(t *testing.T) {
	var mu sync.Mutex
	seen := make([]string, 0)
	done := make(chan struct{}, 3)

	q := NewQueue("test", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen = append(seen, job.ID)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 2, BufferSize: 4})
	q.Start(context.Background())
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(Job{ID: id}))
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job not processed in time")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a", "b", "c"}, seen)
}

func TestQueueRejectsWhenNotStarted(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "x"})
	require.True(t, errors.Is(err, ErrQueueStopped))
}

func TestQueueFullDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	q := NewQueue("busy", func(ctx context.Context, job Job) error {
		started <- struct{}{}
		<-release
		return nil
	}, QueueConfig{Workers: 1, BufferSize: 1})
	q.Start(context.Background())
	defer func() {
		close(release)
		q.Stop()
	}()

	require.NoError(t, q.Enqueue(Job{ID: "running"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "buffered"}))

	begin := time.Now()
	err := q.Enqueue(Job{ID: "overflow"})
	require.True(t, errors.Is(err, ErrQueueFull))
	require.Less(t, time.Since(begin), 100*time.Millisecond)
}

func TestQueueRecoversFromPanics(t *testing.T) {
	done := make(chan struct{}, 2)
	q := NewQueue("panicky", func(ctx context.Context, job Job) error {
		defer func() { done <- struct{}{} }()
		if job.ID == "bad" {
			panic("boom")
		}
		return nil
	}, QueueConfig{Workers: 1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "bad"}))
	require.NoError(t, q.Enqueue(Job{ID: "good"}))
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker died after panic")
		}
	}
}

func TestQueueStopHandsBufferedJobsToOnDrop(t *testing.T) {
	var mu sync.Mutex
	var ran, dropped []string
	started := make(chan struct{}, 1)

	q := NewQueue("draining", func(ctx context.Context, job Job) error {
		mu.Lock()
		ran = append(ran, job.ID)
		mu.Unlock()
		started <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}, QueueConfig{Workers: 1, BufferSize: 4, OnDrop: func(ctx context.Context, job Job) error {
		require.NoError(t, ctx.Err())
		mu.Lock()
		dropped = append(dropped, job.ID)
		mu.Unlock()
		return nil
	}})
	q.Start(context.Background())

	require.NoError(t, q.Enqueue(Job{ID: "running"}))
	<-started
	require.NoError(t, q.Enqueue(Job{ID: "a"}))
	require.NoError(t, q.Enqueue(Job{ID: "b"}))

	q.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"running"}, ran)
	require.ElementsMatch(t, []string{"a", "b"}, dropped)
	require.Zero(t, q.Pending())
	require.True(t, errors.Is(q.Enqueue(Job{ID: "late"}), ErrQueueStopped))
}
