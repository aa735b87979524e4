package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAsyncPoolLimitsConcurrency(t *testing.T) {
	const limit = 3
	const tasks = 10
	pool := NewAsyncPool(limit)

	var running atomic.Int32
	var maxSeen atomic.Int32
	var wg sync.WaitGroup
	wg.Add(tasks)

	for range tasks {
		err := pool.Execute(context.Background(), func() {
			defer wg.Done()
			cur := running.Add(1)
			// Record high-water mark
			for {
				old := maxSeen.Load()
				if cur <= old || maxSeen.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	wg.Wait()

	if m := maxSeen.Load(); m > limit {
		t.Errorf("max concurrent = %d, want <= %d", m, limit)
	}
}

func TestAsyncPoolContextCancellation(t *testing.T) {
	pool := NewAsyncPool(1)

	occupied := make(chan struct{})
	release := make(chan struct{})
	if err := pool.Execute(context.Background(), func() {
		close(occupied)
		<-release
	}); err != nil {
		t.Fatal(err)
	}
	<-occupied
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pool.Execute(ctx, func() { t.Error("task should not run") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestAsyncPoolNil(t *testing.T) {
	var pool *AsyncPool
	done := make(chan struct{})
	if err := pool.Execute(context.Background(), func() { close(done) }); err != nil {
		t.Fatal(err)
	}
	<-done
}
