package service

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/webmvc/internal/domain/mvc"
)

// AsyncPool runs async handler work with a bounded number of goroutines.
// All dispatchers of a process should share one pool so a burst of async
// requests cannot start an unbounded number of callables.
type AsyncPool struct {
	sem *semaphore.Weighted
}

var _ mvc.Executor = (*AsyncPool)(nil)

// NewAsyncPool creates a pool that runs at most limit tasks at once.
func NewAsyncPool(limit int64) *AsyncPool {
	if limit < 1 {
		limit = 1
	}
	return &AsyncPool{sem: semaphore.NewWeighted(limit)}
}

// Execute acquires a slot and runs task on a new goroutine, releasing the
// slot when it returns. It blocks while all slots are busy and returns the
// context error if ctx ends first.
// If the pool is nil, task runs on a new goroutine without a limit.
func (p *AsyncPool) Execute(ctx context.Context, task func()) error {
	if p == nil || p.sem == nil {
		go task()
		return nil
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire async slot: %w", err)
	}
	go func() {
		defer p.sem.Release(1)
		task()
	}()
	return nil
}
