package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

var ErrPoolClosed = errors.New("pool is closed")

// Pool runs submitted jobs on a fixed number of workers, at most at the
// limiter's rate.
type Pool struct {
	jobs        chan func()
	wg          sync.WaitGroup
	rateLimiter *rate.Limiter
	closeOnce   sync.Once
	mu          sync.Mutex
	isClosed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

func NewPool(ctx context.Context, workers, queueSize int, limiter *rate.Limiter) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be greater than 0, got %d", workers)
	}
	if queueSize <= 0 {
		return nil, fmt.Errorf("queueSize must be greater than 0, got %d", queueSize)
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		jobs:        make(chan func(), queueSize),
		rateLimiter: limiter,
		ctx:         poolCtx,
		cancel:      cancel,
	}
	p.startWorkers(workers)
	return p, nil
}

// Submit blocks until the job is queued, ctx is done or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, job func()) error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	// Hold the lock while sending so Close cannot close the channel under us.
	defer p.mu.Unlock()

	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to submit job: %w", ctx.Err())
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

func (p *Pool) startWorkers(n int) {
	p.wg.Add(n)
	for range n {
		go func() {
			defer p.wg.Done()
			for {
				select {
				case job, ok := <-p.jobs:
					if !ok {
						return
					}
					if err := p.rateLimiter.Wait(p.ctx); err != nil {
						return
					}
					job()
				case <-p.ctx.Done():
					return
				}
			}
		}()
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.isClosed = true
		close(p.jobs)
		p.mu.Unlock()

		p.wg.Wait()
		p.cancel()
	})
}
