package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dequackdealer/rubidium/internal/logging"
	"github.com/dequackdealer/rubidium/metrics"
)

// asyncPool runs submitted async tasks off the tick thread, bounded by a
// weighted semaphore rather than a fixed goroutine count — a submission
// blocks only long enough to acquire a slot, then runs on its own
// goroutine, grounded on the teacher's worker-pool-over-channels shape in
// engine/internal/pipeline/pipeline.go generalized from fixed worker
// counts to a semaphore-gated submit.
type asyncPool struct {
	sem     *semaphore.Weighted
	ctx     context.Context
	cancel  context.CancelFunc
	metrics *metrics.Registry
	logger  logging.Logger
}

func newAsyncPool(concurrency int64, reg *metrics.Registry, logger logging.Logger) *asyncPool {
	if concurrency <= 0 {
		concurrency = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &asyncPool{
		sem:     semaphore.NewWeighted(concurrency),
		ctx:     ctx,
		cancel:  cancel,
		metrics: reg,
		logger:  logger,
	}
}

// submit acquires a pool slot (blocking until available or the pool is
// stopped) and runs work on a fresh goroutine, recording its wall time to
// C1 as task.<owner> but never to the budget manager: async work does not
// consume tick budget.
func (p *asyncPool) submit(owner string, work Work, done func(error)) error {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	go func() {
		defer p.sem.Release(1)
		start := time.Now()
		err := runIsolated(work)
		elapsed := time.Since(start)
		if p.metrics != nil {
			p.metrics.Timer(fmt.Sprintf("task.%s", owner)).Record(elapsed)
		}
		if done != nil {
			done(err)
		}
	}()
	return nil
}

func (p *asyncPool) stop() {
	p.cancel()
}

// runIsolated invokes work with panic isolation, matching the ready-drain
// phase's exception containment policy for sync tasks.
func runIsolated(work Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return work()
}
