// Package scheduler implements the tick scheduler (C4): a fixed-rate tick
// loop, a priority ready-heap with budget-gated deferral, a leftover-budget
// deferred queue, and a semaphore-bounded async pool for off-tick work.
// Grounded on the fixed-timestep ticker loop in
// other_examples/51f71f04_Mikko-Finell-mine-and-die__server-internal-sim-loop.go.go,
// generalized from a single Advance() callback into a task-queue drain.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dequackdealer/rubidium/budget"
	"github.com/dequackdealer/rubidium/internal/logging"
	"github.com/dequackdealer/rubidium/metrics"
)

// DefaultTickPeriod is 20 ticks per second (50ms), matching spec.md's
// reference tick rate.
const DefaultTickPeriod = 50 * time.Millisecond

// Options configures a Scheduler.
type Options struct {
	TickPeriod      time.Duration
	AsyncConcurrency int64
	Metrics         *metrics.Registry
	Budget          *budget.Manager
	Logger          logging.Logger
}

// Scheduler is the C4 facade: one authoritative tick thread plus a
// semaphore-bounded async pool.
type Scheduler struct {
	period  time.Duration
	metrics *metrics.Registry
	budget  *budget.Manager
	logger  logging.Logger
	pool    *asyncPool

	tick atomic.Uint64

	mu       sync.Mutex
	ready    readyHeap
	deferred []deferredTask
	live     map[int64]*scheduledTask
	nextID   atomic.Int64
	seq      atomic.Int64

	tickGoroutine atomic.Value // holds the goroutine-local marker set by the running tick loop

	stopCh    chan struct{}
	doneCh    chan struct{}
	once      sync.Once
	startOnce sync.Once
}

// New constructs a Scheduler; call Start to launch the tick thread.
func New(opts Options) *Scheduler {
	period := opts.TickPeriod
	if period <= 0 {
		period = DefaultTickPeriod
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New(nil)
	}
	s := &Scheduler{
		period:  period,
		metrics: opts.Metrics,
		budget:  opts.Budget,
		logger:  logger,
		pool:    newAsyncPool(opts.AsyncConcurrency, opts.Metrics, logger),
		live:    make(map[int64]*scheduledTask),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	heap.Init(&s.ready)
	return s
}

// Start launches the dedicated tick thread. Only one call has effect.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.runTickLoop()
	})
}

// Stop interrupts the tick thread, drops all tasks, and joins with a
// bounded wait, matching the ≤2s shutdown contract.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.stopCh)
	})
	select {
	case <-s.doneCh:
	case <-time.After(2 * time.Second):
	}
	s.pool.stop()
	s.mu.Lock()
	s.ready = s.ready[:0]
	s.deferred = nil
	s.live = make(map[int64]*scheduledTask)
	s.mu.Unlock()
}

// CurrentTick returns the monotonic tick counter.
func (s *Scheduler) CurrentTick() uint64 { return s.tick.Load() }

// IsTickThread reports whether the caller is executing on the tick
// thread, for code that needs to bounce work onto it.
func (s *Scheduler) IsTickThread() bool {
	v, _ := s.tickGoroutine.Load().(bool)
	return v
}

func clampDelay(delayTicks int64) int64 {
	if delayTicks < 0 {
		return 0
	}
	return delayTicks
}

func clampPeriod(period int64) int64 {
	if period < 0 {
		return 0
	}
	if period > 0 && period < 1 {
		return 1
	}
	return period
}

// ScheduleAt schedules work to first run at current-tick+delayTicks (delay
// clamped to ≥0), repeating every period ticks thereafter (0 = one-shot;
// a negative period is treated as 0).
func (s *Scheduler) ScheduleAt(owner string, delayTicks int64, period int64, priority Priority, async bool, work Work) TaskHandle {
	delayTicks = clampDelay(delayTicks)
	period = clampPeriod(period)
	id := s.nextID.Add(1)
	t := &scheduledTask{
		id:          id,
		owner:       owner,
		work:        work,
		executeTick: int64(s.CurrentTick()) + delayTicks,
		period:      period,
		priority:    priority,
		async:       async,
		seq:         s.seq.Add(1),
	}
	s.mu.Lock()
	s.live[id] = t
	heap.Push(&s.ready, t)
	s.mu.Unlock()
	return TaskHandle{id: id, scheduler: s}
}

// ScheduleNow is ScheduleAt with delayTicks=0: the task becomes ready on
// the next tick boundary (a task submitted mid-tick never runs on the
// tick currently in flight).
func (s *Scheduler) ScheduleNow(owner string, priority Priority, async bool, work Work) TaskHandle {
	return s.ScheduleAt(owner, 0, 0, priority, async, work)
}

// Defer enqueues work on the leftover-budget tail queue; it has no
// execute-tick and is consumed at the end of whichever tick has spare
// budget.
func (s *Scheduler) Defer(owner string, priority Priority, work Work) {
	s.mu.Lock()
	s.deferred = append(s.deferred, deferredTask{owner: owner, priority: priority, work: work})
	s.mu.Unlock()
}

// CancelByOwner removes every live task belonging to owner.
func (s *Scheduler) CancelByOwner(owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.live {
		if t.owner == owner {
			delete(s.live, id)
		}
	}
}

func (s *Scheduler) cancel(id int64) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *Scheduler) runTickLoop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runTick()
		}
	}
}

func (s *Scheduler) runTick() {
	s.tickGoroutine.Store(true)
	defer s.tickGoroutine.Store(false)

	tickNo := s.tick.Add(1) - 1
	start := time.Now()

	globalBudget := s.budget.GlobalBudget()
	s.budget.ResetTick()

	processed, deferredCount := s.drainReady(tickNo, start, globalBudget)
	s.drainDeferred(tickNo, start, globalBudget)

	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.RecordTickDuration(elapsed, nil)
	}
	if elapsed > s.period {
		s.budget.ReportTickOverrun(tickNo, elapsed)
	}
	_ = processed
	_ = deferredCount
}

// drainReady implements the ready-drain phase (§4.4(b)): pop tasks whose
// execute-tick has arrived, gate non-Critical tasks on the global tick
// budget and on their owner's unit budget, execute, record timings, and
// re-insert periodic tasks.
func (s *Scheduler) drainReady(tickNo uint64, tickStart time.Time, globalBudget time.Duration) (processed, deferredToNext int) {
	for {
		s.mu.Lock()
		if len(s.ready) == 0 {
			s.mu.Unlock()
			break
		}
		top := s.ready[0]
		if top.executeTick > int64(tickNo) {
			s.mu.Unlock()
			break
		}
		heap.Pop(&s.ready)
		if _, alive := s.live[top.id]; !alive {
			s.mu.Unlock()
			continue
		}
		s.mu.Unlock()

		overBudget := time.Since(tickStart) > globalBudget ||
			(s.budget != nil && !s.budget.WithinBudget(top.owner))
		if overBudget && top.priority != PriorityCritical {
			top.executeTick = int64(tickNo) + 1
			s.mu.Lock()
			heap.Push(&s.ready, top)
			s.mu.Unlock()
			deferredToNext++
			continue
		}

		s.execute(top, tickNo)
		processed++

		s.mu.Lock()
		if _, alive := s.live[top.id]; alive && top.period > 0 {
			top.executeTick = int64(tickNo) + top.period
			heap.Push(&s.ready, top)
		} else {
			delete(s.live, top.id)
		}
		s.mu.Unlock()
	}
	return processed, deferredToNext
}

// execute runs a ready task's closure synchronously on the tick thread
// (or hands it to the async pool) with panic isolation, recording wall
// time to C1/C2.
func (s *Scheduler) execute(t *scheduledTask, tickNo uint64) {
	if t.async {
		_ = s.pool.submit(t.owner, t.work, nil)
		return
	}
	start := time.Now()
	err := runIsolated(t.work)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.Timer(fmt.Sprintf("task.%s", t.owner)).Record(elapsed)
		if err != nil {
			s.metrics.Counter("scheduler.task.errors").Inc()
		}
	}
	if s.budget != nil {
		s.budget.RecordExecution(t.owner, elapsed)
	}
	if err != nil && s.logger != nil {
		ctx := logging.WithFields(context.Background(), logging.Fields{Tick: int64(tickNo), Unit: t.owner})
		s.logger.ErrorCtx(ctx, "scheduled task failed", "owner", t.owner, "error", err)
	}
}

// drainDeferred implements the deferred-drain phase (§4.4(c)): if budget
// remains after the ready-drain, spend at most min(remaining,
// global_budget/4) more nanoseconds on the tail queue.
func (s *Scheduler) drainDeferred(tickNo uint64, tickStart time.Time, globalBudget time.Duration) {
	elapsed := time.Since(tickStart)
	remaining := globalBudget - elapsed
	if remaining <= 0 {
		return
	}
	ceiling := globalBudget / 4
	if remaining > ceiling {
		remaining = ceiling
	}
	deadline := time.Now().Add(remaining)

	for {
		if time.Now().After(deadline) {
			return
		}
		s.mu.Lock()
		if len(s.deferred) == 0 {
			s.mu.Unlock()
			return
		}
		t := s.deferred[0]
		s.deferred = s.deferred[1:]
		s.mu.Unlock()

		start := time.Now()
		err := runIsolated(t.work)
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.Timer(fmt.Sprintf("task.%s", t.owner)).Record(elapsed)
			if err != nil {
				s.metrics.Counter("scheduler.task.errors").Inc()
			}
		}
		if s.budget != nil {
			s.budget.RecordExecution(t.owner, elapsed)
		}
		if err != nil && s.logger != nil {
			ctx := logging.WithFields(context.Background(), logging.Fields{Tick: int64(tickNo), Unit: t.owner})
			s.logger.ErrorCtx(ctx, "deferred task failed", "owner", t.owner, "error", err)
		}
	}
}
