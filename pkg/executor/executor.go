// Package executor runs queued tasks and a periodic tick on a single
// goroutine, so state touched only from tasks and ticks needs no locking.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-robotstate/internal/clock"
)

// DefaultQueueSize bounds the number of pending tasks.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned by Post when the task queue is full.
	ErrQueueFull = errors.New("executor: queue full")

	// ErrStopped is returned by Post after Run has returned.
	ErrStopped = errors.New("executor: stopped")
)

// Executor serialises tasks and ticks.
//
// Ticks never overlap and never pile up: while a tick (or a task) runs, at
// most one further tick stays pending and the rest are skipped.
type Executor struct {
	clock  clock.Clock
	logger *slog.Logger
	queue  chan func()
	done   chan struct{}

	stopped atomic.Bool

	// Stats
	tasks   atomic.Int64
	ticks   atomic.Int64
	dropped atomic.Int64
	overrun atomic.Int64
}

// New creates an executor. queueSize <= 0 selects DefaultQueueSize.
func New(clk clock.Clock, queueSize int, logger *slog.Logger) *Executor {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Executor{
		clock:  clk,
		logger: logger.With("component", "executor"),
		queue:  make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn without blocking. It is safe from any goroutine.
func (e *Executor) Post(fn func()) error {
	if e.stopped.Load() {
		return ErrStopped
	}
	select {
	case e.queue <- fn:
		return nil
	default:
		e.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run executes tasks and calls tick every period until ctx is done.
// A tick that takes longer than period is counted as an overrun; the ticks
// it swallowed are skipped, not replayed. Run returns ctx.Err().
func (e *Executor) Run(ctx context.Context, period time.Duration, tick func()) error {
	ticker := e.clock.NewTicker(period)
	defer ticker.Stop()
	defer close(e.done)
	defer e.stopped.Store(true)

	e.logger.Debug("executor started", "period", period)

	for {
		select {
		case <-ctx.Done():
			e.logger.Debug("executor stopped",
				"tasks", e.tasks.Load(),
				"ticks", e.ticks.Load(),
				"dropped", e.dropped.Load(),
			)
			return ctx.Err()

		case fn := <-e.queue:
			fn()
			e.tasks.Add(1)

		case <-ticker.C():
			start := e.clock.Now()
			tick()
			e.ticks.Add(1)
			if e.clock.Since(start) > period {
				e.overrun.Add(1)
			}
		}
	}
}

// Done is closed once Run has returned.
func (e *Executor) Done() <-chan struct{} { return e.done }

// Stats returns executor counters.
func (e *Executor) Stats() Stats {
	return Stats{
		Tasks:    e.tasks.Load(),
		Ticks:    e.ticks.Load(),
		Dropped:  e.dropped.Load(),
		Overruns: e.overrun.Load(),
		Pending:  len(e.queue),
	}
}

// Stats contains executor statistics.
type Stats struct {
	Tasks    int64 `json:"tasks"`
	Ticks    int64 `json:"ticks"`
	Dropped  int64 `json:"dropped"`
	Overruns int64 `json:"overruns"`
	Pending  int   `json:"pending"`
}
