// Package loop provides the single execution context that owns all quest state.
//
// Account, QuestEntry and PoolEntry mutations happen only inside tasks run by a
// Loop. Worker goroutines (loaders, async rewards, timers, persistence) hand
// their results back with Post or Do.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrStopped is returned when a task is submitted to a stopped loop.
var ErrStopped = errors.New("loop: stopped")

// Loop runs submitted tasks one at a time on a dedicated goroutine.
type Loop struct {
	tasks chan func()
	// mu guards sealed. Submitters hold it shared while sending.
	mu     sync.RWMutex
	sealed bool

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
	executed atomic.Int64
}

// New creates a loop with the given queue capacity. Call Run to start it.
func New(buffer int, logger *zap.Logger) *Loop {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes tasks until Stop is called. It blocks; run it in its own goroutine.
// Tasks already queued when Stop is called are still executed.
func (l *Loop) Run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		case <-l.stopCh:
			l.seal()
			for {
				select {
				case fn := <-l.tasks:
					l.exec(fn)
				default:
					return
				}
			}
		}
	}
}

// seal waits for in-flight submissions and rejects later ones, so the final
// drain sees every accepted task.
func (l *Loop) seal() {
	l.mu.Lock()
	l.sealed = true
	l.mu.Unlock()
}

// submit queues fn unless the loop is stopped or ctx is done.
func (l *Loop) submit(ctx context.Context, fn func()) error {
	select {
	case <-l.stopCh:
		return ErrStopped
	default:
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.sealed {
		return ErrStopped
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.stopCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop task panicked", zap.Any("recover", r))
		}
	}()
	l.executed.Add(1)
	fn()
}

// Post enqueues fn without waiting for it to run. It returns false if the loop is stopped.
func (l *Loop) Post(fn func()) bool {
	return l.submit(context.Background(), fn) == nil
}

// Do runs fn on the loop and waits for it to finish.
// It must not be called from inside a loop task.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	if err := l.submit(ctx, task); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// Stopped after accepting the task: Run drains the queue before closing done.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop signals the loop to exit after draining queued tasks. It is idempotent.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Done returns a channel closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Executed returns how many tasks have run so far.
func (l *Loop) Executed() int64 {
	return l.executed.Load()
}
