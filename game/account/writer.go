package account

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kasuganosora/questkeeper/metrics"
	"go.uber.org/zap"
)

// ErrWriterClosed is reported for writes submitted after shutdown.
var ErrWriterClosed = errors.New("account: persistence writer closed")

type writeOp struct {
	name   string
	fn     func(ctx context.Context) error
	fields []zap.Field
	done   chan error
}

// writer applies persistence operations one at a time, in submission order,
// off the main loop.
type writer struct {
	mu      sync.RWMutex
	closed  bool
	ops     chan *writeOp
	done    chan struct{}
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func newWriter(timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *writer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	w := &writer{
		ops:     make(chan *writeOp, 1024),
		done:    make(chan struct{}),
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for op := range w.ops {
		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		err := op.fn(ctx)
		cancel()
		if err != nil {
			w.metrics.PersistFailed(op.name)
			w.logger.Error("persistence write failed",
				append(op.fields, zap.String("op", op.name), zap.Error(err))...)
		}
		op.done <- err
		close(op.done)
	}
}

// enqueue submits fn. The returned channel yields its result once applied.
func (w *writer) enqueue(name string, fn func(ctx context.Context) error, fields ...zap.Field) <-chan error {
	op := &writeOp{name: name, fn: fn, fields: fields, done: make(chan error, 1)}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		op.done <- ErrWriterClosed
		close(op.done)
		return op.done
	}
	w.ops <- op
	return op.done
}

// sync waits until every write submitted before the call has been applied.
func (w *writer) sync(ctx context.Context) error {
	done := w.enqueue("sync", func(context.Context) error { return nil })
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting writes and waits for queued ones to finish.
func (w *writer) close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.ops)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait blocks on a write result.
func wait(ctx context.Context, done <-chan error) error {
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
