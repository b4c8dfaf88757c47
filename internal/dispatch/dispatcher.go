package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("dispatcher closed")

const (
	DefaultMaxActive = 3
	DefaultSpacing   = 100 * time.Millisecond
)

type Options struct {
	// MaxActive caps concurrently running operations.
	MaxActive int
	// Spacing is the minimum gap between two consecutive operation starts.
	Spacing time.Duration
	Logger  *zap.Logger
}

type task struct {
	run    func(ctx context.Context) error
	reject func(error)
}

// Dispatcher runs backend writes with a concurrency ceiling and a fixed gap
// between starts. Excess work waits in an unbounded FIFO; nothing is dropped.
type Dispatcher struct {
	mu        sync.Mutex
	queue     []task
	active    int
	maxActive int
	spacing   time.Duration
	nextStart time.Time
	closed    bool
	idle      []chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

func New(parent context.Context, opts Options) *Dispatcher {
	if opts.MaxActive <= 0 {
		opts.MaxActive = DefaultMaxActive
	}
	if opts.Spacing < 0 {
		opts.Spacing = 0
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Dispatcher{
		maxActive: opts.MaxActive,
		spacing:   opts.Spacing,
		ctx:       ctx,
		cancel:    cancel,
		logger:    opts.Logger.Named("dispatch"),
	}
}

// Enqueue schedules op and returns a Future for its result.
func Enqueue[T any](d *Dispatcher, op func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	d.push(task{
		run: func(ctx context.Context) error {
			v, err := op(ctx)
			f.resolve(v, err)
			return err
		},
		reject: func(err error) {
			var zero T
			f.resolve(zero, err)
		},
	})
	return f
}

// Submit schedules an operation that only reports success or failure.
func (d *Dispatcher) Submit(op func(ctx context.Context) error) *Future[struct{}] {
	return Enqueue(d, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
}

func (d *Dispatcher) push(t task) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		t.reject(ErrClosed)
		return
	}
	d.queue = append(d.queue, t)
	queueDepth.Inc()
	d.drainLocked()
	d.mu.Unlock()
}

func (d *Dispatcher) drainLocked() {
	for d.active < d.maxActive && len(d.queue) > 0 {
		t := d.queue[0]
		d.queue[0] = task{}
		d.queue = d.queue[1:]
		queueDepth.Dec()

		d.active++
		activeOps.Inc()

		now := time.Now()
		start := now
		if d.nextStart.After(now) {
			start = d.nextStart
		}
		d.nextStart = start.Add(d.spacing)

		go d.run(t, start.Sub(now))
	}
}

func (d *Dispatcher) run(t task, delay time.Duration) {
	defer d.finish()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-d.ctx.Done():
			timer.Stop()
		}
	}
	if d.ctx.Err() != nil {
		completedOps.WithLabelValues("cancelled").Inc()
		t.reject(ErrClosed)
		return
	}

	if err := t.run(d.ctx); err != nil {
		completedOps.WithLabelValues("error").Inc()
		d.logger.Debug("operation failed", zap.Error(err))
		return
	}
	completedOps.WithLabelValues("ok").Inc()
}

func (d *Dispatcher) finish() {
	d.mu.Lock()
	d.active--
	activeOps.Dec()
	d.drainLocked()
	if d.active == 0 && len(d.queue) == 0 {
		for _, ch := range d.idle {
			close(ch)
		}
		d.idle = nil
	}
	d.mu.Unlock()
}

// Drain waits until nothing is queued or running. Work submitted by running
// operations, such as a follow-up flush, is waited for too.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.active == 0 && len(d.queue) == 0 {
		d.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	d.idle = append(d.idle, ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of queued operations that have not started.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Active returns the number of operations currently holding a slot.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Close rejects queued work with ErrClosed and cancels running operations.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.queue
	d.queue = nil
	queueDepth.Sub(float64(len(pending)))
	d.mu.Unlock()

	d.cancel()
	for _, t := range pending {
		t.reject(ErrClosed)
	}
}
