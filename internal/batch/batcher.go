package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/livematch/internal/dispatch"
)

// FlushFunc performs the write for an accumulated value.
type FlushFunc[T any] func(ctx context.Context, v T) error

// MergeFunc combines a pending value with a newer update for the same key.
type MergeFunc[T any] func(prev, next T) T

type Options[T any] struct {
	Name   string
	Window time.Duration
	// Merge accumulates updates; nil means the newest update replaces the pending one.
	Merge MergeFunc[T]
	// Dispatcher runs flushes; nil runs them on a fresh goroutine.
	Dispatcher *dispatch.Dispatcher
	// OnError is called after a flush fails.
	OnError func(key string, err error)
	Logger  *zap.Logger
}

type entry[T any] struct {
	value T
	flush FlushFunc[T]
	timer *time.Timer
	gen   uint64
}

type inflight[T any] struct {
	next  *T
	flush FlushFunc[T]
}

// Batcher coalesces updates per key and flushes each key once its debounce
// window passes without a new update. A key has at most one live timer and at
// most one flush in flight; values that expire while their key is in flight
// are held (merged) and written once the in-flight flush completes.
type Batcher[T any] struct {
	mu       sync.Mutex
	pending  map[string]*entry[T]
	inflight map[string]*inflight[T]
	gen      uint64
	opts     Options[T]
	logger   *zap.Logger
}

func New[T any](opts Options[T]) *Batcher[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher[T]{
		pending:  make(map[string]*entry[T]),
		inflight: make(map[string]*inflight[T]),
		opts:     opts,
		logger:   logger.Named("batch").With(zap.String("batcher", opts.Name)),
	}
}

// SumInts accumulates numeric deltas.
func SumInts(prev, next int) int { return prev + next }

// Batch records update for key and re-arms the key's debounce timer.
func (b *Batcher[T]) Batch(key string, update T, flush FlushFunc[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.pending[key]
	if ok {
		e.timer.Stop()
		if b.opts.Merge != nil {
			update = b.opts.Merge(e.value, update)
		}
	} else {
		e = &entry[T]{}
		b.pending[key] = e
	}
	b.gen++
	e.value = update
	e.flush = flush
	e.gen = b.gen
	gen := b.gen
	e.timer = time.AfterFunc(b.opts.Window, func() { b.expire(key, gen) })
}

func (b *Batcher[T]) expire(key string, gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.pending[key]
	if !ok || e.gen != gen {
		return
	}
	delete(b.pending, key)
	b.startLocked(key, e.value, e.flush)
}

func (b *Batcher[T]) startLocked(key string, v T, flush FlushFunc[T]) {
	if f, busy := b.inflight[key]; busy {
		if f.next != nil && b.opts.Merge != nil {
			v = b.opts.Merge(*f.next, v)
		}
		f.next = &v
		f.flush = flush
		return
	}
	b.inflight[key] = &inflight[T]{}

	var ran atomic.Bool
	run := func(ctx context.Context) error {
		ran.Store(true)
		err := flush(ctx, v)
		b.done(key, err)
		return err
	}
	if b.opts.Dispatcher != nil {
		fut := b.opts.Dispatcher.Submit(run)
		go func() {
			// A rejected op never ran; release the key so it is not stuck.
			if err := fut.Err(); err != nil && !ran.Load() {
				b.done(key, err)
			}
		}()
		return
	}
	go func() { _ = run(context.Background()) }()
}

func (b *Batcher[T]) done(key string, err error) {
	if err != nil {
		b.logger.Warn("flush failed", zap.String("key", key), zap.Error(err))
		if b.opts.OnError != nil {
			b.opts.OnError(key, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	f := b.inflight[key]
	delete(b.inflight, key)
	if f != nil && f.next != nil {
		b.startLocked(key, *f.next, f.flush)
	}
}

// Flush cancels every debounce timer and dispatches all pending values now.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.pending {
		e.timer.Stop()
		delete(b.pending, key)
		b.startLocked(key, e.value, e.flush)
	}
}

// Discard cancels every debounce timer and drops pending values unwritten.
func (b *Batcher[T]) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.pending {
		e.timer.Stop()
		delete(b.pending, key)
	}
}

// Pending returns the number of keys waiting for their window to pass.
func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
