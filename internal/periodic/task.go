// Package periodic runs cancellable fixed-interval tasks.
package periodic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Options controls how a Task schedules its ticks.
type Options struct {
	// Immediate runs the first tick as soon as the task starts instead of
	// after one interval.
	Immediate bool

	// Concurrent runs every tick on its own goroutine so a slow tick never
	// delays the next one. Serial tasks skip ticks that fall due while the
	// previous tick is still running.
	Concurrent bool
}

// Task is a handle to a running periodic function.
type Task struct {
	cancel context.CancelFunc
	ctx    context.Context
	fn     func(ctx context.Context)
	opts   Options

	mu      sync.Mutex
	stopped bool
	once    sync.Once

	loopDone chan struct{}
	inflight sync.WaitGroup
	ticks    atomic.Uint64
}

// Start launches fn every interval until Stop is called or parent is done.
// The context passed to fn is cancelled when the task stops.
func Start(parent context.Context, interval time.Duration, fn func(ctx context.Context), opts Options) *Task {
	ctx, cancel := context.WithCancel(parent)
	t := &Task{
		cancel:   cancel,
		ctx:      ctx,
		fn:       fn,
		opts:     opts,
		loopDone: make(chan struct{}),
	}
	go t.loop(interval)
	return t
}

func (t *Task) loop(interval time.Duration) {
	defer close(t.loopDone)

	if t.opts.Immediate {
		t.tick()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// tick runs fn once unless the task has been stopped. The stopped check and
// the in-flight registration happen under one lock, so once Stop returns no
// new tick can begin.
func (t *Task) tick() {
	t.mu.Lock()
	if t.stopped || t.ctx.Err() != nil {
		t.mu.Unlock()
		return
	}
	t.inflight.Add(1)
	t.mu.Unlock()

	t.ticks.Add(1)
	if t.opts.Concurrent {
		go func() {
			defer t.inflight.Done()
			t.fn(t.ctx)
		}()
		return
	}
	defer t.inflight.Done()
	t.fn(t.ctx)
}

// Stop cancels the task. It is idempotent and safe to call from inside fn.
// Ticks already running see their context cancelled; none start afterwards.
func (t *Task) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		t.cancel()
	})
}

// Stopped reports whether Stop has been called or the parent context ended.
func (t *Task) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped || t.ctx.Err() != nil
}

// Ticks returns how many ticks have started.
func (t *Task) Ticks() uint64 {
	return t.ticks.Load()
}

// Wait blocks until the task is stopped and every started tick has returned.
// It must not be called from inside fn.
func (t *Task) Wait() {
	<-t.loopDone
	t.inflight.Wait()
}
