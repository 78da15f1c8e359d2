package session

import (
	"context"
	"sync"
)

// loop is the session's single execution context. post never blocks, so
// connection callbacks raised from inside the loop can queue more work.
type loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	quit    chan struct{}
	stopped chan struct{}
	closed  bool
	started bool

	posted uint64
	ran    uint64
}

func newLoop() *loop {
	return &loop{
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// post queues f. It reports false once the loop has been stopped.
func (l *loop) post(f func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, f)
	l.posted++
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// start marks the loop as running and runs it on its own goroutine.
func (l *loop) start(ctx context.Context, teardown func()) {
	l.mu.Lock()
	l.started = true
	l.mu.Unlock()
	go l.run(ctx, teardown)
}

// call runs f on the loop and waits for it to finish. Work posted before
// start only runs once the loop starts, so call refuses to wait for it.
func (l *loop) call(f func()) error {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	done := make(chan struct{})
	if !l.post(func() {
		f()
		close(done)
	}) {
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-l.stopped:
		select {
		case <-done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// run executes queued work until ctx ends or stop is called, then runs
// teardown on the loop goroutine.
func (l *loop) run(ctx context.Context, teardown func()) {
	defer close(l.stopped)

	for {
		select {
		case <-l.wake:
			l.drain()
		case <-ctx.Done():
			l.shutdown(teardown)
			return
		case <-l.quit:
			l.shutdown(teardown)
			return
		}
	}
}

func (l *loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		f := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		f()

		l.mu.Lock()
		l.ran++
		l.mu.Unlock()
	}
}

// idle reports whether every posted function has finished running.
func (l *loop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed || l.posted == l.ran
}

// shutdown runs what is already queued, refuses new work and tears down.
func (l *loop) shutdown(teardown func()) {
	l.drain()
	l.mu.Lock()
	l.closed = true
	l.queue = nil
	l.mu.Unlock()
	teardown()
}

func (l *loop) stop() {
	l.mu.Lock()
	select {
	case <-l.quit:
	default:
		close(l.quit)
	}
	l.mu.Unlock()
}
