package sandbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrLimiterClosed  = errors.New("sandbox limiter is closed")
	ErrAcquireTimeout = errors.New("sandbox acquisition timeout")
)

// Observer is notified when sandboxes open and close
type Observer interface {
	SandboxOpened(wait time.Duration)
	SandboxClosed()
}

// LimiterOption customizes a Limiter
type LimiterOption func(*Limiter)

// WithObserver reports sandbox lifecycle events to o
func WithObserver(o Observer) LimiterOption {
	return func(l *Limiter) {
		l.observer = o
	}
}

// WithAcquireTimeout bounds how long Run waits for a free slot. Zero or
// less leaves the caller's context as the only bound.
func WithAcquireTimeout(d time.Duration) LimiterOption {
	return func(l *Limiter) {
		if d < 0 {
			d = 0
		}
		l.acquireTimeout = d
	}
}

// Limiter bounds how many sandboxes run at once. Every Run gets a brand-new
// Runtime that is closed when the callback returns; runtimes are never
// reused, so no script state can leak from one caller to the next.
type Limiter struct {
	config         Config
	slots          chan struct{}
	max            int
	acquireTimeout time.Duration
	observer       Observer

	created atomic.Int64
	mu      sync.RWMutex
	closed  bool
}

// NewLimiter creates a limiter allowing max concurrent sandboxes
func NewLimiter(config Config, max int, opts ...LimiterOption) *Limiter {
	if max <= 0 {
		max = 4
	}

	l := &Limiter{
		config: config,
		slots:  make(chan struct{}, max),
		max:    max,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run waits for a slot, creates a fresh runtime, and passes it to fn. The
// runtime is closed on every exit path, including a panic in fn.
func (l *Limiter) Run(ctx context.Context, fn func(*Runtime) error) error {
	start := time.Now()
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	rt, err := New(l.config)
	if err != nil {
		return err
	}
	l.created.Add(1)
	if l.observer != nil {
		l.observer.SandboxOpened(time.Since(start))
	}
	defer func() {
		_ = rt.Close()
		if l.observer != nil {
			l.observer.SandboxClosed()
		}
	}()

	return fn(rt)
}

func (l *Limiter) acquire(ctx context.Context) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrLimiterClosed
	}

	var expired <-chan time.Time
	if l.acquireTimeout > 0 {
		timer := time.NewTimer(l.acquireTimeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrAcquireTimeout
	}
}

func (l *Limiter) release() {
	<-l.slots
}

// Close stops admitting new runs. Runs already in flight finish normally.
func (l *Limiter) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Stats is a point-in-time view of limiter usage
type Stats struct {
	Max     int   `json:"max"`
	InUse   int   `json:"in_use"`
	Created int64 `json:"created"`
	Closed  bool  `json:"closed"`
}

// Stats returns limiter statistics
func (l *Limiter) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Stats{
		Max:     l.max,
		InUse:   len(l.slots),
		Created: l.created.Load(),
		Closed:  l.closed,
	}
}
