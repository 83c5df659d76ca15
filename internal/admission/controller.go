// Package admission bounds how many requests execute business logic at once,
// so that backpressure shows up here as fast rejections instead of as
// connection-pool exhaustion in the relational store.
package admission

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// Acquire failures. Both mean "retry later"; Overloaded is decided before
// queueing, QueueTimeout after waiting the full timeout.
var (
	ErrOverloaded   = errors.New("admission: overloaded")
	ErrQueueTimeout = errors.New("admission: queue wait timed out")
)

// Config carries the three thresholds and the queue-wait bound.
// MaxConcurrent must stay below the relational store's connection pool size
// so admission reacts to load before the pool does.
type Config struct {
	MaxConcurrent   int
	QueueCapacity   int
	RejectThreshold int
	WaitTimeout     time.Duration
}

// Controller is a channel semaphore with an atomic active+queued count on
// top. The count decides immediate rejection; the semaphore decides when a
// queued request may run.
type Controller struct {
	cfg     Config
	permits chan struct{}
	// active + queued
	inFlight atomic.Int64
}

func New(cfg Config) *Controller {
	if cfg.RejectThreshold > cfg.MaxConcurrent+cfg.QueueCapacity {
		cfg.RejectThreshold = cfg.MaxConcurrent + cfg.QueueCapacity
	}
	return &Controller{
		cfg:     cfg,
		permits: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Permit represents the right to execute. Release must be called exactly
// once, when the request finishes.
type Permit struct {
	c        *Controller
	released atomic.Bool
}

// Release returns the permit. Safe to call more than once; only the first
// call has effect.
func (p *Permit) Release() {
	if p.released.Swap(true) {
		return
	}
	<-p.c.permits
	p.c.inFlight.Add(-1)
}

// Acquire waits for a permit. It fails immediately with ErrOverloaded when
// active+queued has reached the reject threshold, and with ErrQueueTimeout
// when no permit frees up within the configured wait timeout. Context
// cancellation also aborts the wait.
func (c *Controller) Acquire(ctx context.Context) (*Permit, error) {
	if c.inFlight.Add(1) > int64(c.cfg.RejectThreshold) {
		c.inFlight.Add(-1)
		return nil, ErrOverloaded
	}

	select {
	case c.permits <- struct{}{}:
		return &Permit{c: c}, nil
	default:
	}

	timer := time.NewTimer(c.cfg.WaitTimeout)
	defer timer.Stop()
	select {
	case c.permits <- struct{}{}:
		return &Permit{c: c}, nil
	case <-timer.C:
		c.inFlight.Add(-1)
		return nil, ErrQueueTimeout
	case <-ctx.Done():
		c.inFlight.Add(-1)
		return nil, ctx.Err()
	}
}

// InFlight reports the current active+queued count, for metrics.
func (c *Controller) InFlight() int64 {
	return c.inFlight.Load()
}

// RetryAfter suggests how long a rejected caller should back off.
func (c *Controller) RetryAfter() time.Duration {
	return c.cfg.WaitTimeout
}
