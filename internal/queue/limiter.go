package queue

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates dequeues for one queue: at most MaxConcurrent jobs in flight
// and at most MaxOpsPerWindow dequeues per rolling window. An admission that
// would exceed either limit waits instead of erroring.
type Limiter struct {
	slots   chan struct{}
	dequeue *rate.Limiter
}

func NewLimiter(maxConcurrent, maxOpsPerWindow int, window time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if maxOpsPerWindow <= 0 {
		maxOpsPerWindow = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{
		slots:   make(chan struct{}, maxConcurrent),
		dequeue: rate.NewLimiter(rate.Limit(float64(maxOpsPerWindow)/window.Seconds()), maxOpsPerWindow),
	}
}

// Acquire blocks until both a concurrency slot and a rate token are
// available, or the context is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := l.dequeue.Wait(ctx); err != nil {
		<-l.slots
		return err
	}
	return nil
}

// Release frees a concurrency slot after job execution finishes.
func (l *Limiter) Release() {
	<-l.slots
}

// InFlight reports the number of held concurrency slots.
func (l *Limiter) InFlight() int {
	return len(l.slots)
}
