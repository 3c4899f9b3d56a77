// Package admission bounds how many connections the dispatcher runs
// concurrently. It repurposes the teacher's per-client token-bucket rate
// limiter into the "fixed worker pool is an acceptable refinement" option
// §5 names explicitly: every accepted connection is independent, but the
// dispatcher may still choose to cap how many run at once.
package admission

import "context"

// Limiter is a counting semaphore over in-flight connections.
type Limiter struct {
    slots chan struct{}
}

// NewLimiter creates a limiter admitting up to capacity concurrent
// connections. A non-positive capacity means unbounded, matching §5's
// statement that a worker pool is an optional refinement, not a
// requirement.
func NewLimiter(capacity int) *Limiter {
    if capacity <= 0 {
        return &Limiter{}
    }
    return &Limiter{slots: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is cancelled. An unbounded
// limiter always succeeds immediately.
func (l *Limiter) Acquire(ctx context.Context) error {
    if l.slots == nil {
        return nil
    }
    select {
    case l.slots <- struct{}{}:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Release frees the slot acquired by a prior successful Acquire. Safe to
// call on an unbounded limiter as a no-op.
func (l *Limiter) Release() {
    if l.slots == nil {
        return
    }
    <-l.slots
}

// InUse reports how many slots are currently held, for metrics.
func (l *Limiter) InUse() int {
    if l.slots == nil {
        return 0
    }
    return len(l.slots)
}
