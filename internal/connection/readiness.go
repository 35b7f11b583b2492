package connection

import (
	"context"
	"sync"
)

// Readiness is a one-shot completion signal for a connection attempt.
// It settles exactly once, either fulfilled (nil error) or rejected.
type Readiness struct {
	once sync.Once
	done chan struct{}
	err  error
}

func newReadiness() *Readiness {
	return &Readiness{done: make(chan struct{})}
}

// settle records the outcome. Only the first call has any effect; it reports
// whether this call settled the readiness.
func (r *Readiness) settle(err error) bool {
	settled := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		settled = true
	})
	return settled
}

// Done is closed once the readiness settles.
func (r *Readiness) Done() <-chan struct{} {
	return r.done
}

// Settled reports whether the readiness has settled.
func (r *Readiness) Settled() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Err returns the rejection cause. It is nil while pending and after fulfilment.
func (r *Readiness) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

// Wait blocks until the readiness settles or ctx is done.
func (r *Readiness) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
