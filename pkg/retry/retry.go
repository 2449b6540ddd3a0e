// Package retry implements bounded exponential backoff for transient failures.
package retry

import (
	"context"
	"time"
)

// Permanent marks an error as non-retriable. Do returns it immediately.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// NewPermanent wraps err so Do does not retry it.
func NewPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &Permanent{Err: err}
}

// Do runs fn up to attempts times, doubling the wait after each failure
// starting from base. Context cancellation aborts the wait. The last error
// is returned after exhaustion.
func Do(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	wait := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if p, ok := err.(*Permanent); ok {
			return p.Err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
	return err
}
