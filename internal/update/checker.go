package update

import (
	"context"
	"fmt"
	"time"
)

// PendingCheck is an update check that may still be running
type PendingCheck struct {
	done chan struct{}
	pkg  Package
	err  error
}

// StartCheck runs client.CheckForUpdate in the background and returns a handle to it.
// The check is detached from ctx cancellation so that giving up on it never aborts it.
func StartCheck(ctx context.Context, client Client) *PendingCheck {
	p := &PendingCheck{done: make(chan struct{})}
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer close(p.done)
		defer func() {
			if r := recover(); r != nil {
				p.pkg, p.err = nil, fmt.Errorf("update check panicked: %v", r)
			}
		}()
		p.pkg, p.err = client.CheckForUpdate(ctx)
	}()

	return p
}

// Done is closed once the check has finished
func (p *PendingCheck) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the check finishes or ctx ends.
// Every call after completion returns the same result.
func (p *PendingCheck) Wait(ctx context.Context) (Package, error) {
	select {
	case <-p.done:
		return p.pkg, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CheckWithTimeout races an update check against a timer.
//
// If the check finishes first the outcome is *Resolved and err carries the
// check's own failure, if any. If the timer fires first the outcome is
// *TimedOut and err is always nil; a later check failure surfaces only
// through TimedOut.Pending. Cancelling ctx counts as the timer firing.
func CheckWithTimeout(ctx context.Context, client Client, timeout time.Duration) (CheckOutcome, error) {
	pending := StartCheck(ctx, client)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-pending.done:
		if pending.err != nil {
			return nil, pending.err
		}
		return &Resolved{Package: pending.pkg}, nil
	case <-timer.C:
		return &TimedOut{Pending: pending}, nil
	case <-ctx.Done():
		return &TimedOut{Pending: pending}, nil
	}
}
