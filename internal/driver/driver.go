// Package driver implements the end-phase driver (spec.md §4.1.1/§4.1.2):
// given an LRA entering Closing or Cancelling, it invokes each
// participant's complete/compensate callback in the right order, polls
// status for participants left in-flight, and classifies every HTTP
// response into retryable / permanent / terminal-success.
//
// Generalizes the teacher's twoPhaseCommit/advanceProgress
// (txmanager/txmanager.go): fan-out-then-join over component.Try becomes
// one participant complete/compensate call after another, in completion
// or compensation order; the
// teacher's plain ACK bool becomes the five-way HTTP response
// classification spec.md §4.1.1 step 3 describes.
package driver

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"lracoord/internal/lra"
	"lracoord/internal/participant"
)

// Orchestrator is the slice of the coordinator engine the driver needs:
// child lookup/recursion for nested close, persistence write-through,
// and failure reclassification. Defined here (consumer side) rather than
// in internal/coordinator so driver never imports coordinator --
// coordinator.Engine implements this interface instead.
type Orchestrator interface {
	// Lookup returns the registry entry for id, if loaded in memory.
	Lookup(id string) (*lra.Entry, bool)
	// CloseChild recursively drives a child LRA's close; returns the
	// child's resulting status.
	CloseChild(ctx context.Context, childID string) (lra.Status, error)
	// ForceCancel transitions id (normally the parent of a cancelled
	// child) into Cancelling, per spec.md §4.1.1 step 1 "a child
	// cancellation forces the parent into Cancelling."
	ForceCancel(ctx context.Context, id string) error
	// Persist write-through persists l's current state.
	Persist(ctx context.Context, l *lra.LRA) error
	// MarkFailed moves l, whose status the driver has already set to
	// FailedToClose/FailedToCancel, to the failed-LRA store type and drops
	// it from the in-memory registry.
	MarkFailed(ctx context.Context, l *lra.LRA) error
	// Forget removes a terminal LRA from the registry and the store.
	Forget(ctx context.Context, l *lra.LRA) error
}

// Driver drives the end phase for one LRA at a time, using doer to make
// the outbound participant HTTP calls.
type Driver struct {
	doer    HTTPDoer
	log     *zap.Logger
	backoff Backoff
}

// HTTPDoer is the subset of *http.Client the driver depends on, so tests
// can substitute a fake transport without spinning up a real listener.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// New builds a Driver. The Driver keeps backoff but does not wait or
// retry itself: a retryable failure leaves the participant's state as it
// was for the next recovery pass, and the serving path never retries
// inline (spec.md §7).
func New(doer HTTPDoer, log *zap.Logger, backoff Backoff) *Driver {
	if backoff == (Backoff{}) {
		backoff = DefaultBackoff()
	}
	return &Driver{doer: doer, log: log, backoff: backoff}
}

// Drive runs one end-phase pass over entry's LRA: if Closing, it first
// closes every child recursively (spec.md §4.1.1 step 1); then it calls
// each participant's complete-or-after (Closing) or compensate
// (Cancelling, reverse order) and classifies the result. The caller must
// hold entry's lock only long enough to read a consistent snapshot of
// the LRA before calling Drive and must not hold it during Drive itself
// -- the outbound HTTP calls must run outside the lock (DESIGN NOTES §9
// "Per-LRA serialization").
func (d *Driver) Drive(ctx context.Context, orch Orchestrator, l *lra.LRA) error {
	if l.Status == lra.StatusClosing {
		if err := d.closeChildren(ctx, orch, l); err != nil {
			// A child ended Cancelled or FailedToCancel; the whole parent
			// follows it into Cancelling per spec.md §4.1.1 step 1.
			l.Status = lra.StatusCancelling
		}
	}

	var order []*participant.Record
	if l.Status == lra.StatusCancelling {
		order = l.CompensationOrder()
	} else {
		order = l.CompletionOrder()
	}

	var errs error
	for _, p := range order {
		if p.State.IsTerminal() {
			continue
		}
		if err := d.driveParticipant(ctx, l, p); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return d.finalize(ctx, orch, l, errs)
}

// closeChildren recursively closes every child of l, depth-first. If any
// child ends Cancelled or FailedToCancel, it returns a non-nil error
// so the caller forces the parent into Cancelling instead.
func (d *Driver) closeChildren(ctx context.Context, orch Orchestrator, l *lra.LRA) error {
	for _, childID := range l.Children {
		status, err := orch.CloseChild(ctx, childID)
		if err != nil {
			d.log.Warn("child close failed", zap.String("lra", l.ID), zap.String("child", childID), zap.Error(err))
			continue
		}
		if status == lra.StatusCancelled || status == lra.StatusFailedToCancel {
			return fmt.Errorf("driver: child %s did not close", childID)
		}
	}
	return nil
}

// finalize interprets the post-pass state of l (spec.md §4.1.1 step 4):
// all terminal -> terminal success; any permanently failed -> FailedTo*;
// otherwise leave as-is for the next recovery pass.
func (d *Driver) finalize(ctx context.Context, orch Orchestrator, l *lra.LRA, driveErr error) error {
	switch {
	case l.AnyParticipantFailed():
		if l.Status == lra.StatusCancelling {
			l.Status = lra.StatusFailedToCancel
		} else {
			l.Status = lra.StatusFailedToClose
		}
		if err := orch.MarkFailed(ctx, l); err != nil {
			return multierr.Append(driveErr, err)
		}
		d.fireAfter(ctx, l)
		return driveErr

	case l.AllParticipantsTerminal():
		if l.Status == lra.StatusCancelling {
			l.Status = lra.StatusCancelled
		} else {
			l.Status = lra.StatusClosed
		}
		d.fireAfter(ctx, l)
		if err := orch.Forget(ctx, l); err != nil {
			return multierr.Append(driveErr, err)
		}
		return driveErr

	default:
		// Still in flight; persist progress and leave for recovery.
		if err := orch.Persist(ctx, l); err != nil {
			return multierr.Append(driveErr, err)
		}
		return driveErr
	}
}
