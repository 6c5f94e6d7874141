package interop

import (
	"errors"
	"fmt"
)

// PushAll acquires every set for compute with a single driver call. All sets are validated first;
// if any is not OwnedByRender, nothing is transferred. If the driver fails part-way, sets before
// the failing index end up OwnedByCompute and the returned *BatchError lists the rest.
//
// Parameters:
//   - queue: the compute queue performing the acquire
//   - sets: the attribute sets used by this frame's kernel
//
// Returns:
//   - error: a *BatchError whose failures are KindAcquire, or nil
func PushAll(queue QueueHandle, sets ...Transferable) error {
	return batch(pushTransition, queue, sets)
}

// PopAll releases every set back to render with a single driver call. Semantics mirror PushAll.
//
// Parameters:
//   - queue: the compute queue performing the release
//   - sets: the attribute sets used by this frame's kernel
//
// Returns:
//   - error: a *BatchError whose failures are KindRelease, or nil
func PopAll(queue QueueHandle, sets ...Transferable) error {
	return batch(popTransition, queue, sets)
}

// RequireOwner checks that every set is currently owned by owner. The frame driver calls it before
// dispatching (owner OwnedByCompute) and before drawing (owner OwnedByRender) so an ordering bug is
// rejected instead of touching an allocation the other subsystem holds.
//
// Parameters:
//   - owner: the required owner
//   - sets: the attribute sets about to be used
//
// Returns:
//   - error: KindAcquire (dispatch) or KindRelease (draw) naming the first offending set, or nil
func RequireOwner(owner BindingOwner, sets ...Transferable) error {
	op, kind := "draw", KindRelease
	if owner == OwnedByCompute {
		op, kind = "dispatch", KindAcquire
	}
	for _, s := range sets {
		c := s.core()
		if c.owner != owner {
			return newError(kind, op, c.label, c.layoutName, fmt.Sprintf("requires %s, attribute set is %s", owner, c.owner), nil)
		}
	}
	return nil
}

func batch(t transition, queue QueueHandle, sets []Transferable) error {
	cores := make([]*setCore, len(sets))
	for i, s := range sets {
		cores[i] = s.core()
	}
	if failures := transferAll(t, queue, cores); len(failures) > 0 {
		return &BatchError{Op: t.op, Failures: failures}
	}
	return nil
}

// transferAll implements one edge of the state machine for a batch of sets. Per-set state stays
// independent so a partial failure reports exactly which sets did not move.
func transferAll(t transition, queue QueueHandle, cores []*setCore) []*Error {
	if len(cores) == 0 {
		return nil
	}

	var failures []*Error
	ctx := cores[0].ctx
	seen := make(map[*setCore]bool, len(cores))
	for _, c := range cores {
		switch {
		case t.check(c.owner) != "":
			failures = append(failures, c.transferError(t, t.check(c.owner), nil))
		case seen[c]:
			failures = append(failures, c.transferError(t, "attribute set appears twice in one batch", nil))
		case c.ctx != ctx:
			failures = append(failures, c.transferError(t, "batch mixes GPU contexts", nil))
		}
		seen[c] = true
	}
	if len(failures) > 0 {
		return failures
	}

	handles := make([]AllocationHandle, len(cores))
	for i, c := range cores {
		handles[i] = c.alloc
	}

	var err error
	if t.to == OwnedByCompute {
		err = ctx.compute.AcquireForCompute(queue, handles)
	} else {
		err = ctx.compute.ReleaseFromCompute(queue, handles)
	}

	moved := len(cores)
	if err != nil {
		moved = 0
		var de *DriverError
		if errors.As(err, &de) && de.Index >= 0 && de.Index < len(cores) {
			moved = de.Index
		}
	}

	for i, c := range cores {
		switch {
		case i < moved:
			c.owner = t.to
			c.queue = queue
			c.log().WithField("op", t.op).Debug("ownership transferred")
		case i == moved:
			failures = append(failures, c.transferError(t, "rejected by compute driver", err))
		default:
			failures = append(failures, c.transferError(t, fmt.Sprintf("not transferred: batch stopped at %q", cores[moved].label), nil))
		}
	}
	return failures
}

func (c *setCore) transferError(t transition, reason string, err error) *Error {
	return newError(t.kind, t.op, c.label, c.layoutName, reason, err)
}
