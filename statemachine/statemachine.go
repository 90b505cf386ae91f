// Package statemachine implements the pure-ish apply function described in
// spec §4.2: given a command, a transaction, and the leadership flag, it
// mutates persistent state, appends diagnostic effects, and — only while
// leader — appends actions for actuators. Applying a command must be
// deterministic given identical prior state and the same command.
package statemachine

import (
	"fmt"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/errs"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/storage"
)

// Apply dispatches one (non-AnnounceLeader) command against tx, recording
// diagnostic effects unconditionally and actions only when isLeader is
// true. AnnounceLeader is never passed here: apply_record handles it
// specially (spec §4.4 step 6) before reaching the generic state machine.
func Apply(cmd *envelope.Command, tx *storage.Transaction, effects *Effects, actions *ActionCollector, isLeader bool) error {
	switch cmd.Kind {
	case envelope.CommandInvokeService:
		return applyInvokeService(cmd.InvokeService, tx, effects, actions, isLeader)
	case envelope.CommandInvocationResponse:
		return applyInvocationResponse(cmd.InvocationResponse, tx, effects, actions, isLeader)
	case envelope.CommandSuspendInvocation:
		return applySuspendInvocation(cmd.SuspendInvocation, tx, effects)
	case envelope.CommandAbortInvocation:
		return applyAbortInvocation(cmd.AbortInvocation, tx, effects, actions, isLeader)
	case envelope.CommandRegisterTimer:
		return applyRegisterTimer(cmd.RegisterTimer, actions, isLeader)
	case envelope.CommandDeleteTimer:
		return applyDeleteTimer(cmd.DeleteTimer, actions, isLeader)
	case envelope.CommandEnqueueOutboxMessage:
		return applyEnqueueOutboxMessage(cmd.EnqueueOutboxMessage, tx, effects, actions, isLeader)
	case envelope.CommandTruncateOutbox:
		return applyTruncateOutbox(cmd.TruncateOutbox, actions, isLeader)
	case envelope.CommandAnnounceLeader:
		return errs.NewPartitionError(errs.ErrProgrammer, "apply", fmt.Errorf("AnnounceLeader must be handled by apply_record, not the state machine"))
	default:
		return errs.NewPartitionError(errs.ErrStateMachine, "apply", fmt.Errorf("unknown command kind %d", cmd.Kind))
	}
}

func applyInvokeService(c *envelope.InvokeService, tx *storage.Transaction, effects *Effects, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "invoke_service", fmt.Errorf("nil payload"))
	}

	if c.Key != nil {
		obj, _ := tx.VirtualObjectStatus(*c.Key)
		if obj.Kind == storage.ObjectLocked && obj.Holder != c.InvocationID {
			// Object held by another invocation: queue (no state-machine
			// effect beyond accounting; the holder's completion will
			// eventually free the lock and re-dispatch).
			effects.Record(Effect{Kind: EffectInvocationQueued, InvocationID: c.InvocationID, Detail: string(*c.Key)})
			if isLeader {
				actions.Collect(Action{Kind: ActionAckStoredEntry, AckStoredEntryID: c.InvocationID})
			}
			return nil
		}
		tx.StoreVirtualObjectStatus(*c.Key, storage.ObjectStatus{Kind: storage.ObjectLocked, Holder: c.InvocationID})
		effects.Record(Effect{Kind: EffectInvocationLocked, InvocationID: c.InvocationID, Detail: string(*c.Key)})
	}

	if c.IdempotencyID != nil {
		tx.StoreIdempotency(*c.IdempotencyID, c.InvocationID)
	}

	status := storage.InvocationStatus{Kind: storage.InvocationInvoked}
	if c.Key != nil {
		status.LockedObject = *c.Key
	}
	tx.StoreInvocationStatus(c.InvocationID, status)

	if isLeader {
		actions.Collect(Action{Kind: ActionInvokeService, InvokeService: c})
	}
	return nil
}

func applyInvocationResponse(c *envelope.InvocationResponse, tx *storage.Transaction, effects *Effects, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "invocation_response", fmt.Errorf("nil payload"))
	}

	unlockHeldObject(tx, c.InvocationID)
	tx.StoreInvocationStatus(c.InvocationID, storage.InvocationStatus{Kind: storage.InvocationCompleted, Response: c.Response})
	effects.Record(Effect{Kind: EffectInvocationCompleted, InvocationID: c.InvocationID})

	if isLeader {
		actions.Collect(Action{Kind: ActionIngressResponse, IngressResponse: c})
	}
	return nil
}

func applySuspendInvocation(c *envelope.SuspendInvocation, tx *storage.Transaction, effects *Effects) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "suspend_invocation", fmt.Errorf("nil payload"))
	}
	tx.StoreInvocationStatus(c.InvocationID, storage.InvocationStatus{Kind: storage.InvocationSuspended})
	effects.Record(Effect{Kind: EffectInvocationSuspended, InvocationID: c.InvocationID})
	return nil
}

func applyAbortInvocation(c *envelope.AbortInvocation, tx *storage.Transaction, effects *Effects, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "abort_invocation", fmt.Errorf("nil payload"))
	}
	unlockHeldObject(tx, c.InvocationID)
	tx.StoreInvocationStatus(c.InvocationID, storage.InvocationStatus{
		Kind:     storage.InvocationCompleted,
		Response: []byte(c.Reason),
	})
	effects.Record(Effect{Kind: EffectInvocationCompleted, InvocationID: c.InvocationID, Detail: c.Reason})

	if isLeader {
		actions.Collect(Action{Kind: ActionAbortInvocation, AbortInvocationID: c.InvocationID})
	}
	return nil
}

func applyRegisterTimer(c *envelope.RegisterTimer, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "register_timer", fmt.Errorf("nil payload"))
	}
	if isLeader {
		actions.Collect(Action{Kind: ActionRegisterTimer, RegisterTimer: c})
	}
	return nil
}

func applyDeleteTimer(c *envelope.DeleteTimer, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "delete_timer", fmt.Errorf("nil payload"))
	}
	if isLeader {
		actions.Collect(Action{Kind: ActionDeleteTimer, DeleteTimer: c})
	}
	return nil
}

func applyEnqueueOutboxMessage(c *envelope.EnqueueOutboxMessage, tx *storage.Transaction, effects *Effects, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "enqueue_outbox_message", fmt.Errorf("nil payload"))
	}
	tx.StoreOutboxSeq(tx.OutboxSeq() + 1)
	effects.Record(Effect{Kind: EffectOutboxAppended, Detail: c.Destination})
	if isLeader {
		actions.Collect(Action{Kind: ActionNewOutboxMessage, NewOutboxMessage: c})
	}
	return nil
}

func applyTruncateOutbox(c *envelope.TruncateOutbox, actions *ActionCollector, isLeader bool) error {
	if c == nil {
		return errs.NewPartitionError(errs.ErrStateMachine, "truncate_outbox", fmt.Errorf("nil payload"))
	}
	if isLeader {
		actions.Collect(Action{Kind: ActionTruncateOutbox, TruncateOutbox: c})
	}
	return nil
}

// unlockHeldObject releases the virtual-object lock held by an invocation
// that just completed or was aborted, using the LockedObject recorded on
// its prior InvocationStatus (set by applyInvokeService) rather than a
// reverse scan over virtual_object_status.
func unlockHeldObject(tx *storage.Transaction, invocationID ids.InvocationID) {
	prior, ok := tx.InvocationStatus(invocationID)
	if !ok || prior.LockedObject == "" {
		return
	}
	obj, ok := tx.VirtualObjectStatus(prior.LockedObject)
	if !ok || obj.Holder != invocationID {
		return
	}
	tx.StoreVirtualObjectStatus(prior.LockedObject, storage.ObjectStatus{Kind: storage.ObjectUnlocked})
}
