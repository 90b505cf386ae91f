package leadership

import (
	"context"
	"time"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/statemachine"
)

// ActionEffectKind tags an inbound notification from an actuator reporting
// progress of a prior action (spec glossary: "action effect").
type ActionEffectKind uint8

const (
	ActionEffectInvocationProgress ActionEffectKind = iota
	ActionEffectTimerFired
	ActionEffectOutboxShipped
)

// ActionEffect is tagged with the epoch under which the originating action
// was issued; effects from stale epochs are dropped by the caller (spec
// §4.3).
type ActionEffect struct {
	Kind   ActionEffectKind
	Epoch  ids.LeaderEpoch
	Detail any
}

// InvokerHandle owns the lifecycle of in-flight invocation tasks while this
// partition is leader.
type InvokerHandle interface {
	// Invoke starts (or resumes) an invocation task.
	Invoke(ctx context.Context, target InvocationTarget) error
	// Abort cancels an in-flight invocation task without waiting for it to
	// unwind (spec §9: "aborting the in-flight request future on drop").
	Abort(id ids.InvocationID) error
	// ActionEffects is a lazy, never-completing source of action effects
	// reporting invocation progress back to the partition processor.
	ActionEffects() <-chan ActionEffect
	// Shutdown cancels all in-flight work and waits up to deadline for an
	// orderly stop; on timeout it aborts outstanding tasks instead of
	// blocking leader→follower transition indefinitely (spec §4.3).
	Shutdown(deadline time.Duration) error
}

// InvocationTarget names one invocation to start or resume.
type InvocationTarget struct {
	InvocationID ids.InvocationID
	Service      ids.ServiceID
	Method       string
}

// TimerService owns timer registration while this partition is leader.
type TimerService interface {
	Register(id ids.TimerID, fireAt time.Time) error
	Delete(id ids.TimerID) error
	ActionEffects() <-chan ActionEffect
	Shutdown(deadline time.Duration) error
}

// ShuffleHandle ships outbox messages to their destination while this
// partition is leader.
type ShuffleHandle interface {
	Ship(ctx context.Context, msg *envelope.EnqueueOutboxMessage) error
	Shutdown(deadline time.Duration) error
}

// IngressNotifier delivers a completed invocation's response back to the
// ingress layer that admitted it, while this partition is leader.
type IngressNotifier interface {
	Notify(ctx context.Context, resp *envelope.InvocationResponse) error
	Shutdown(deadline time.Duration) error
}

// dispatchAction routes one action to the actuator that handles its kind.
// Kinds with no actuator call (AckStoredEntry, TruncateOutbox, unknown
// kinds) return nil without doing anything.
func dispatchAction(ctx context.Context, a statemachine.Action, invoker InvokerHandle, timers TimerService, shuffle ShuffleHandle, notifier IngressNotifier) error {
	switch a.Kind {
	case statemachine.ActionInvokeService:
		return invoker.Invoke(ctx, InvocationTarget{
			InvocationID: a.InvokeService.InvocationID,
			Service:      a.InvokeService.Service,
			Method:       a.InvokeService.Method,
		})
	case statemachine.ActionAbortInvocation:
		return invoker.Abort(a.AbortInvocationID)
	case statemachine.ActionAckStoredEntry:
		return nil // accounting only; no actuator call required
	case statemachine.ActionRegisterTimer:
		return timers.Register(a.RegisterTimer.TimerID, unixMsToTime(a.RegisterTimer.FireAtUnixMs))
	case statemachine.ActionDeleteTimer:
		return timers.Delete(a.DeleteTimer.TimerID)
	case statemachine.ActionNewOutboxMessage:
		return shuffle.Ship(ctx, a.NewOutboxMessage)
	case statemachine.ActionTruncateOutbox:
		return nil // no actuator call; the shuffle keeps no truncation state
	case statemachine.ActionIngressResponse:
		return notifier.Notify(ctx, a.IngressResponse)
	default:
		return nil
	}
}

func unixMsToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
