// Package leadership implements the two-variant LeadershipState described
// in spec §4.3: a Follower holding only the configuration needed to become
// leader, and a Leader owning live actuator handles. The variant is a
// closed Go interface with exactly two unexported implementations rather
// than dynamic dispatch over an open set, per spec §9's design guidance.
package leadership

import (
	"context"
	"fmt"
	"time"

	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/statemachine"
)

// ActuatorFactory constructs the actuator handles for a newly elected
// leader. Supplied by the worker process so the leadership package stays
// free of concrete actuator implementations (invoker/timer/outbox live in
// sibling packages per spec §1's scope boundary).
type ActuatorFactory interface {
	NewInvoker(ctx context.Context, epoch ids.LeaderEpoch) (InvokerHandle, error)
	NewTimerService(ctx context.Context, epoch ids.LeaderEpoch) (TimerService, error)
	NewShuffle(ctx context.Context, epoch ids.LeaderEpoch) (ShuffleHandle, error)
	NewIngressNotifier(ctx context.Context, epoch ids.LeaderEpoch) (IngressNotifier, error)
}

// State is the tagged union: either *follower or *leader.
type State interface {
	// IsLeader reports whether this variant is Leader.
	IsLeader() bool
	// Epoch returns the current epoch; zero for Follower.
	Epoch() ids.LeaderEpoch
	// HandleActions dispatches a batch of actions, in emission order, to
	// the owned actuators. Returns an error if called on a Follower (spec
	// §4.3: "rejects action dispatch").
	HandleActions(ctx context.Context, actions []statemachine.Action) error
	// ActionEffects returns a channel merging all owned actuators' effect
	// streams; nil for Follower.
	ActionEffects() <-chan ActionEffect
}

// NewFollower constructs the initial Follower variant.
func NewFollower(factory ActuatorFactory) State {
	return &follower{factory: factory}
}

// Promote transitions state to Leader under epoch. It returns an error if
// state is already a Leader: a leadership change must go through Demote
// first, matching spec §4.4's "clear actions; a new leader restarts
// actuators afresh" rule.
func Promote(ctx context.Context, state State, epoch ids.LeaderEpoch) (State, error) {
	f, ok := state.(*follower)
	if !ok {
		return nil, fmt.Errorf("leadership: cannot promote a state that is already leader")
	}
	return f.BecomeLeader(ctx, epoch)
}

// Demote transitions state to Follower, releasing any actuator resources
// within deadline. Demoting an already-Follower state is a no-op.
func Demote(state State, deadline time.Duration) State {
	l, ok := state.(*leader)
	if !ok {
		return state
	}
	return l.BecomeFollower(deadline)
}

type follower struct {
	factory ActuatorFactory
}

func (f *follower) IsLeader() bool           { return false }
func (f *follower) Epoch() ids.LeaderEpoch   { return 0 }
func (f *follower) ActionEffects() <-chan ActionEffect { return nil }

func (f *follower) HandleActions(ctx context.Context, actions []statemachine.Action) error {
	if len(actions) == 0 {
		return nil
	}
	return fmt.Errorf("leadership: follower cannot dispatch %d action(s)", len(actions))
}

// BecomeLeader transitions a Follower to Leader under epoch, constructing
// fresh actuators. Per spec §4.3, actuators must be fed only the canonical
// post-commit view — callers are expected to have already committed the
// AnnounceLeader transaction before calling this.
func (f *follower) BecomeLeader(ctx context.Context, epoch ids.LeaderEpoch) (State, error) {
	invoker, err := f.factory.NewInvoker(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("leadership: construct invoker: %w", err)
	}
	timers, err := f.factory.NewTimerService(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("leadership: construct timer service: %w", err)
	}
	shuffle, err := f.factory.NewShuffle(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("leadership: construct shuffle: %w", err)
	}
	notifier, err := f.factory.NewIngressNotifier(ctx, epoch)
	if err != nil {
		return nil, fmt.Errorf("leadership: construct ingress notifier: %w", err)
	}

	l := &leader{
		factory:  f.factory,
		epoch:    epoch,
		invoker:  invoker,
		timers:   timers,
		shuffle:  shuffle,
		notifier: notifier,
		merged:   make(chan ActionEffect, 64),
		done:     make(chan struct{}),
	}
	go l.fanIn()
	return l, nil
}

type leader struct {
	factory  ActuatorFactory
	epoch    ids.LeaderEpoch
	invoker  InvokerHandle
	timers   TimerService
	shuffle  ShuffleHandle
	notifier IngressNotifier
	merged   chan ActionEffect
	done     chan struct{}
}

func (l *leader) IsLeader() bool         { return true }
func (l *leader) Epoch() ids.LeaderEpoch { return l.epoch }

func (l *leader) ActionEffects() <-chan ActionEffect {
	return l.merged
}

// HandleActions dispatches actions in order; the first failure aborts the
// remaining batch (spec §5: "single batch preserving their emission
// order" — order is preserved up to and including the failing action).
func (l *leader) HandleActions(ctx context.Context, actions []statemachine.Action) error {
	for i, a := range actions {
		if err := dispatchAction(ctx, a, l.invoker, l.timers, l.shuffle, l.notifier); err != nil {
			return fmt.Errorf("leadership: dispatch action %d/%d (kind=%d): %w", i+1, len(actions), a.Kind, err)
		}
	}
	return nil
}

// fanIn merges the invoker's and timer service's effect streams into one
// channel tagged with this leader's epoch, so the main loop can drop stale
// effects after a leadership change without inspecting actuator internals.
func (l *leader) fanIn() {
	invokerEffects := l.invoker.ActionEffects()
	timerEffects := l.timers.ActionEffects()
	for {
		select {
		case e, ok := <-invokerEffects:
			if !ok {
				invokerEffects = nil
				continue
			}
			e.Epoch = l.epoch
			select {
			case l.merged <- e:
			case <-l.done:
				return
			}
		case e, ok := <-timerEffects:
			if !ok {
				timerEffects = nil
				continue
			}
			e.Epoch = l.epoch
			select {
			case l.merged <- e:
			case <-l.done:
				return
			}
		case <-l.done:
			return
		}
	}
}

// BecomeFollower releases all actuator resources owned by l, waiting up to
// deadline for an orderly shutdown before aborting (spec §4.3).
func (l *leader) BecomeFollower(deadline time.Duration) State {
	close(l.done)

	shutdownErrs := make(chan error, 4)
	go func() { shutdownErrs <- l.invoker.Shutdown(deadline) }()
	go func() { shutdownErrs <- l.timers.Shutdown(deadline) }()
	go func() { shutdownErrs <- l.shuffle.Shutdown(deadline) }()
	go func() { shutdownErrs <- l.notifier.Shutdown(deadline) }()

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for range 4 {
		select {
		case <-shutdownErrs:
		case <-timer.C:
			// Remaining actuators are abandoned; their Shutdown
			// implementations are expected to force-abort on a later call
			// or on process exit. We do not block leader→follower on them.
			return &follower{factory: l.factory}
		}
	}
	return &follower{factory: l.factory}
}
