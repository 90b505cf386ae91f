package leadership

import (
	"context"
	"testing"
	"time"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/statemachine"
)

type fakeInvoker struct {
	invoked []ids.InvocationID
	effects chan ActionEffect
}

func newFakeInvoker() *fakeInvoker { return &fakeInvoker{effects: make(chan ActionEffect, 8)} }

func (f *fakeInvoker) Invoke(ctx context.Context, target InvocationTarget) error {
	f.invoked = append(f.invoked, target.InvocationID)
	return nil
}
func (f *fakeInvoker) Abort(id ids.InvocationID) error                { return nil }
func (f *fakeInvoker) ActionEffects() <-chan ActionEffect              { return f.effects }
func (f *fakeInvoker) Shutdown(deadline time.Duration) error          { return nil }

type fakeTimers struct{ effects chan ActionEffect }

func newFakeTimers() *fakeTimers { return &fakeTimers{effects: make(chan ActionEffect, 8)} }

func (f *fakeTimers) Register(id ids.TimerID, fireAt time.Time) error { return nil }
func (f *fakeTimers) Delete(id ids.TimerID) error                     { return nil }
func (f *fakeTimers) ActionEffects() <-chan ActionEffect              { return f.effects }
func (f *fakeTimers) Shutdown(deadline time.Duration) error           { return nil }

type fakeShuffle struct{ shipped int }

func (f *fakeShuffle) Ship(ctx context.Context, msg *envelope.EnqueueOutboxMessage) error {
	f.shipped++
	return nil
}
func (f *fakeShuffle) Shutdown(deadline time.Duration) error { return nil }

type fakeNotifier struct{ notified int }

func (f *fakeNotifier) Notify(ctx context.Context, resp *envelope.InvocationResponse) error {
	f.notified++
	return nil
}
func (f *fakeNotifier) Shutdown(deadline time.Duration) error { return nil }

type fakeFactory struct {
	invoker *fakeInvoker
	timers  *fakeTimers
}

func (f *fakeFactory) NewInvoker(ctx context.Context, epoch ids.LeaderEpoch) (InvokerHandle, error) {
	return f.invoker, nil
}
func (f *fakeFactory) NewTimerService(ctx context.Context, epoch ids.LeaderEpoch) (TimerService, error) {
	return f.timers, nil
}
func (f *fakeFactory) NewShuffle(ctx context.Context, epoch ids.LeaderEpoch) (ShuffleHandle, error) {
	return &fakeShuffle{}, nil
}
func (f *fakeFactory) NewIngressNotifier(ctx context.Context, epoch ids.LeaderEpoch) (IngressNotifier, error) {
	return &fakeNotifier{}, nil
}

func TestFollowerRejectsActionDispatch(t *testing.T) {
	state := NewFollower(&fakeFactory{invoker: newFakeInvoker(), timers: newFakeTimers()})
	err := state.HandleActions(context.Background(), []statemachine.Action{{Kind: statemachine.ActionAckStoredEntry}})
	if err == nil {
		t.Fatal("expected follower to reject action dispatch")
	}
}

func TestPromoteThenDemote(t *testing.T) {
	factory := &fakeFactory{invoker: newFakeInvoker(), timers: newFakeTimers()}
	state := NewFollower(factory)

	leaderState, err := Promote(context.Background(), state, 3)
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if !leaderState.IsLeader() || leaderState.Epoch() != 3 {
		t.Fatalf("expected leader at epoch 3, got IsLeader=%v Epoch=%v", leaderState.IsLeader(), leaderState.Epoch())
	}

	followerState := Demote(leaderState, 50*time.Millisecond)
	if followerState.IsLeader() {
		t.Fatal("expected follower after Demote")
	}
}

func TestPromoteTwiceFails(t *testing.T) {
	factory := &fakeFactory{invoker: newFakeInvoker(), timers: newFakeTimers()}
	state := NewFollower(factory)
	leaderState, err := Promote(context.Background(), state, 1)
	if err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	if _, err := Promote(context.Background(), leaderState, 2); err == nil {
		t.Fatal("expected second Promote to fail without an intervening Demote")
	}
}
