package timer

import (
	"testing"
	"time"

	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/leadership"
)

func TestService_FiresAtScheduledTime(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	if err := s.Register(ids.TimerID("t1"), time.Now().Add(20*time.Millisecond)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	select {
	case e := <-s.ActionEffects():
		if e.Kind != leadership.ActionEffectTimerFired || e.Detail != ids.TimerID("t1") {
			t.Errorf("effect = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestService_DeleteCancelsTimer(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	if err := s.Register(ids.TimerID("t1"), time.Now().Add(30*time.Millisecond)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Delete(ids.TimerID("t1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	select {
	case e := <-s.ActionEffects():
		t.Fatalf("expected no effect after delete, got %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestService_OrdersMultipleTimers(t *testing.T) {
	s := New()
	defer s.Shutdown(time.Second)

	_ = s.Register(ids.TimerID("late"), time.Now().Add(60*time.Millisecond))
	_ = s.Register(ids.TimerID("early"), time.Now().Add(10*time.Millisecond))

	first := <-s.ActionEffects()
	if first.Detail != ids.TimerID("early") {
		t.Errorf("first fired = %v, want early", first.Detail)
	}
	second := <-s.ActionEffects()
	if second.Detail != ids.TimerID("late") {
		t.Errorf("second fired = %v, want late", second.Detail)
	}
}
