// Package timer implements the TimerService actuator: a min-heap of
// pending fire times serviced by a single goroutine, so registering many
// timers costs a heap push rather than one OS timer per registration.
//
// No priority-queue library appears anywhere in the example corpus; this
// is the one ungrounded standard-library choice in the actuator set,
// built on container/heap, with the heap type and the owning service
// side by side in this one file.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/leadership"
)

type pendingTimer struct {
	id     ids.TimerID
	fireAt time.Time
	index  int
}

type timerHeap []*pendingTimer

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any) {
	t := x.(*pendingTimer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Service is the in-process TimerService actuator for one leader epoch.
type Service struct {
	mu      sync.Mutex
	heap    timerHeap
	byID    map[ids.TimerID]*pendingTimer
	effects chan leadership.ActionEffect
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// New starts the single timer goroutine and returns the handle.
func New() *Service {
	s := &Service{
		byID:    make(map[ids.TimerID]*pendingTimer),
		effects: make(chan leadership.ActionEffect, 64),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go s.run()
	return s
}

// Register schedules id to fire at fireAt, replacing any existing
// registration for the same id.
func (s *Service) Register(id ids.TimerID, fireAt time.Time) error {
	s.mu.Lock()
	if existing, ok := s.byID[id]; ok {
		heap.Remove(&s.heap, existing.index)
	}
	t := &pendingTimer{id: id, fireAt: fireAt}
	heap.Push(&s.heap, t)
	s.byID[id] = t
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Delete cancels a pending timer. A no-op if id is not registered or has
// already fired.
func (s *Service) Delete(id ids.TimerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil
	}
	heap.Remove(&s.heap, t.index)
	delete(s.byID, id)
	return nil
}

// ActionEffects returns the channel of TimerFired effects.
func (s *Service) ActionEffects() <-chan leadership.ActionEffect { return s.effects }

// Shutdown stops the timer goroutine. Pending timers are discarded: a new
// leader re-registers whatever timers the log replay still calls for.
func (s *Service) Shutdown(deadline time.Duration) error {
	close(s.done)
	select {
	case <-s.stopped:
	case <-time.After(deadline):
	}
	return nil
}

func (s *Service) run() {
	defer close(s.stopped)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.heap) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.heap[0].fireAt)
			if wait < 0 {
				wait = 0
			}
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-s.done:
			return
		case <-s.wake:
			continue
		case <-timer.C:
			s.fireDue()
		}
	}
}

func (s *Service) fireDue() {
	now := time.Now()
	s.mu.Lock()
	var due []*pendingTimer
	for len(s.heap) > 0 && !s.heap[0].fireAt.After(now) {
		t := heap.Pop(&s.heap).(*pendingTimer)
		delete(s.byID, t.id)
		due = append(due, t)
	}
	s.mu.Unlock()

	for _, t := range due {
		select {
		case s.effects <- leadership.ActionEffect{Kind: leadership.ActionEffectTimerFired, Detail: t.id}:
		case <-s.done:
			return
		}
	}
}
