// Package invoker implements leadership.InvokerHandle: an in-process pool
// of invocation tasks, one goroutine per active invocation, modeled on the
// teacher's ExecutorManager/RunOrchestrator pairing (one goroutine owning
// one child process's lifecycle per run) — here one goroutine owns one
// HTTP/2 stream lifecycle per invocation instead.
package invoker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/restwork/errs"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/invocation"
	"github.com/justapithecus/restwork/leadership"
	"github.com/justapithecus/restwork/logging"
	"github.com/justapithecus/restwork/metrics"
)

// EndpointResolver maps a service to the HTTP endpoint handling it.
type EndpointResolver interface {
	ResolveEndpoint(service ids.ServiceID) (string, error)
}

// JournalLoader returns the journal entries already recorded for an
// invocation, so a resumed task replays them instead of starting fresh.
type JournalLoader interface {
	LoadJournal(ctx context.Context, id ids.InvocationID) ([]invocation.JournalEntry, error)
}

// Handle is the in-process InvokerHandle for one leader epoch.
type Handle struct {
	resolver EndpointResolver
	journals JournalLoader
	logger   *logging.Logger
	metrics  *metrics.Collector
	cfg      invocation.Config

	mu    sync.Mutex
	tasks map[ids.InvocationID]*runningTask

	effects chan leadership.ActionEffect
	wg      sync.WaitGroup
}

type runningTask struct {
	task   *invocation.Task
	cancel context.CancelFunc
}

// New constructs a Handle for one leader epoch's invoker pool. Invocation
// tasks start with a zero-value invocation.Config until Configure is
// called; callers outside this package must call Configure before Invoke.
func New(resolver EndpointResolver, journals JournalLoader, logger *logging.Logger, metricsCollector *metrics.Collector) *Handle {
	return &Handle{
		resolver: resolver,
		journals: journals,
		logger:   logger,
		metrics:  metricsCollector,
		tasks:    make(map[ids.InvocationID]*runningTask),
		effects:  make(chan leadership.ActionEffect, 256),
	}
}

// Configure sets the invocation.Config applied to every task this handle
// starts from this point on. Must be called once before the first Invoke.
func (h *Handle) Configure(cfg invocation.Config) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cfg = cfg
}

// Invoke starts a goroutine driving target's invocation task to a
// terminal outcome, reported on ActionEffects(). Invoking an id that is
// already running is a no-op: the partition processor only issues
// InvokeService once per not-yet-Invoked status transition, so a second
// call indicates replay of an already-dispatched action and must not
// start a duplicate stream.
func (h *Handle) Invoke(ctx context.Context, target leadership.InvocationTarget) error {
	h.mu.Lock()
	if _, exists := h.tasks[target.InvocationID]; exists {
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	endpoint, err := h.resolver.ResolveEndpoint(target.Service)
	if err != nil {
		return fmt.Errorf("invoker: resolve endpoint for %s: %w", target.Service, err)
	}

	var known []invocation.JournalEntry
	if h.journals != nil {
		known, err = h.journals.LoadJournal(ctx, target.InvocationID)
		if err != nil {
			return errs.NewInvocationTaskError(errs.ErrJournalReader, "invoker.Invoke", fmt.Errorf("load journal for %s: %w", target.InvocationID, err))
		}
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := invocation.New(
		invocation.Target{InvocationID: target.InvocationID, Service: target.Service, Method: target.Method, Endpoint: endpoint},
		known,
		h.cfg,
		h.logger,
	)

	h.mu.Lock()
	h.tasks[target.InvocationID] = &runningTask{task: t, cancel: cancel}
	h.mu.Unlock()

	h.wg.Add(1)
	go h.drive(taskCtx, target.InvocationID, t)
	return nil
}

func (h *Handle) drive(ctx context.Context, id ids.InvocationID, t *invocation.Task) {
	defer h.wg.Done()
	outcome := t.Run(ctx)

	h.mu.Lock()
	delete(h.tasks, id)
	h.mu.Unlock()

	switch outcome.Kind {
	case invocation.TerminalClosed:
		h.metrics.IncInvocationCompleted()
	case invocation.TerminalSuspended:
		h.metrics.IncInvocationSuspended()
	case invocation.TerminalFailed:
		h.metrics.IncInvocationFailed()
	}

	h.effects <- leadership.ActionEffect{
		Kind: leadership.ActionEffectInvocationProgress,
		Detail: InvocationOutcome{
			InvocationID: id,
			Outcome:      outcome,
		},
	}
}

// InvocationOutcome is the Detail payload of an InvocationProgress effect.
type InvocationOutcome struct {
	InvocationID ids.InvocationID
	Outcome      invocation.Outcome
}

// Abort cancels the in-flight task for id without waiting for it to
// unwind, matching the "abort the in-flight request future on drop"
// behavior.
func (h *Handle) Abort(id ids.InvocationID) error {
	h.mu.Lock()
	t, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return nil
	}
	t.cancel()
	t.task.Abort()
	return nil
}

// ActionEffects returns the channel of invocation progress effects.
func (h *Handle) ActionEffects() <-chan leadership.ActionEffect { return h.effects }

// Shutdown cancels all in-flight tasks and waits up to deadline for their
// goroutines to return.
func (h *Handle) Shutdown(deadline time.Duration) error {
	h.mu.Lock()
	for _, t := range h.tasks {
		t.cancel()
		t.task.Abort()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() { h.wg.Wait(); close(done) }()

	select {
	case <-done:
		return nil
	case <-time.After(deadline):
		return fmt.Errorf("invoker: shutdown timed out after %s with tasks still running", deadline)
	}
}
