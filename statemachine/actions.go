package statemachine

import (
	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
)

// ActionKind tags the Action union; these are the outbound instructions the
// state machine hands to actuators (spec §4.2).
type ActionKind uint8

const (
	ActionInvokeService ActionKind = iota
	ActionNewOutboxMessage
	ActionRegisterTimer
	ActionDeleteTimer
	ActionTruncateOutbox
	ActionAckStoredEntry
	ActionAbortInvocation
	ActionIngressResponse
)

// Action is one outbound instruction emitted while applying a command under
// leadership. Actions are only ever collected when is_leader is true (spec
// §4.2, §9 open question resolution).
type Action struct {
	Kind ActionKind

	InvokeService        *envelope.InvokeService
	NewOutboxMessage     *envelope.EnqueueOutboxMessage
	RegisterTimer        *envelope.RegisterTimer
	DeleteTimer          *envelope.DeleteTimer
	TruncateOutbox       *envelope.TruncateOutbox
	AckStoredEntryID     ids.InvocationID
	AbortInvocationID    ids.InvocationID
	IngressResponse      *envelope.InvocationResponse
}

// ActionCollector is a reused per-record scratch buffer for outbound
// actions. It must be cleared before every apply call to avoid cross-record
// leakage (spec §9).
type ActionCollector struct {
	actions []Action
}

// Clear empties the collector idempotently. Safe to call on a zero-value
// collector.
func (c *ActionCollector) Clear() {
	c.actions = c.actions[:0]
}

// Collect appends an action. Callers must only invoke this when applying
// under leadership; the processor loop never drains the collector while
// following, so a follower must never call Collect (spec §9).
func (c *ActionCollector) Collect(a Action) {
	c.actions = append(c.actions, a)
}

// Actions returns the actions collected since the last Clear, in emission
// order (spec §5: "Actions within one record are handed to actuators as a
// single batch preserving their emission order").
func (c *ActionCollector) Actions() []Action {
	return c.actions
}

// Len reports the number of actions collected since the last Clear.
func (c *ActionCollector) Len() int {
	return len(c.actions)
}
