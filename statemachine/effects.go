package statemachine

import "github.com/justapithecus/restwork/ids"

// EffectKind tags one diagnostic/trace effect recorded while applying a
// command. Effects are purely observational (spec §4.2): they never
// influence control flow and are safe to drop if nobody is listening.
type EffectKind uint8

const (
	EffectInvocationLocked EffectKind = iota
	EffectInvocationQueued
	EffectInvocationCompleted
	EffectInvocationSuspended
	EffectOutboxAppended
	EffectDuplicateDropped
)

// Effect is one diagnostic record produced by applying a command.
type Effect struct {
	Kind         EffectKind
	InvocationID ids.InvocationID
	Detail       string
}

// Effects is a reused per-record scratch buffer for diagnostic effects. Like
// ActionCollector, it must be cleared before every apply call (spec §9).
type Effects struct {
	effects []Effect
}

// Clear empties the buffer idempotently.
func (e *Effects) Clear() {
	e.effects = e.effects[:0]
}

// Record appends one effect.
func (e *Effects) Record(ef Effect) {
	e.effects = append(e.effects, ef)
}

// All returns the effects recorded since the last Clear.
func (e *Effects) All() []Effect {
	return e.effects
}
