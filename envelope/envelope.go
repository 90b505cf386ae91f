// Package envelope defines the on-the-wire message read from the log: a
// header carrying destination/dedup metadata plus a tagged command. The
// wire encoding itself is msgpack (see this package's Encode/Decode);
// framing and transport are out of scope per spec §1.
package envelope

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/restwork/ids"
)

// DestinationKind discriminates header destinations. Only Processor carries
// a partition key today; other kinds are reserved for future ingress paths
// and are treated as "not addressed to this partition" by apply_record.
type DestinationKind uint8

const (
	DestinationProcessor DestinationKind = iota
	DestinationIngress
)

// DedupInformation accompanies an envelope from a producer that requires
// exactly-once semantics.
type DedupInformation struct {
	Producer ids.ProducerID             `msgpack:"producer"`
	SeqNum   ids.DedupSequenceNumber    `msgpack:"seq_num"`
}

// Header carries routing and dedup metadata for one envelope.
type Header struct {
	DestKind     DestinationKind          `msgpack:"dest_kind"`
	PartitionKey ids.PartitionKey         `msgpack:"partition_key"`
	Dedup        *DedupInformation        `msgpack:"dedup,omitempty"`
}

// CommandKind tags the union carried in Envelope.Command.
type CommandKind uint8

const (
	CommandAnnounceLeader CommandKind = iota
	CommandInvokeService
	CommandInvocationResponse
	CommandSuspendInvocation
	CommandAbortInvocation
	CommandRegisterTimer
	CommandDeleteTimer
	CommandEnqueueOutboxMessage
	CommandTruncateOutbox
)

// Command is the tagged-union payload of one envelope. Exactly one of the
// typed fields is populated according to Kind; the rest are nil. This
// mirrors the wire shape without requiring a full interface-based codec,
// matching CONTRACT_EMIT.md's discriminated EventEnvelope.Payload approach
// in the teacher corpus, adapted to a fixed closed set of commands.
type Command struct {
	Kind CommandKind `msgpack:"kind"`

	AnnounceLeader       *AnnounceLeader       `msgpack:"announce_leader,omitempty"`
	InvokeService        *InvokeService        `msgpack:"invoke_service,omitempty"`
	InvocationResponse   *InvocationResponse   `msgpack:"invocation_response,omitempty"`
	SuspendInvocation    *SuspendInvocation    `msgpack:"suspend_invocation,omitempty"`
	AbortInvocation      *AbortInvocation      `msgpack:"abort_invocation,omitempty"`
	RegisterTimer        *RegisterTimer        `msgpack:"register_timer,omitempty"`
	DeleteTimer          *DeleteTimer          `msgpack:"delete_timer,omitempty"`
	EnqueueOutboxMessage *EnqueueOutboxMessage `msgpack:"enqueue_outbox_message,omitempty"`
	TruncateOutbox       *TruncateOutbox       `msgpack:"truncate_outbox,omitempty"`
}

// AnnounceLeader declares the new leader for a partition at a given epoch.
// Handled specially by apply_record (spec §4.4 step 6), never dispatched to
// the generic state machine.
type AnnounceLeader struct {
	Epoch ids.LeaderEpoch `msgpack:"epoch"`
	Node  ids.NodeID      `msgpack:"node"`
}

// InvokeService requests a service invocation, optionally against a
// virtual-object key for serialized locking.
type InvokeService struct {
	Service       ids.ServiceID       `msgpack:"service"`
	Method        string              `msgpack:"method"`
	InvocationID  ids.InvocationID    `msgpack:"invocation_id"`
	Key           *ids.ServiceID      `msgpack:"key,omitempty"`
	IdempotencyID *ids.IdempotencyID  `msgpack:"idempotency_id,omitempty"`
}

// InvocationResponse carries a terminal response for a completed invocation.
type InvocationResponse struct {
	InvocationID ids.InvocationID `msgpack:"invocation_id"`
	Response     []byte           `msgpack:"response"`
	Failure      bool             `msgpack:"failure"`
}

// SuspendInvocation marks an invocation as suspended pending external input.
type SuspendInvocation struct {
	InvocationID ids.InvocationID `msgpack:"invocation_id"`
}

// AbortInvocation requests termination of a running invocation.
type AbortInvocation struct {
	InvocationID ids.InvocationID `msgpack:"invocation_id"`
	Reason       string           `msgpack:"reason"`
}

// RegisterTimer schedules a timer to fire at a future point for an
// invocation.
type RegisterTimer struct {
	TimerID      ids.TimerID      `msgpack:"timer_id"`
	InvocationID ids.InvocationID `msgpack:"invocation_id"`
	FireAtUnixMs int64            `msgpack:"fire_at_unix_ms"`
}

// DeleteTimer cancels a previously registered timer.
type DeleteTimer struct {
	TimerID ids.TimerID `msgpack:"timer_id"`
}

// EnqueueOutboxMessage appends a message to the partition's outbox.
type EnqueueOutboxMessage struct {
	Payload     []byte `msgpack:"payload"`
	Destination string `msgpack:"destination"`
}

// TruncateOutbox discards outbox entries up to and including seq.
type TruncateOutbox struct {
	UpToSeq uint64 `msgpack:"up_to_seq"`
}

// Envelope is one logical message read from the log.
type Envelope struct {
	Header  Header  `msgpack:"header"`
	Command Command `msgpack:"command"`
}

// Decode deserializes an Envelope from its wire bytes. A decode failure is
// fatal to the record per spec §6 (from_bytes may fail with a decoding
// error).
func Decode(raw []byte) (*Envelope, error) {
	var e Envelope
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}

// Encode serializes an Envelope to its wire bytes.
func Encode(e *Envelope) ([]byte, error) {
	raw, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}
