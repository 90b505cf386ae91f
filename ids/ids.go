// Package ids defines the scalar and composite identifiers shared across the
// partition processor and the invocation task: partition coordinates, log
// offsets, leader epochs, and the sequence-number kinds used for dedup.
package ids

import "fmt"

// PartitionID identifies a partition. One Log exists per PartitionID.
type PartitionID uint64

// PartitionKey is a point in the partition-key space; every partition owns
// an inclusive range of keys.
type PartitionKey uint64

// KeyRange is the inclusive partition-key range a partition owns.
type KeyRange struct {
	Start PartitionKey
	End   PartitionKey
}

// Contains reports whether key falls within the range, inclusive.
func (r KeyRange) Contains(key PartitionKey) bool {
	return key >= r.Start && key <= r.End
}

// LSN is a monotonically increasing log offset.
type LSN uint64

// InvalidLSN is the pre-genesis sentinel: no record has ever been applied.
const InvalidLSN LSN = 0

// Next returns the successor LSN.
func (l LSN) Next() LSN {
	return l + 1
}

// Valid reports whether l is not the pre-genesis sentinel.
func (l LSN) Valid() bool {
	return l != InvalidLSN
}

// LeaderEpoch is a monotonic per-partition epoch counter.
type LeaderEpoch uint64

// NodeID identifies a cluster node.
type NodeID string

// ProducerID identifies an external producer of envelopes requiring dedup.
type ProducerID string

// SelfProducerID is the well-known producer identity a partition leader uses
// to fence its own epoch-qualified sequence number (I2: always ESN kind).
const SelfProducerID ProducerID = "self"

// DedupKind distinguishes the two sequence-number flavors a producer may use.
// The two kinds are never compared against each other; doing so is a
// programmer error (see errs.ErrProgrammer).
type DedupKind uint8

const (
	// DedupKindESN marks an epoch-qualified sequence number, used by the
	// partition leader itself and by other partition processors.
	DedupKindESN DedupKind = iota
	// DedupKindSN marks a plain scalar sequence number, used by external
	// producers that are not partition processors.
	DedupKindSN
)

// ESN is an epoch-qualified sequence number: (leader_epoch, counter),
// compared lexicographically.
type ESN struct {
	Epoch   LeaderEpoch
	Counter uint64
}

// Less reports whether e sorts strictly before o.
func (e ESN) Less(o ESN) bool {
	if e.Epoch != o.Epoch {
		return e.Epoch < o.Epoch
	}
	return e.Counter < o.Counter
}

// SN is a plain scalar sequence number used by a single external producer.
type SN uint64

// DedupSequenceNumber is the tagged {ESN | SN} variant stored per producer in
// the dedup map. Comparing two numbers of different kinds is a programmer
// error; callers must check Kind first.
type DedupSequenceNumber struct {
	Kind DedupKind
	Esn  ESN
	Sn   SN
}

// NewESN wraps an ESN as a DedupSequenceNumber.
func NewESN(e ESN) DedupSequenceNumber {
	return DedupSequenceNumber{Kind: DedupKindESN, Esn: e}
}

// NewSN wraps a plain SN as a DedupSequenceNumber.
func NewSN(n SN) DedupSequenceNumber {
	return DedupSequenceNumber{Kind: DedupKindSN, Sn: n}
}

// ErrCrossKindCompare is returned by Compare when the two operands carry
// different DedupKind values. Per spec this is a programmer error: callers
// are expected to panic or abort rather than silently treat it as ordering.
type ErrCrossKindCompare struct {
	Left, Right DedupKind
}

func (e *ErrCrossKindCompare) Error() string {
	return fmt.Sprintf("dedup sequence number kind mismatch: %d vs %d", e.Left, e.Right)
}

// Compare returns -1, 0, or 1 if d sorts before, equal to, or after o.
// Returns ErrCrossKindCompare if the kinds differ; the caller (apply_record)
// treats this as a fatal programmer error, never as a duplicate/non-duplicate
// decision.
func (d DedupSequenceNumber) Compare(o DedupSequenceNumber) (int, error) {
	if d.Kind != o.Kind {
		return 0, &ErrCrossKindCompare{Left: d.Kind, Right: o.Kind}
	}
	switch d.Kind {
	case DedupKindESN:
		if d.Esn == o.Esn {
			return 0, nil
		}
		if d.Esn.Less(o.Esn) {
			return -1, nil
		}
		return 1, nil
	default:
		if d.Sn == o.Sn {
			return 0, nil
		}
		if d.Sn < o.Sn {
			return -1, nil
		}
		return 1, nil
	}
}

// InvocationID identifies one service invocation.
type InvocationID string

// ServiceID identifies a virtual object's service target, used as the
// virtual-object locking key.
type ServiceID string

// IdempotencyID identifies an idempotent submission.
type IdempotencyID string

// TimerID identifies a registered timer.
type TimerID string
