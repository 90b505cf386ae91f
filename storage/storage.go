package storage

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/justapithecus/restwork/ids"
)

// Table names for the persistent per-partition state described in spec §3.
const (
	tableMeta       = "meta"
	tableDedup      = "dedup"
	tableInvocation = "invocation_status"
	tableObject     = "virtual_object_status"
	tableIdempotent = "idempotency"
)

const (
	keyAppliedLSN = "applied_lsn"
	keyInboxSeq   = "inbox_seq"
	keyOutboxSeq  = "outbox_seq"
)

// InvocationStatusKind enumerates the invocation lifecycle states (spec §3).
type InvocationStatusKind uint8

const (
	InvocationFree InvocationStatusKind = iota
	InvocationInvoked
	InvocationSuspended
	InvocationCompleted
)

// InvocationStatus is the persisted state of one invocation.
type InvocationStatus struct {
	Kind     InvocationStatusKind
	Response []byte
	// LockedObject is the virtual-object key this invocation holds, if any,
	// so completion/abort can unlock it without a reverse index scan.
	LockedObject ids.ServiceID
}

// ObjectStatusKind enumerates virtual-object lock states.
type ObjectStatusKind uint8

const (
	ObjectUnlocked ObjectStatusKind = iota
	ObjectLocked
)

// ObjectStatus is the persisted lock state of one virtual object.
type ObjectStatus struct {
	Kind   ObjectStatusKind
	Holder ids.InvocationID
}

// ReadView exposes the read-only accessors over partition storage, per spec
// §4.1. Both the committed store and an in-flight Transaction satisfy it.
type ReadView interface {
	AppliedLSN() ids.LSN
	InboxSeq() uint64
	OutboxSeq() uint64
	DedupSeqNumber(producer ids.ProducerID) (ids.DedupSequenceNumber, bool)
	InvocationStatus(id ids.InvocationID) (InvocationStatus, bool)
	VirtualObjectStatus(service ids.ServiceID) (ObjectStatus, bool)
	IdempotencyLookup(idk ids.IdempotencyID) (ids.InvocationID, bool)
}

// DedupSequenceNumberResolver is the minimal read interface the apply
// pipeline needs for dedup fencing (spec §4.1).
type DedupSequenceNumberResolver interface {
	DedupSeqNumber(producer ids.ProducerID) (ids.DedupSequenceNumber, bool)
}

// PartitionStorage wraps a KV engine with the typed accessors and scoped
// transactions spec §4.1 describes, for a single PartitionID.
type PartitionStorage struct {
	kv        KV
	partition ids.PartitionID
}

// NewPartitionStorage constructs a storage view scoped to one partition. All
// table keys are namespaced by partition so multiple partitions may share a
// KV engine instance, matching spec §5's "sharing the KV engine" note.
func NewPartitionStorage(kv KV, partition ids.PartitionID) *PartitionStorage {
	return &PartitionStorage{kv: kv, partition: partition}
}

func (s *PartitionStorage) namespacedTable(table string) string {
	return fmt.Sprintf("%d/%s", s.partition, table)
}

// View returns a read-only snapshot view backed directly by committed
// storage.
func (s *PartitionStorage) View() ReadView {
	return &committedView{storage: s}
}

// CreateTransaction opens a scoped write transaction over a consistent
// snapshot of committed state.
func (s *PartitionStorage) CreateTransaction() *Transaction {
	return &Transaction{
		storage: s,
		base:    &committedView{storage: s},
		dedupOverlay:  make(map[ids.ProducerID]ids.DedupSequenceNumber),
		invOverlay:    make(map[ids.InvocationID]InvocationStatus),
		objOverlay:    make(map[ids.ServiceID]ObjectStatus),
		idemOverlay:   make(map[ids.IdempotencyID]ids.InvocationID),
	}
}

type committedView struct {
	storage *PartitionStorage
}

func (v *committedView) get(table, key string) ([]byte, bool) {
	raw, ok, err := v.storage.kv.Get(context.Background(), v.storage.namespacedTable(table), key)
	if err != nil || !ok {
		return nil, false
	}
	return raw, true
}

func (v *committedView) AppliedLSN() ids.LSN {
	raw, ok := v.get(tableMeta, keyAppliedLSN)
	if !ok {
		return ids.InvalidLSN
	}
	return ids.LSN(binary.BigEndian.Uint64(raw))
}

func (v *committedView) InboxSeq() uint64 {
	raw, ok := v.get(tableMeta, keyInboxSeq)
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func (v *committedView) OutboxSeq() uint64 {
	raw, ok := v.get(tableMeta, keyOutboxSeq)
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func (v *committedView) DedupSeqNumber(producer ids.ProducerID) (ids.DedupSequenceNumber, bool) {
	raw, ok := v.get(tableDedup, string(producer))
	if !ok {
		return ids.DedupSequenceNumber{}, false
	}
	return decodeDedup(raw), true
}

func (v *committedView) InvocationStatus(id ids.InvocationID) (InvocationStatus, bool) {
	raw, ok := v.get(tableInvocation, string(id))
	if !ok {
		return InvocationStatus{}, false
	}
	return decodeInvocationStatus(raw), true
}

func (v *committedView) VirtualObjectStatus(service ids.ServiceID) (ObjectStatus, bool) {
	raw, ok := v.get(tableObject, string(service))
	if !ok {
		return ObjectStatus{}, false
	}
	return decodeObjectStatus(raw), true
}

func (v *committedView) IdempotencyLookup(idk ids.IdempotencyID) (ids.InvocationID, bool) {
	raw, ok := v.get(tableIdempotent, string(idk))
	if !ok {
		return "", false
	}
	return ids.InvocationID(raw), true
}

// --- encoding helpers ---

func encodeU64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

func encodeDedup(d ids.DedupSequenceNumber) []byte {
	switch d.Kind {
	case ids.DedupKindESN:
		return []byte(fmt.Sprintf("esn:%d:%d", d.Esn.Epoch, d.Esn.Counter))
	default:
		return []byte(fmt.Sprintf("sn:%d", d.Sn))
	}
}

func decodeDedup(raw []byte) ids.DedupSequenceNumber {
	s := string(raw)
	if len(s) >= 4 && s[:4] == "esn:" {
		var epoch, counter uint64
		fmt.Sscanf(s, "esn:%d:%d", &epoch, &counter)
		return ids.NewESN(ids.ESN{Epoch: ids.LeaderEpoch(epoch), Counter: counter})
	}
	var n uint64
	fmt.Sscanf(s, "sn:%d", &n)
	return ids.NewSN(ids.SN(n))
}

func encodeInvocationStatus(s InvocationStatus) []byte {
	locked := []byte(s.LockedObject)
	out := make([]byte, 0, 3+len(locked)+len(s.Response))
	out = append(out, byte(s.Kind))
	out = binary.BigEndian.AppendUint16(out, uint16(len(locked)))
	out = append(out, locked...)
	out = append(out, s.Response...)
	return out
}

func decodeInvocationStatus(raw []byte) InvocationStatus {
	if len(raw) < 3 {
		return InvocationStatus{}
	}
	kind := InvocationStatusKind(raw[0])
	lockedLen := binary.BigEndian.Uint16(raw[1:3])
	rest := raw[3:]
	locked := rest[:lockedLen]
	response := rest[lockedLen:]
	return InvocationStatus{
		Kind:         kind,
		LockedObject: ids.ServiceID(locked),
		Response:     append([]byte(nil), response...),
	}
}

func encodeObjectStatus(s ObjectStatus) []byte {
	return append([]byte{byte(s.Kind)}, []byte(s.Holder)...)
}

func decodeObjectStatus(raw []byte) ObjectStatus {
	if len(raw) == 0 {
		return ObjectStatus{}
	}
	return ObjectStatus{Kind: ObjectStatusKind(raw[0]), Holder: ids.InvocationID(raw[1:])}
}
