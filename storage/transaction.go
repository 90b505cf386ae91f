package storage

import (
	"context"

	"github.com/justapithecus/restwork/ids"
)

// Transaction is a scoped read-modify-write handle over partition storage
// (spec §4.1). Reads observe prior writes made within the same transaction.
// Commit is atomic; dropping a Transaction without calling Commit is a
// rollback — no write-set is ever applied to the backing KV engine until
// Commit succeeds.
type Transaction struct {
	storage *PartitionStorage
	base    ReadView

	appliedLSN    *ids.LSN
	inboxSeq      *uint64
	outboxSeq     *uint64
	dedupOverlay  map[ids.ProducerID]ids.DedupSequenceNumber
	invOverlay    map[ids.InvocationID]InvocationStatus
	objOverlay    map[ids.ServiceID]ObjectStatus
	idemOverlay   map[ids.IdempotencyID]ids.InvocationID

	committed bool
}

// AppliedLSN implements ReadView.
func (t *Transaction) AppliedLSN() ids.LSN {
	if t.appliedLSN != nil {
		return *t.appliedLSN
	}
	return t.base.AppliedLSN()
}

// InboxSeq implements ReadView.
func (t *Transaction) InboxSeq() uint64 {
	if t.inboxSeq != nil {
		return *t.inboxSeq
	}
	return t.base.InboxSeq()
}

// OutboxSeq implements ReadView.
func (t *Transaction) OutboxSeq() uint64 {
	if t.outboxSeq != nil {
		return *t.outboxSeq
	}
	return t.base.OutboxSeq()
}

// DedupSeqNumber implements ReadView / DedupSequenceNumberResolver.
func (t *Transaction) DedupSeqNumber(producer ids.ProducerID) (ids.DedupSequenceNumber, bool) {
	if d, ok := t.dedupOverlay[producer]; ok {
		return d, true
	}
	return t.base.DedupSeqNumber(producer)
}

// InvocationStatus implements ReadView.
func (t *Transaction) InvocationStatus(id ids.InvocationID) (InvocationStatus, bool) {
	if s, ok := t.invOverlay[id]; ok {
		return s, true
	}
	return t.base.InvocationStatus(id)
}

// VirtualObjectStatus implements ReadView.
func (t *Transaction) VirtualObjectStatus(service ids.ServiceID) (ObjectStatus, bool) {
	if s, ok := t.objOverlay[service]; ok {
		return s, true
	}
	return t.base.VirtualObjectStatus(service)
}

// IdempotencyLookup implements ReadView.
func (t *Transaction) IdempotencyLookup(idk ids.IdempotencyID) (ids.InvocationID, bool) {
	if id, ok := t.idemOverlay[idk]; ok {
		return id, true
	}
	return t.base.IdempotencyLookup(idk)
}

// StoreAppliedLSN records the new applied LSN. Every apply transaction must
// call this exactly once (spec §3 I1/I4).
func (t *Transaction) StoreAppliedLSN(lsn ids.LSN) {
	t.appliedLSN = &lsn
}

// StoreInboxSeq records the new inbox sequence counter.
func (t *Transaction) StoreInboxSeq(n uint64) {
	t.inboxSeq = &n
}

// StoreOutboxSeq records the new outbox sequence counter.
func (t *Transaction) StoreOutboxSeq(n uint64) {
	t.outboxSeq = &n
}

// StoreDedupSeqNumber upserts the dedup number for a producer.
func (t *Transaction) StoreDedupSeqNumber(producer ids.ProducerID, d ids.DedupSequenceNumber) {
	t.dedupOverlay[producer] = d
}

// StoreInvocationStatus upserts one invocation's status.
func (t *Transaction) StoreInvocationStatus(id ids.InvocationID, s InvocationStatus) {
	t.invOverlay[id] = s
}

// StoreVirtualObjectStatus upserts one virtual object's lock state.
func (t *Transaction) StoreVirtualObjectStatus(service ids.ServiceID, s ObjectStatus) {
	t.objOverlay[service] = s
}

// StoreIdempotency records an idempotency-id to invocation-id mapping.
func (t *Transaction) StoreIdempotency(idk ids.IdempotencyID, invocation ids.InvocationID) {
	t.idemOverlay[idk] = invocation
}

// Commit atomically applies the transaction's write-set. After Commit
// returns nil, the mutation is durable (spec §6 "commit returns after
// durability") and, per I4, AppliedLSN reflects the LSN just committed.
func (t *Transaction) Commit(ctx context.Context) error {
	if t.committed {
		return nil
	}

	batch := make([]KVWrite, 0, 4+len(t.dedupOverlay)+len(t.invOverlay)+len(t.objOverlay)+len(t.idemOverlay))
	table := t.storage.namespacedTable

	if t.appliedLSN != nil {
		batch = append(batch, KVWrite{Table: table(tableMeta), Key: keyAppliedLSN, Value: encodeU64(uint64(*t.appliedLSN))})
	}
	if t.inboxSeq != nil {
		batch = append(batch, KVWrite{Table: table(tableMeta), Key: keyInboxSeq, Value: encodeU64(*t.inboxSeq)})
	}
	if t.outboxSeq != nil {
		batch = append(batch, KVWrite{Table: table(tableMeta), Key: keyOutboxSeq, Value: encodeU64(*t.outboxSeq)})
	}
	for producer, d := range t.dedupOverlay {
		batch = append(batch, KVWrite{Table: table(tableDedup), Key: string(producer), Value: encodeDedup(d)})
	}
	for id, s := range t.invOverlay {
		batch = append(batch, KVWrite{Table: table(tableInvocation), Key: string(id), Value: encodeInvocationStatus(s)})
	}
	for svc, s := range t.objOverlay {
		batch = append(batch, KVWrite{Table: table(tableObject), Key: string(svc), Value: encodeObjectStatus(s)})
	}
	for idk, inv := range t.idemOverlay {
		batch = append(batch, KVWrite{Table: table(tableIdempotent), Key: string(idk), Value: []byte(inv)})
	}

	if len(batch) == 0 {
		t.committed = true
		return nil
	}
	if err := t.storage.kv.WriteBatch(ctx, batch); err != nil {
		return err
	}
	t.committed = true
	return nil
}
