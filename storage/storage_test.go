package storage

import (
	"context"
	"testing"

	"github.com/justapithecus/restwork/ids"
)

func TestTransactionCommit_VisibleAfterCommit(t *testing.T) {
	kv := NewMemKV()
	ps := NewPartitionStorage(kv, 1)

	tx := ps.CreateTransaction()
	tx.StoreAppliedLSN(5)
	tx.StoreDedupSeqNumber("producer-a", ids.NewSN(3))

	if got := ps.View().AppliedLSN(); got != ids.InvalidLSN {
		t.Fatalf("AppliedLSN before commit = %v, want InvalidLSN", got)
	}

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got := ps.View().AppliedLSN(); got != 5 {
		t.Errorf("AppliedLSN after commit = %v, want 5", got)
	}
	d, ok := ps.View().DedupSeqNumber("producer-a")
	if !ok {
		t.Fatalf("DedupSeqNumber not found after commit")
	}
	if d.Kind != ids.DedupKindSN || d.Sn != 3 {
		t.Errorf("DedupSeqNumber = %+v, want SN(3)", d)
	}
}

func TestTransactionDrop_IsRollback(t *testing.T) {
	kv := NewMemKV()
	ps := NewPartitionStorage(kv, 1)

	tx := ps.CreateTransaction()
	tx.StoreAppliedLSN(9)
	// Transaction dropped without Commit.

	if got := ps.View().AppliedLSN(); got != ids.InvalidLSN {
		t.Errorf("AppliedLSN after dropped transaction = %v, want InvalidLSN", got)
	}
}

func TestTransactionReadsOwnWrites(t *testing.T) {
	kv := NewMemKV()
	ps := NewPartitionStorage(kv, 1)

	tx := ps.CreateTransaction()
	tx.StoreInvocationStatus("inv-1", InvocationStatus{Kind: InvocationInvoked})

	got, ok := tx.InvocationStatus("inv-1")
	if !ok || got.Kind != InvocationInvoked {
		t.Errorf("transaction did not observe its own write: %+v, ok=%v", got, ok)
	}
}

func TestPartitionsAreNamespaced(t *testing.T) {
	kv := NewMemKV()
	psA := NewPartitionStorage(kv, 1)
	psB := NewPartitionStorage(kv, 2)

	txA := psA.CreateTransaction()
	txA.StoreAppliedLSN(42)
	if err := txA.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if got := psB.View().AppliedLSN(); got != ids.InvalidLSN {
		t.Errorf("partition 2 observed partition 1's write: %v", got)
	}
}

func TestCrossKindDedupCompareIsProgrammerError(t *testing.T) {
	esn := ids.NewESN(ids.ESN{Epoch: 1, Counter: 1})
	sn := ids.NewSN(1)

	if _, err := esn.Compare(sn); err == nil {
		t.Fatal("expected cross-kind compare to return an error")
	}
}
