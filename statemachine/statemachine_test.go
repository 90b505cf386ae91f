package statemachine

import (
	"context"
	"testing"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/storage"
)

func newTx() (*storage.PartitionStorage, *storage.Transaction) {
	ps := storage.NewPartitionStorage(storage.NewMemKV(), 1)
	return ps, ps.CreateTransaction()
}

func TestApply_InvokeService_Leader_EmitsAction(t *testing.T) {
	_, tx := newTx()
	var effects Effects
	var actions ActionCollector

	cmd := &envelope.Command{
		Kind: envelope.CommandInvokeService,
		InvokeService: &envelope.InvokeService{
			Service:      "greeter",
			Method:       "Hello",
			InvocationID: "inv-1",
		},
	}

	if err := Apply(cmd, tx, &effects, &actions, true); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if actions.Len() != 1 || actions.Actions()[0].Kind != ActionInvokeService {
		t.Errorf("expected one InvokeService action, got %+v", actions.Actions())
	}
	status, ok := tx.InvocationStatus("inv-1")
	if !ok || status.Kind != storage.InvocationInvoked {
		t.Errorf("invocation status = %+v, ok=%v, want Invoked", status, ok)
	}
}

func TestApply_InvokeService_Follower_NoAction(t *testing.T) {
	_, tx := newTx()
	var effects Effects
	var actions ActionCollector

	cmd := &envelope.Command{
		Kind: envelope.CommandInvokeService,
		InvokeService: &envelope.InvokeService{
			Service:      "greeter",
			InvocationID: "inv-1",
		},
	}

	if err := Apply(cmd, tx, &effects, &actions, false); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if actions.Len() != 0 {
		t.Errorf("follower must not collect actions, got %+v", actions.Actions())
	}
}

func TestApply_VirtualObjectLocking_SecondInvocationQueued(t *testing.T) {
	_, tx := newTx()
	var effects Effects
	var actions ActionCollector
	key := ids.ServiceID("obj-1")

	first := &envelope.Command{Kind: envelope.CommandInvokeService, InvokeService: &envelope.InvokeService{
		Service: "obj", InvocationID: "inv-1", Key: &key,
	}}
	if err := Apply(first, tx, &effects, &actions, true); err != nil {
		t.Fatalf("first Apply failed: %v", err)
	}
	actions.Clear()

	second := &envelope.Command{Kind: envelope.CommandInvokeService, InvokeService: &envelope.InvokeService{
		Service: "obj", InvocationID: "inv-2", Key: &key,
	}}
	if err := Apply(second, tx, &effects, &actions, true); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}

	status2, _ := tx.InvocationStatus("inv-2")
	if status2.Kind == storage.InvocationInvoked {
		t.Errorf("second invocation should be queued, not Invoked: %+v", status2)
	}
	obj, ok := tx.VirtualObjectStatus(key)
	if !ok || obj.Holder != "inv-1" {
		t.Errorf("object lock holder = %+v, want inv-1", obj)
	}
}

func TestApply_InvocationResponse_UnlocksObject(t *testing.T) {
	ps, tx := newTx()
	var effects Effects
	var actions ActionCollector
	key := ids.ServiceID("obj-1")

	invoke := &envelope.Command{Kind: envelope.CommandInvokeService, InvokeService: &envelope.InvokeService{
		Service: "obj", InvocationID: "inv-1", Key: &key,
	}}
	if err := Apply(invoke, tx, &effects, &actions, true); err != nil {
		t.Fatalf("invoke Apply failed: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	tx2 := ps.CreateTransaction()
	respond := &envelope.Command{Kind: envelope.CommandInvocationResponse, InvocationResponse: &envelope.InvocationResponse{
		InvocationID: "inv-1", Response: []byte("ok"),
	}}
	if err := Apply(respond, tx2, &effects, &actions, true); err != nil {
		t.Fatalf("respond Apply failed: %v", err)
	}

	obj, ok := tx2.VirtualObjectStatus(key)
	if !ok {
		t.Fatalf("object status missing")
	}
	if obj.Kind != storage.ObjectUnlocked {
		t.Errorf("object should be unlocked after response, got %+v", obj)
	}
}

func TestApply_AnnounceLeader_IsProgrammerError(t *testing.T) {
	_, tx := newTx()
	var effects Effects
	var actions ActionCollector

	cmd := &envelope.Command{Kind: envelope.CommandAnnounceLeader, AnnounceLeader: &envelope.AnnounceLeader{Epoch: 1, Node: "n1"}}
	if err := Apply(cmd, tx, &effects, &actions, true); err == nil {
		t.Fatal("expected error dispatching AnnounceLeader to the state machine")
	}
}
