package partition

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/leadership"
	"github.com/justapithecus/restwork/ledger"
	"github.com/justapithecus/restwork/logging"
	"github.com/justapithecus/restwork/metrics"
	"github.com/justapithecus/restwork/storage"
)

// --- fake log ---

type fakeLog struct {
	mu      sync.Mutex
	records []ledger.LogRecord // read back by position: offset i+1 returns index i, whatever its LSN
	tail    uint64
}

func newFakeLog() *fakeLog { return &fakeLog{} }

func (f *fakeLog) append(rec ledger.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	if rec.LSN > f.tail {
		f.tail = rec.LSN
	}
}

func (f *fakeLog) FindTail(ctx context.Context, logID uint64) (ledger.TailInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return ledger.TailInfo{Offset: f.tail}, nil
}

func (f *fakeLog) CreateReader(ctx context.Context, logID uint64, from, to uint64) (ledger.Reader, error) {
	return &fakeReader{log: f, next: from}, nil
}

type fakeReader struct {
	log  *fakeLog
	next uint64
}

func (r *fakeReader) Next(ctx context.Context) (ledger.LogRecord, error) {
	for {
		r.log.mu.Lock()
		if r.next >= 1 && int(r.next-1) < len(r.log.records) {
			rec := r.log.records[r.next-1]
			r.log.mu.Unlock()
			r.next++
			return rec, nil
		}
		r.log.mu.Unlock()

		select {
		case <-ctx.Done():
			return ledger.LogRecord{}, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (r *fakeReader) Close() error { return nil }

// --- fake actuators (no-op, just enough to satisfy Promote) ---

type noopInvoker struct{ effects chan leadership.ActionEffect }

func (n *noopInvoker) Invoke(ctx context.Context, target leadership.InvocationTarget) error { return nil }
func (n *noopInvoker) Abort(id ids.InvocationID) error                                     { return nil }
func (n *noopInvoker) ActionEffects() <-chan leadership.ActionEffect                        { return n.effects }
func (n *noopInvoker) Shutdown(deadline time.Duration) error                                { return nil }

type noopTimers struct{ effects chan leadership.ActionEffect }

func (n *noopTimers) Register(id ids.TimerID, fireAt time.Time) error { return nil }
func (n *noopTimers) Delete(id ids.TimerID) error                     { return nil }
func (n *noopTimers) ActionEffects() <-chan leadership.ActionEffect   { return n.effects }
func (n *noopTimers) Shutdown(deadline time.Duration) error           { return nil }

type noopShuffle struct{}

func (n *noopShuffle) Ship(ctx context.Context, msg *envelope.EnqueueOutboxMessage) error { return nil }
func (n *noopShuffle) Shutdown(deadline time.Duration) error                             { return nil }

type noopNotifier struct{}

func (n *noopNotifier) Notify(ctx context.Context, resp *envelope.InvocationResponse) error { return nil }
func (n *noopNotifier) Shutdown(deadline time.Duration) error                               { return nil }

type fakeActuators struct{}

func (f *fakeActuators) NewInvoker(ctx context.Context, epoch ids.LeaderEpoch) (leadership.InvokerHandle, error) {
	return &noopInvoker{effects: make(chan leadership.ActionEffect)}, nil
}

func (f *fakeActuators) NewTimerService(ctx context.Context, epoch ids.LeaderEpoch) (leadership.TimerService, error) {
	return &noopTimers{effects: make(chan leadership.ActionEffect)}, nil
}

func (f *fakeActuators) NewShuffle(ctx context.Context, epoch ids.LeaderEpoch) (leadership.ShuffleHandle, error) {
	return &noopShuffle{}, nil
}

func (f *fakeActuators) NewIngressNotifier(ctx context.Context, epoch ids.LeaderEpoch) (leadership.IngressNotifier, error) {
	return &noopNotifier{}, nil
}

// --- helpers ---

const testKey ids.PartitionKey = 100

func invokeRecord(t *testing.T, lsn uint64) ledger.LogRecord {
	t.Helper()
	env := &envelope.Envelope{
		Header: envelope.Header{DestKind: envelope.DestinationProcessor, PartitionKey: testKey},
		Command: envelope.Command{
			Kind: envelope.CommandInvokeService,
			InvokeService: &envelope.InvokeService{
				Service:      "greeter",
				Method:       "Hello",
				InvocationID: ids.InvocationID(fmt.Sprintf("inv-%d", lsn)),
			},
		},
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return ledger.LogRecord{Kind: ledger.RecordData, LSN: lsn, Data: raw}
}

func announceRecord(t *testing.T, lsn uint64, epoch ids.LeaderEpoch, node ids.NodeID) ledger.LogRecord {
	t.Helper()
	env := &envelope.Envelope{
		Header: envelope.Header{DestKind: envelope.DestinationProcessor, PartitionKey: testKey},
		Command: envelope.Command{
			Kind:           envelope.CommandAnnounceLeader,
			AnnounceLeader: &envelope.AnnounceLeader{Epoch: epoch, Node: node},
		},
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return ledger.LogRecord{Kind: ledger.RecordData, LSN: lsn, Data: raw}
}

func dedupRecord(t *testing.T, lsn uint64, producer ids.ProducerID, sn ids.SN) ledger.LogRecord {
	t.Helper()
	env := &envelope.Envelope{
		Header: envelope.Header{
			DestKind:     envelope.DestinationProcessor,
			PartitionKey: testKey,
			Dedup:        &envelope.DedupInformation{Producer: producer, SeqNum: ids.NewSN(sn)},
		},
		Command: envelope.Command{
			Kind: envelope.CommandInvokeService,
			InvokeService: &envelope.InvokeService{
				Service:      "greeter",
				Method:       "Hello",
				InvocationID: ids.InvocationID(fmt.Sprintf("inv-%d", lsn)),
			},
		},
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return ledger.LogRecord{Kind: ledger.RecordData, LSN: lsn, Data: raw}
}

func newTestProcessor(log *fakeLog) (*Processor, *storage.PartitionStorage) {
	kv := storage.NewMemKV()
	ps := storage.NewPartitionStorage(kv, ids.PartitionID(1))
	cfg := Config{
		PartitionID: 1,
		NodeID:      "self",
		Owned:       ids.KeyRange{Start: 0, End: 1000},
		Storage:     ps,
		Log:         log,
		Actuators:   &fakeActuators{},
		Logger:      logging.NewLogger(1, "self"),
		Metrics:     metrics.NewCollector("1", "self"),
	}
	return New(cfg), ps
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// --- scenarios ---

func TestProcessor_ColdStart_EmptyLog(t *testing.T) {
	p, _ := newTestProcessor(newFakeLog())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case s := <-p.Status():
		if s.Replay != ReplayActive {
			t.Errorf("replay = %v, want Active", s.Replay)
		}
	case <-time.After(1100 * time.Millisecond):
		t.Fatal("no status snapshot within 1100ms")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestProcessor_CatchUp(t *testing.T) {
	log := newFakeLog()
	for i := uint64(1); i <= 10; i++ {
		log.append(invokeRecord(t, i))
	}
	p, ps := newTestProcessor(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, time.Second, func() bool { return ps.View().AppliedLSN() == 10 })

	if p.state.IsLeader() {
		t.Error("expected follower, never announced leader")
	}
}

func TestProcessor_LeaderAcquisition(t *testing.T) {
	log := newFakeLog()
	for i := uint64(1); i <= 4; i++ {
		log.append(invokeRecord(t, i))
	}
	log.append(announceRecord(t, 5, 1, "self"))

	p, ps := newTestProcessor(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, time.Second, func() bool { return p.state.IsLeader() })

	esn, ok := ps.View().DedupSeqNumber(ids.SelfProducerID)
	if !ok || esn.Kind != ids.DedupKindESN || esn.Esn.Epoch != 1 {
		t.Fatalf("self ESN = %+v, ok=%v", esn, ok)
	}
}

func TestProcessor_LeaderLoss(t *testing.T) {
	log := newFakeLog()
	log.append(announceRecord(t, 1, 1, "self"))

	p, _ := newTestProcessor(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, time.Second, func() bool { return p.state.IsLeader() })

	log.append(announceRecord(t, 2, 2, "other"))
	waitFor(t, time.Second, func() bool { return !p.state.IsLeader() })
}

func TestProcessor_DuplicateFencing(t *testing.T) {
	log := newFakeLog()
	log.append(dedupRecord(t, 20, "producer-a", 5))
	log.append(dedupRecord(t, 21, "producer-a", 5))

	p, ps := newTestProcessor(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, time.Second, func() bool { return ps.View().AppliedLSN() == 21 })

	if _, ok := ps.View().InvocationStatus("inv-21"); ok {
		t.Error("LSN 21 should have been dropped as a duplicate, but its invocation was stored")
	}
	if _, ok := ps.View().InvocationStatus("inv-20"); !ok {
		t.Error("LSN 20 should have applied")
	}
}
