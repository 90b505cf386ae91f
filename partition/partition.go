// Package partition implements the per-partition log-replay state machine
// host described in spec §4.4: on startup it positions a log reader just
// past the last applied record, then cooperatively selects between
// cancellation, status publication, the next log record, and action
// effects flowing back from the currently-owned actuators.
//
// Grounded on the teacher's RunOrchestrator.Execute (runtime/run.go): a
// single-threaded driver owning one resource's lifecycle end to end,
// logging at each phase transition and reporting outcomes through a
// metrics collector rather than returning them inline.
package partition

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/justapithecus/restwork/dedupcache"
	"github.com/justapithecus/restwork/envelope"
	"github.com/justapithecus/restwork/errs"
	"github.com/justapithecus/restwork/ids"
	"github.com/justapithecus/restwork/leadership"
	"github.com/justapithecus/restwork/ledger"
	"github.com/justapithecus/restwork/logging"
	"github.com/justapithecus/restwork/metrics"
	"github.com/justapithecus/restwork/routing"
	"github.com/justapithecus/restwork/statemachine"
	"github.com/justapithecus/restwork/storage"
)

// leaderShutdownDeadline bounds how long a leader→follower transition waits
// for actuators to drain before abandoning them (spec §4.3).
const leaderShutdownDeadline = 5 * time.Second

// ReplayStatus tracks whether the processor has reached the tail it
// observed at startup.
type ReplayStatus uint8

const (
	ReplayCatchingUp ReplayStatus = iota
	ReplayActive
)

func (r ReplayStatus) String() string {
	if r == ReplayActive {
		return "active"
	}
	return "catching_up"
}

// EffectiveMode mirrors the processor's current leadership.State variant in
// the published status, without exposing the State interface itself.
type EffectiveMode uint8

const (
	ModeFollower EffectiveMode = iota
	ModeLeader
)

func (m EffectiveMode) String() string {
	if m == ModeLeader {
		return "leader"
	}
	return "follower"
}

// Status is a point-in-time snapshot published on the processor's watch
// channel at least once per status tick or after a leadership transition
// (spec §6 "Status output").
type Status struct {
	Replay                  ReplayStatus
	LastAppliedLSN          ids.LSN
	LastObservedLeaderEpoch ids.LeaderEpoch
	LastObservedLeaderNode  ids.NodeID
	EffectiveMode           EffectiveMode
	SkippedRecords          uint64
	UpdatedAt               time.Time
}

// Config wires one Processor to its partition's storage, log, routing
// range, and actuator factory.
type Config struct {
	PartitionID ids.PartitionID
	NodeID      ids.NodeID
	Owned       ids.KeyRange
	Storage     *storage.PartitionStorage
	Log         ledger.Log
	Actuators   leadership.ActuatorFactory
	Logger      *logging.Logger
	Metrics     *metrics.Collector

	// DedupCache is an optional read-through cache consulted before the
	// storage lookup in fenceDuplicate. Advisory only: a nil cache, a
	// miss, or a Redis error all fall back to the authoritative storage
	// read untouched.
	DedupCache *dedupcache.Cache
}

// Processor drives one partition's replay loop for the lifetime of Run.
type Processor struct {
	cfg   Config
	state leadership.State

	effects *statemachine.Effects
	actions *statemachine.ActionCollector

	status chan Status
}

// New constructs a Processor in the initial Follower variant. Run performs
// the startup sequence and enters the select loop.
func New(cfg Config) *Processor {
	return &Processor{
		cfg:     cfg,
		state:   leadership.NewFollower(cfg.Actuators),
		effects: &statemachine.Effects{},
		actions: &statemachine.ActionCollector{},
		status:  make(chan Status, 1),
	}
}

// Status returns the watch channel of status snapshots. The channel is
// buffered to depth 1 and always holds the most recent snapshot; a slow
// reader observes the latest state, not a backlog.
func (p *Processor) Status() <-chan Status {
	return p.status
}

// announcement is the leadership transition signal apply_record hands back
// to the main loop per spec §4.4 step 6.
type announcement struct {
	Epoch ids.LeaderEpoch
	Node  ids.NodeID
}

// Run executes the startup sequence then the select loop until ctx is
// canceled or a fatal error is encountered. A non-nil error is always
// fatal to this partition; the caller (worker supervisor) decides whether
// to restart it.
func (p *Processor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	view := p.cfg.Storage.View()
	appliedLSN := view.AppliedLSN()
	next := uint64(appliedLSN.Next())

	tail, err := p.cfg.Log.FindTail(ctx, uint64(p.cfg.PartitionID))
	if err != nil {
		return errs.NewPartitionError(errs.ErrStorage, "find_tail", err)
	}
	targetTailLSN := ids.LSN(tail.Offset)

	status := Status{LastAppliedLSN: appliedLSN, UpdatedAt: time.Now()}
	if uint64(appliedLSN) >= tail.Offset {
		// Caught up: nothing in the log has not yet been applied.
		status.Replay = ReplayActive
	} else {
		status.Replay = ReplayCatchingUp
	}
	status.EffectiveMode = modeOf(p.state)
	p.publishStatus(status)

	reader, err := p.cfg.Log.CreateReader(ctx, uint64(p.cfg.PartitionID), next, ledger.MaxOffset)
	if err != nil {
		return errs.NewPartitionError(errs.ErrStorage, "create_reader", err)
	}
	defer reader.Close()

	recordCh := make(chan ledger.LogRecord)
	recordErrCh := make(chan error, 1)
	go func() {
		for {
			rec, err := reader.Next(ctx)
			if err != nil {
				recordErrCh <- err
				return
			}
			select {
			case recordCh <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()

	statusTimer := time.NewTimer(statusJitter())
	defer statusTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.state = leadership.Demote(p.state, leaderShutdownDeadline)
			return nil

		case <-statusTimer.C:
			status.UpdatedAt = time.Now()
			status.EffectiveMode = modeOf(p.state)
			p.publishStatus(status)
			statusTimer.Reset(statusJitter())

		case rec := <-recordCh:
			if err := p.processRecord(ctx, rec, &status, targetTailLSN); err != nil {
				return err
			}
			p.publishStatus(status)

		case err := <-recordErrCh:
			if ctx.Err() != nil {
				p.state = leadership.Demote(p.state, leaderShutdownDeadline)
				return nil
			}
			return errs.NewPartitionError(errs.ErrLogReaderTerminated, "log_reader", err)

		case effect, ok := <-p.state.ActionEffects():
			if ok {
				p.handleActionEffect(effect)
			}
		}
	}
}

// processRecord runs apply_record and the post-apply obligations spec §4.4
// describes: commit-and-drain for the common case, or leadership
// transition when apply_record returns an announcement (whose transaction
// was already committed internally).
func (p *Processor) processRecord(ctx context.Context, rec ledger.LogRecord, status *Status, targetTailLSN ids.LSN) error {
	p.effects.Clear()
	p.actions.Clear()

	tx := p.cfg.Storage.CreateTransaction()
	ann, err := p.applyRecord(ctx, tx, rec, status, targetTailLSN)
	if err != nil {
		return err
	}

	if ann != nil {
		// A new leader restarts actuators afresh: any actions collected
		// against the outgoing leadership state are meaningless now.
		p.actions.Clear()
		if ann.Node == p.cfg.NodeID {
			p.state = leadership.Demote(p.state, leaderShutdownDeadline)
			newState, perr := leadership.Promote(ctx, p.state, ann.Epoch)
			if perr != nil {
				return errs.NewPartitionError(errs.ErrProgrammer, "promote", perr)
			}
			p.state = newState
			p.cfg.Metrics.IncPromotion()
		} else {
			p.state = leadership.Demote(p.state, leaderShutdownDeadline)
			p.cfg.Metrics.IncDemotion()
		}
		status.LastObservedLeaderEpoch = ann.Epoch
		status.LastObservedLeaderNode = ann.Node
		status.EffectiveMode = modeOf(p.state)
		return nil
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.NewPartitionError(errs.ErrStorage, "commit", err)
	}

	if p.state.IsLeader() && p.actions.Len() > 0 {
		if err := p.state.HandleActions(ctx, p.actions.Actions()); err != nil {
			p.cfg.Metrics.IncActionFailed()
			p.cfg.Logger.Warn("action dispatch failed", map[string]any{"error": err.Error()})
		} else {
			p.cfg.Metrics.IncActionDispatched()
		}
	}
	return nil
}

// applyRecord implements spec §4.4's apply_record obligations 1-7. It does
// not commit tx except along the AnnounceLeader path (step 6 requires the
// self-ESN update to be durable before the transition is returned); every
// other path leaves the commit to processRecord's post-apply logic.
func (p *Processor) applyRecord(ctx context.Context, tx *storage.Transaction, rec ledger.LogRecord, status *Status, targetTailLSN ids.LSN) (*announcement, error) {
	if rec.Kind != ledger.RecordData {
		return nil, errs.NewPartitionError(errs.ErrUnsupportedRecord, "apply_record", fmt.Errorf("record kind %d at lsn %d", rec.Kind, rec.LSN))
	}

	lsn := ids.LSN(rec.LSN)
	tx.StoreAppliedLSN(lsn)

	status.LastAppliedLSN = lsn
	status.UpdatedAt = time.Now()
	if status.Replay == ReplayCatchingUp && lsn >= targetTailLSN {
		status.Replay = ReplayActive
	}

	env, err := envelope.Decode(rec.Data)
	if err != nil {
		return nil, errs.NewPartitionError(errs.ErrRecordDecoding, "apply_record", err)
	}

	if env.Header.DestKind != envelope.DestinationProcessor || !routing.Owns(p.cfg.Owned, env.Header.PartitionKey) {
		status.SkippedRecords++
		p.cfg.Metrics.IncRecordSkipped()
		return nil, nil
	}

	if env.Header.Dedup != nil {
		dup, err := p.fenceDuplicate(ctx, tx, env.Header.Dedup)
		if err != nil {
			return nil, err
		}
		if dup {
			p.cfg.Metrics.IncDedupDrop()
			return nil, nil
		}
	}

	if env.Command.Kind == envelope.CommandAnnounceLeader {
		return p.applyAnnounceLeader(ctx, tx, env.Command.AnnounceLeader)
	}

	if err := statemachine.Apply(&env.Command, tx, p.effects, p.actions, p.state.IsLeader()); err != nil {
		return nil, errs.NewPartitionError(errs.ErrStateMachine, "apply", err)
	}
	p.cfg.Metrics.IncRecordApplied()
	return nil, nil
}

// fenceDuplicate implements step 5: look up the producer's last observed
// sequence number and compare same-kind. A cross-kind comparison is a
// programmer error, never a duplicate/non-duplicate decision.
//
// Storage remains authoritative throughout: the optional cache is only
// consulted to short-circuit an obvious duplicate before touching
// storage, and is refreshed after every storage write. A cache miss or
// error is silently treated the same as "no prior value cached".
func (p *Processor) fenceDuplicate(ctx context.Context, tx *storage.Transaction, dedup *envelope.DedupInformation) (bool, error) {
	if p.cfg.DedupCache != nil {
		if cached, hit, err := p.cfg.DedupCache.Get(ctx, p.cfg.PartitionID, dedup.Producer); err == nil && hit {
			if prior, ok := dedupcache.DecodeSeq(cached); ok {
				if cmp, err := prior.Compare(dedup.SeqNum); err == nil && cmp >= 0 {
					return true, nil
				}
			}
		}
	}

	prior, ok := tx.DedupSeqNumber(dedup.Producer)
	if ok {
		cmp, err := prior.Compare(dedup.SeqNum)
		if err != nil {
			return false, errs.NewPartitionError(errs.ErrProgrammer, "dedup_compare", err)
		}
		if cmp >= 0 {
			return true, nil
		}
	}
	tx.StoreDedupSeqNumber(dedup.Producer, dedup.SeqNum)
	if p.cfg.DedupCache != nil {
		_ = p.cfg.DedupCache.Set(ctx, p.cfg.PartitionID, dedup.Producer, dedupcache.EncodeSeq(dedup.SeqNum))
	}
	return false, nil
}

// applyAnnounceLeader implements step 6: fence the announcement against
// the self-ESN, commit the updated ESN in the same transaction that
// observed it, and only then report the transition to the caller.
func (p *Processor) applyAnnounceLeader(ctx context.Context, tx *storage.Transaction, cmd *envelope.AnnounceLeader) (*announcement, error) {
	if cmd == nil {
		return nil, errs.NewPartitionError(errs.ErrRecordDecoding, "announce_leader", fmt.Errorf("nil payload"))
	}

	selfESN, ok := tx.DedupSeqNumber(ids.SelfProducerID)
	var lastKnownEpoch ids.LeaderEpoch
	if ok {
		if selfESN.Kind != ids.DedupKindESN {
			return nil, errs.NewPartitionError(errs.ErrProgrammer, "announce_leader", fmt.Errorf("self dedup entry is not ESN kind"))
		}
		lastKnownEpoch = selfESN.Esn.Epoch
	}

	if ok && cmd.Epoch <= lastKnownEpoch {
		p.cfg.Logger.Info("dropping stale leadership announcement", map[string]any{
			"epoch":            cmd.Epoch,
			"last_known_epoch": lastKnownEpoch,
			"node":             string(cmd.Node),
		})
		return nil, nil
	}

	counter := uint64(0)
	if ok {
		counter = selfESN.Esn.Counter + 1
	}
	tx.StoreDedupSeqNumber(ids.SelfProducerID, ids.NewESN(ids.ESN{Epoch: cmd.Epoch, Counter: counter}))

	if err := tx.Commit(ctx); err != nil {
		return nil, errs.NewPartitionError(errs.ErrStorage, "commit", err)
	}
	p.cfg.Metrics.IncRecordApplied()
	return &announcement{Epoch: cmd.Epoch, Node: cmd.Node}, nil
}

// handleActionEffect logs effects flowing back from the currently owned
// actuators, dropping any tagged with a stale epoch (spec §4.3). This core
// has no append path back into the log, so invocation progress, timer
// fires, and outbox shipments are observable here only for status and
// diagnostics; reflecting them into new log records is the ingress
// layer's responsibility, out of scope per spec §1.
func (p *Processor) handleActionEffect(e leadership.ActionEffect) {
	if e.Epoch != p.state.Epoch() {
		return
	}
	switch e.Kind {
	case leadership.ActionEffectInvocationProgress:
		p.cfg.Logger.Debug("invocation progress", map[string]any{"detail": e.Detail})
	case leadership.ActionEffectTimerFired:
		p.cfg.Logger.Debug("timer fired", map[string]any{"detail": e.Detail})
	case leadership.ActionEffectOutboxShipped:
		p.cfg.Logger.Debug("outbox shipped", map[string]any{"detail": e.Detail})
	}
}

// publishStatus replaces any unread snapshot with s, so the channel never
// blocks the select loop and readers always see the latest state.
func (p *Processor) publishStatus(s Status) {
	select {
	case <-p.status:
	default:
	}
	select {
	case p.status <- s:
	default:
	}
}

func modeOf(state leadership.State) EffectiveMode {
	if state.IsLeader() {
		return ModeLeader
	}
	return ModeFollower
}

// statusJitter picks a randomised interval in [500, 1024) ms to
// de-synchronise partitions sharing a process (spec §9).
func statusJitter() time.Duration {
	return time.Duration(500+rand.Intn(524)) * time.Millisecond
}
