// Package metrics provides per-partition metrics collection.
//
// The Collector accumulates counters for one partition processor. It is a
// leaf package with no internal dependencies, so actuators and the state
// machine can take a *Collector without importing partition/leadership.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of a partition's counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Log application
	RecordsApplied int64
	RecordsSkipped int64 // not destined for this partition's key ranges
	DedupDrops     int64

	// Leadership
	PromotionsTotal int64
	DemotionsTotal  int64

	// Actions
	ActionsDispatched int64
	ActionsFailed     int64

	// Invocation outcomes
	InvocationsCompleted  int64
	InvocationsSuspended  int64
	InvocationsFailed     int64

	// Dimensions (informational, set at construction)
	PartitionID string
	NodeID      string
}

// Collector accumulates metrics for one partition. Thread-safe via
// sync.Mutex. All increment methods are nil-receiver safe so a processor
// constructed without metrics wiring (e.g. in a unit test) can pass a nil
// *Collector everywhere without a guard at every call site.
type Collector struct {
	mu sync.Mutex

	recordsApplied int64
	recordsSkipped int64
	dedupDrops     int64

	promotionsTotal int64
	demotionsTotal  int64

	actionsDispatched int64
	actionsFailed     int64

	invocationsCompleted int64
	invocationsSuspended int64
	invocationsFailed    int64

	partitionID string
	nodeID      string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(partitionID, nodeID string) *Collector {
	return &Collector{partitionID: partitionID, nodeID: nodeID}
}

func (c *Collector) IncRecordApplied() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsApplied++
	c.mu.Unlock()
}

func (c *Collector) IncRecordSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsSkipped++
	c.mu.Unlock()
}

func (c *Collector) IncDedupDrop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.dedupDrops++
	c.mu.Unlock()
}

func (c *Collector) IncPromotion() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.promotionsTotal++
	c.mu.Unlock()
}

func (c *Collector) IncDemotion() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.demotionsTotal++
	c.mu.Unlock()
}

func (c *Collector) IncActionDispatched() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actionsDispatched++
	c.mu.Unlock()
}

func (c *Collector) IncActionFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.actionsFailed++
	c.mu.Unlock()
}

func (c *Collector) IncInvocationCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.invocationsCompleted++
	c.mu.Unlock()
}

func (c *Collector) IncInvocationSuspended() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.invocationsSuspended++
	c.mu.Unlock()
}

func (c *Collector) IncInvocationFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.invocationsFailed++
	c.mu.Unlock()
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		RecordsApplied:       c.recordsApplied,
		RecordsSkipped:       c.recordsSkipped,
		DedupDrops:           c.dedupDrops,
		PromotionsTotal:      c.promotionsTotal,
		DemotionsTotal:       c.demotionsTotal,
		ActionsDispatched:    c.actionsDispatched,
		ActionsFailed:        c.actionsFailed,
		InvocationsCompleted: c.invocationsCompleted,
		InvocationsSuspended: c.invocationsSuspended,
		InvocationsFailed:    c.invocationsFailed,
		PartitionID:          c.partitionID,
		NodeID:               c.nodeID,
	}
}
