// Package routing holds the partition-key ownership checks. Owns is the
// check apply_record (spec §4.4 step 4) performs to decide whether an
// incoming envelope's destination key falls inside the local partition's
// owned range. Table maps a key to the owning PartitionID across several
// ranges.
//
// Table keeps its ranges in an intrusive red-black tree ordered by
// KeyRange.Start, the same ordered-cursor-set idiom franz-go uses for
// tracking per-partition state. Owner walks the ranges in that order until
// one contains the key, so a lookup is linear in the number of ranges.
package routing

import (
	"sync"

	"github.com/twmb/go-rbtree"

	"github.com/justapithecus/restwork/ids"
)

// rangeNode embeds rbtree.Node so the tree can order entries by
// KeyRange.Start without a separate comparator allocation per lookup.
type rangeNode struct {
	rbtree.Node
	rng       ids.KeyRange
	partition ids.PartitionID
}

func (n *rangeNode) Less(o rbtree.Righter) bool {
	return n.rng.Start < o.(*rangeNode).rng.Start
}

// Table maps disjoint PartitionKey ranges to owning PartitionIDs.
type Table struct {
	mu   sync.RWMutex
	tree rbtree.Tree
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{}
}

// Assign registers that rng is owned by partition. Ranges must be disjoint;
// Assign does not validate overlap (the cluster metadata service, out of
// scope per spec §1, is the source of truth for partition ownership).
func (t *Table) Assign(rng ids.KeyRange, partition ids.PartitionID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tree.Insert(&rangeNode{rng: rng, partition: partition})
}

// Owner returns the partition owning key, if any range covers it.
func (t *Table) Owner(key ids.PartitionKey) (ids.PartitionID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var found *rangeNode
	t.tree.Each(func(r rbtree.Righter) bool {
		n := r.(*rangeNode)
		if n.rng.Contains(key) {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return 0, false
	}
	return found.partition, true
}

// Owns reports whether the given partition's own range contains key; this
// is the check apply_record performs against the header's destination
// (spec §4.4 step 4: "not addressed to this partition" -> skip + count).
func Owns(rng ids.KeyRange, key ids.PartitionKey) bool {
	return rng.Contains(key)
}
