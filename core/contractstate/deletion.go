// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package contractstate

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/bloomfilter/v2"
)

// ErrDeletionQueueFull is returned by Enqueue when the queue is already at
// DeletionQueueDepth (spec.md §3).
var ErrDeletionQueueFull = errors.New("contractstate: deletion queue full")

// DeletedContract is one entry awaiting physical sub-trie deletion
// (spec.md §3).
type DeletedContract struct {
	TrieId TrieId
}

// DeletionQueue is the bounded, FIFO, cross-block continuation of
// sub-trie teardown described in spec.md §4.2/§4.9 ("lazy deletion
// decouples the O(n) cost of destroying a large sub-trie from the
// transaction that triggered it"). A holiman/bloomfilter/v2 membership
// probe fronts the queue so a caller asking "is trie X already queued?"
// (MaybeQueued, then Contains) can usually answer without scanning;
// Enqueue itself does not check for duplicates. The queue remains the only
// authoritative source, so false positives in the filter only cost an
// extra scan, never correctness.
type DeletionQueue struct {
	depth   int
	entries []DeletedContract
	probe   *bloomfilter.Filter
}

// NewDeletionQueue returns an empty queue bounded to depth entries.
func NewDeletionQueue(depth int) *DeletionQueue {
	// Sized for roughly 4x the queue depth at a 1% false-positive rate;
	// rebuilt wholesale each time the queue fully drains (see
	// rebuildProbeIfStale).
	f, err := bloomfilter.NewOptimal(uint64(depth*4+16), 0.01)
	if err != nil {
		// Only returns an error for a degenerate (zero) input size; depth
		// is always operator-configured and positive in practice.
		log.Error("contractstate: failed to size deletion-queue bloom filter", "err", err)
		f, _ = bloomfilter.NewOptimal(64, 0.01)
	}
	return &DeletionQueue{depth: depth, probe: f}
}

// Len reports the current queue length.
func (q *DeletionQueue) Len() int { return len(q.entries) }

func trieHash(id TrieId) uint64 {
	var h uint64
	for i, b := range id {
		h = h<<8 | uint64(b)
		if i == 7 {
			break
		}
	}
	return h
}

// MaybeQueued reports whether trie is possibly already queued. false is
// authoritative; true requires confirming against Contains.
func (q *DeletionQueue) MaybeQueued(trie TrieId) bool {
	return q.probe.Contains(bloomfilter.Hash(trieHash(trie)))
}

// Contains does the authoritative O(n) scan; callers should gate it behind
// MaybeQueued.
func (q *DeletionQueue) Contains(trie TrieId) bool {
	for _, e := range q.entries {
		if e.TrieId == trie {
			return true
		}
	}
	return false
}

// Enqueue appends trie to the tail of the queue, failing with
// ErrDeletionQueueFull if the queue is already at capacity (spec.md §3:
// "enqueuing while full fails the enqueue operation").
func (q *DeletionQueue) Enqueue(trie TrieId) error {
	if len(q.entries) >= q.depth {
		return ErrDeletionQueueFull
	}
	q.entries = append(q.entries, DeletedContract{TrieId: trie})
	q.probe.Add(bloomfilter.Hash(trieHash(trie)))
	return nil
}

// ProcessBatchResult reports what a single block-hook tick accomplished.
type ProcessBatchResult struct {
	WeightConsumed uint64
	Drained        int
}

// ProcessBatch drains queue entries into storage while consumed weight
// stays below weightLimit. Each entry is cleared in chunks of at most
// maxKeysPerEntry keys, with the budget checked before every chunk; an
// entry not fully drained when the budget runs out stays at the head, so
// very large tries span multiple block ticks (spec.md §4.2). Per invariant 5
// (spec.md §8), after this call either the queue shrank by >= 1 or
// consumed weight >= weightLimit.
func (q *DeletionQueue) ProcessBatch(storage *Storage, weightLimit uint64, weightPerKey uint64, maxKeysPerEntry int) ProcessBatchResult {
	var result ProcessBatchResult
	for len(q.entries) > 0 && result.WeightConsumed < weightLimit {
		head := q.entries[0]
		before := storage.KeyCount(head.TrieId)
		remaining, done := storage.Clear(head.TrieId, maxKeysPerEntry)
		cleared := before - remaining
		result.WeightConsumed += uint64(cleared) * weightPerKey
		if done {
			q.entries = q.entries[1:]
			result.Drained++
			q.rebuildProbeIfStale()
			continue
		}
		// Partially drained: the entry stays at the head for the next
		// tick, but keep spending this tick's budget against the same
		// trie rather than stalling early, so invariant 5 (queue shrinks
		// or consumed weight reaches the limit) always holds.
		if cleared == 0 {
			break
		}
	}
	return result
}

// rebuildProbeIfStale recreates the bloom filter once the queue has fully
// drained, so a long-running node's filter doesn't accumulate unbounded
// stale positives across churn.
func (q *DeletionQueue) rebuildProbeIfStale() {
	if len(q.entries) != 0 {
		return
	}
	f, err := bloomfilter.NewOptimal(uint64(q.depth*4+16), 0.01)
	if err != nil {
		return
	}
	q.probe = f
}
