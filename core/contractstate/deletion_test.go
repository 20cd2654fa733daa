// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package contractstate

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func trieFor(n byte) TrieId {
	var t TrieId
	t[0] = n
	return t
}

func TestDeletionQueueEnqueueRejectsWhenFull(t *testing.T) {
	q := NewDeletionQueue(2)
	require.NoError(t, q.Enqueue(trieFor(1)))
	require.NoError(t, q.Enqueue(trieFor(2)))
	require.ErrorIs(t, q.Enqueue(trieFor(3)), ErrDeletionQueueFull)
	require.Equal(t, 2, q.Len())
}

func TestDeletionQueueMaybeQueuedAndContains(t *testing.T) {
	q := NewDeletionQueue(4)
	trie := trieFor(9)
	require.False(t, q.Contains(trie))
	require.NoError(t, q.Enqueue(trie))
	require.True(t, q.MaybeQueued(trie), "bloom probe must never false-negative a queued entry")
	require.True(t, q.Contains(trie))
}

func TestDeletionQueueProcessBatchDrainsFullyWithinBudget(t *testing.T) {
	storage := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)
	for i := 0; i < 3; i++ {
		require.NoError(t, storage.Write(trie, common.BigToHash(big.NewInt(int64(i))), []byte{0x01}, info, 1024))
	}

	q := NewDeletionQueue(4)
	require.NoError(t, q.Enqueue(trie))

	result := q.ProcessBatch(storage, 1000, 1, 10)
	require.Equal(t, 1, result.Drained)
	require.Equal(t, uint64(3), result.WeightConsumed)
	require.Equal(t, 0, q.Len())
}

func TestDeletionQueueProcessBatchSpansMultipleTicksForLargeTrie(t *testing.T) {
	storage := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)
	for i := 0; i < 10; i++ {
		require.NoError(t, storage.Write(trie, common.BigToHash(big.NewInt(int64(i))), []byte{0x01}, info, 1024))
	}

	q := NewDeletionQueue(4)
	require.NoError(t, q.Enqueue(trie))

	// maxKeysPerEntry=3 forces several ticks to fully drain 10 keys.
	first := q.ProcessBatch(storage, 1000, 1, 3)
	require.Equal(t, 0, first.Drained, "a partially-drained entry must stay queued")
	require.Equal(t, uint64(3), first.WeightConsumed)
	require.Equal(t, 1, q.Len())

	second := q.ProcessBatch(storage, 1000, 1, 3)
	require.Equal(t, 0, second.Drained)
	require.Equal(t, uint64(3), second.WeightConsumed)

	third := q.ProcessBatch(storage, 1000, 1, 3)
	require.Equal(t, 0, third.Drained)
	require.Equal(t, uint64(3), third.WeightConsumed)

	fourth := q.ProcessBatch(storage, 1000, 1, 3)
	require.Equal(t, 1, fourth.Drained, "the final partial tick must finish draining and dequeue")
	require.Equal(t, uint64(1), fourth.WeightConsumed)
	require.Equal(t, 0, q.Len())
}

func TestDeletionQueueProcessBatchStopsAtWeightLimitNotEntryCount(t *testing.T) {
	storage := NewStorage()
	info := &AliveContractInfo{}
	trieA, trieB := trieFor(1), trieFor(2)
	key := common.Hash{}
	require.NoError(t, storage.Write(trieA, key, []byte{0x01}, info, 1024))
	key[31] = 1
	require.NoError(t, storage.Write(trieB, key, []byte{0x01}, info, 1024))

	q := NewDeletionQueue(4)
	require.NoError(t, q.Enqueue(trieA))
	require.NoError(t, q.Enqueue(trieB))

	// weightPerKey=1, weightLimit=1: exactly enough to drain trieA and stop,
	// satisfying invariant 5 (queue shrank by >= 1, or weight hit the limit).
	result := q.ProcessBatch(storage, 1, 1, 10)
	require.Equal(t, 1, result.Drained)
	require.Equal(t, uint64(1), result.WeightConsumed)
	require.Equal(t, 1, q.Len(), "trieB must remain queued for the next tick")
}
