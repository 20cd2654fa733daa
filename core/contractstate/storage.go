// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package contractstate

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrStorageExhausted is returned by Write when storage_size or pair_count
// would overflow uint32, or a single value exceeds the schedule's
// MaxValueSize (spec.md §4.2).
var ErrStorageExhausted = errors.New("contractstate: storage exhausted")

// Storage is the per-contract sub-trie key/value layer described in
// spec.md §4.2. It stands in for "the underlying blockchain storage",
// given by the spec as an external collaborator keyed by trie_id; this
// implementation is the in-process map the rest of the module is built
// against. It is not safe to share a *Storage across goroutines without
// external synchronization beyond the single dispatch-path invariant
// spec.md §5 assumes, but it does guard its own map against the RPC
// query surface's concurrent reads.
type Storage struct {
	mu    sync.RWMutex
	tries map[TrieId]map[common.Hash][]byte
}

// NewStorage returns an empty Storage.
func NewStorage() *Storage {
	return &Storage{tries: make(map[TrieId]map[common.Hash][]byte)}
}

// Read returns the value stored at key in trie, if any.
func (s *Storage) Read(trie TrieId, key common.Hash) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tries[trie]
	if !ok {
		return nil, false
	}
	v, ok := t[key]
	return v, ok
}

// Write sets key to value in trie (value == nil deletes the entry),
// maintaining storage_size and pair_count on info atomically with the
// underlying map mutation, and rejecting oversized values or counter
// overflow per spec.md §4.2.
func (s *Storage) Write(trie TrieId, key common.Hash, value []byte, info *AliveContractInfo, maxValueSize uint32) error {
	if value != nil && uint32(len(value)) > maxValueSize {
		return ErrStorageExhausted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tries[trie]
	if !ok {
		t = make(map[common.Hash][]byte)
		s.tries[trie] = t
	}
	old, existed := t[key]

	if value == nil {
		if !existed {
			return nil
		}
		delete(t, key)
		info.PairCount--
		info.StorageSize -= uint32(len(old))
		return nil
	}

	newSize := info.StorageSize - uint32(len(old)) + uint32(len(value))
	newCount := info.PairCount
	if !existed {
		if newCount == ^uint32(0) {
			return ErrStorageExhausted
		}
		newCount++
	}
	if newSize < info.StorageSize-uint32(len(old)) {
		// would overflow uint32
		return ErrStorageExhausted
	}
	t[key] = value
	info.StorageSize = newSize
	info.PairCount = newCount
	return nil
}

// Clear removes every key belonging to trie, up to maxKeys entries, and
// reports whether the trie is now fully empty. It is used by the deletion
// queue to bound per-tick work (spec.md §4.2: "so very large tries may
// require multiple block ticks").
func (s *Storage) Clear(trie TrieId, maxKeys int) (remaining int, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tries[trie]
	if !ok {
		return 0, true
	}
	if maxKeys <= 0 {
		return len(t), false
	}
	n := 0
	for k := range t {
		if n >= maxKeys {
			break
		}
		delete(t, k)
		n++
	}
	if len(t) == 0 {
		delete(s.tries, trie)
		return 0, true
	}
	return len(t), false
}

// KeyCount returns the number of live keys in trie, for metrics/testing.
func (s *Storage) KeyCount(trie TrieId) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tries[trie])
}

// Root computes a deterministic digest of trie's contents, standing in for
// the "storage_root" spec.md's tombstone digest hashes over (§4.4). It is
// order-independent (XOR-folded leaf hashes) so insertion order never
// affects the result, matching a real Merkle sub-trie's root.
func (s *Storage) Root(trie TrieId) common.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return rootOf(s.tries[trie])
}
