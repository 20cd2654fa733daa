// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package contractstate

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestStorageWriteReadRoundTrip(t *testing.T) {
	s := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)
	key := common.HexToHash("0x01")

	require.NoError(t, s.Write(trie, key, []byte("value"), info, 1024))
	v, ok := s.Read(trie, key)
	require.True(t, ok)
	require.Equal(t, []byte("value"), v)
	require.EqualValues(t, 1, info.PairCount)
	require.EqualValues(t, len("value"), info.StorageSize)
}

func TestStorageWriteNilDeletes(t *testing.T) {
	s := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)
	key := common.HexToHash("0x01")

	require.NoError(t, s.Write(trie, key, []byte("value"), info, 1024))
	require.NoError(t, s.Write(trie, key, nil, info, 1024))

	_, ok := s.Read(trie, key)
	require.False(t, ok)
	require.EqualValues(t, 0, info.PairCount)
	require.EqualValues(t, 0, info.StorageSize)
}

func TestStorageWriteRejectsOversizedValue(t *testing.T) {
	s := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)

	err := s.Write(trie, common.HexToHash("0x01"), []byte("toolong"), info, 3)
	require.ErrorIs(t, err, ErrStorageExhausted)
	require.EqualValues(t, 0, info.PairCount, "a rejected write must not mutate the counters")
}

func TestStorageClearReportsDoneOnlyWhenTrieIsEmpty(t *testing.T) {
	s := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)
	for i := byte(0); i < 5; i++ {
		key := common.Hash{}
		key[31] = i
		require.NoError(t, s.Write(trie, key, []byte{i}, info, 1024))
	}

	remaining, done := s.Clear(trie, 2)
	require.False(t, done)
	require.Equal(t, 3, remaining)
	require.Equal(t, 3, s.KeyCount(trie))

	remaining, done = s.Clear(trie, 10)
	require.True(t, done)
	require.Equal(t, 0, remaining)
	require.Equal(t, 0, s.KeyCount(trie))
}

func TestStorageClearOnUnknownTrieIsImmediatelyDone(t *testing.T) {
	s := NewStorage()
	remaining, done := s.Clear(trieFor(99), 10)
	require.True(t, done)
	require.Equal(t, 0, remaining)
}

func TestStorageRootIsOrderIndependent(t *testing.T) {
	s1, s2 := NewStorage(), NewStorage()
	info1, info2 := &AliveContractInfo{}, &AliveContractInfo{}
	trie := trieFor(1)

	k1, k2 := common.HexToHash("0x01"), common.HexToHash("0x02")
	require.NoError(t, s1.Write(trie, k1, []byte("a"), info1, 1024))
	require.NoError(t, s1.Write(trie, k2, []byte("b"), info1, 1024))

	require.NoError(t, s2.Write(trie, k2, []byte("b"), info2, 1024))
	require.NoError(t, s2.Write(trie, k1, []byte("a"), info2, 1024))

	require.Equal(t, s1.Root(trie), s2.Root(trie))
}

func TestStorageRootChangesWithContent(t *testing.T) {
	s := NewStorage()
	info := &AliveContractInfo{}
	trie := trieFor(1)
	empty := s.Root(trie)

	require.NoError(t, s.Write(trie, common.HexToHash("0x01"), []byte("a"), info, 1024))
	require.NotEqual(t, empty, s.Root(trie))
}
