// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package contractstate implements the per-contract lifecycle, sub-trie
// storage and lazy deletion queue described in spec.md §3-§4.2. The
// alive/tombstone tagged union and the sub-trie keyed-by-trie_id storage
// model are grounded on the dirty-size/pair-count bookkeeping of
// state_object.go (other_examples/e3a70956_...) and on the
// snapshot/rollback discipline of godx's core/vm/evm.go (DESIGN.md).
package contractstate

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TrieId is the opaque, globally unique identifier of a contract's
// sub-trie (spec.md §3). It is derived from a monotonic AccountCounter
// mixed with the owning address so it is distinct even across reuse of an
// account id after termination.
type TrieId [32]byte

// NewTrieId derives a fresh trie id from the current AccountCounter value
// (already incremented by the caller) and the owning address, per spec.md
// §4.6 ("trie_id = f(AccountCounter++)").
func NewTrieId(counter uint64, owner common.Address) TrieId {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	return TrieId(crypto.Keccak256Hash(buf[:], owner.Bytes()))
}

// AccountCounter is the monotonically increasing 64-bit counter used to
// mint fresh TrieIds (spec.md §3). It never decrements.
type AccountCounter struct {
	value uint64
}

// Next increments the counter and returns the new value.
func (c *AccountCounter) Next() uint64 {
	c.value++
	return c.value
}

// Value returns the counter's current value without mutating it.
func (c *AccountCounter) Value() uint64 { return c.value }

// AliveContractInfo is the per-contract record for a live contract
// (spec.md §3).
type AliveContractInfo struct {
	TrieId         TrieId
	StorageSize    uint32 // sum of value bytes across all entries
	PairCount      uint32 // number of entries
	CodeHash       common.Hash
	RentAllowance  *uint256Amount // upper bound on rent the contract consents to pay
	RentPaid       *uint256Amount // cumulative rent debited, reset on restoration
	DeductBlock    uint64         // last block at which rent was settled
	LastWrite      *uint64        // last block at which storage was mutated, if ever
}

// Clone returns a deep copy suitable for use as a frame's working overlay.
func (a *AliveContractInfo) Clone() *AliveContractInfo {
	if a == nil {
		return nil
	}
	cp := *a
	cp.RentAllowance = cloneAmount(a.RentAllowance)
	cp.RentPaid = cloneAmount(a.RentPaid)
	if a.LastWrite != nil {
		lw := *a.LastWrite
		cp.LastWrite = &lw
	}
	return &cp
}

// TombstoneContractInfo is the single digest proving what state a contract
// had at eviction: H(storage_root || code_hash) (spec.md §3).
type TombstoneContractInfo struct {
	Digest common.Hash
}

// Kind distinguishes the two branches of the ContractInfo tagged union.
type Kind uint8

const (
	// KindNone means no contract exists at this address.
	KindNone Kind = iota
	KindAlive
	KindTombstone
)

// ContractInfo is the tagged union {Alive | Tombstone} keyed by AccountId,
// always exhaustively matched per spec.md's design notes (§9).
type ContractInfo struct {
	Kind      Kind
	Alive     *AliveContractInfo
	Tombstone *TombstoneContractInfo
}

// None is the zero-value ContractInfo: no contract at this address.
func None() ContractInfo { return ContractInfo{Kind: KindNone} }

// NewAlive wraps an AliveContractInfo as a ContractInfo.
func NewAlive(a *AliveContractInfo) ContractInfo { return ContractInfo{Kind: KindAlive, Alive: a} }

// NewTombstone wraps a TombstoneContractInfo as a ContractInfo.
func NewTombstone(t *TombstoneContractInfo) ContractInfo {
	return ContractInfo{Kind: KindTombstone, Tombstone: t}
}

// Clone deep-copies a ContractInfo so a frame overlay never aliases the
// persisted copy.
func (c ContractInfo) Clone() ContractInfo {
	switch c.Kind {
	case KindAlive:
		return ContractInfo{Kind: KindAlive, Alive: c.Alive.Clone()}
	case KindTombstone:
		t := *c.Tombstone
		return ContractInfo{Kind: KindTombstone, Tombstone: &t}
	default:
		return None()
	}
}

// TombstoneDigest computes H(storage_root || code_hash) as used both when
// creating and when verifying a tombstone (spec.md §4.4).
func TombstoneDigest(storageRoot common.Hash, codeHash common.Hash) common.Hash {
	return crypto.Keccak256Hash(storageRoot.Bytes(), codeHash.Bytes())
}
