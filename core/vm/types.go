// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package vm implements the call/instantiate execution context described in
// spec.md §4.6-§4.9: a frame stack with transactional overlay/rollback and
// the host-function surface exposed to an Executable. It is grounded on
// godx's core/vm EVM (Call/Create, Snapshot/RevertToSnapshot discipline)
// and on miner/worker.go's per-transaction environment struct (DESIGN.md).
package vm

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EntryPoint distinguishes a fresh deployment from an ordinary call
// (spec.md §4.5).
type EntryPoint uint8

const (
	EntryCall EntryPoint = iota
	EntryDeploy
)

func (e EntryPoint) String() string {
	if e == EntryDeploy {
		return "deploy"
	}
	return "call"
}

// ExecReturn is everything an Executable is permitted to hand back to its
// ExecutionContext (spec.md §4.5): a byte blob and a revert flag.
type ExecReturn struct {
	Data     []byte
	Reverted bool
}

// Executable is the code-cache consumer's interface (spec.md §4.5). It is
// opaque to ExecutionContext beyond its return value, the events it
// deposits, the storage writes it performs through Host, and the gas it
// consumes.
type Executable interface {
	Execute(host Host, entryPoint EntryPoint, input []byte) (ExecReturn, error)
}

// Errors surfaced by ExecutionContext and the host-function surface
// (spec.md §4.6, §6).
var (
	ErrNotCallable             = errors.New("vm: contract not callable (tombstoned)")
	ErrDuplicateContract       = errors.New("vm: duplicate contract at address")
	ErrNewContractNotFunded    = errors.New("vm: endowment below subsistence threshold")
	ErrMaxCallDepthReached     = errors.New("vm: max call depth reached")
	ErrReentranceDenied        = errors.New("vm: reentrance denied")
	ErrBelowSubsistenceThreshold = errors.New("vm: operation would leave contract below subsistence threshold")
	ErrInputAlreadyRead        = errors.New("vm: input already read")
	ErrOutOfBounds             = errors.New("vm: buffer out of bounds")
	ErrDecodingFailed          = errors.New("vm: decoding failed")
	ErrContractTrapped         = errors.New("vm: contract trapped")
	ErrRandomSubjectTooLong    = errors.New("vm: random subject too long")
	ErrTooManyTopics           = errors.New("vm: too many event topics")
	ErrDuplicateTopics         = errors.New("vm: duplicate event topics")
	ErrNoFrame                 = errors.New("vm: no active frame")
)

// Event is a single ContractEmitted payload (spec.md §6).
type Event struct {
	Contract common.Address
	Topics   []common.Hash
	Data     []byte
}

// NotificationKind distinguishes the non-ContractEmitted lifecycle
// notifications an ExecutionContext can produce (spec.md §6: Terminated,
// Restored), surfaced alongside Event so the dispatch surface can turn
// both into the module's own observable events without reaching into
// frame internals.
type NotificationKind uint8

const (
	NotificationTerminated NotificationKind = iota
	NotificationRestored
)

// Notification is one Terminated or Restored lifecycle note produced by a
// committed top-level dispatch.
type Notification struct {
	Kind          NotificationKind
	Contract      common.Address // Terminated: the terminated contract
	Beneficiary   common.Address // Terminated: balance recipient
	Restorer      common.Address // Restored: the caller that donated its trie
	Dest          common.Address // Restored: the resurrected contract
	CodeHash      common.Hash
	RentAllowance *uint256.Int
}
