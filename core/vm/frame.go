// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wasmchain/contracts/core/gas"
)

// undo is a closure that reverses one externally-visible mutation
// performed while this frame was active: a storage write, a ContractInfo
// replacement, or a currency transfer. Frame rollback runs every undo in
// LIFO order, the same journal discipline go-ethereum's StateDB uses for
// Snapshot/RevertToSnapshot, generalized here from account state to the
// contract/storage/currency triple this module tracks (DESIGN.md).
type undo func()

// Frame is the per-call/instantiate activation record described in
// spec.md §3: "{account_id, contract_info_snapshot,
// transactional_storage_overlay, gas_sub_meter, value_transferred, depth,
// code_hash}". Mutations it performs apply immediately to persistent
// state (so a reentrant call observes them), but are journaled as undo
// closures so a failing frame can be unwound without touching its parent.
type Frame struct {
	AccountID  common.Address
	CodeHash   common.Hash
	Depth      uint32
	Value      *uint256.Int
	EntryPoint EntryPoint
	GasMeter   *gas.Meter

	events        []Event
	undos         []undo
	terminations  []terminationEffect
	notifications []Notification

	inputRead bool
	input     []byte
}

func newFrame(account common.Address, codeHash common.Hash, depth uint32, value *uint256.Int, entry EntryPoint, meter *gas.Meter, input []byte) *Frame {
	return &Frame{
		AccountID:  account,
		CodeHash:   codeHash,
		Depth:      depth,
		Value:      value,
		EntryPoint: entry,
		GasMeter:   meter,
		input:      input,
	}
}

func (f *Frame) recordUndo(u undo) {
	f.undos = append(f.undos, u)
}

// rollback reverses every mutation this frame performed, in LIFO order,
// and drops any events or pending terminations it (or its committed
// children) accumulated.
func (f *Frame) rollback() {
	for i := len(f.undos) - 1; i >= 0; i-- {
		f.undos[i]()
	}
	f.undos = nil
	f.events = nil
	f.terminations = nil
	f.notifications = nil
}

// commitInto propagates this frame's journal, events and pending
// terminations up to parent so a later rollback higher on the stack still
// unwinds this frame's effects, and so a top-level success can deliver
// every accumulated event and realize every termination.
func (f *Frame) commitInto(parent *Frame) {
	parent.undos = append(parent.undos, f.undos...)
	parent.events = append(parent.events, f.events...)
	parent.terminations = append(parent.terminations, f.terminations...)
	parent.notifications = append(parent.notifications, f.notifications...)
}
