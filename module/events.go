// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package module wires the component contracts in core/gas, core/
// contractstate, core/codecache, core/rent and core/vm into the dispatch
// surface and block hook described in spec.md §4.7/§5: the entry points a
// node or CLI actually calls, each constructing a fresh GasMeter and
// top-level ExecutionContext from CurrentSchedule before delegating to
// vm.ExecutionContext. Grounded on plugin/evm's factory-style "wire
// collaborators, expose entry points" shape (DESIGN.md).
package module

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wasmchain/contracts/core/codecache"
)

// LifecycleEvent is one of the eight observable events spec.md §6 names.
// A single tagged struct (rather than eight event types) keeps the
// in-memory ring buffer (used by both the CLI and the query RPC surface)
// and the websocket push channel dealing with one type.
type LifecycleEvent struct {
	Kind        EventKind
	Deployer    common.Address
	Contract    common.Address
	Beneficiary common.Address
	Restorer    common.Address
	CodeHash    common.Hash
	RentAllowance *uint256.Int
	Version     uint32
	Data        []byte
	Topics      []common.Hash
}

// EventKind names one of spec.md §6's eight observable events.
type EventKind uint8

const (
	EventInstantiated EventKind = iota
	EventEvicted
	EventTerminated
	EventRestored
	EventCodeStored
	EventCodeRemoved
	EventScheduleUpdated
	EventContractEmitted
)

func (k EventKind) String() string {
	switch k {
	case EventInstantiated:
		return "Instantiated"
	case EventEvicted:
		return "Evicted"
	case EventTerminated:
		return "Terminated"
	case EventRestored:
		return "Restored"
	case EventCodeStored:
		return "CodeStored"
	case EventCodeRemoved:
		return "CodeRemoved"
	case EventScheduleUpdated:
		return "ScheduleUpdated"
	case EventContractEmitted:
		return "ContractEmitted"
	default:
		return "Unknown"
	}
}

// codeRemovedListener adapts codecache.Removed into a LifecycleEvent,
// handed to codecache.Options.OnRemoved by NewModule so a dec_ref to zero
// always surfaces as CodeRemoved regardless of which call site (dispatch,
// rent eviction, termination) triggered it.
func (m *Module) codeRemovedListener(r codecache.Removed) {
	m.emit(LifecycleEvent{Kind: EventCodeRemoved, CodeHash: r.CodeHash})
}
