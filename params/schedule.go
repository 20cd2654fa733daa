// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package params holds the versioned cost table (Schedule) consulted by the
// gas meter and the code cache. It is grounded on the teacher's own params
// package conventions (plain structs of protocol constants) and on the gas
// tables surveyed across the retrieval pack (see DESIGN.md).
package params

import "github.com/holiman/uint256"

// InstructionWeights prices raw WASM instruction execution and the
// instrumentation pass performed by the code cache on upload/reinstrument.
type InstructionWeights struct {
	// Base is charged once per instrumented instruction at runtime; the
	// sandboxed interpreter itself is out of scope (spec.md §1), so this
	// number only matters for the interface contract with Executable.
	Base uint64
	// PerCodeByte is charged by CodeCache.Load for each byte of pristine
	// code it reinstruments; CodeCache.Upload instruments without charging
	// any gas.
	PerCodeByte uint64
}

// HostFnWeights prices each host function named in spec.md §6. Every
// seal_* call charges its weight from the current frame's gas sub-meter
// before any side effect is observed (spec.md §6, last paragraph).
type HostFnWeights struct {
	Call             uint64
	Instantiate      uint64
	Transfer         uint64
	GetStorage       uint64
	SetStorage       uint64
	SetStoragePerByte uint64
	Terminate        uint64
	Random           uint64
	Now              uint64
	DepositEvent     uint64
	DepositEventPerTopic uint64
	DepositEventPerByte  uint64
	Input            uint64
	InputPerByte     uint64
	Return           uint64
	ReturnPerByte    uint64
	RestoreTo        uint64
	RestorePerDeltaKey   uint64
}

// Limits bounds resource-shaped inputs, independent of gas.
type Limits struct {
	MaxMemoryPages  uint32
	MaxTableSize    uint32
	MaxSubjectLen   uint32
	MaxEventTopics  uint32
	MaxCallDepth    uint32
	MaxValueSize    uint32
	MaxCodeSize     uint32
}

// Schedule is the immutable per-block cost table described in spec.md §3.
// It is stored as a single global entry (CurrentSchedule) and updated only
// by root via update_schedule; Version is monotonically non-decreasing.
type Schedule struct {
	Version            uint32
	InstructionWeights InstructionWeights
	HostFnWeights      HostFnWeights
	Limits             Limits
}

// Default returns a reasonable starting Schedule for a fresh chain.
func Default() Schedule {
	return Schedule{
		Version: 1,
		InstructionWeights: InstructionWeights{
			Base:        1,
			PerCodeByte: 10,
		},
		HostFnWeights: HostFnWeights{
			Call:                 1_000,
			Instantiate:          2_000,
			Transfer:             500,
			GetStorage:           300,
			SetStorage:           500,
			SetStoragePerByte:    4,
			Terminate:            5_000,
			Random:               400,
			Now:                  50,
			DepositEvent:         300,
			DepositEventPerTopic: 100,
			DepositEventPerByte:  2,
			Input:                100,
			InputPerByte:         1,
			Return:               100,
			ReturnPerByte:        1,
			RestoreTo:            10_000,
			RestorePerDeltaKey:   200,
		},
		Limits: Limits{
			MaxMemoryPages: 16,
			MaxTableSize:   4096,
			MaxSubjectLen:  32,
			MaxEventTopics: 4,
			MaxCallDepth:   32,
			MaxValueSize:   16 * 1024,
			MaxCodeSize:    512 * 1024,
		},
	}
}

// CostOfInstrument returns the weight charged for instrumenting (or
// reinstrumenting) codeLen bytes of pristine code.
func (s Schedule) CostOfInstrument(codeLen uint32) uint64 {
	return uint64(codeLen) * s.InstructionWeights.PerCodeByte
}

// CostOfLoad returns the weight charged by CodeCache.load for reading a
// module of codeLen bytes out of the cache, independent of instrumentation.
func (s Schedule) CostOfLoad(codeLen uint32) uint64 {
	return uint64(codeLen) * s.InstructionWeights.Base
}

// CostOfSetStorage returns the weight for writing a value of valueLen bytes.
func (s Schedule) CostOfSetStorage(valueLen uint32) uint64 {
	return s.HostFnWeights.SetStorage + uint64(valueLen)*s.HostFnWeights.SetStoragePerByte
}

// CostOfDepositEvent returns the weight for an event with the given topic
// count and payload length.
func (s Schedule) CostOfDepositEvent(topics int, dataLen uint32) uint64 {
	return s.HostFnWeights.DepositEvent +
		uint64(topics)*s.HostFnWeights.DepositEventPerTopic +
		uint64(dataLen)*s.HostFnWeights.DepositEventPerByte
}

// CostOfInput returns the weight for reading an input blob of the given length.
func (s Schedule) CostOfInput(n uint32) uint64 {
	return s.HostFnWeights.Input + uint64(n)*s.HostFnWeights.InputPerByte
}

// CostOfReturn returns the weight for returning an output blob of the given length.
func (s Schedule) CostOfReturn(n uint32) uint64 {
	return s.HostFnWeights.Return + uint64(n)*s.HostFnWeights.ReturnPerByte
}

// CostOfRestore returns the weight for restoring a tombstone with the given
// number of delta keys.
func (s Schedule) CostOfRestore(deltaKeys int) uint64 {
	return s.HostFnWeights.RestoreTo + uint64(deltaKeys)*s.HostFnWeights.RestorePerDeltaKey
}

// WeightAsUint256 converts a uint64 weight into the uint256 type the rent
// engine does its arithmetic in. The gas meter itself works in uint64, and
// no code in this module calls this helper.
func WeightAsUint256(w uint64) *uint256.Int {
	return uint256.NewInt(w)
}
