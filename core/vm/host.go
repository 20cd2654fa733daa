// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/wasmchain/contracts/core/contractstate"
)

// Host is the seal_* surface exposed to an Executable (spec.md §6). Every
// method charges the current frame's gas sub-meter against a
// Schedule-defined token before performing any side effect.
type Host interface {
	Input() ([]byte, error)
	Return(flags uint32, data []byte) ExecReturn
	GetStorage(key common.Hash) ([]byte, bool, error)
	SetStorage(key common.Hash, value []byte) error
	Call(dest common.Address, value *uint256.Int, gasLimit uint64, input []byte) (ExecReturn, error)
	Instantiate(codeHash common.Hash, value *uint256.Int, gasLimit uint64, input []byte, salt []byte) (common.Address, ExecReturn, error)
	Terminate(beneficiary common.Address) error
	RestoreTo(dest common.Address, codeHash common.Hash, rentAllowance *uint256.Int, delta map[common.Hash][]byte) error
	Random(subject []byte) (common.Hash, uint64, error)
	Now() uint64
	DepositEvent(topics []common.Hash, data []byte) error
}

// Input implements seal_input: returns the call's input, callable at most
// once per frame (spec.md §6: "InputAlreadyRead").
func (ctx *ExecutionContext) Input() ([]byte, error) {
	f := ctx.currentFrame()
	if f == nil {
		return nil, ErrNoFrame
	}
	if f.inputRead {
		return nil, ErrInputAlreadyRead
	}
	if err := f.GasMeter.Charge("seal_input", ctx.Schedule.CostOfInput(uint32(len(f.input)))); err != nil {
		return nil, err
	}
	f.inputRead = true
	return f.input, nil
}

// Return implements seal_return: flags bit 0 set means revert.
func (ctx *ExecutionContext) Return(flags uint32, data []byte) ExecReturn {
	f := ctx.currentFrame()
	if f != nil {
		_ = f.GasMeter.Charge("seal_return", ctx.Schedule.CostOfReturn(uint32(len(data))))
	}
	return ExecReturn{Data: data, Reverted: flags&1 != 0}
}

// GetStorage implements seal_get_storage(key32) -> Option<bytes>.
func (ctx *ExecutionContext) GetStorage(key common.Hash) ([]byte, bool, error) {
	f := ctx.currentFrame()
	if f == nil {
		return nil, false, ErrNoFrame
	}
	info, ok := ctx.Contracts[f.AccountID]
	if !ok || info.Kind != contractstate.KindAlive {
		return nil, false, ErrNoFrame
	}
	if err := f.GasMeter.Charge("seal_get_storage", ctx.Schedule.HostFnWeights.GetStorage); err != nil {
		return nil, false, err
	}
	v, ok := ctx.Storage.Read(info.Alive.TrieId, key)
	return v, ok, nil
}

// SetStorage implements seal_set_storage(key32, Option<bytes>).
func (ctx *ExecutionContext) SetStorage(key common.Hash, value []byte) error {
	f := ctx.currentFrame()
	if f == nil {
		return ErrNoFrame
	}
	info, ok := ctx.Contracts[f.AccountID]
	if !ok || info.Kind != contractstate.KindAlive {
		return ErrNoFrame
	}
	var valueLen uint32
	if value != nil {
		valueLen = uint32(len(value))
	}
	if err := f.GasMeter.Charge("seal_set_storage", ctx.Schedule.CostOfSetStorage(valueLen)); err != nil {
		return err
	}
	return ctx.writeStorage(f, info.Alive.TrieId, key, value, info.Alive)
}

// Call implements seal_call: nests a new frame rooted at the current
// frame's own account (spec.md §6).
func (ctx *ExecutionContext) Call(dest common.Address, value *uint256.Int, gasLimit uint64, input []byte) (ExecReturn, error) {
	f := ctx.currentFrame()
	if f == nil {
		return ExecReturn{}, ErrNoFrame
	}
	if err := f.GasMeter.Charge("seal_call", ctx.Schedule.HostFnWeights.Call); err != nil {
		return ExecReturn{}, err
	}
	return ctx.call(f.AccountID, dest, value, gasLimit, input)
}

// Instantiate implements seal_instantiate (spec.md §6).
func (ctx *ExecutionContext) Instantiate(codeHash common.Hash, value *uint256.Int, gasLimit uint64, input []byte, salt []byte) (common.Address, ExecReturn, error) {
	f := ctx.currentFrame()
	if f == nil {
		return common.Address{}, ExecReturn{}, ErrNoFrame
	}
	if err := f.GasMeter.Charge("seal_instantiate", ctx.Schedule.HostFnWeights.Instantiate); err != nil {
		return common.Address{}, ExecReturn{}, err
	}
	return ctx.instantiate(f.AccountID, value, gasLimit, codeHash, input, salt)
}

// Terminate implements seal_terminate(beneficiary) (spec.md §6).
func (ctx *ExecutionContext) Terminate(beneficiary common.Address) error {
	f := ctx.currentFrame()
	if f == nil {
		return ErrNoFrame
	}
	if err := f.GasMeter.Charge("seal_terminate", ctx.Schedule.HostFnWeights.Terminate); err != nil {
		return err
	}
	return ctx.terminate(f, beneficiary)
}

// RestoreTo implements seal_restore_to(dest, code_hash, rent_allowance,
// delta) (spec.md §6).
func (ctx *ExecutionContext) RestoreTo(dest common.Address, codeHash common.Hash, rentAllowance *uint256.Int, delta map[common.Hash][]byte) error {
	f := ctx.currentFrame()
	if f == nil {
		return ErrNoFrame
	}
	cost := ctx.Schedule.CostOfRestore(len(delta))
	if err := f.GasMeter.Charge("seal_restore_to", cost); err != nil {
		return err
	}
	return ctx.restoreTo(f, dest, codeHash, rentAllowance, delta)
}

// Random implements seal_random(subject) -> (hash, block) (spec.md §6).
func (ctx *ExecutionContext) Random(subject []byte) (common.Hash, uint64, error) {
	f := ctx.currentFrame()
	if f == nil {
		return common.Hash{}, 0, ErrNoFrame
	}
	if uint32(len(subject)) > ctx.Schedule.Limits.MaxSubjectLen {
		return common.Hash{}, 0, ErrRandomSubjectTooLong
	}
	if err := f.GasMeter.Charge("seal_random", ctx.Schedule.HostFnWeights.Random); err != nil {
		return common.Hash{}, 0, err
	}
	h, block := ctx.RandomFn(subject)
	return h, block, nil
}

// Now implements seal_now() -> u64 (spec.md §6).
func (ctx *ExecutionContext) Now() uint64 {
	f := ctx.currentFrame()
	if f != nil {
		_ = f.GasMeter.Charge("seal_now", ctx.Schedule.HostFnWeights.Now)
	}
	return ctx.ClockFn()
}

// DepositEvent implements seal_deposit_event(topics, data) (spec.md §6):
// topics must not exceed max_topics and must not repeat.
func (ctx *ExecutionContext) DepositEvent(topics []common.Hash, data []byte) error {
	f := ctx.currentFrame()
	if f == nil {
		return ErrNoFrame
	}
	if uint32(len(topics)) > ctx.Schedule.Limits.MaxEventTopics {
		return ErrTooManyTopics
	}
	seen := make(map[common.Hash]struct{}, len(topics))
	for _, t := range topics {
		if _, dup := seen[t]; dup {
			return ErrDuplicateTopics
		}
		seen[t] = struct{}{}
	}
	cost := ctx.Schedule.CostOfDepositEvent(len(topics), uint32(len(data)))
	if err := f.GasMeter.Charge("seal_deposit_event", cost); err != nil {
		return err
	}
	f.events = append(f.events, Event{Contract: f.AccountID, Topics: topics, Data: data})
	return nil
}
