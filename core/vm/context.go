// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/currency"
	"github.com/wasmchain/contracts/core/gas"
	"github.com/wasmchain/contracts/core/rent"
	"github.com/wasmchain/contracts/params"
)

// RandomSource is the external randomness collaborator spec.md §1 names;
// it answers seal_random(subject) with (hash, block-of-randomness).
type RandomSource func(subject []byte) (common.Hash, uint64)

// TimeSource is the external wall-clock collaborator behind seal_now.
type TimeSource func() uint64

type terminationEffect struct {
	trieID   contractstate.TrieId
	codeHash common.Hash
}

// ExecutionContext is the call/instantiate orchestrator described in
// spec.md §4.6, grounded on godx's core/vm EVM Call/Create pair and its
// Snapshot/RevertToSnapshot discipline, and on miner/worker.go's
// per-transaction environment struct (DESIGN.md).
type ExecutionContext struct {
	Storage  *contractstate.Storage
	Contracts map[common.Address]*contractstate.ContractInfo
	Codes    *codecache.CodeCache
	Counter  *contractstate.AccountCounter
	Currency currency.Currency
	Rent     *rent.Engine

	Schedule    params.Schedule
	Origin      common.Address
	BlockNumber rent.BlockNumberSource
	RandomFn    RandomSource
	ClockFn     TimeSource
	MaxDepth    uint32

	RootMeter *gas.Meter

	// ExecutableLoader turns an instrumented PrefabModule into the
	// Executable ExecutionContext drives. The actual WASM
	// instrumentation/validation/interpreter is deliberately out of
	// scope here (spec.md §1: "specified only as an interface"); this
	// context only ever calls Execute through the Host interface below.
	ExecutableLoader func(module *codecache.PrefabModule) (Executable, error)

	stack       []*Frame
	stackCounts map[common.Address]int

	events        []Event
	notifications []Notification
}

// NewTopLevel constructs the root context with an empty frame stack at
// depth 0 (spec.md §4.6: "top_level(origin, schedule)").
func NewTopLevel(origin common.Address, schedule params.Schedule, gasLimit uint64, deps ExecutionContext) *ExecutionContext {
	ctx := deps
	ctx.Origin = origin
	ctx.Schedule = schedule
	ctx.MaxDepth = schedule.Limits.MaxCallDepth
	ctx.RootMeter = gas.New(gasLimit)
	ctx.stackCounts = make(map[common.Address]int)
	return &ctx
}

// Events returns every ContractEmitted event accumulated by a completed
// top-level dispatch.
func (ctx *ExecutionContext) Events() []Event { return ctx.events }

// Notifications returns every Terminated/Restored lifecycle notification
// accumulated by a completed top-level dispatch (spec.md §6), so the
// dispatch surface can translate them into its own observable events
// without reaching into frame internals.
func (ctx *ExecutionContext) Notifications() []Notification { return ctx.notifications }

// ActiveAccounts returns the set of accounts currently live on the frame
// stack, for introspection (e.g. a debugging query surface answering
// "is this contract mid-reentrant-call right now"). Correctness of the
// terminate/restore reentrance check itself uses stackCounts directly,
// since a set alone can't distinguish "present once" from "present twice".
func (ctx *ExecutionContext) ActiveAccounts() mapset.Set[common.Address] {
	s := mapset.NewThreadUnsafeSet[common.Address]()
	for addr, n := range ctx.stackCounts {
		if n > 0 {
			s.Add(addr)
		}
	}
	return s
}

func (ctx *ExecutionContext) currentMeter() *gas.Meter {
	if len(ctx.stack) == 0 {
		return ctx.RootMeter
	}
	return ctx.stack[len(ctx.stack)-1].GasMeter
}

func (ctx *ExecutionContext) currentFrame() *Frame {
	if len(ctx.stack) == 0 {
		return nil
	}
	return ctx.stack[len(ctx.stack)-1]
}

func (ctx *ExecutionContext) depth() uint32 { return uint32(len(ctx.stack)) }

// pushFrame enforces the depth invariant, derives a fresh gas sub-meter
// clamped to the parent's remaining gas, and tracks the account on the
// reentrancy stack (spec.md §4.6: "A fresh gas sub-meter is created per
// frame with the caller's requested gas limit, clamped to the parent's
// remaining gas").
func (ctx *ExecutionContext) pushFrame(account common.Address, codeHash common.Hash, value *uint256.Int, entry EntryPoint, gasLimit uint64, input []byte) (*Frame, error) {
	if ctx.depth()+1 > ctx.MaxDepth {
		return nil, ErrMaxCallDepthReached
	}
	parent := ctx.currentMeter()
	nested := parent.Nested(gasLimit)
	f := newFrame(account, codeHash, ctx.depth(), value, entry, nested, input)
	ctx.stack = append(ctx.stack, f)
	ctx.stackCounts[account]++
	return f, nil
}

// popFrame finalizes the top frame: on commit, its journal/events/
// terminations propagate to the parent (or, at depth 0, are realized for
// real); on rollback, every mutation it performed is reversed and its
// events are dropped (spec.md §4.6: "Transactional semantics").
func (ctx *ExecutionContext) popFrame(commit bool) {
	f := ctx.stack[len(ctx.stack)-1]
	ctx.stack = ctx.stack[:len(ctx.stack)-1]
	ctx.stackCounts[f.AccountID]--

	parentMeter := ctx.currentMeter()
	parentMeter.AbsorbNested(f.GasMeter)

	if !commit {
		f.rollback()
		return
	}

	if parent := ctx.currentFrame(); parent != nil {
		f.commitInto(parent)
		return
	}
	// Top-level commit: realize accumulated events and terminations.
	ctx.events = append(ctx.events, f.events...)
	ctx.notifications = append(ctx.notifications, f.notifications...)
	ctx.finalizeTerminations(f.terminations)
}

func (ctx *ExecutionContext) finalizeTerminations(terminations []terminationEffect) {
	for _, t := range terminations {
		if err := ctx.Rent.Deletions.Enqueue(t.trieID); err != nil {
			log.Error("vm: deletion queue full, trie leaked until drained", "trie_id", t.trieID, "err", err)
		}
		if err := ctx.Codes.DecRef(t.codeHash); err != nil {
			log.Error("vm: dec_ref on terminated contract's code failed", "code_hash", t.codeHash, "err", err)
		}
	}
}

// transfer journals a currency move so a later rollback reverses it
// (spec.md §4.6: "balance transfers performed through the context are
// rolled back"). When enforceSubsistence is set and from is an Alive
// contract, the move is refused with ErrBelowSubsistenceThreshold rather
// than committed if it would leave that contract's free balance under
// subsistence_threshold (spec.md §8 invariant 4); seal_terminate's own
// full-balance sweep passes enforceSubsistence=false, since invariant 4
// names it as the one operation exempt from this check.
func (ctx *ExecutionContext) transfer(frame *Frame, from, to common.Address, amount *uint256.Int, enforceSubsistence bool) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if enforceSubsistence {
		if info, ok := ctx.Contracts[from]; ok && info.Kind == contractstate.KindAlive {
			balance := ctx.Currency.FreeBalance(from)
			if balance.Cmp(amount) >= 0 {
				remaining := new(uint256.Int).Sub(balance, amount)
				if remaining.Cmp(ctx.Rent.Params.SubsistenceThreshold()) < 0 {
					return ErrBelowSubsistenceThreshold
				}
			}
		}
	}
	if err := ctx.Currency.Transfer(from, to, amount); err != nil {
		return err
	}
	frame.recordUndo(func() { _ = ctx.Currency.Transfer(to, from, amount) })
	return nil
}

// setContractInfo journals a ContractInfoOf replacement.
func (ctx *ExecutionContext) setContractInfo(frame *Frame, addr common.Address, newInfo contractstate.ContractInfo) {
	old, existed := ctx.Contracts[addr]
	oldCopy := contractstate.None()
	if existed {
		oldCopy = old.Clone()
	}
	cp := newInfo.Clone()
	ctx.Contracts[addr] = &cp
	frame.recordUndo(func() {
		if oldCopy.Kind == contractstate.KindNone {
			delete(ctx.Contracts, addr)
			return
		}
		restored := oldCopy.Clone()
		ctx.Contracts[addr] = &restored
	})
}

// writeStorage journals a Storage mutation by replaying the prior value on
// rollback; Storage.Write's own counter bookkeeping makes the replay exact.
func (ctx *ExecutionContext) writeStorage(frame *Frame, trie contractstate.TrieId, key common.Hash, value []byte, info *contractstate.AliveContractInfo) error {
	old, existed := ctx.Storage.Read(trie, key)
	var oldCopy []byte
	if existed {
		oldCopy = append([]byte(nil), old...)
	}
	if err := ctx.Storage.Write(trie, key, value, info, ctx.Schedule.Limits.MaxValueSize); err != nil {
		return err
	}
	frame.recordUndo(func() {
		_ = ctx.Storage.Write(trie, key, oldCopy, info, ^uint32(0))
	})
	return nil
}

// chargeRentOnAccess settles any outstanding rent for addr at first touch
// in this dispatch (spec.md §4.4: "Rent is computed per block, at the
// first access to the contract after deduct_block"). Eviction performed
// here is an unconditional block-level side effect, not part of this
// frame's transactional overlay: real pallet-contracts charges rent
// outside the call's revertible storage changes, and this module mirrors
// that (DESIGN.md, Open Question resolution).
func (ctx *ExecutionContext) chargeRentOnAccess(addr common.Address) {
	info, ok := ctx.Contracts[addr]
	if !ok || info.Kind != contractstate.KindAlive {
		return
	}
	if _, err := ctx.Rent.Charge(addr); err != nil {
		log.Error("vm: rent charge on access failed", "address", addr, "err", err)
	}
}

// TopLevelCall is the dispatch surface's call(dest, value, gas_limit,
// data) entry point (spec.md §4.7).
func (ctx *ExecutionContext) TopLevelCall(dest common.Address, value *uint256.Int, input []byte) (ExecReturn, error) {
	return ctx.call(ctx.Origin, dest, value, ctx.RootMeter.GasLeft(), input)
}

// call implements ExecutionContext.call (spec.md §4.6). It is unexported
// because the Host surface (host.go) exposes the caller-less seal_call
// variant under the name Call, inferring caller from the active frame;
// both share this implementation.
func (ctx *ExecutionContext) call(caller, dest common.Address, value *uint256.Int, gasLimit uint64, input []byte) (ExecReturn, error) {
	ctx.chargeRentOnAccess(dest)

	info, exists := ctx.Contracts[dest]
	if !exists || info.Kind == contractstate.KindNone {
		if value != nil && value.Cmp(ctx.Rent.Params.ExistentialDeposit) >= 0 {
			f, err := ctx.pushFrame(dest, common.Hash{}, value, EntryCall, gasLimit, input)
			if err != nil {
				return ExecReturn{}, err
			}
			if err := ctx.transfer(f, caller, dest, value, true); err != nil {
				ctx.popFrame(false)
				return ExecReturn{}, err
			}
			ctx.popFrame(true)
		}
		return ExecReturn{}, nil
	}
	if info.Kind == contractstate.KindTombstone {
		return ExecReturn{}, ErrNotCallable
	}

	alive := info.Alive
	module, err := ctx.Codes.Load(alive.CodeHash, ctx.Schedule, ctx.currentMeter())
	if err != nil {
		return ExecReturn{}, err
	}
	exe, err := ctx.ExecutableLoader(module)
	if err != nil {
		return ExecReturn{}, err
	}

	f, err := ctx.pushFrame(dest, alive.CodeHash, value, EntryCall, gasLimit, input)
	if err != nil {
		return ExecReturn{}, err
	}
	if err := ctx.transfer(f, caller, dest, value, true); err != nil {
		ctx.popFrame(false)
		return ExecReturn{}, err
	}

	ret, err := exe.Execute(ctx, EntryCall, input)
	if err != nil || ret.Reverted {
		ctx.popFrame(false)
		return ret, err
	}
	ctx.popFrame(true)
	return ret, nil
}

// TopLevelInstantiate is the dispatch surface's instantiate(endowment,
// gas_limit, code_hash, data, salt) entry point (spec.md §4.7).
func (ctx *ExecutionContext) TopLevelInstantiate(value *uint256.Int, codeHash common.Hash, input []byte, salt []byte) (common.Address, ExecReturn, error) {
	return ctx.instantiate(ctx.Origin, value, ctx.RootMeter.GasLeft(), codeHash, input, salt)
}

// instantiate implements ExecutionContext.instantiate (spec.md §4.6); see
// the note on call for why this is unexported.
func (ctx *ExecutionContext) instantiate(caller common.Address, value *uint256.Int, gasLimit uint64, codeHash common.Hash, input []byte, salt []byte) (common.Address, ExecReturn, error) {
	newAddress := DeriveAddress(caller, codeHash, salt)
	if existing, ok := ctx.Contracts[newAddress]; ok && existing.Kind != contractstate.KindNone {
		return common.Address{}, ExecReturn{}, ErrDuplicateContract
	}
	if value == nil || value.Cmp(ctx.Rent.Params.SubsistenceThreshold()) < 0 {
		return common.Address{}, ExecReturn{}, ErrNewContractNotFunded
	}

	module, err := ctx.Codes.Load(codeHash, ctx.Schedule, ctx.currentMeter())
	if err != nil {
		return common.Address{}, ExecReturn{}, err
	}
	exe, err := ctx.ExecutableLoader(module)
	if err != nil {
		return common.Address{}, ExecReturn{}, err
	}

	f, err := ctx.pushFrame(newAddress, codeHash, value, EntryDeploy, gasLimit, input)
	if err != nil {
		return common.Address{}, ExecReturn{}, err
	}

	if err := ctx.transfer(f, caller, newAddress, value, true); err != nil {
		ctx.popFrame(false)
		return common.Address{}, ExecReturn{}, err
	}

	trieID := contractstate.NewTrieId(ctx.Counter.Next(), newAddress)
	newInfo := &contractstate.AliveContractInfo{
		TrieId:        trieID,
		CodeHash:      codeHash,
		RentAllowance: uint256.NewInt(0),
		RentPaid:      uint256.NewInt(0),
		DeductBlock:   ctx.BlockNumber(),
	}
	ctx.setContractInfo(f, newAddress, contractstate.NewAlive(newInfo))

	if err := ctx.Codes.IncRef(codeHash); err != nil {
		ctx.popFrame(false)
		return common.Address{}, ExecReturn{}, err
	}
	f.recordUndo(func() { _ = ctx.Codes.DecRef(codeHash) })

	ret, err := exe.Execute(ctx, EntryDeploy, input)
	if err != nil || ret.Reverted {
		ctx.popFrame(false)
		return common.Address{}, ret, err
	}
	ctx.popFrame(true)
	return newAddress, ret, nil
}

// terminate implements seal_terminate (spec.md §4.6, §6): transfers the
// contract's entire free balance to beneficiary, marks it for deletion,
// and refuses if the account is reentered elsewhere on the stack.
func (ctx *ExecutionContext) terminate(frame *Frame, beneficiary common.Address) error {
	if ctx.stackCounts[frame.AccountID] > 1 {
		return ErrReentranceDenied
	}
	info, ok := ctx.Contracts[frame.AccountID]
	if !ok || info.Kind != contractstate.KindAlive {
		return ErrNoFrame
	}
	alive := info.Alive

	balance := ctx.Currency.FreeBalance(frame.AccountID)
	if balance.Sign() > 0 {
		if err := ctx.transfer(frame, frame.AccountID, beneficiary, balance, false); err != nil {
			return err
		}
	}
	ctx.setContractInfo(frame, frame.AccountID, contractstate.None())
	frame.terminations = append(frame.terminations, terminationEffect{trieID: alive.TrieId, codeHash: alive.CodeHash})
	frame.notifications = append(frame.notifications, Notification{
		Kind:        NotificationTerminated,
		Contract:    frame.AccountID,
		Beneficiary: beneficiary,
	})
	return nil
}

// restoreTo implements seal_restore_to (spec.md §4.6, §6), delegating the
// digest check and state transition to the rent engine. Because rent's
// RestoreTo mutates ContractInfoOf directly (not through this frame's
// journal), a successful restore is not subject to this frame's own
// rollback; spec.md treats restoration, like rent eviction, as settling
// state outside the calling frame's transactional overlay.
func (ctx *ExecutionContext) restoreTo(frame *Frame, dest common.Address, codeHash common.Hash, rentAllowance *uint256.Int, delta map[common.Hash][]byte) error {
	if ctx.stackCounts[frame.AccountID] > 1 {
		return ErrReentranceDenied
	}
	if err := ctx.Rent.RestoreTo(frame.AccountID, dest, codeHash, rentAllowance, delta); err != nil {
		return err
	}
	frame.notifications = append(frame.notifications, Notification{
		Kind:          NotificationRestored,
		Restorer:      frame.AccountID,
		Dest:          dest,
		CodeHash:      codeHash,
		RentAllowance: rentAllowance,
	})
	return nil
}
