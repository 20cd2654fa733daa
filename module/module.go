// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package module

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/currency"
	"github.com/wasmchain/contracts/core/gas"
	"github.com/wasmchain/contracts/core/rent"
	"github.com/wasmchain/contracts/core/vm"
	"github.com/wasmchain/contracts/params"
)

// ErrInvalidScheduleVersion is returned by UpdateSchedule when the proposed
// schedule's version is strictly smaller than the current one (spec.md §4.7,
// §8 "Schedule monotonicity").
var ErrInvalidScheduleVersion = errors.New("module: schedule version must not decrease")

// Deps bundles every external collaborator the module needs at
// construction time (spec.md §1's externally-given boundary plus this
// module's own sub-components).
type Deps struct {
	Storage          *contractstate.Storage
	CodeCacheOptions codecache.Options
	Counter          *contractstate.AccountCounter
	Deletions        *contractstate.DeletionQueue
	Currency         currency.Currency
	RentParams       params.RentParams
	BlockParams      params.BlockParams
	Schedule         params.Schedule
	TreasuryAddr     common.Address
	BlockNumber      rent.BlockNumberSource
	Random           vm.RandomSource
	Clock            vm.TimeSource
	ExecutableLoader func(module *codecache.PrefabModule) (vm.Executable, error)
	EventRingSize    int
	// Metrics observes every gas charge, code-cache load and rent charge
	// this module's dispatch entry points make, e.g. metrics.Collector.
	// Optional; nil disables all three kinds of observation.
	Metrics MetricsRecorder
}

// MetricsRecorder is the full set of observation hooks Module wires into
// its gas meters, code cache and rent engine, e.g. metrics.Collector
// (which implements all three -- DESIGN.md).
type MetricsRecorder interface {
	gas.Recorder
	codecache.MetricsRecorder
	rent.MetricsRecorder
}

// Module is the dispatch surface described in spec.md §4.7: the process
// holding every process-wide piece of state spec.md §5 lists ("Persistent
// storage, contract info map, code cache, account counter, deletion queue,
// current schedule"), constructing a fresh GasMeter and top-level
// ExecutionContext for each entry point.
type Module struct {
	storage   *contractstate.Storage
	contracts map[common.Address]*contractstate.ContractInfo
	codes     *codecache.CodeCache
	counter   *contractstate.AccountCounter
	deletions *contractstate.DeletionQueue
	currency  currency.Currency
	rentEng   *rent.Engine

	blockNumber      rent.BlockNumberSource
	random           vm.RandomSource
	clock            vm.TimeSource
	executableLoader func(module *codecache.PrefabModule) (vm.Executable, error)
	metrics          MetricsRecorder

	blockParams  params.BlockParams
	treasuryAddr common.Address

	scheduleMu sync.RWMutex
	schedule   params.Schedule

	eventsMu sync.Mutex
	events   []LifecycleEvent
	ringSize int
}

// NewModule wires every collaborator spec.md §2/§4 names into a Module
// ready to accept dispatch calls (grounded on plugin/evm/factory.go's
// "construct, wire, return" shape -- DESIGN.md). The code cache is built
// here, not accepted pre-built, because its OnRemoved listener must emit
// this Module's own CodeRemoved event.
func NewModule(deps Deps) (*Module, error) {
	contracts := make(map[common.Address]*contractstate.ContractInfo)
	ringSize := deps.EventRingSize
	if ringSize <= 0 {
		ringSize = 1024
	}

	m := &Module{
		storage:          deps.Storage,
		contracts:        contracts,
		counter:          deps.Counter,
		deletions:        deps.Deletions,
		currency:         deps.Currency,
		blockNumber:      deps.BlockNumber,
		random:           deps.Random,
		clock:            deps.Clock,
		executableLoader: deps.ExecutableLoader,
		blockParams:      deps.BlockParams,
		treasuryAddr:     deps.TreasuryAddr,
		schedule:         deps.Schedule,
		ringSize:         ringSize,
		metrics:          deps.Metrics,
	}

	opts := deps.CodeCacheOptions
	opts.OnRemoved = m.codeRemovedListener
	if deps.Metrics != nil {
		opts.Metrics = deps.Metrics
	}
	codes, err := codecache.New(opts)
	if err != nil {
		return nil, err
	}
	m.codes = codes

	m.rentEng = &rent.Engine{
		Storage:      deps.Storage,
		Contracts:    contracts,
		Codes:        codes,
		Deletions:    deps.Deletions,
		Currency:     deps.Currency,
		Now:          deps.BlockNumber,
		Params:       deps.RentParams,
		TreasuryAddr: deps.TreasuryAddr,
	}
	if deps.Metrics != nil {
		m.rentEng.Metrics = deps.Metrics
	}
	return m, nil
}

// CurrentSchedule returns the module's current cost table, read-locked
// since the query RPC surface consults it outside the dispatch path
// (spec.md §5's read-only-accessor boundary).
func (m *Module) CurrentSchedule() params.Schedule {
	m.scheduleMu.RLock()
	defer m.scheduleMu.RUnlock()
	return m.schedule
}

// ContractInfo returns a defensive copy of the ContractInfo at addr, the
// query RPC's GetContractInfo primitive (SPEC_FULL.md §6).
func (m *Module) ContractInfo(addr common.Address) (contractstate.ContractInfo, bool) {
	info, ok := m.contracts[addr]
	if !ok {
		return contractstate.None(), false
	}
	return info.Clone(), true
}

// ComputeProjection exposes rent.Engine.ComputeProjection read-only.
func (m *Module) ComputeProjection(addr common.Address) (rent.ProjectionResult, error) {
	return m.rentEng.ComputeProjection(addr)
}

// Addresses returns every address with a non-None ContractInfo, a
// defensive snapshot for the CLI's `list` subcommand and the query RPC
// (ContractInfoOf has no native enumeration primitive in spec.md, since on
// a real chain it is a sub-trie of the global state trie; this in-process
// Module keeps a plain map, so enumeration is just a key listing).
func (m *Module) Addresses() []common.Address {
	out := make([]common.Address, 0, len(m.contracts))
	for addr, info := range m.contracts {
		if info.Kind != contractstate.KindNone {
			out = append(out, addr)
		}
	}
	return out
}

// WarmupLoad forces code_hash's instrumented module into the code cache's
// parsed-module LRU (the fastcache pristine layer is read only if the
// module must be reinstrumented) without participating in any dispatch's
// gas accounting, backing the CLI node's advisory startup prefetch
// (SPEC_FULL.md §2 "Non-consensus warmup"). The throwaway meter's
// consumption is discarded; a real dispatch never sees it.
func (m *Module) WarmupLoad(hash common.Hash) (*codecache.PrefabModule, error) {
	probe := gas.New(^uint64(0))
	return m.codes.Load(hash, m.CurrentSchedule(), probe)
}

func (m *Module) newContext(origin common.Address, gasLimit uint64) *vm.ExecutionContext {
	ctx := vm.NewTopLevel(origin, m.CurrentSchedule(), gasLimit, vm.ExecutionContext{
		Storage:          m.storage,
		Contracts:        m.contracts,
		Codes:            m.codes,
		Counter:          m.counter,
		Currency:         m.currency,
		Rent:             m.rentEng,
		BlockNumber:      m.blockNumber,
		RandomFn:         m.random,
		ClockFn:          m.clock,
		ExecutableLoader: m.executableLoader,
	})
	if m.metrics != nil {
		ctx.RootMeter.SetRecorder(m.metrics)
	}
	return ctx
}

func (m *Module) emit(e LifecycleEvent) {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	m.events = append(m.events, e)
	if over := len(m.events) - m.ringSize; over > 0 {
		m.events = m.events[over:]
	}
}

func (m *Module) emitExecutionEvents(ctx *vm.ExecutionContext) {
	for _, e := range ctx.Events() {
		m.emit(LifecycleEvent{Kind: EventContractEmitted, Contract: e.Contract, Topics: e.Topics, Data: e.Data})
	}
	for _, n := range ctx.Notifications() {
		switch n.Kind {
		case vm.NotificationTerminated:
			m.emit(LifecycleEvent{Kind: EventTerminated, Contract: n.Contract, Beneficiary: n.Beneficiary})
		case vm.NotificationRestored:
			m.emit(LifecycleEvent{Kind: EventRestored, Restorer: n.Restorer, Contract: n.Dest, CodeHash: n.CodeHash, RentAllowance: n.RentAllowance})
		}
	}
}

// Events returns a snapshot of the in-memory event ring buffer, the query
// RPC's GetEvents(since) primitive restricted to "everything currently
// retained" (SPEC_FULL.md §6); callers wanting a since-cursor slice it
// themselves by index.
func (m *Module) Events() []LifecycleEvent {
	m.eventsMu.Lock()
	defer m.eventsMu.Unlock()
	out := make([]LifecycleEvent, len(m.events))
	copy(out, m.events)
	return out
}

// DispatchOutcome is what every entry point returns: the gas accounting
// report spec.md §7 requires regardless of outcome, the ExecReturn (call/
// instantiate only), a fresh correlation id, and any contract-address
// produced by instantiation.
type DispatchOutcome struct {
	RequestID       uuid.UUID
	Result          gas.DispatchResult
	Return          vm.ExecReturn
	ContractAddress common.Address
	PaysFee         bool
}

// Call implements the call(dest, value, gas_limit, data) entry point
// (spec.md §4.7, §6).
func (m *Module) Call(origin Origin, dest common.Address, value *uint256.Int, gasLimit uint64, data []byte) DispatchOutcome {
	reqID := uuid.New()
	signer := origin.signer()
	log.Trace("module: dispatch call", "request_id", reqID, "origin", signer, "dest", dest)

	ctx := m.newContext(signer, gasLimit)
	ret, err := ctx.TopLevelCall(dest, value, data)
	if err == nil && !ret.Reverted {
		m.emitExecutionEvents(ctx)
	}
	return DispatchOutcome{
		RequestID: reqID,
		Result:    ctx.RootMeter.IntoDispatchResult(err, 0),
		Return:    ret,
		PaysFee:   true,
	}
}

// InstantiateWithCode implements instantiate_with_code(endowment, gas_limit,
// code, data, salt) (spec.md §4.7, §6): first uploads code to the code
// cache (emitting CodeStored), then instantiates against the resulting
// code_hash.
func (m *Module) InstantiateWithCode(origin Origin, endowment *uint256.Int, gasLimit uint64, code, data, salt []byte) DispatchOutcome {
	reqID := uuid.New()
	signer := origin.signer()

	codeHash, err := m.codes.Upload(code, m.CurrentSchedule())
	if err != nil {
		return DispatchOutcome{RequestID: reqID, Result: gas.DispatchResult{Err: err}, PaysFee: true}
	}
	m.emit(LifecycleEvent{Kind: EventCodeStored, CodeHash: codeHash})

	return m.instantiate(reqID, signer, endowment, gasLimit, codeHash, data, salt)
}

// Instantiate implements instantiate(endowment, gas_limit, code_hash, data,
// salt) (spec.md §4.7, §6): the same as InstantiateWithCode but against an
// already-uploaded code_hash.
func (m *Module) Instantiate(origin Origin, endowment *uint256.Int, gasLimit uint64, codeHash common.Hash, data, salt []byte) DispatchOutcome {
	reqID := uuid.New()
	return m.instantiate(reqID, origin.signer(), endowment, gasLimit, codeHash, data, salt)
}

func (m *Module) instantiate(reqID uuid.UUID, signer common.Address, endowment *uint256.Int, gasLimit uint64, codeHash common.Hash, data, salt []byte) DispatchOutcome {
	log.Trace("module: dispatch instantiate", "request_id", reqID, "origin", signer, "code_hash", codeHash)

	ctx := m.newContext(signer, gasLimit)
	addr, ret, err := ctx.TopLevelInstantiate(endowment, codeHash, data, salt)
	if err == nil && !ret.Reverted {
		m.emitExecutionEvents(ctx)
		m.emit(LifecycleEvent{Kind: EventInstantiated, Deployer: signer, Contract: addr, CodeHash: codeHash})
	}
	return DispatchOutcome{
		RequestID:       reqID,
		Result:          ctx.RootMeter.IntoDispatchResult(err, 0),
		Return:          ret,
		ContractAddress: addr,
		PaysFee:         true,
	}
}

// ClaimSurcharge implements claim_surcharge(dest, aux_sender?) (spec.md
// §4.7, §8 scenario 4): routes to Rent.TryEviction, applying
// SignedClaimHandicap only when origin is a signed account (the inherent/
// block-producer path recovered from original_source gets no handicap --
// SPEC_FULL.md §3). auxSender is the reward claimant to use in place of the
// origin's own signer when origin has no account of its own (root/inherent
// dispatch as the zero address -- module/origin.go); it is ignored for a
// signed origin, which always claims its own reward.
func (m *Module) ClaimSurcharge(origin Origin, dest common.Address, auxSender common.Address) DispatchOutcome {
	reqID := uuid.New()
	caller := origin.signer()
	if origin.Kind != OriginSigned {
		caller = auxSender
	}

	var handicap uint64
	if origin.Kind == OriginSigned {
		handicap = m.blockParams.SignedClaimHandicap
	}

	rentPaid, _, err := m.rentEng.TryEviction(caller, dest, handicap)
	if err != nil {
		return DispatchOutcome{RequestID: reqID, Result: gas.DispatchResult{Err: err}, PaysFee: true}
	}
	m.emit(LifecycleEvent{Kind: EventEvicted, Contract: dest})
	_ = rentPaid
	return DispatchOutcome{RequestID: reqID, Result: gas.DispatchResult{}, PaysFee: false}
}

// UpdateSchedule implements update_schedule(schedule) (spec.md §4.7):
// root-only, and rejects any version strictly smaller than the current one
// (spec.md §8 "Schedule monotonicity").
func (m *Module) UpdateSchedule(origin Origin, schedule params.Schedule) error {
	if err := origin.requireRoot(); err != nil {
		return err
	}
	m.scheduleMu.Lock()
	defer m.scheduleMu.Unlock()
	if schedule.Version < m.schedule.Version {
		return ErrInvalidScheduleVersion
	}
	m.schedule = schedule
	m.emit(LifecycleEvent{Kind: EventScheduleUpdated, Version: schedule.Version})
	log.Info("module: schedule updated", "version", schedule.Version)
	return nil
}
