// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package rent implements the per-block rent charge, eviction and
// tombstone-restoration engine described in spec.md §4.4, grounded on the
// same snapshot-style state mutation discipline as godx's core/vm/evm.go
// (DESIGN.md) but operating over contractstate's Alive/Tombstone union
// instead of an account trie.
package rent

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/currency"
	"github.com/wasmchain/contracts/params"
)

var (
	ErrContractNotEvictable      = errors.New("rent: contract not evictable")
	ErrInvalidSourceContract     = errors.New("rent: invalid source contract")
	ErrInvalidDestinationContract = errors.New("rent: invalid destination contract")
	ErrInvalidTombstone          = errors.New("rent: invalid tombstone")
	ErrNoContract                = errors.New("rent: no contract at address")
)

// Outcome reports what charge did to a single account (spec.md §4.4).
type Outcome struct {
	RentPaid *uint256.Int
	Evicted  bool
	Tombstoned bool
}

// ProjectionResult answers compute_projection: how much longer an account
// can afford its current storage at the current rent rate, all else equal.
type ProjectionResult struct {
	RentPerBlock     *uint256.Int
	BlocksToEviction uint64 // 0 if RentPerBlock is 0, or if free_balance is already <= subsistence_threshold
}

// BlockNumberSource yields the chain's current block height, the block-
// number collaborator spec.md §1 names as external.
type BlockNumberSource func() uint64

// MetricsRecorder observes the economic effect of a single rent charge,
// e.g. metrics.Collector.RecordRent.
type MetricsRecorder interface {
	RecordRent(paidWei float64, evicted, tombstoned bool)
}

// Engine is the rent module described in spec.md §4.4.
type Engine struct {
	Storage       *contractstate.Storage
	Contracts     map[common.Address]*contractstate.ContractInfo
	Codes         *codecache.CodeCache
	Deletions     *contractstate.DeletionQueue
	Currency      currency.Currency
	Now           BlockNumberSource
	Params        params.RentParams
	TreasuryAddr  common.Address
	// Metrics observes every Charge/TryEviction outcome. Optional; nil
	// disables per-charge rent observation entirely.
	Metrics MetricsRecorder
}

func (e *Engine) recordOutcome(o Outcome) {
	if e.Metrics == nil || o.RentPaid == nil {
		return
	}
	paid, _ := new(big.Float).SetInt(o.RentPaid.ToBig()).Float64()
	e.Metrics.RecordRent(paid, o.Evicted, o.Tombstoned)
}

func (e *Engine) contractOf(addr common.Address) (*contractstate.ContractInfo, error) {
	info, ok := e.Contracts[addr]
	if !ok || info.Kind != contractstate.KindAlive {
		return nil, ErrNoContract
	}
	return info, nil
}

// depositRequired is deposit_required = DepositPerContract +
// storage_size*DepositPerStorageByte + pair_count*DepositPerStorageItem
// (spec.md §4.4 step 2).
func (e *Engine) depositRequired(a *contractstate.AliveContractInfo) *uint256.Int {
	d := new(uint256.Int).Set(e.Params.DepositPerContract)
	perByte := new(uint256.Int).Mul(e.Params.DepositPerStorageByte, uint256.NewInt(uint64(a.StorageSize)))
	perItem := new(uint256.Int).Mul(e.Params.DepositPerStorageItem, uint256.NewInt(uint64(a.PairCount)))
	d.Add(d, perByte)
	d.Add(d, perItem)
	return d
}

// rentPerBlock is RentFraction * (deposit_required - free_balance),
// clamped above by the remaining rent_allowance for the period
// (spec.md §4.4 step 4).
func (e *Engine) rentPerBlock(a *contractstate.AliveContractInfo, freeBalance *uint256.Int) *uint256.Int {
	required := e.depositRequired(a)
	if freeBalance.Cmp(required) >= 0 {
		return uint256.NewInt(0)
	}
	excess := new(uint256.Int).Sub(required, freeBalance)
	rent := new(uint256.Int).Mul(excess, e.Params.RentFractionNum)
	rent.Div(rent, e.Params.RentFractionDen)

	allowanceLeft := new(uint256.Int)
	if a.RentAllowance.Cmp(a.RentPaid) > 0 {
		allowanceLeft.Sub(a.RentAllowance, a.RentPaid)
	}
	if rent.Cmp(allowanceLeft) > 0 {
		rent.Set(allowanceLeft)
	}
	return rent
}

// Charge implements charge(account) -> RentOutcome (spec.md §4.4), applying
// rent for every block in (deduct_block, now].
func (e *Engine) Charge(addr common.Address) (Outcome, error) {
	return e.chargeAt(addr, e.Now(), false)
}

// chargeAt applies rent as of asOf; it is the shared implementation of
// Charge and TryEviction, the latter passing an asOf already reduced by its
// handicap (spec.md §4.4: "try_eviction applies rent at now - handicap").
// forEviction only suppresses the eviction log line.
func (e *Engine) chargeAt(addr common.Address, asOf uint64, forEviction bool) (Outcome, error) {
	info, err := e.contractOf(addr)
	if err != nil {
		return Outcome{}, err
	}
	a := info.Alive

	if asOf <= a.DeductBlock {
		return Outcome{RentPaid: uint256.NewInt(0)}, nil
	}
	blocks := asOf - a.DeductBlock

	freeBalance := e.Currency.FreeBalance(addr)
	perBlock := e.rentPerBlock(a, freeBalance)
	owed := new(uint256.Int).Mul(perBlock, uint256.NewInt(blocks))

	subsistence := e.Params.SubsistenceThreshold()
	remaining := new(uint256.Int)
	if freeBalance.Cmp(owed) >= 0 {
		remaining.Sub(freeBalance, owed)
	}

	if owed.Sign() == 0 {
		a.DeductBlock = asOf
		return Outcome{RentPaid: uint256.NewInt(0)}, nil
	}

	if freeBalance.Cmp(owed) >= 0 && remaining.Cmp(subsistence) >= 0 {
		if err := e.Currency.Withdraw(addr, owed); err != nil {
			return Outcome{}, err
		}
		e.Currency.Deposit(e.TreasuryAddr, owed)
		a.DeductBlock = asOf
		a.RentPaid.Add(a.RentPaid, owed)
		out := Outcome{RentPaid: owed}
		e.recordOutcome(out)
		return out, nil
	}

	// Withdrawing owed would (or does, if balance is already short) push
	// the account below subsistence_threshold: evict (spec.md §4.4 step 6).
	actuallyOwed := freeBalance
	if owed.Cmp(freeBalance) < 0 {
		actuallyOwed = owed
	}
	if actuallyOwed.Sign() > 0 {
		_ = e.Currency.Withdraw(addr, actuallyOwed)
		e.Currency.Deposit(e.TreasuryAddr, actuallyOwed)
	}
	postWithdrawal := e.Currency.FreeBalance(addr)

	outcome, err := e.evict(addr, info, a, postWithdrawal, actuallyOwed)
	if err != nil {
		return Outcome{}, err
	}
	if !forEviction {
		log.Info("rent: contract evicted", "address", addr, "tombstoned", outcome.Tombstoned)
	}
	e.recordOutcome(outcome)
	return outcome, nil
}

// evict transitions addr from Alive to Tombstone or fully-terminated
// (spec.md §4.4 step 6).
func (e *Engine) evict(addr common.Address, info *contractstate.ContractInfo, a *contractstate.AliveContractInfo, remainingBalance, rentPaidNow *uint256.Int) (Outcome, error) {
	tombstoned := remainingBalance.Cmp(e.Params.TombstoneDeposit) >= 0

	if tombstoned {
		root := e.Storage.Root(a.TrieId)
		digest := contractstate.TombstoneDigest(root, a.CodeHash)
		*info = contractstate.NewTombstone(&contractstate.TombstoneContractInfo{Digest: digest})
	} else {
		if remainingBalance.Sign() > 0 {
			if ledger, ok := e.Currency.(interface {
				Burn(*uint256.Int)
			}); ok {
				_ = e.Currency.Withdraw(addr, remainingBalance)
				ledger.Burn(remainingBalance)
			}
		}
		*info = contractstate.None()
	}

	if err := e.Deletions.Enqueue(a.TrieId); err != nil {
		log.Error("rent: deletion queue full, trie leaked until drained", "trie_id", a.TrieId, "err", err)
	}
	if err := e.Codes.DecRef(a.CodeHash); err != nil {
		log.Error("rent: dec_ref on evicted contract's code failed", "code_hash", a.CodeHash, "err", err)
	}

	return Outcome{RentPaid: rentPaidNow, Evicted: true, Tombstoned: tombstoned}, nil
}

// ComputeProjection implements compute_projection(account) (spec.md §4.4).
func (e *Engine) ComputeProjection(addr common.Address) (ProjectionResult, error) {
	info, err := e.contractOf(addr)
	if err != nil {
		return ProjectionResult{}, err
	}
	a := info.Alive
	freeBalance := e.Currency.FreeBalance(addr)
	perBlock := e.rentPerBlock(a, freeBalance)
	if perBlock.Sign() == 0 {
		return ProjectionResult{RentPerBlock: perBlock}, nil
	}
	subsistence := e.Params.SubsistenceThreshold()
	if freeBalance.Cmp(subsistence) <= 0 {
		return ProjectionResult{RentPerBlock: perBlock, BlocksToEviction: 0}, nil
	}
	spendable := new(uint256.Int).Sub(freeBalance, subsistence)
	blocks := new(uint256.Int).Div(spendable, perBlock)
	return ProjectionResult{RentPerBlock: perBlock, BlocksToEviction: blocks.Uint64()}, nil
}

// TryEviction implements try_eviction(account, handicap_blocks) (spec.md
// §4.4): rent is assessed as of now-handicap, rewarding the caller with
// min(SurchargeReward, rent paid by the eviction) if eviction actually
// occurred.
func (e *Engine) TryEviction(caller common.Address, addr common.Address, handicapBlocks uint64) (rentPaid *uint256.Int, codeLen uint32, err error) {
	info, err := e.contractOf(addr)
	if err != nil {
		return nil, 0, err
	}
	codeLen, _ = e.Codes.OriginalLen(info.Alive.CodeHash)
	asOf := e.Now()
	if handicapBlocks < asOf {
		asOf -= handicapBlocks
	} else {
		asOf = 0
	}

	outcome, err := e.chargeAt(addr, asOf, true)
	if err != nil {
		return nil, codeLen, err
	}
	if !outcome.Evicted {
		return nil, codeLen, ErrContractNotEvictable
	}
	reward := e.Params.SurchargeReward
	if outcome.RentPaid.Cmp(reward) < 0 {
		reward = outcome.RentPaid
	}
	if reward.Sign() > 0 {
		e.Currency.Deposit(caller, reward)
	}
	return outcome.RentPaid, codeLen, nil
}

// RestoreTo implements restore_to(origin, dest, code_hash, rent_allowance,
// delta_keys) (spec.md §4.4). origin is the caller's own Alive contract,
// donating its trie (overlaid with delta) to resurrect dest, which must
// currently be a Tombstone. On a matching digest, origin's trie_id is
// adopted by dest, origin's own record is consumed, and dest becomes
// Alive with rent_paid = 0.
func (e *Engine) RestoreTo(origin, dest common.Address, codeHash common.Hash, rentAllowance *uint256.Int, delta map[common.Hash][]byte) error {
	originInfo, ok := e.Contracts[origin]
	if !ok || originInfo.Kind != contractstate.KindAlive {
		return ErrInvalidSourceContract
	}
	destInfo, ok := e.Contracts[dest]
	if !ok || destInfo.Kind != contractstate.KindTombstone {
		return ErrInvalidDestinationContract
	}

	originAlive := originInfo.Alive
	for k, v := range delta {
		if err := e.Storage.Write(originAlive.TrieId, k, v, originAlive, ^uint32(0)); err != nil {
			return err
		}
	}
	root := e.Storage.Root(originAlive.TrieId)
	digest := contractstate.TombstoneDigest(root, codeHash)
	if digest != destInfo.Tombstone.Digest {
		return ErrInvalidTombstone
	}

	adoptedTrie := originAlive.TrieId
	now := e.Now()
	restored := &contractstate.AliveContractInfo{
		TrieId:        adoptedTrie,
		StorageSize:   originAlive.StorageSize,
		PairCount:     originAlive.PairCount,
		CodeHash:      codeHash,
		RentAllowance: cloneUint256(rentAllowance),
		RentPaid:      uint256.NewInt(0),
		DeductBlock:   now,
	}
	*destInfo = contractstate.NewAlive(restored)
	*originInfo = contractstate.None()
	return nil
}

func cloneUint256(v *uint256.Int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(v)
}
