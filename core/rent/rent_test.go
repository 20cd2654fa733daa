// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package rent

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/currency"
	"github.com/wasmchain/contracts/params"
)

func wasmBlob() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

type testFixture struct {
	engine   *Engine
	ledger   *currency.Ledger
	codes    *codecache.CodeCache
	storage  *contractstate.Storage
	schedule params.Schedule
	now      uint64
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	storage := contractstate.NewStorage()
	codes, err := codecache.New(codecache.Options{PristineDir: t.TempDir(), ParsedCacheSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = codes.Close() })
	ledger := currency.NewLedger()

	f := &testFixture{
		ledger:   ledger,
		codes:    codes,
		storage:  storage,
		schedule: params.Default(),
		now:      100,
	}
	f.engine = &Engine{
		Storage:      storage,
		Contracts:    make(map[common.Address]*contractstate.ContractInfo),
		Codes:        codes,
		Deletions:    contractstate.NewDeletionQueue(16),
		Currency:     ledger,
		Now:          func() uint64 { return f.now },
		Params:       params.DefaultRentParams(),
		TreasuryAddr: common.HexToAddress("0xfee"),
	}
	return f
}

// newAliveContract funds addr, uploads a code blob and registers an Alive
// AliveContractInfo with the given storage footprint, returning its address.
func (f *testFixture) newAliveContract(t *testing.T, addr common.Address, balance uint64, storageBytes uint32, deductBlock uint64) {
	t.Helper()
	hash, err := f.codes.Upload(wasmBlob(), f.schedule)
	require.NoError(t, err)
	require.NoError(t, f.codes.IncRef(hash))

	f.ledger.Deposit(addr, uint256.NewInt(balance))

	var trie contractstate.TrieId
	trie[0] = addr[0]
	info := contractstate.NewAlive(&contractstate.AliveContractInfo{
		TrieId:        trie,
		StorageSize:   storageBytes,
		CodeHash:      hash,
		RentAllowance: uint256.NewInt(^uint64(0)),
		RentPaid:      uint256.NewInt(0),
		DeductBlock:   deductBlock,
	})
	infoPtr := info
	f.engine.Contracts[addr] = &infoPtr
}

func TestChargeNoOpWhenBalanceCoversDeposit(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	f.newAliveContract(t, addr, 1_000_000, 0, 90)

	outcome, err := f.engine.Charge(addr)
	require.NoError(t, err)
	require.True(t, outcome.RentPaid.IsZero())
	require.False(t, outcome.Evicted)
}

func TestChargeWithdrawsRentWhenBalanceIsShort(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	// deposit_required (~3,000,000) comfortably exceeds the free balance, but
	// only 10 blocks have elapsed, so the resulting charge is small enough to
	// leave the account well above subsistence.
	f.newAliveContract(t, addr, 2_000_000, 2_990_000, 90)

	outcome, err := f.engine.Charge(addr)
	require.NoError(t, err)
	require.False(t, outcome.Evicted)
	require.True(t, outcome.RentPaid.Sign() > 0, "rent should have been assessed")

	info := f.engine.Contracts[addr]
	require.Equal(t, f.now, info.Alive.DeductBlock)
}

func TestChargeEvictsWhenBalanceFallsBelowSubsistence(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	// Tiny balance, large storage footprint, many elapsed blocks: rent owed
	// vastly exceeds what the account can pay while staying solvent, so the
	// entire balance is swept and nothing is left for a tombstone deposit.
	f.now = 100_000
	f.newAliveContract(t, addr, 10, 1_200_000, 0)

	outcome, err := f.engine.Charge(addr)
	require.NoError(t, err)
	require.True(t, outcome.Evicted)
	require.False(t, outcome.Tombstoned)

	info := f.engine.Contracts[addr]
	require.NotEqual(t, contractstate.KindAlive, info.Kind)
}

func TestChargeTombstonesWhenResidualCoversTombstoneDeposit(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	// 83,500 blocks at rent_per_block=1 withdraws exactly 83,500, leaving a
	// 16,500 residual -- above TombstoneDeposit (16,000) but below
	// subsistence_threshold (17,000), landing squarely in the tombstone band.
	f.now = 83_500
	f.newAliveContract(t, addr, 100_000, 1_200_000, 0)

	outcome, err := f.engine.Charge(addr)
	require.NoError(t, err)
	require.True(t, outcome.Evicted)
	require.True(t, outcome.Tombstoned)

	info := f.engine.Contracts[addr]
	require.Equal(t, contractstate.KindTombstone, info.Kind)
}

func TestTryEvictionRejectsNotYetEvictable(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	f.newAliveContract(t, addr, 1_000_000, 0, 90)

	_, _, err := f.engine.TryEviction(common.HexToAddress("0xcaller"), addr, 0)
	require.ErrorIs(t, err, ErrContractNotEvictable)
}

func TestTryEvictionRewardsCallerCappedAtRentPaid(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	caller := common.HexToAddress("0xcaller")
	f.now = 100_000
	f.newAliveContract(t, addr, 10, 1_200_000, 0)

	rentPaid, _, err := f.engine.TryEviction(caller, addr, 0)
	require.NoError(t, err)

	reward := f.ledger.FreeBalance(caller)
	require.True(t, reward.Cmp(f.engine.Params.SurchargeReward) <= 0, "reward must never exceed SurchargeReward")
	require.True(t, reward.Cmp(rentPaid) <= 0, "reward must never exceed what was actually paid")
}

func TestComputeProjectionReportsZeroRentWhenSolvent(t *testing.T) {
	f := newFixture(t)
	addr := common.HexToAddress("0x01")
	f.newAliveContract(t, addr, 1_000_000, 0, f.now)

	proj, err := f.engine.ComputeProjection(addr)
	require.NoError(t, err)
	require.True(t, proj.RentPerBlock.IsZero())
	require.EqualValues(t, 0, proj.BlocksToEviction)
}

func TestComputeProjectionRejectsUnknownAddress(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.ComputeProjection(common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, ErrNoContract)
}
