// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/currency"
	"github.com/wasmchain/contracts/core/rent"
	"github.com/wasmchain/contracts/params"
)

// scripted op-codes, encoded as the first byte of an Executable's input.
const (
	opNoop = iota
	opSetStorage
	opDepositEvent
	opTerminate
	opRevert
	opFail
	opSetStorageThenRevert
)

var storageKey = common.HexToHash("0x01")

// scriptedExecutable drives ExecutionContext through a handful of host
// calls selected by the first byte of its input, standing in for a real
// instrumented module the way demoExecutable does for the CLI.
type scriptedExecutable struct{}

var errScripted = errors.New("vm: scripted executable failure")

func (scriptedExecutable) Execute(host Host, entryPoint EntryPoint, input []byte) (ExecReturn, error) {
	if len(input) == 0 {
		return host.Return(0, nil), nil
	}
	switch input[0] {
	case opSetStorage:
		if err := host.SetStorage(storageKey, input[1:]); err != nil {
			return ExecReturn{}, err
		}
		return host.Return(0, nil), nil
	case opDepositEvent:
		if err := host.DepositEvent([]common.Hash{storageKey}, input[1:]); err != nil {
			return ExecReturn{}, err
		}
		return host.Return(0, nil), nil
	case opTerminate:
		var beneficiary common.Address
		copy(beneficiary[:], input[1:])
		if err := host.Terminate(beneficiary); err != nil {
			return ExecReturn{}, err
		}
		return host.Return(0, nil), nil
	case opRevert:
		return host.Return(1, input[1:]), nil
	case opFail:
		return ExecReturn{}, errScripted
	case opSetStorageThenRevert:
		if err := host.SetStorage(storageKey, input[1:]); err != nil {
			return ExecReturn{}, err
		}
		return host.Return(1, nil), nil
	default:
		v, _, err := host.GetStorage(storageKey)
		if err != nil {
			return ExecReturn{}, err
		}
		return host.Return(0, v), nil
	}
}

type fixture struct {
	storage  *contractstate.Storage
	contracts map[common.Address]*contractstate.ContractInfo
	codes    *codecache.CodeCache
	ledger   *currency.Ledger
	counter  *contractstate.AccountCounter
	rentEng  *rent.Engine
	schedule params.Schedule
	block    uint64
}

func wasmBlob() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	storage := contractstate.NewStorage()
	contracts := make(map[common.Address]*contractstate.ContractInfo)
	codes, err := codecache.New(codecache.Options{PristineDir: t.TempDir(), ParsedCacheSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = codes.Close() })
	ledger := currency.NewLedger()
	counter := &contractstate.AccountCounter{}

	f := &fixture{
		storage:   storage,
		contracts: contracts,
		codes:     codes,
		ledger:    ledger,
		counter:   counter,
		schedule:  params.Default(),
		block:     10,
	}
	f.rentEng = &rent.Engine{
		Storage:      storage,
		Contracts:    contracts,
		Codes:        codes,
		Deletions:    contractstate.NewDeletionQueue(16),
		Currency:     ledger,
		Now:          func() uint64 { return f.block },
		Params:       params.DefaultRentParams(),
		TreasuryAddr: common.HexToAddress("0xfee"),
	}
	return f
}

func (f *fixture) uploadCode(t *testing.T) common.Hash {
	t.Helper()
	hash, err := f.codes.Upload(wasmBlob(), f.schedule)
	require.NoError(t, err)
	return hash
}

func (f *fixture) newContext(origin common.Address, gasLimit uint64) *ExecutionContext {
	return NewTopLevel(origin, f.schedule, gasLimit, ExecutionContext{
		Storage:     f.storage,
		Contracts:   f.contracts,
		Codes:       f.codes,
		Counter:     f.counter,
		Currency:    f.ledger,
		Rent:        f.rentEng,
		BlockNumber: func() uint64 { return f.block },
		RandomFn:    func(subject []byte) (common.Hash, uint64) { return common.BytesToHash(subject), f.block },
		ClockFn:     func() uint64 { return 1700000000 },
		ExecutableLoader: func(*codecache.PrefabModule) (Executable, error) {
			return scriptedExecutable{}, nil
		},
	})
}

func TestDeriveAddressIsDeterministicAndInputSensitive(t *testing.T) {
	deployer := common.HexToAddress("0x01")
	codeHash := common.HexToHash("0xaa")

	a1 := DeriveAddress(deployer, codeHash, []byte("salt"))
	a2 := DeriveAddress(deployer, codeHash, []byte("salt"))
	require.Equal(t, a1, a2)

	a3 := DeriveAddress(deployer, codeHash, []byte("other-salt"))
	require.NotEqual(t, a1, a3)
}

func TestInstantiateCreatesAliveContractAndChargesCodeLoad(t *testing.T) {
	f := newFixture(t)
	codeHash := f.uploadCode(t)
	origin := common.HexToAddress("0xorigin")
	f.ledger.Deposit(origin, uint256.NewInt(1_000_000))

	ctx := f.newContext(origin, 1_000_000)
	endowment := uint256.NewInt(20_000) // above SubsistenceThreshold (17,000)
	addr, ret, err := ctx.TopLevelInstantiate(endowment, codeHash, []byte{opNoop}, []byte("salt-1"))
	require.NoError(t, err)
	require.False(t, ret.Reverted)
	require.Equal(t, DeriveAddress(origin, codeHash, []byte("salt-1")), addr)

	info, ok := f.contracts[addr]
	require.True(t, ok)
	require.Equal(t, contractstate.KindAlive, info.Kind)
	require.EqualValues(t, 1, f.codes.RefCount(codeHash))
	require.True(t, f.ledger.FreeBalance(addr).Eq(endowment))
	require.Equal(t, f.schedule.CostOfLoad(uint32(len(wasmBlob()))), ctx.RootMeter.TokenCostsConsumed()["code_load"])
}

func TestInstantiateRejectsInsufficientEndowment(t *testing.T) {
	f := newFixture(t)
	codeHash := f.uploadCode(t)
	origin := common.HexToAddress("0xorigin")

	ctx := f.newContext(origin, 1_000_000)
	_, _, err := ctx.TopLevelInstantiate(uint256.NewInt(10), codeHash, nil, []byte("salt"))
	require.ErrorIs(t, err, ErrNewContractNotFunded)
}

func TestInstantiateRejectsDuplicateAddress(t *testing.T) {
	f := newFixture(t)
	codeHash := f.uploadCode(t)
	origin := common.HexToAddress("0xorigin")
	f.ledger.Deposit(origin, uint256.NewInt(1_000_000))

	ctx := f.newContext(origin, 1_000_000)
	endowment := uint256.NewInt(20_000)
	_, _, err := ctx.TopLevelInstantiate(endowment, codeHash, nil, []byte("salt"))
	require.NoError(t, err)

	ctx2 := f.newContext(origin, 1_000_000)
	_, _, err = ctx2.TopLevelInstantiate(endowment, codeHash, nil, []byte("salt"))
	require.ErrorIs(t, err, ErrDuplicateContract)
}

func TestCallRevertedRollsBackStorageWrite(t *testing.T) {
	f := newFixture(t)
	codeHash := f.uploadCode(t)
	origin := common.HexToAddress("0xorigin")
	f.ledger.Deposit(origin, uint256.NewInt(1_000_000))

	ctx := f.newContext(origin, 1_000_000)
	endowment := uint256.NewInt(20_000)
	addr, _, err := ctx.TopLevelInstantiate(endowment, codeHash, nil, []byte("salt"))
	require.NoError(t, err)

	// Write a value, then call again with an executable that reverts after
	// overwriting it -- the overwrite must not survive the rollback.
	ctx2 := f.newContext(origin, 1_000_000)
	_, err = ctx2.call(origin, addr, uint256.NewInt(0), 100_000, append([]byte{opSetStorage}, []byte("v1")...))
	require.NoError(t, err)

	ctx3 := f.newContext(origin, 1_000_000)
	ret, err := ctx3.call(origin, addr, uint256.NewInt(0), 100_000, append([]byte{opSetStorage}, []byte("v2")...))
	require.NoError(t, err)
	require.False(t, ret.Reverted)

	info := f.contracts[addr]
	v, ok := f.storage.Read(info.Alive.TrieId, storageKey)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)

	ctx4 := f.newContext(origin, 1_000_000)
	setThenRevertInput := append([]byte{opSetStorageThenRevert}, []byte("v3")...)
	ret, err = ctx4.call(origin, addr, uint256.NewInt(0), 100_000, setThenRevertInput)
	require.NoError(t, err)
	require.True(t, ret.Reverted)

	// The write to "v3" happened against live storage but must be undone on
	// rollback, leaving the last committed value in place.
	v, ok = f.storage.Read(info.Alive.TrieId, storageKey)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestCallPropagatesExecutableError(t *testing.T) {
	f := newFixture(t)
	codeHash := f.uploadCode(t)
	origin := common.HexToAddress("0xorigin")
	f.ledger.Deposit(origin, uint256.NewInt(1_000_000))

	ctx := f.newContext(origin, 1_000_000)
	endowment := uint256.NewInt(20_000)
	addr, _, err := ctx.TopLevelInstantiate(endowment, codeHash, nil, []byte("salt"))
	require.NoError(t, err)

	ctx2 := f.newContext(origin, 1_000_000)
	_, err = ctx2.call(origin, addr, uint256.NewInt(0), 100_000, []byte{opFail})
	require.Error(t, err)
}

func TestCallToTombstonedContractFails(t *testing.T) {
	f := newFixture(t)
	dest := common.HexToAddress("0xdead")
	f.contracts[dest] = &contractstate.ContractInfo{
		Kind:      contractstate.KindTombstone,
		Tombstone: &contractstate.TombstoneContractInfo{Digest: common.HexToHash("0x1")},
	}

	origin := common.HexToAddress("0xorigin")
	ctx := f.newContext(origin, 1_000_000)
	_, err := ctx.call(origin, dest, uint256.NewInt(0), 100_000, nil)
	require.ErrorIs(t, err, ErrNotCallable)
}

func TestCallToEmptyAddressWithValueTransfersBalance(t *testing.T) {
	f := newFixture(t)
	origin := common.HexToAddress("0xorigin")
	dest := common.HexToAddress("0xplain")
	f.ledger.Deposit(origin, uint256.NewInt(10_000))

	ctx := f.newContext(origin, 1_000_000)
	_, err := ctx.call(origin, dest, uint256.NewInt(1_000), 100_000, nil)
	require.NoError(t, err)

	require.True(t, f.ledger.FreeBalance(dest).Eq(uint256.NewInt(1_000)))
	require.True(t, f.ledger.FreeBalance(origin).Eq(uint256.NewInt(9_000)))
}

func TestCallToEmptyAddressBelowExistentialDepositNoOps(t *testing.T) {
	f := newFixture(t)
	origin := common.HexToAddress("0xorigin")
	dest := common.HexToAddress("0xplain2")
	f.ledger.Deposit(origin, uint256.NewInt(1_000))

	ctx := f.newContext(origin, 1_000_000)
	_, err := ctx.call(origin, dest, uint256.NewInt(300), 100_000, nil)
	require.NoError(t, err)

	require.True(t, f.ledger.FreeBalance(dest).Sign() == 0)
	require.True(t, f.ledger.FreeBalance(origin).Eq(uint256.NewInt(1_000)))
}

func TestTerminateTransfersBalanceAndQueuesDeletion(t *testing.T) {
	f := newFixture(t)
	codeHash := f.uploadCode(t)
	origin := common.HexToAddress("0xorigin")
	beneficiary := common.HexToAddress("0xbene")
	f.ledger.Deposit(origin, uint256.NewInt(1_000_000))

	ctx := f.newContext(origin, 1_000_000)
	endowment := uint256.NewInt(20_000)
	addr, _, err := ctx.TopLevelInstantiate(endowment, codeHash, nil, []byte("salt"))
	require.NoError(t, err)

	ctx2 := f.newContext(origin, 1_000_000)
	input := append([]byte{opTerminate}, beneficiary.Bytes()...)
	ret, err := ctx2.call(origin, addr, uint256.NewInt(0), 100_000, input)
	require.NoError(t, err)
	require.False(t, ret.Reverted)

	info, ok := f.contracts[addr]
	require.True(t, ok)
	require.Equal(t, contractstate.KindNone, info.Kind)
	require.True(t, f.ledger.FreeBalance(beneficiary).Eq(endowment))
	require.Equal(t, 1, f.rentEng.Deletions.Len())
}

func TestMaxCallDepthReached(t *testing.T) {
	f := newFixture(t)
	origin := common.HexToAddress("0xorigin")
	ctx := f.newContext(origin, 1_000_000)
	ctx.MaxDepth = 0

	_, err := ctx.call(origin, common.HexToAddress("0xdest"), uint256.NewInt(0), 100, nil)
	// depth 0 means even the first pushFrame (depth()+1=1 > MaxDepth=0) fails,
	// but a zero-value transfer to a non-contract address never pushes a
	// frame at all; force a code-backed call to exercise the depth check.
	require.NoError(t, err)

	codeHash := f.uploadCode(t)
	f.ledger.Deposit(origin, uint256.NewInt(1_000_000))
	ctx2 := f.newContext(origin, 1_000_000)
	ctx2.MaxDepth = 32
	endowment := uint256.NewInt(20_000)
	addr, _, err := ctx2.TopLevelInstantiate(endowment, codeHash, nil, []byte("salt"))
	require.NoError(t, err)

	ctx3 := f.newContext(origin, 1_000_000)
	ctx3.MaxDepth = 0
	_, err = ctx3.call(origin, addr, uint256.NewInt(0), 100, []byte{opNoop})
	require.ErrorIs(t, err, ErrMaxCallDepthReached)
}
