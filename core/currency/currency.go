// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package currency defines the balance-module boundary spec.md §1 lists as
// an external collaborator ("balance module, given as a Currency
// capability") and provides the in-process ledger the rest of this module
// is built and tested against.
package currency

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientBalance is returned by Withdraw/Transfer when the payer's
// free balance is below the requested amount.
var ErrInsufficientBalance = errors.New("currency: insufficient free balance")

// Currency is the balance capability every rent and transfer operation in
// this module is built against (spec.md §1, §4.4).
type Currency interface {
	FreeBalance(addr common.Address) *uint256.Int
	Withdraw(addr common.Address, amount *uint256.Int) error
	Deposit(addr common.Address, amount *uint256.Int)
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Ledger is an in-memory Currency, guarded the same way
// contractstate.Storage guards its sub-trie map: a single RWMutex over a
// plain map, sufficient for the single-dispatch-path invariant spec.md §5
// assumes.
type Ledger struct {
	mu       sync.RWMutex
	balances map[common.Address]*uint256.Int
	burned   *uint256.Int
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]*uint256.Int),
		burned:   uint256.NewInt(0),
	}
}

// FreeBalance returns addr's balance, zero if never credited.
func (l *Ledger) FreeBalance(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.balances[addr]
	if !ok {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(b)
}

// Deposit credits addr with amount, used for both ordinary transfers and
// the surcharge reward paid to the caller of try_eviction.
func (l *Ledger) Deposit(addr common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditLocked(addr, amount)
}

func (l *Ledger) creditLocked(addr common.Address, amount *uint256.Int) {
	b, ok := l.balances[addr]
	if !ok {
		b = uint256.NewInt(0)
		l.balances[addr] = b
	}
	b.Add(b, amount)
}

// Withdraw debits addr by amount, failing with ErrInsufficientBalance
// rather than leaving a negative balance.
func (l *Ledger) Withdraw(addr common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[addr]
	if !ok || b.Lt(amount) {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	return nil
}

// Transfer moves amount from from to to atomically with respect to other
// Ledger callers.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.balances[from]
	if !ok || b.Lt(amount) {
		return ErrInsufficientBalance
	}
	b.Sub(b, amount)
	l.creditLocked(to, amount)
	return nil
}

// Burn removes amount from circulation entirely, used when a contract is
// terminated without a tombstone and its residual balance is sent to the
// RentPayment sink's burn path rather than any account (spec.md §4.4).
func (l *Ledger) Burn(amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.burned.Add(l.burned, amount)
}

// Burned reports the cumulative amount ever burned, for metrics/tests.
func (l *Ledger) Burned() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.burned)
}
