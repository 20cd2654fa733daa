// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package gas implements the metered gas budget described in spec.md §4.3.
// It is grounded on the teacher's core.GasPool (miner/worker.go: `gasPool :=
// new(core.GasPool).AddGas(header.GasLimit)`, decremented per applied
// transaction) generalized to the spec's nested-child discipline: a meter
// may spawn at most one outstanding child meter whose limit is clamped to
// the parent's remaining gas, and unused child gas is refunded to the
// parent on absorption regardless of the child's outcome.
package gas

import (
	"errors"

	"github.com/ethereum/go-ethereum/log"
)

// ErrOutOfGas is returned by Charge when the requested amount exceeds the
// meter's remaining budget. No partial charge is ever applied.
var ErrOutOfGas = errors.New("gas: out of gas")

// Recorder observes individual charges, e.g. to update Prometheus
// histograms (see metrics.GasRecorder). It is optional; a nil Recorder
// means charges are simply not observed.
type Recorder interface {
	RecordCharge(token string, amount uint64)
}

// Meter is a monotonically decreasing gas budget with at most one
// outstanding nested child meter at a time (spec.md §4.3). Meter is not
// safe for concurrent use: the execution model is strictly single-threaded
// (spec.md §5).
type Meter struct {
	limit    uint64
	left     uint64
	consumed map[string]uint64
	child    *Meter
	recorder Recorder
}

// New returns a fresh top-level meter with the given gas_limit.
func New(limit uint64) *Meter {
	return &Meter{
		limit:    limit,
		left:     limit,
		consumed: make(map[string]uint64),
	}
}

// SetRecorder attaches an observer used by every subsequent Charge call,
// including on nested children spawned afterwards.
func (m *Meter) SetRecorder(r Recorder) {
	m.recorder = r
}

// GasLeft returns the remaining budget.
func (m *Meter) GasLeft() uint64 { return m.left }

// GasLimit returns the budget the meter was constructed with.
func (m *Meter) GasLimit() uint64 { return m.limit }

// GasSpent returns gas_limit - gas_left.
func (m *Meter) GasSpent() uint64 { return m.limit - m.left }

// TokenCostsConsumed returns a snapshot of gas consumed per token label,
// mirroring the spec's token_costs_consumed field.
func (m *Meter) TokenCostsConsumed() map[string]uint64 {
	out := make(map[string]uint64, len(m.consumed))
	for k, v := range m.consumed {
		out[k] = v
	}
	return out
}

// Charge subtracts amount, weighted under the given token label, from the
// meter's remaining budget. It fails with ErrOutOfGas and leaves the meter
// untouched if the balance is insufficient (spec.md §4.3: "no partial
// charge").
func (m *Meter) Charge(token string, amount uint64) error {
	if amount > m.left {
		return ErrOutOfGas
	}
	m.left -= amount
	m.consumed[token] += amount
	if m.recorder != nil {
		m.recorder.RecordCharge(token, amount)
	}
	return nil
}

// Nested spawns a child meter whose limit is silently clamped to this
// meter's gas_left (spec.md §4.3: "this spec requires: clamp silently to
// gas_left"). Calling Nested while a child is already outstanding is a
// program invariant failure, not a runtime error, and panics -- the spec
// treats "reentrant nesting forbidden" as a caller bug, mirrored by the
// interpreter never requesting two children from the same frame's meter.
func (m *Meter) Nested(limit uint64) *Meter {
	if m.child != nil {
		panic("gas: nested meter already outstanding")
	}
	if limit > m.left {
		limit = m.left
	}
	child := New(limit)
	child.recorder = m.recorder
	m.child = child
	return child
}

// AbsorbNested folds a previously spawned child meter back into its
// parent: the parent's gas_left becomes parent_before - (child_limit -
// child_remaining), i.e. unused child gas is refunded regardless of
// whether the child's metered body succeeded, failed, reverted, or ran out
// of gas (spec.md §4.3 and §8 invariant 6).
func (m *Meter) AbsorbNested(child *Meter) {
	if m.child != child {
		panic("gas: absorb called with a meter that is not the outstanding child")
	}
	used := child.limit - child.left
	if used > m.left {
		// Can only happen if the caller mutated child.limit after Nested
		// clamped it; defend rather than underflow.
		log.Error("gas: child consumed more than its clamped limit", "used", used, "parentLeft", m.left)
		used = m.left
	}
	m.left -= used
	for token, amount := range child.consumed {
		m.consumed[token] += amount
	}
	m.child = nil
}

// DispatchResult is the post_dispatch weight report described in spec.md
// §4.3's into_dispatch_result and §7's "consumed gas is always reported in
// post-dispatch weight regardless of outcome".
type DispatchResult struct {
	GasConsumed        uint64
	PostDispatchWeight uint64
	Err                error
}

// IntoDispatchResult packages this meter's consumption alongside the
// dispatch outcome and any additional post-dispatch weight (e.g. block
// hook work performed after the call returned).
func (m *Meter) IntoDispatchResult(err error, postDispatchWeight uint64) DispatchResult {
	return DispatchResult{
		GasConsumed:        m.GasSpent(),
		PostDispatchWeight: postDispatchWeight,
		Err:                err,
	}
}
