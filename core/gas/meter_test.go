// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package gas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMeterChargeTracksConsumption(t *testing.T) {
	m := New(100)
	require.NoError(t, m.Charge("storage", 40))
	require.Equal(t, uint64(60), m.GasLeft())
	require.Equal(t, uint64(40), m.GasSpent())
	require.Equal(t, uint64(40), m.TokenCostsConsumed()["storage"])
}

func TestMeterChargeRejectsOverdraft(t *testing.T) {
	m := New(10)
	err := m.Charge("compute", 11)
	require.ErrorIs(t, err, ErrOutOfGas)
	require.Equal(t, uint64(10), m.GasLeft(), "a failed charge must leave the meter untouched")
}

func TestMeterChargeNotifiesRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	m := New(50)
	m.SetRecorder(rec)
	require.NoError(t, m.Charge("compute", 5))
	require.NoError(t, m.Charge("compute", 3))
	require.Equal(t, uint64(8), rec.totals["compute"])
}

func TestMeterNestedClampsToParentRemaining(t *testing.T) {
	m := New(100)
	require.NoError(t, m.Charge("compute", 70))

	child := m.Nested(1000)
	require.Equal(t, uint64(30), child.GasLimit(), "child limit must clamp silently to the parent's gas_left")
}

func TestMeterNestedPanicsOnDoubleSpawn(t *testing.T) {
	m := New(100)
	_ = m.Nested(10)
	require.Panics(t, func() { m.Nested(10) })
}

func TestMeterAbsorbNestedRefundsUnusedGas(t *testing.T) {
	m := New(100)
	child := m.Nested(40)
	require.NoError(t, child.Charge("compute", 15))

	m.AbsorbNested(child)
	require.Equal(t, uint64(85), m.GasLeft(), "unused child gas (25) must be refunded to the parent")
	require.Equal(t, uint64(15), m.TokenCostsConsumed()["compute"], "child's consumption merges into the parent's ledger")
}

func TestMeterAbsorbNestedRefundsEvenOnChildFailure(t *testing.T) {
	m := New(100)
	child := m.Nested(40)
	require.ErrorIs(t, child.Charge("compute", 999), ErrOutOfGas)

	m.AbsorbNested(child)
	require.Equal(t, uint64(100), m.GasLeft(), "a child that never spent anything must refund its entire clamped limit")
}

func TestMeterAbsorbNestedPanicsOnWrongChild(t *testing.T) {
	m := New(100)
	other := New(10)
	require.Panics(t, func() { m.AbsorbNested(other) })
}

func TestMeterIntoDispatchResult(t *testing.T) {
	m := New(100)
	require.NoError(t, m.Charge("compute", 30))
	result := m.IntoDispatchResult(nil, 7)
	require.Equal(t, uint64(30), result.GasConsumed)
	require.Equal(t, uint64(7), result.PostDispatchWeight)
	require.NoError(t, result.Err)
}

type fakeRecorder struct {
	totals map[string]uint64
}

func (f *fakeRecorder) RecordCharge(token string, amount uint64) {
	if f.totals == nil {
		f.totals = make(map[string]uint64)
	}
	f.totals[token] += amount
}
