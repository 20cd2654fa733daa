// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package codecache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmchain/contracts/core/gas"
	"github.com/wasmchain/contracts/params"
)

func wasmBlob(payload byte) []byte {
	b := append([]byte{}, wasmMagic[:]...)
	return append(b, 0x01, 0x00, 0x00, payload)
}

func newTestCache(t *testing.T) *CodeCache {
	t.Helper()
	c, err := New(Options{PristineDir: t.TempDir(), ParsedCacheSize: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCodeCacheUploadIsIdempotentByHash(t *testing.T) {
	c := newTestCache(t)
	schedule := params.Default()
	code := wasmBlob(1)

	h1, err := c.Upload(code, schedule)
	require.NoError(t, err)
	h2, err := c.Upload(code, schedule)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestCodeCacheUploadRejectsNonWasm(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Upload([]byte("not wasm"), params.Default())
	require.ErrorIs(t, err, ErrCodeRejected)
}

func TestCodeCacheLoadChargesCodeLoadWeight(t *testing.T) {
	c := newTestCache(t)
	schedule := params.Default()
	hash, err := c.Upload(wasmBlob(1), schedule)
	require.NoError(t, err)

	meter := gas.New(1_000_000)
	module, err := c.Load(hash, schedule, meter)
	require.NoError(t, err)
	require.Equal(t, schedule.Version, module.ScheduleVersion)
	require.Less(t, meter.GasLeft(), uint64(1_000_000))
}

func TestCodeCacheLoadReinstrumentsOnStaleVersion(t *testing.T) {
	c := newTestCache(t)
	oldSchedule := params.Default()
	hash, err := c.Upload(wasmBlob(1), oldSchedule)
	require.NoError(t, err)

	newSchedule := oldSchedule
	newSchedule.Version = oldSchedule.Version + 1

	meter := gas.New(1_000_000)
	module, err := c.Load(hash, newSchedule, meter)
	require.NoError(t, err)
	require.Equal(t, newSchedule.Version, module.ScheduleVersion, "a stale module must be reinstrumented in place")
}

func TestCodeCacheIncRefDecRefTracksCount(t *testing.T) {
	c := newTestCache(t)
	hash, err := c.Upload(wasmBlob(1), params.Default())
	require.NoError(t, err)

	require.NoError(t, c.IncRef(hash))
	require.NoError(t, c.IncRef(hash))
	require.EqualValues(t, 2, c.RefCount(hash))

	require.NoError(t, c.DecRef(hash))
	require.EqualValues(t, 1, c.RefCount(hash))
}

func TestCodeCacheDecRefRemovesOnLastReference(t *testing.T) {
	var removed []Removed
	c, err := New(Options{
		PristineDir:     t.TempDir(),
		ParsedCacheSize: 8,
		OnRemoved:       func(r Removed) { removed = append(removed, r) },
	})
	require.NoError(t, err)
	defer c.Close()

	hash, err := c.Upload(wasmBlob(1), params.Default())
	require.NoError(t, err)
	require.NoError(t, c.IncRef(hash))

	require.NoError(t, c.DecRef(hash))
	require.Len(t, removed, 1)
	require.Equal(t, hash, removed[0].CodeHash)

	_, ok := c.OriginalLen(hash)
	require.False(t, ok, "a fully dereferenced code_hash must no longer be resolvable")
}

func TestCodeCacheDecRefRejectsZeroRefcount(t *testing.T) {
	c := newTestCache(t)
	hash, err := c.Upload(wasmBlob(1), params.Default())
	require.NoError(t, err)
	require.Error(t, c.DecRef(hash))
}
