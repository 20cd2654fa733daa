// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package codecache

import (
	"fmt"
	"sync"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/holiman/billy"
)

// pristineShelfSizes yields billy's shelf sizes for the pristine-code
// archive: doubling buckets from 4KiB up to 4MiB, mirroring the
// size-bucketed slotting used for go-ethereum's blob-transaction pool so a
// small contract's bytes aren't padded into a shelf sized for a much
// larger one.
func pristineShelfSizes() func() (uint32, bool) {
	const maxShelf = 4 << 20
	size := uint32(4 << 10)
	return func() (uint32, bool) {
		cur := size
		done := size >= maxShelf
		if !done {
			size *= 2
		}
		return cur, done
	}
}

// pristineArchive is the append-only, content-addressed store of raw
// (un-instrumented) contract bytes (spec.md §3: "the original pristine
// code is stored in PristineCode exactly once per hash"). A billy.Database
// holds the bytes on disk; an in-memory fastcache.Cache fronts it so a hot
// code_hash's bytes usually never touch the backing store on load.
type pristineArchive struct {
	mu   sync.Mutex
	db   billy.Database
	hot  *fastcache.Cache
	ids  map[CodeHash]uint64
}

func newPristineArchive(dir string, hotCacheBytes int) (*pristineArchive, error) {
	db, err := billy.Open(billy.Options{Path: dir}, pristineShelfSizes(), nil)
	if err != nil {
		return nil, fmt.Errorf("codecache: open pristine archive: %w", err)
	}
	return &pristineArchive{
		db:  db,
		hot: fastcache.New(hotCacheBytes),
		ids: make(map[CodeHash]uint64),
	}, nil
}

// put stores pristine under hash exactly once; a repeat upload of a
// code_hash already present is a no-op (spec.md §4.1).
func (p *pristineArchive) put(hash CodeHash, pristine []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.ids[hash]; ok {
		return nil
	}
	id, err := p.db.Put(pristine)
	if err != nil {
		return fmt.Errorf("codecache: store pristine code: %w", err)
	}
	p.ids[hash] = id
	p.hot.Set(hash.Bytes(), pristine)
	return nil
}

func (p *pristineArchive) get(hash CodeHash) ([]byte, bool) {
	if v := p.hot.Get(nil, hash.Bytes()); v != nil {
		return v, true
	}
	p.mu.Lock()
	id, ok := p.ids[hash]
	p.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := p.db.Get(id)
	if err != nil {
		return nil, false
	}
	p.hot.Set(hash.Bytes(), data)
	return data, true
}

// delete removes hash's pristine bytes, used when the last reference to a
// code_hash is dropped (spec.md §4.1: "dec_ref removes the cached bytes
// and emits a CodeRemoved signal when count hits zero").
func (p *pristineArchive) delete(hash CodeHash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.ids[hash]
	if !ok {
		return
	}
	_ = p.db.Delete(id)
	delete(p.ids, hash)
	p.hot.Del(hash.Bytes())
}

func (p *pristineArchive) close() error {
	return p.db.Close()
}
