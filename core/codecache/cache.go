// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package codecache

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/wasmchain/contracts/core/gas"
	"github.com/wasmchain/contracts/params"
)

// Removed is delivered to a CodeCache's configured listener when a
// code_hash's last reference drops, mirroring the CodeRemoved event
// spec.md §3 requires dec_ref to emit.
type Removed struct {
	CodeHash CodeHash
}

// MetricsRecorder observes Load's hit/reinstrument outcome and the
// cache's live population, e.g. metrics.Collector.RecordCodeCache.
type MetricsRecorder interface {
	RecordCodeCache(removed *Removed, reinstrumented bool, liveEntries int)
}

// CodeCache implements upload/load/inc_ref/dec_ref over CodeStorage
// (spec.md §4.1). CodeStorage itself (the persisted code_hash -> PrefabModule
// map, refcounts included) is the single source of truth; the LRU of parsed
// handles is a pure performance layer that is never consulted when deciding
// whether a code_hash is still referenced.
type CodeCache struct {
	mu       sync.Mutex
	storage  map[CodeHash]*PrefabModule // CodeStorage
	pristine *pristineArchive
	parsed   *lru.Cache // CodeHash -> *PrefabModule, hot parsed-handle cache

	onRemoved func(Removed)
	metrics   MetricsRecorder
}

// Options configures a CodeCache's backing stores.
type Options struct {
	PristineDir      string // directory backing the append-only pristine archive
	HotCacheBytes    int    // fastcache byte budget for hot pristine reads
	ParsedCacheSize  int    // LRU entry count for parsed PrefabModule handles
	OnRemoved        func(Removed)
	// Metrics observes every Load call's hit/reinstrument outcome. Optional;
	// nil disables per-load observation entirely.
	Metrics MetricsRecorder
}

// New constructs a CodeCache backed by a billy append-only archive,
// a fastcache hot-byte front, and a golang-lru parsed-module cache.
func New(opts Options) (*CodeCache, error) {
	if opts.ParsedCacheSize <= 0 {
		opts.ParsedCacheSize = 256
	}
	if opts.HotCacheBytes <= 0 {
		opts.HotCacheBytes = 32 << 20
	}
	archive, err := newPristineArchive(opts.PristineDir, opts.HotCacheBytes)
	if err != nil {
		return nil, err
	}
	parsed, err := lru.New(opts.ParsedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("codecache: build parsed-module cache: %w", err)
	}
	return &CodeCache{
		storage:   make(map[CodeHash]*PrefabModule),
		pristine:  archive,
		parsed:    parsed,
		onRemoved: opts.OnRemoved,
		metrics:   opts.Metrics,
	}, nil
}

// recordLoad reports one Load call's outcome to the configured
// MetricsRecorder, if any. Caller must not hold c.mu.
func (c *CodeCache) recordLoad(reinstrumented bool) {
	if c.metrics == nil {
		return
	}
	c.mu.Lock()
	n := len(c.storage)
	c.mu.Unlock()
	c.metrics.RecordCodeCache(nil, reinstrumented, n)
}

func codeHashOf(pristine []byte) CodeHash {
	return crypto.Keccak256Hash(pristine)
}

// Upload validates and instruments code against schedule, returning its
// code_hash. A repeat upload of an already-known code_hash reuses the
// existing instrumented module and discards the supplied bytes
// (spec.md §4.1).
func (c *CodeCache) Upload(code []byte, schedule params.Schedule) (CodeHash, error) {
	hash := codeHashOf(code)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.storage[hash]; ok {
		_ = existing
		return hash, nil
	}

	instrumented, err := instrument(code, schedule)
	if err != nil {
		return CodeHash{}, err
	}
	if err := c.pristine.put(hash, code); err != nil {
		return CodeHash{}, err
	}

	module := &PrefabModule{
		CodeHash:        hash,
		Instrumented:    instrumented,
		OriginalLen:     uint32(len(code)),
		ScheduleVersion: schedule.Version,
		RefCount:        0,
	}
	c.storage[hash] = module
	c.parsed.Add(hash, module)
	return hash, nil
}

// Load returns hash's PrefabModule, charging meter for a weight
// proportional to code_len and reinstrumenting in place if the stored
// module predates the given schedule's version (spec.md §4.1: "load
// charges gas_meter for a weight proportional to code_len; if the stored
// Schedule version differs from the current one, the module is
// reinstrumented ... and replaced in place"). Reinstrumentation cost is
// charged to this call, never deferred, per the resolved lazy-
// reinstrumentation open question (spec.md §9).
func (c *CodeCache) Load(hash CodeHash, schedule params.Schedule, meter *gas.Meter) (*PrefabModule, error) {
	c.mu.Lock()
	module, ok := c.storage[hash]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("codecache: unknown code_hash %x", hash)
	}

	if err := meter.Charge("code_load", schedule.CostOfLoad(module.OriginalLen)); err != nil {
		return nil, err
	}

	if module.ScheduleVersion == schedule.Version {
		c.parsed.Add(hash, module)
		c.recordLoad(false)
		return module, nil
	}

	pristine, ok := c.pristine.get(hash)
	if !ok {
		return nil, fmt.Errorf("codecache: pristine code missing for %x", hash)
	}
	if err := meter.Charge("code_instrument", schedule.CostOfInstrument(uint32(len(pristine)))); err != nil {
		return nil, err
	}
	instrumented, err := instrument(pristine, schedule)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	module.Instrumented = instrumented
	module.ScheduleVersion = schedule.Version
	c.mu.Unlock()
	c.parsed.Add(hash, module)
	c.recordLoad(true)

	log.Debug("codecache: reinstrumented module on load", "code_hash", hash, "version", schedule.Version)
	return module, nil
}

// IncRef records an additional live Alive contract referencing hash.
func (c *CodeCache) IncRef(hash CodeHash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	module, ok := c.storage[hash]
	if !ok {
		return fmt.Errorf("codecache: unknown code_hash %x", hash)
	}
	module.RefCount++
	return nil
}

// DecRef drops one reference to hash, removing the cached bytes and
// signaling Removed once the count reaches zero (spec.md §4.1).
func (c *CodeCache) DecRef(hash CodeHash) error {
	c.mu.Lock()
	module, ok := c.storage[hash]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("codecache: unknown code_hash %x", hash)
	}
	if module.RefCount == 0 {
		c.mu.Unlock()
		return fmt.Errorf("codecache: dec_ref on zero-refcount code_hash %x", hash)
	}
	module.RefCount--
	removed := module.RefCount == 0
	if removed {
		delete(c.storage, hash)
		c.parsed.Remove(hash)
	}
	c.mu.Unlock()

	if removed {
		c.pristine.delete(hash)
		r := Removed{CodeHash: hash}
		if c.onRemoved != nil {
			c.onRemoved(r)
		}
		if c.metrics != nil {
			c.mu.Lock()
			n := len(c.storage)
			c.mu.Unlock()
			c.metrics.RecordCodeCache(&r, false, n)
		}
	}
	return nil
}

// OriginalLen returns the pristine byte length stored under hash, used by
// the rent engine's try_eviction to report code_len without charging any
// gas meter (spec.md §4.4 returns (_, code_len) even on a failed eviction).
func (c *CodeCache) OriginalLen(hash CodeHash) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.storage[hash]
	if !ok {
		return 0, false
	}
	return m.OriginalLen, true
}

// RefCount returns hash's current reference count, for metrics and tests.
func (c *CodeCache) RefCount(hash CodeHash) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.storage[hash]; ok {
		return m.RefCount
	}
	return 0
}

// Close releases the backing pristine archive.
func (c *CodeCache) Close() error {
	return c.pristine.close()
}
