// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codecache implements the content-addressed, reference-counted
// instrumented-code store described in spec.md §4.1: a code_hash keyed map
// from pristine bytes to an instrumented PrefabModule, shared by reference
// across every Alive contract built from the same image.
package codecache

import "github.com/ethereum/go-ethereum/common"

// CodeHash is the content address of a contract's pristine code, and the
// key into both PristineCode and CodeStorage (spec.md §3).
type CodeHash = common.Hash

// PrefabModule is the instrumented WASM image plus metadata stored under
// code_hash (spec.md §3): "instrumented WASM image plus metadata: original
// code length, reference count of live contracts. Invariant: removed from
// CodeCache iff reference count reaches zero."
type PrefabModule struct {
	CodeHash         CodeHash
	Instrumented     []byte
	OriginalLen      uint32
	ScheduleVersion  uint32
	RefCount         uint32
}

// Clone returns a value safe to hand to a caller without aliasing the
// cache's own backing array.
func (p *PrefabModule) Clone() *PrefabModule {
	cp := *p
	cp.Instrumented = append([]byte(nil), p.Instrumented...)
	return &cp
}
