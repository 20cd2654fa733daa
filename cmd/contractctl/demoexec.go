// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/vm"
)

// demoExecutable is a stand-in for the real WASM interpreter spec.md §1
// deliberately keeps out of this module's hard core ("the WebAssembly
// instrumentation/validation and host-function interpreter ... specified
// only as an interface"). It gives the CLI something concrete to drive
// through ExecutionContext end-to-end without bringing in a sandboxed
// WASM runtime: on deploy it writes its input under storage key zero; on
// call it echoes back whatever is currently stored there.
type demoExecutable struct{}

var storageKeyZero common.Hash

func (demoExecutable) Execute(host vm.Host, entryPoint vm.EntryPoint, input []byte) (vm.ExecReturn, error) {
	in, err := host.Input()
	if err != nil {
		return vm.ExecReturn{}, err
	}

	switch entryPoint {
	case vm.EntryDeploy:
		if err := host.SetStorage(storageKeyZero, in); err != nil {
			return vm.ExecReturn{}, err
		}
		return host.Return(0, in), nil
	default:
		stored, _, err := host.GetStorage(storageKeyZero)
		if err != nil {
			return vm.ExecReturn{}, err
		}
		return host.Return(0, stored), nil
	}
}

// demoExecutableLoader adapts codecache.PrefabModule into the demo
// Executable above, wired as module.Deps.ExecutableLoader for the CLI
// node (SPEC_FULL.md §1: the real instrumentation/interpreter pairing
// stays a pure interface boundary; this loader is the simplest
// implementation that satisfies it).
func demoExecutableLoader(*codecache.PrefabModule) (vm.Executable, error) {
	return demoExecutable{}, nil
}
