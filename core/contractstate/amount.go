// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package contractstate

import "github.com/holiman/uint256"

// uint256Amount is a thin alias kept local to this package so call sites in
// types.go read as "money/rent amount" rather than the library type
// directly; everywhere else in the module spells out uint256.Int, this
// alias exists only because AliveContractInfo is a spec.md-defined record
// whose field names must match the spec and the Go vet-friendly name would
// otherwise collide with the import.
type uint256Amount = uint256.Int

// cloneAmount returns a copy of a, treating a nil pointer as the zero amount so
// callers never need a nil check before cloning an AliveContractInfo.
func cloneAmount(a *uint256Amount) *uint256Amount {
	if a == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(a)
}
