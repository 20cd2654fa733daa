// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package module

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrRootRequired is returned when a root-only entry point (update_schedule)
// is dispatched from a non-root origin (spec.md §4.7).
var ErrRootRequired = errors.New("module: entry point requires root origin")

// OriginKind distinguishes the three call origins the dispatch surface
// accepts: a signed account, the chain's root/sudo origin, and the
// block-producer's own inherent origin (used for the unhandicapped,
// fee-free claim_surcharge path recovered from original_source -- spec.md
// §4.7 only names "signed or inherent").
type OriginKind uint8

const (
	OriginSigned OriginKind = iota
	OriginRoot
	OriginInherent
)

// Origin is the signed/root/inherent caller identity every dispatch entry
// point accepts (spec.md §4.7: "Entry points accept a signed origin").
type Origin struct {
	Kind    OriginKind
	Account common.Address // meaningful only when Kind == OriginSigned
}

// Signed constructs a signed Origin, the identity the wallet package's
// local signer produces for the CLI.
func Signed(account common.Address) Origin { return Origin{Kind: OriginSigned, Account: account} }

// Root is the privileged origin permitted to call update_schedule.
func Root() Origin { return Origin{Kind: OriginRoot} }

// Inherent is the block-producer's own origin, used for the unsigned,
// unhandicapped claim_surcharge path.
func Inherent() Origin { return Origin{Kind: OriginInherent} }

// requireRoot enforces update_schedule's root-only restriction.
func (o Origin) requireRoot() error {
	if o.Kind != OriginRoot {
		return ErrRootRequired
	}
	return nil
}

// signer returns the account this origin dispatches as. Root and inherent
// origins have no account of their own and dispatch as the zero address;
// neither entry point that accepts them performs a balance-bearing call as
// that origin (update_schedule touches no balance, and claim_surcharge pays
// its reward to the auxSender argument, not the origin itself, when
// inherent).
func (o Origin) signer() common.Address {
	if o.Kind == OriginSigned {
		return o.Account
	}
	return common.Address{}
}
