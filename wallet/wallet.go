// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package wallet is the minimal local signer standing in for "the outer
// transaction dispatch layer" spec.md §1 keeps out of the hard core
// (SPEC_FULL.md §2): it only ever produces a signed origin for the CLI, and
// performs no fee deduction or event plumbing of its own. Grounded on the
// teacher's own crypto usage (go-ethereum/crypto ECDSA keys) plus
// tyler-smith/go-bip39 for the mnemonic recovery phrase, the same pairing
// used by most Ethereum-style wallet CLIs in the retrieval pack's wider
// ecosystem (DESIGN.md).
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/wasmchain/contracts/module"
)

// ErrInvalidMnemonic is returned when a recovery phrase fails bip39
// checksum validation.
var ErrInvalidMnemonic = errors.New("wallet: invalid mnemonic")

// Account is a local mnemonic-derived ECDSA signing key.
type Account struct {
	Mnemonic string
	key      *ecdsa.PrivateKey
	address  common.Address
}

// New generates a fresh 24-word mnemonic and derives an Account from it
// (contractctl's `account create`).
func New() (*Account, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, fmt.Errorf("wallet: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive mnemonic: %w", err)
	}
	return FromMnemonic(mnemonic)
}

// FromMnemonic recovers an Account from a previously generated mnemonic
// (contractctl's `account import`).
func FromMnemonic(mnemonic string) (*Account, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")
	// The first 32 bytes of the bip39 seed, reduced onto the secp256k1
	// curve, is a deterministic-enough local signing key for a CLI tool;
	// a full BIP-32/BIP-44 HD path is out of scope for this module's
	// minimal signer.
	key, err := crypto.ToECDSA(seed[:32])
	if err != nil {
		return nil, fmt.Errorf("wallet: derive key: %w", err)
	}
	return &Account{
		Mnemonic: mnemonic,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account's on-chain address.
func (a *Account) Address() common.Address { return a.address }

// Sign produces an ECDSA signature over digest (32 bytes), the shape a
// real outer dispatch layer would verify before constructing a
// module.Signed origin; this module never checks the signature itself
// (spec.md §1 keeps signature checking out of the hard core).
func (a *Account) Sign(digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], a.key)
}

// Origin returns the module.Origin this account dispatches as.
func (a *Account) Origin() module.Origin {
	return module.Signed(a.address)
}
