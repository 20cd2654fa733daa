// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package vm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveAddress computes new_address = H(deploying_address || code_hash ||
// salt), a pure function of its three inputs that MUST be identical
// across re-executions (spec.md §4.6).
func DeriveAddress(deployer common.Address, codeHash common.Hash, salt []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256(deployer.Bytes(), codeHash.Bytes(), salt)[12:])
}
