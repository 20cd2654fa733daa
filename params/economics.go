// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package params

import "github.com/holiman/uint256"

// RentParams is the economic parameter set the rent engine consults
// (spec.md §4.4). Unlike Schedule it is not versioned by update_schedule;
// it changes only by a runtime migration (spec.md §7).
type RentParams struct {
	ExistentialDeposit    *uint256.Int
	TombstoneDeposit      *uint256.Int
	DepositPerContract    *uint256.Int
	DepositPerStorageByte *uint256.Int
	DepositPerStorageItem *uint256.Int
	// RentFractionNum/Den express RentFraction as a rational so the
	// engine's arithmetic stays exact uint256 math, never a float.
	RentFractionNum *uint256.Int
	RentFractionDen *uint256.Int
	SurchargeReward *uint256.Int
}

// SubsistenceThreshold is existential_deposit + TombstoneDeposit
// (spec.md §4.4).
func (r RentParams) SubsistenceThreshold() *uint256.Int {
	return new(uint256.Int).Add(r.ExistentialDeposit, r.TombstoneDeposit)
}

// DefaultRentParams returns a reasonable starting RentParams for a fresh
// chain.
func DefaultRentParams() RentParams {
	return RentParams{
		ExistentialDeposit:    uint256.NewInt(1_000),
		TombstoneDeposit:      uint256.NewInt(16_000),
		DepositPerContract:    uint256.NewInt(10_000),
		DepositPerStorageByte: uint256.NewInt(1),
		DepositPerStorageItem: uint256.NewInt(100),
		RentFractionNum:       uint256.NewInt(1),
		RentFractionDen:       uint256.NewInt(1_000_000),
		SurchargeReward:       uint256.NewInt(500),
	}
}

// BlockParams bounds the block hook's per-block work (spec.md §4.7/§5/§8
// invariant 5) and the unsigned-vs-signed claim_surcharge handicap
// (spec.md §4.7, §8 scenario 4).
type BlockParams struct {
	// MaxBlockWeight is the total weight budget of one block.
	MaxBlockWeight uint64
	// DeletionWeightLimit caps how much of MaxBlockWeight on_initialize may
	// spend draining the deletion queue, independent of what extrinsics
	// later in the block consume.
	DeletionWeightLimit uint64
	// WeightPerStorageKey is charged per key the deletion queue clears.
	WeightPerStorageKey uint64
	// MaxKeysPerDeletionEntry caps how many keys the deletion queue clears
	// from one entry between two checks of the weight budget, which bounds
	// how far a tick can run past that budget.
	MaxKeysPerDeletionEntry int
	// SignedClaimHandicap is subtracted from the current block number
	// before assessing rent in a signed claim_surcharge, giving the
	// claimant a window in which an honest miss is not penalized; an
	// inherent (unsigned) claim uses no handicap.
	SignedClaimHandicap uint64
}

// DefaultBlockParams returns a reasonable starting BlockParams.
func DefaultBlockParams() BlockParams {
	return BlockParams{
		MaxBlockWeight:          40_000_000,
		DeletionWeightLimit:     4_000_000,
		WeightPerStorageKey:     1_000,
		MaxKeysPerDeletionEntry: 128,
		SignedClaimHandicap:     8,
	}
}
