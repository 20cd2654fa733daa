// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package module

import (
	"github.com/ethereum/go-ethereum/log"

	"github.com/wasmchain/contracts/core/contractstate"
)

// OnInitialize implements the block hook described in spec.md §4.7/§5:
// drains the deletion queue, spending at most
// min(DeletionWeightLimit, maxBlockWeight - alreadyConsumed) weight
// (spec.md §5: "Block hook concurrency budget"); leftover work resumes on
// the next call (spec.md §8 invariant 5).
func (m *Module) OnInitialize(alreadyConsumed uint64) contractstate.ProcessBatchResult {
	budget := m.blockParams.DeletionWeightLimit
	if alreadyConsumed >= m.blockParams.MaxBlockWeight {
		budget = 0
	} else if headroom := m.blockParams.MaxBlockWeight - alreadyConsumed; headroom < budget {
		budget = headroom
	}

	result := m.deletions.ProcessBatch(m.storage, budget, m.blockParams.WeightPerStorageKey, m.blockParams.MaxKeysPerDeletionEntry)
	if result.Drained > 0 {
		log.Debug("module: on_initialize drained deletion queue", "drained", result.Drained, "weight_consumed", result.WeightConsumed)
	}
	return result
}

// DeletionQueueLen reports the current length of the lazy sub-trie
// deletion queue, for metrics and the CLI.
func (m *Module) DeletionQueueLen() int {
	return m.deletions.Len()
}

// Close releases the module's owned resources (the code cache's backing
// archive).
func (m *Module) Close() error {
	return m.codes.Close()
}
