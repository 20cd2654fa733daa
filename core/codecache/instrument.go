// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package codecache

import (
	"encoding/binary"
	"errors"

	"github.com/wasmchain/contracts/params"
)

// ErrCodeTooLarge is returned when the instrumented image exceeds the
// schedule's MaxCodeSize (spec.md §4.1: "fails with CodeTooLarge
// (post-instrumentation)").
var ErrCodeTooLarge = errors.New("codecache: code too large")

// ErrCodeRejected is returned when the pristine bytes fail validation
// (spec.md §4.1: "CodeRejected, or an explicit decode error").
var ErrCodeRejected = errors.New("codecache: code rejected")

var wasmMagic = [4]byte{0x00, 0x61, 0x73, 0x6d}

// instrument validates pristine against schedule and produces the
// instrumented image gas-metering and storage-cost host calls execute
// against. No WASM-level instrumentation pass (injecting gas metering at
// basic-block boundaries, rewriting memory-grow checks) exists in this
// module: the Executable is built from the PrefabModule by the externally
// supplied ExecutionContext.ExecutableLoader. This layer's job per
// spec.md §4.1 is bookkeeping: validate-or-reject, measure the resulting
// size against the schedule, and stamp the schedule version the image was
// built against so load can detect staleness.
func instrument(pristine []byte, schedule params.Schedule) ([]byte, error) {
	if len(pristine) < 8 || [4]byte(pristine[:4]) != wasmMagic {
		return nil, ErrCodeRejected
	}
	if uint32(len(pristine)) > schedule.Limits.MaxCodeSize {
		return nil, ErrCodeTooLarge
	}

	out := make([]byte, 0, len(pristine)+8)
	var header [8]byte
	binary.LittleEndian.PutUint32(header[:4], schedule.Version)
	binary.LittleEndian.PutUint32(header[4:], uint32(len(pristine)))
	out = append(out, header[:]...)
	out = append(out, pristine...)

	if uint32(len(out)) > schedule.Limits.MaxCodeSize {
		return nil, ErrCodeTooLarge
	}
	return out, nil
}
