// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-bexpr"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/exp/slices"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wasmchain/contracts/core/contractstate"
)

// ContractRow flattens one address's ContractInfo into the shape
// `contractctl list --filter '...'` evaluates against via go-bexpr
// (SPEC_FULL.md §2 "CLI filtering") and renders as one tablewriter row.
// Field names double as bexpr selector names, so they're exported and
// tagged explicitly rather than relying on go-bexpr's default casing.
type ContractRow struct {
	Address     string `bexpr:"address"`
	Alive       bool   `bexpr:"alive"`
	Tombstoned  bool   `bexpr:"tombstoned"`
	StorageSize uint32 `bexpr:"storage_size"`
	PairCount   uint32 `bexpr:"pair_count"`
	DeductBlock uint64 `bexpr:"deduct_block"`
	CodeHash    string `bexpr:"code_hash"`
}

func rowOf(addr common.Address, info contractstate.ContractInfo) ContractRow {
	row := ContractRow{Address: addr.Hex()}
	switch info.Kind {
	case contractstate.KindAlive:
		row.Alive = true
		row.StorageSize = info.Alive.StorageSize
		row.PairCount = info.Alive.PairCount
		row.DeductBlock = info.Alive.DeductBlock
		row.CodeHash = info.Alive.CodeHash.Hex()
	case contractstate.KindTombstone:
		row.Tombstoned = true
		row.CodeHash = info.Tombstone.Digest.Hex()
	}
	return row
}

// filterRows applies an optional go-bexpr boolean expression to rows,
// returning every row when expr is empty.
func filterRows(rows []ContractRow, expr string) ([]ContractRow, error) {
	if expr == "" {
		return rows, nil
	}
	eval, err := bexpr.CreateEvaluator(expr)
	if err != nil {
		return nil, fmt.Errorf("contractctl: invalid --filter expression: %w", err)
	}
	out := rows[:0:0]
	for _, r := range rows {
		matched, err := eval.Evaluate(r)
		if err != nil {
			return nil, fmt.Errorf("contractctl: evaluate filter: %w", err)
		}
		if matched {
			out = append(out, r)
		}
	}
	return out, nil
}

// sortRows orders rows by address for deterministic CLI/RPC listing
// output (SPEC_FULL.md §2 "Generics helpers": golang.org/x/exp/slices,
// display-only, never in the deterministic execution path).
func sortRows(rows []ContractRow) {
	slices.SortFunc(rows, func(a, b ContractRow) int { return strings.Compare(a.Address, b.Address) })
}

// stdoutWriter returns a colorable writer when stdout is a terminal and
// the plain file handle otherwise; NO_COLOR is not consulted (SPEC_FULL.md
// §2 "CLI rendering").
func stdoutWriter() io.Writer {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return os.Stdout
	}
	return colorable.NewColorableStdout()
}

// renderRows prints rows as an aligned table.
func renderRows(rows []ContractRow) {
	w := stdoutWriter()
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Address", "Alive", "Tombstoned", "Storage Size", "Pair Count", "Deduct Block", "Code Hash"})
	printer := message.NewPrinter(language.English)
	for _, r := range rows {
		table.Append([]string{
			r.Address,
			fmt.Sprint(r.Alive),
			fmt.Sprint(r.Tombstoned),
			printer.Sprintf("%d", r.StorageSize),
			printer.Sprintf("%d", r.PairCount),
			printer.Sprintf("%d", r.DeductBlock),
			r.CodeHash,
		})
	}
	table.Render()
}
