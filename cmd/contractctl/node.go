// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"golang.org/x/sync/errgroup"

	"github.com/wasmchain/contracts/core/codecache"
	"github.com/wasmchain/contracts/core/contractstate"
	"github.com/wasmchain/contracts/core/currency"
	"github.com/wasmchain/contracts/core/vm"
	"github.com/wasmchain/contracts/metrics"
	"github.com/wasmchain/contracts/module"
	"github.com/wasmchain/contracts/params"
	"github.com/wasmchain/contracts/rpcquery"
)

// Node bundles a Module with the ambient side processes SPEC_FULL.md §5
// keeps deliberately isolated from the deterministic dispatch path: the
// metrics collector, the query RPC/websocket server, and a clock/
// block-number pair driven by the CLI's own `tick` subcommand rather than
// a real consensus engine (spec.md §1 names block-number/time sources as
// external collaborators; this node supplies the simplest correct one).
type Node struct {
	Module  *module.Module
	Metrics *metrics.Collector
	Query   *rpcquery.Server

	ledger *currency.Ledger
	block  *blockClock

	publishMu    sync.Mutex
	publishedIdx int
}

// blockClock is the minimal BlockNumberSource/TimeSource pair: block
// height advances only when the CLI's `tick` subcommand runs OnInitialize,
// and wall-clock time is the process's real clock (spec.md §1: "time
// source" as an external collaborator).
type blockClock struct {
	height uint64
}

func (b *blockClock) Number() uint64 { return b.height }
func (b *blockClock) now() uint64    { return uint64(time.Now().Unix()) }
func (b *blockClock) advance()       { b.height++ }

// NewNode wires every component SPEC_FULL.md §2 names into one process:
// Storage, CodeCache (via module.Deps), the rent engine, a metrics
// Collector feeding every gas.Meter this module ever constructs, and a
// rpcquery.Server over the resulting Module.
func NewNode(cfg Config) (*Node, error) {
	ledger := currency.NewLedger()
	block := &blockClock{}

	rentParams := params.DefaultRentParams()
	rentParams.ExistentialDeposit = uint256.NewInt(cfg.ExistentialDeposit)
	rentParams.TombstoneDeposit = uint256.NewInt(cfg.TombstoneDeposit)
	rentParams.DepositPerContract = uint256.NewInt(cfg.DepositPerContract)
	rentParams.DepositPerStorageByte = uint256.NewInt(cfg.DepositPerStorageByte)
	rentParams.DepositPerStorageItem = uint256.NewInt(cfg.DepositPerStorageItem)
	rentParams.SurchargeReward = uint256.NewInt(cfg.SurchargeReward)

	schedule := params.Default()
	schedule.Version = cfg.ScheduleVersion

	mcol := metrics.New()

	deps := module.Deps{
		Storage: contractstate.NewStorage(),
		CodeCacheOptions: codecache.Options{
			PristineDir:     cfg.DataDir + "/pristine",
			HotCacheBytes:   32 << 20,
			ParsedCacheSize: 256,
		},
		Counter:       &contractstate.AccountCounter{},
		Deletions:     contractstate.NewDeletionQueue(cfg.DeletionQueueDepth),
		Currency:      ledger,
		RentParams:    rentParams,
		BlockParams:   params.DefaultBlockParams(),
		Schedule:      schedule,
		TreasuryAddr:  common.HexToAddress("0x000000000000000000000000000000000000fee"),
		BlockNumber:      block.Number,
		Random:           fakeRandom,
		Clock:            block.now,
		ExecutableLoader: demoExecutableLoader,
		EventRingSize:    4096,
		Metrics:          mcol,
	}

	m, err := module.NewModule(deps)
	if err != nil {
		return nil, fmt.Errorf("contractctl: build module: %w", err)
	}

	query, err := rpcquery.New(m, cfg.RPCRateLimit, cfg.RPCBurst)
	if err != nil {
		return nil, fmt.Errorf("contractctl: build query server: %w", err)
	}

	return &Node{Module: m, Metrics: mcol, Query: query, ledger: ledger, block: block}, nil
}

// fakeRandom stands in for the chain's randomness source (spec.md §1),
// deterministic only in the sense that tests supply their own.
func fakeRandom(subject []byte) (common.Hash, uint64) {
	return common.BytesToHash(subject), 0
}

// Fund credits addr for CLI testing/demo purposes (the upload and
// instantiate subcommands fund the origin with the endowment first);
// a real chain would route this through its own balance module's genesis
// or a prior transfer, which spec.md §1 keeps external to this module.
func (n *Node) Fund(addr common.Address, amount *uint256.Int) {
	n.ledger.Deposit(addr, amount)
}

// FlushEvents publishes every LifecycleEvent appended since the last call
// to every connected websocket subscriber (rpcquery.Server.Publish), the
// bridge between the in-memory ring buffer a dispatch entry point appends
// to and the push channel SPEC_FULL.md §6 promises subscribers. It is the
// CLI's own responsibility to call this after a command that may have
// emitted events, since module.Module itself never reaches into an
// unrelated transport package (spec.md §5's side-process isolation).
func (n *Node) FlushEvents() {
	n.publishMu.Lock()
	defer n.publishMu.Unlock()
	all := n.Module.Events()
	if n.publishedIdx > len(all) {
		// The ring buffer trimmed older entries than our cursor remembers.
		n.publishedIdx = 0
	}
	for _, e := range all[n.publishedIdx:] {
		n.Query.Publish(e)
	}
	n.publishedIdx = len(all)
}

// Tick drives one on_initialize block hook and advances the clock
// (`contractctl tick`).
func (n *Node) Tick() contractstate.ProcessBatchResult {
	n.block.advance()
	result := n.Module.OnInitialize(0)
	n.Metrics.RecordDeletionBatch(n.Module.DeletionQueueLen(), result.WeightConsumed)
	return result
}

// Warmup prefetches codeHashes into the code cache's hot layers
// concurrently at startup. This is purely advisory performance work, never
// on the consensus/dispatch path: a failed prefetch is logged and
// ignored, never surfaced as a node startup error (SPEC_FULL.md §2
// "Non-consensus warmup").
func (n *Node) Warmup(ctx context.Context, codeHashes []common.Hash) {
	if len(codeHashes) == 0 {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, h := range codeHashes {
		h := h
		g.Go(func() error {
			if _, err := n.loaderProbe(h); err != nil {
				log.Debug("contractctl: warmup prefetch skipped", "code_hash", h, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	_ = ctx
}

func (n *Node) loaderProbe(h common.Hash) (*codecache.PrefabModule, error) {
	// WarmupLoad uses a throwaway, generously sized meter: warmup never
	// competes for real dispatch gas. It puts the entry into the
	// parsed-module LRU; the pristine archive is read only when the stored
	// module needs reinstrumenting.
	return n.Module.WarmupLoad(h)
}

// ServeMetricsAndHealth starts the /metrics and /healthz HTTP endpoints
// (SPEC_FULL.md §6) and blocks until ctx is cancelled.
func (n *Node) ServeMetricsAndHealth(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", n.Metrics.Handler())
	mux.HandleFunc("/healthz", n.healthzHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// healthResponse is the /healthz JSON payload: host CPU/memory stats from
// gopsutil plus the node's own block height (SPEC_FULL.md §6 "/healthz
// (JSON, includes gopsutil host stats)").
type healthResponse struct {
	BlockHeight  uint64  `json:"block_height"`
	CPUPercent   float64 `json:"cpu_percent"`
	MemUsedBytes uint64  `json:"mem_used_bytes"`
	MemTotal     uint64  `json:"mem_total_bytes"`
}

func (n *Node) healthzHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{BlockHeight: n.block.Number()}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		resp.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedBytes = vm.Used
		resp.MemTotal = vm.Total
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

var _ vm.RandomSource = fakeRandom
