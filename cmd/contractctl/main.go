// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Command contractctl is the CLI entry point described in SPEC_FULL.md §2:
// every dispatch-surface entry point reachable in-process, no network,
// plus the node's optional metrics/query-RPC/healthz server mode.
// Grounded on cmd/abigen/main.go's urfave/cli/v2 app-and-flags shape
// (DESIGN.md).
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wasmchain/contracts/module"
	"github.com/wasmchain/contracts/wallet"
)

var (
	configFlag = &cli.StringFlag{Name: "config", Usage: "path to a contractctl config file (YAML)"}
	logFileFlag = &cli.StringFlag{Name: "log-file", Usage: "rotate logs to this file via lumberjack instead of stderr"}
	verboseFlag = &cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "print the full wrapped error chain on failure"}
)

func main() {
	app := &cli.App{
		Name:  "contractctl",
		Usage: "deterministic WASM smart-contract execution module CLI",
		Flags: []cli.Flag{configFlag, logFileFlag, verboseFlag},
		Commands: []*cli.Command{
			accountCmd,
			uploadCmd,
			instantiateCmd,
			callCmd,
			claimSurchargeCmd,
			updateScheduleCmd,
			infoCmd,
			listCmd,
			tickCmd,
			serveCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context) {
	if path := c.String(logFileFlag.Name); path != "" {
		// gopkg.in/natefinch/lumberjack.v2 rotates the node's log file
		// (SPEC_FULL.md §2 "Configuration": "lumberjack.v2 as the
		// rotating file sink for the CLI node").
		sink := &lumberjack.Logger{Filename: path, MaxSize: 64, MaxBackups: 5, MaxAge: 28, Compress: true}
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(sink, log.LevelInfo, false)))
	}
}

func loadNode(c *cli.Context) (*Node, *ConfigManager, error) {
	setupLogging(c)
	cm, err := LoadConfig(c.String(configFlag.Name), nil)
	if err != nil {
		return nil, nil, err
	}
	n, err := NewNode(cm.Current())
	if err != nil {
		return nil, nil, err
	}
	return n, cm, nil
}

func wrapErr(c *cli.Context, label string, err error) error {
	if err == nil {
		return nil
	}
	if c.Bool(verboseFlag.Name) {
		return fmt.Errorf("%s: %w", label, err)
	}
	return fmt.Errorf("%s: %v", label, err)
}

var accountCmd = &cli.Command{
	Name:  "account",
	Usage: "local wallet operations (mnemonic + ECDSA signer)",
	Subcommands: []*cli.Command{
		{
			Name:  "create",
			Usage: "generate a fresh mnemonic-derived signing account",
			Action: func(c *cli.Context) error {
				acct, err := wallet.New()
				if err != nil {
					return wrapErr(c, "account create", err)
				}
				fmt.Println("address: ", acct.Address().Hex())
				fmt.Println("mnemonic:", acct.Mnemonic)
				return nil
			},
		},
		{
			Name:      "import",
			Usage:     "recover a signing account from a mnemonic",
			ArgsUsage: "<mnemonic...>",
			Action: func(c *cli.Context) error {
				acct, err := wallet.FromMnemonic(c.Args().First())
				if err != nil {
					return wrapErr(c, "account import", err)
				}
				fmt.Println("address:", acct.Address().Hex())
				return nil
			},
		},
	},
}

var (
	originFlag    = &cli.StringFlag{Name: "origin", Usage: "caller address (hex)", Required: true}
	gasLimitFlag  = &cli.Uint64Flag{Name: "gas-limit", Usage: "gas limit for this dispatch", Value: 10_000_000}
	valueFlag     = &cli.StringFlag{Name: "value", Usage: "value transferred, in wei", Value: "0"}
	codeFileFlag  = &cli.StringFlag{Name: "code", Usage: "path to the WASM code blob", Required: true}
	codeHashFlag  = &cli.StringFlag{Name: "code-hash", Usage: "previously uploaded code_hash (hex)"}
	dataHexFlag   = &cli.StringFlag{Name: "data", Usage: "call/deploy input, hex-encoded"}
	saltHexFlag   = &cli.StringFlag{Name: "salt", Usage: "instantiation salt, hex-encoded"}
	destFlag      = &cli.StringFlag{Name: "dest", Usage: "destination contract address (hex)", Required: true}
	auxSenderFlag = &cli.StringFlag{Name: "aux-sender", Usage: "reward claimant address for a root/inherent claim-surcharge (hex)"}
)

func parseUint256(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return v, nil
}

func parseHexBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

var uploadCmd = &cli.Command{
	Name:  "upload",
	Usage: "instantiate_with_code: upload and deploy a fresh contract",
	Flags: []cli.Flag{originFlag, gasLimitFlag, valueFlag, codeFileFlag, dataHexFlag, saltHexFlag},
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "upload", err)
		}
		code, err := os.ReadFile(c.String(codeFileFlag.Name))
		if err != nil {
			return wrapErr(c, "upload", err)
		}
		endowment, err := parseUint256(c.String(valueFlag.Name))
		if err != nil {
			return wrapErr(c, "upload", err)
		}
		data, err := parseHexBytes(c.String(dataHexFlag.Name))
		if err != nil {
			return wrapErr(c, "upload", err)
		}
		salt, err := parseHexBytes(c.String(saltHexFlag.Name))
		if err != nil {
			return wrapErr(c, "upload", err)
		}
		origin := module.Signed(common.HexToAddress(c.String(originFlag.Name)))
		n.Fund(origin.Account, endowment)
		outcome := n.Module.InstantiateWithCode(origin, endowment, c.Uint64(gasLimitFlag.Name), code, data, salt)
		n.FlushEvents()
		return printOutcome(outcome)
	},
}

var instantiateCmd = &cli.Command{
	Name:  "instantiate",
	Usage: "instantiate: deploy from an already-uploaded code_hash",
	Flags: []cli.Flag{originFlag, gasLimitFlag, valueFlag, codeHashFlag, dataHexFlag, saltHexFlag},
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "instantiate", err)
		}
		endowment, err := parseUint256(c.String(valueFlag.Name))
		if err != nil {
			return wrapErr(c, "instantiate", err)
		}
		data, err := parseHexBytes(c.String(dataHexFlag.Name))
		if err != nil {
			return wrapErr(c, "instantiate", err)
		}
		salt, err := parseHexBytes(c.String(saltHexFlag.Name))
		if err != nil {
			return wrapErr(c, "instantiate", err)
		}
		origin := module.Signed(common.HexToAddress(c.String(originFlag.Name)))
		n.Fund(origin.Account, endowment)
		outcome := n.Module.Instantiate(origin, endowment, c.Uint64(gasLimitFlag.Name), common.HexToHash(c.String(codeHashFlag.Name)), data, salt)
		n.FlushEvents()
		return printOutcome(outcome)
	},
}

var callCmd = &cli.Command{
	Name:  "call",
	Usage: "call: invoke an existing contract",
	Flags: []cli.Flag{originFlag, gasLimitFlag, valueFlag, destFlag, dataHexFlag},
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "call", err)
		}
		value, err := parseUint256(c.String(valueFlag.Name))
		if err != nil {
			return wrapErr(c, "call", err)
		}
		data, err := parseHexBytes(c.String(dataHexFlag.Name))
		if err != nil {
			return wrapErr(c, "call", err)
		}
		origin := module.Signed(common.HexToAddress(c.String(originFlag.Name)))
		outcome := n.Module.Call(origin, common.HexToAddress(c.String(destFlag.Name)), value, c.Uint64(gasLimitFlag.Name), data)
		n.FlushEvents()
		return printOutcome(outcome)
	},
}

var claimSurchargeCmd = &cli.Command{
	Name:  "claim-surcharge",
	Usage: "claim_surcharge: force-evict a rent-delinquent contract for a reward",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: originFlag.Name, Usage: originFlag.Usage},
		destFlag,
		auxSenderFlag,
		&cli.BoolFlag{Name: "inherent", Usage: "dispatch as the unhandicapped, fee-free block-producer origin instead of a signed account"},
	},
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "claim-surcharge", err)
		}
		origin := module.Signed(common.HexToAddress(c.String(originFlag.Name)))
		if c.Bool("inherent") {
			origin = module.Inherent()
		}
		auxSender := common.HexToAddress(c.String(auxSenderFlag.Name))
		outcome := n.Module.ClaimSurcharge(origin, common.HexToAddress(c.String(destFlag.Name)), auxSender)
		n.FlushEvents()
		return printOutcome(outcome)
	},
}

var updateScheduleCmd = &cli.Command{
	Name:  "update-schedule",
	Usage: "update_schedule: bump the cost table version (root only)",
	Flags: []cli.Flag{&cli.Uint64Flag{Name: "version", Required: true}},
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "update-schedule", err)
		}
		schedule := n.Module.CurrentSchedule()
		schedule.Version = uint32(c.Uint64("version"))
		if err := n.Module.UpdateSchedule(module.Root(), schedule); err != nil {
			return wrapErr(c, "update-schedule", err)
		}
		fmt.Println("schedule version:", schedule.Version)
		return nil
	},
}

var infoCmd = &cli.Command{
	Name:      "info",
	Usage:     "print a single contract's ContractInfo",
	ArgsUsage: "<address>",
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "info", err)
		}
		addr := common.HexToAddress(c.Args().First())
		info, ok := n.Module.ContractInfo(addr)
		if !ok {
			return fmt.Errorf("info: no contract at %s", addr.Hex())
		}
		renderRows([]ContractRow{rowOf(addr, info)})
		return nil
	},
}

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "list every known contract, optionally filtered with go-bexpr",
	Flags: []cli.Flag{&cli.StringFlag{Name: "filter"}},
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "list", err)
		}
		rows := make([]ContractRow, 0, len(n.Module.Addresses()))
		for _, addr := range n.Module.Addresses() {
			info, ok := n.Module.ContractInfo(addr)
			if !ok {
				continue
			}
			rows = append(rows, rowOf(addr, info))
		}
		rows, err = filterRows(rows, c.String("filter"))
		if err != nil {
			return wrapErr(c, "list", err)
		}
		sortRows(rows)
		renderRows(rows)
		return nil
	},
}

var tickCmd = &cli.Command{
	Name:  "tick",
	Usage: "drive one on_initialize block hook, draining the deletion queue",
	Action: func(c *cli.Context) error {
		n, _, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "tick", err)
		}
		result := n.Tick()
		fmt.Printf("drained=%d weight_consumed=%d\n", result.Drained, result.WeightConsumed)
		return nil
	},
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the metrics/healthz/query-RPC server (no dispatch entry points)",
	Action: func(c *cli.Context) error {
		n, cm, err := loadNode(c)
		if err != nil {
			return wrapErr(c, "serve", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		cfg := cm.Current()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/rpc", n.Query)
			mux.HandleFunc("/ws", n.Query.ServeWebsocket)
			srv := &http.Server{Addr: cfg.RPCAddr, Handler: mux}
			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("contractctl: query RPC server stopped", "err", err)
			}
		}()

		log.Info("contractctl: serving", "metrics", cfg.MetricsAddr, "rpc", cfg.RPCAddr)
		return n.ServeMetricsAndHealth(ctx, cfg.MetricsAddr)
	},
}

func printOutcome(o module.DispatchOutcome) error {
	fmt.Println("request_id:     ", o.RequestID)
	fmt.Println("gas_consumed:   ", o.Result.GasConsumed)
	fmt.Println("pays_fee:       ", o.PaysFee)
	if (o.ContractAddress != common.Address{}) {
		fmt.Println("contract:       ", o.ContractAddress.Hex())
	}
	if o.Return.Reverted {
		fmt.Println("reverted:        true")
	}
	if len(o.Return.Data) > 0 {
		fmt.Println("return_data:    ", hex.EncodeToString(o.Return.Data))
	}
	if o.Result.Err != nil {
		return fmt.Errorf("dispatch failed: %w", o.Result.Err)
	}
	return nil
}
