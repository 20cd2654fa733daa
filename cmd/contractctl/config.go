// (c) 2024, wasmchain contributors. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wasmchain/contracts/params"
)

// Config is the node's non-consensus-critical configuration: which bits
// of params.Schedule/RentParams/BlockParams to seed a fresh chain state
// with, plus operational knobs (log level, listen addresses) that the
// fsnotify watcher may hot-reload without restarting the process
// (SPEC_FULL.md §2 "Configuration").
type Config struct {
	LogLevel     string `mapstructure:"log_level"`
	DataDir      string `mapstructure:"data_dir"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
	RPCAddr      string `mapstructure:"rpc_addr"`
	RPCRateLimit float64 `mapstructure:"rpc_rate_limit"`
	RPCBurst     int    `mapstructure:"rpc_burst"`

	ScheduleVersion uint32 `mapstructure:"schedule_version"`

	ExistentialDeposit    uint64 `mapstructure:"existential_deposit"`
	TombstoneDeposit      uint64 `mapstructure:"tombstone_deposit"`
	DepositPerContract    uint64 `mapstructure:"deposit_per_contract"`
	DepositPerStorageByte uint64 `mapstructure:"deposit_per_storage_byte"`
	DepositPerStorageItem uint64 `mapstructure:"deposit_per_storage_item"`
	SurchargeReward       uint64 `mapstructure:"surcharge_reward"`

	DeletionQueueDepth int `mapstructure:"deletion_queue_depth"`
}

func defaultConfig() Config {
	rp := params.DefaultRentParams()
	return Config{
		LogLevel:              "info",
		DataDir:               "./contractctl-data",
		MetricsAddr:           "127.0.0.1:9115",
		RPCAddr:               "127.0.0.1:8645",
		RPCRateLimit:          20,
		RPCBurst:              40,
		ScheduleVersion:       params.Default().Version,
		ExistentialDeposit:    rp.ExistentialDeposit.Uint64(),
		TombstoneDeposit:      rp.TombstoneDeposit.Uint64(),
		DepositPerContract:    rp.DepositPerContract.Uint64(),
		DepositPerStorageByte: rp.DepositPerStorageByte.Uint64(),
		DepositPerStorageItem: rp.DepositPerStorageItem.Uint64(),
		SurchargeReward:       rp.SurchargeReward.Uint64(),
		DeletionQueueDepth:    128,
	}
}

// ConfigManager loads Config from a file plus CLI flags via viper/pflag,
// watches the file with fsnotify, and hot-reloads only the operational
// fields (log level, metrics/RPC listen addresses, RPC rate limit and
// burst) -- never the economic
// or schedule parameters, which a running chain must never silently
// change underneath consensus (SPEC_FULL.md §2: "hot-reloads
// non-consensus-critical options ... without restart").
type ConfigManager struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur Config

	logLevel atomic.Value // string
}

// LoadConfig builds a ConfigManager from an optional config file path and
// a parsed pflag.FlagSet of CLI overrides.
func LoadConfig(path string, flags *pflag.FlagSet) (*ConfigManager, error) {
	v := viper.New()
	def := defaultConfig()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	}
	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("contractctl: bind flags: %w", err)
		}
	}
	setDefaults(v, def)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("contractctl: read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("contractctl: unmarshal config: %w", err)
	}

	cm := &ConfigManager{v: v, cur: cfg}
	cm.logLevel.Store(cfg.LogLevel)

	if path != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			cm.reload()
		})
	}
	return cm, nil
}

func setDefaults(v *viper.Viper, def Config) {
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("rpc_addr", def.RPCAddr)
	v.SetDefault("rpc_rate_limit", def.RPCRateLimit)
	v.SetDefault("rpc_burst", def.RPCBurst)
	v.SetDefault("schedule_version", def.ScheduleVersion)
	v.SetDefault("existential_deposit", def.ExistentialDeposit)
	v.SetDefault("tombstone_deposit", def.TombstoneDeposit)
	v.SetDefault("deposit_per_contract", def.DepositPerContract)
	v.SetDefault("deposit_per_storage_byte", def.DepositPerStorageByte)
	v.SetDefault("deposit_per_storage_item", def.DepositPerStorageItem)
	v.SetDefault("surcharge_reward", def.SurchargeReward)
	v.SetDefault("deletion_queue_depth", def.DeletionQueueDepth)
}

func (cm *ConfigManager) reload() {
	var fresh Config
	if err := cm.v.Unmarshal(&fresh); err != nil {
		log.Error("contractctl: config reload failed, keeping previous values", "err", err)
		return
	}
	cm.mu.Lock()
	prev := cm.cur
	// Only the operational fields are hot-swapped; everything economic
	// keeps its original, chain-genesis value for the life of the process.
	prev.LogLevel = fresh.LogLevel
	prev.MetricsAddr = fresh.MetricsAddr
	prev.RPCAddr = fresh.RPCAddr
	prev.RPCRateLimit = fresh.RPCRateLimit
	prev.RPCBurst = fresh.RPCBurst
	cm.cur = prev
	cm.mu.Unlock()

	if fresh.LogLevel != cm.logLevel.Load() {
		cm.logLevel.Store(fresh.LogLevel)
		log.Info("contractctl: log level hot-reloaded", "level", fresh.LogLevel)
	}
}

// Current returns a snapshot of the live configuration.
func (cm *ConfigManager) Current() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cur
}
