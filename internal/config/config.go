package config

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Chain      ChainConfig
	Signer     SignerConfig
	Admin      AdminConfig
	Staking    StakingConfig
	Bridge     BridgeConfig
	Collection CollectionConfig
	Vault      VaultConfig
	Relay      RelayConfig
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

// RedisConfig selects the state store. With Enabled false the ledgers run on
// an in-memory store and the relay and auth nonces are unavailable.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	Enabled  bool   `mapstructure:"enabled"`
	Prefix   string `mapstructure:"prefix"`
}

type ChainConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	ChainID uint64 `mapstructure:"chain_id"`
	Clock   string `mapstructure:"clock"` // system | chain
}

type SignerConfig struct {
	PrivateKey string `mapstructure:"private_key"`
}

type AdminConfig struct {
	Address string `mapstructure:"address"`
}

type StakingConfig struct {
	Contract    string `mapstructure:"contract"`
	Assets      string `mapstructure:"assets"`
	RewardToken string `mapstructure:"reward_token"`
	RatePerSec  string `mapstructure:"rate_per_sec"`
}

type BridgeConfig struct {
	Contract     string   `mapstructure:"contract"`
	Token        string   `mapstructure:"token"`
	Destinations []string `mapstructure:"destinations"` // chainId=address
}

type CollectionConfig struct {
	Contract      string `mapstructure:"contract"`
	Assets        string `mapstructure:"assets"`
	MaxPerVoucher int    `mapstructure:"max_per_voucher"`
	PreviewURI    string `mapstructure:"preview_uri"`
}

// VaultConfig is optional. Assets defaults to the collection's registry.
type VaultConfig struct {
	Contract string `mapstructure:"contract"`
	Assets   string `mapstructure:"assets"`
}

type RelayConfig struct {
	Enabled     bool  `mapstructure:"enabled"`
	IntervalSec int64 `mapstructure:"interval_sec"`
	BatchSize   int   `mapstructure:"batch_size"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.prefix", "ledger")
	v.SetDefault("chain.clock", "system")
	v.SetDefault("staking.rate_per_sec", "100000000000000")
	v.SetDefault("collection.max_per_voucher", 5)
	v.SetDefault("relay.interval_sec", 30)
	v.SetDefault("relay.batch_size", 50)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                "PORT",
		"server.grpc_port":           "GRPC_PORT",
		"redis.addr":                 "REDIS_ADDR",
		"redis.password":             "REDIS_PASSWORD",
		"redis.enabled":              "REDIS_ENABLED",
		"redis.prefix":               "REDIS_PREFIX",
		"chain.rpc_url":              "RPC_URL",
		"chain.chain_id":             "CHAIN_ID",
		"chain.clock":                "CLOCK_SOURCE",
		"signer.private_key":         "SIGNER_KEY",
		"admin.address":              "ADMIN_ADDRESS",
		"staking.contract":           "STAKING_CONTRACT",
		"staking.assets":             "STAKING_ASSETS",
		"staking.reward_token":       "REWARD_TOKEN",
		"staking.rate_per_sec":       "REWARD_RATE_PER_SEC",
		"bridge.contract":            "BRIDGE_CONTRACT",
		"bridge.token":               "BRIDGE_TOKEN",
		"bridge.destinations":        "BRIDGE_DESTINATIONS",
		"collection.contract":        "COLLECTION_CONTRACT",
		"collection.assets":          "COLLECTION_ASSETS",
		"collection.max_per_voucher": "COLLECTION_MAX_PER_VOUCHER",
		"collection.preview_uri":     "COLLECTION_PREVIEW_URI",
		"vault.contract":             "VAULT_CONTRACT",
		"vault.assets":               "VAULT_ASSETS",
		"relay.enabled":              "RELAY_ENABLED",
		"relay.interval_sec":         "RELAY_INTERVAL_SEC",
		"relay.batch_size":           "RELAY_BATCH_SIZE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// A comma-separated env value arrives as a single element.
	if len(cfg.Bridge.Destinations) == 1 && strings.Contains(cfg.Bridge.Destinations[0], ",") {
		cfg.Bridge.Destinations = strings.Split(cfg.Bridge.Destinations[0], ",")
	}
	if cfg.Vault.Contract != "" && cfg.Vault.Assets == "" {
		cfg.Vault.Assets = cfg.Collection.Assets
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Admin.Address, "ADMIN_ADDRESS"},
		{c.Staking.Contract, "STAKING_CONTRACT"},
		{c.Staking.Assets, "STAKING_ASSETS"},
		{c.Staking.RewardToken, "REWARD_TOKEN"},
		{c.Bridge.Contract, "BRIDGE_CONTRACT"},
		{c.Bridge.Token, "BRIDGE_TOKEN"},
		{c.Collection.Contract, "COLLECTION_CONTRACT"},
		{c.Collection.Assets, "COLLECTION_ASSETS"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
		if !common.IsHexAddress(r.val) {
			return fmt.Errorf("invalid address in %s: %q", r.name, r.val)
		}
	}
	for _, r := range []req{
		{c.Vault.Contract, "VAULT_CONTRACT"},
		{c.Vault.Assets, "VAULT_ASSETS"},
	} {
		if r.val != "" && !common.IsHexAddress(r.val) {
			return fmt.Errorf("invalid address in %s: %q", r.name, r.val)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	switch c.Chain.Clock {
	case "system":
	case "chain":
		if c.Chain.RPCURL == "" {
			return fmt.Errorf("required config missing: RPC_URL (CLOCK_SOURCE=chain)")
		}
	default:
		return fmt.Errorf("invalid CLOCK_SOURCE %q", c.Chain.Clock)
	}
	if c.Relay.IntervalSec <= 0 {
		return fmt.Errorf("invalid RELAY_INTERVAL_SEC %d: must be positive", c.Relay.IntervalSec)
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("invalid RELAY_BATCH_SIZE %d: must be positive", c.Relay.BatchSize)
	}
	if c.Relay.Enabled {
		if c.Signer.PrivateKey == "" {
			return fmt.Errorf("required config missing: SIGNER_KEY (RELAY_ENABLED)")
		}
		if !c.Redis.Enabled {
			return fmt.Errorf("RELAY_ENABLED requires REDIS_ENABLED")
		}
	}
	if _, err := c.RewardRate(); err != nil {
		return err
	}
	if _, err := c.BridgeDestinations(); err != nil {
		return err
	}
	return nil
}

// RewardRate parses REWARD_RATE_PER_SEC.
func (c *Config) RewardRate() (*big.Int, error) {
	rate, ok := new(big.Int).SetString(c.Staking.RatePerSec, 10)
	if !ok || rate.Sign() <= 0 {
		return nil, fmt.Errorf("invalid REWARD_RATE_PER_SEC %q", c.Staking.RatePerSec)
	}
	return rate, nil
}

// BridgeDestinations parses BRIDGE_DESTINATIONS entries of the form chainId=address.
func (c *Config) BridgeDestinations() (map[uint64]common.Address, error) {
	out := make(map[uint64]common.Address, len(c.Bridge.Destinations))
	for _, entry := range c.Bridge.Destinations {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, addr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid bridge destination %q: want chainId=address", entry)
		}
		chainID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bridge destination %q: %w", entry, err)
		}
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid bridge destination %q: bad address", entry)
		}
		out[chainID] = common.HexToAddress(addr)
	}
	return out, nil
}

// Address converts a validated address field.
func Address(s string) common.Address { return common.HexToAddress(s) }
