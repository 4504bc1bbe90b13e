// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package config loads indexer configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/logging"
)

// Config is the full indexer configuration.
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Contracts ContractsConfig `yaml:"contracts"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Cache     CacheConfig     `yaml:"cache"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Log       logging.Config  `yaml:"log"`
}

// ChainConfig identifies the indexed chain.
type ChainConfig struct {
	Name         string        `yaml:"name"`
	ChainID      uint64        `yaml:"chain_id"`
	RPC          string        `yaml:"rpc"`
	StartBlock   uint64        `yaml:"start_block"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ContractsConfig holds protocol contract addresses.
type ContractsConfig struct {
	Factory              string `yaml:"factory"`
	GlobalStorage        string `yaml:"global_storage"`
	Referrals            string `yaml:"referrals"`
	LeveragedTokenHelper string `yaml:"leveraged_token_helper"`
	USDC                 string `yaml:"usdc"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"` // memory, badger or postgres
	DatabaseURL string `yaml:"database_url"`
	DataDir     string `yaml:"data_dir"`
}

// HTTPConfig configures the query server.
type HTTPConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxQuerySize   int      `yaml:"max_query_size"`
}

// KafkaConfig configures the domain event consumer. An empty broker list
// disables it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

// CacheConfig selects the response cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"` // memory or redis
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
}

// LedgerConfig selects the transfer cost-basis policy.
type LedgerConfig struct {
	TransferPolicy string `yaml:"transfer_policy"`
}

// OracleConfig configures the per-block exchange rate refresh.
type OracleConfig struct {
	Enabled          bool    `yaml:"enabled"`
	BridgeThreshold  uint64  `yaml:"bridge_threshold"`
	RateLimit        float64 `yaml:"rate_limit"`
	WriteConcurrency int     `yaml:"write_concurrency"`
}

// Default returns a configuration that runs against an in-memory store.
func Default() *Config {
	return &Config{
		Chain: ChainConfig{
			Name:         "hyperevm",
			ChainID:      999,
			StartBlock:   21549398,
			PollInterval: time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
			DataDir: "data",
		},
		HTTP: HTTPConfig{
			Port:           42069,
			AllowedOrigins: []string{"http://localhost:5173", "https://bounce.tech", "https://*.web.app"},
			MaxQuerySize:   100,
		},
		Kafka: KafkaConfig{
			Topic:   "lt-events",
			GroupID: "ltindexer",
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     30 * time.Second,
		},
		Ledger: LedgerConfig{TransferPolicy: "same-cost"},
		Oracle: OracleConfig{
			Enabled:          true,
			BridgeThreshold:  1,
			RateLimit:        10,
			WriteConcurrency: 8,
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads the configuration and validates it.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads path (if non-empty) over the defaults, expands ${VAR}
// references, then applies LTI_* environment overrides. The result is not
// validated.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var err error
	c.Chain.RPC = envOrDefault("LTI_RPC_URL", envOrDefault("HYPER_EVM_RPC_URL", c.Chain.RPC))
	if c.Chain.StartBlock, err = envUint64("LTI_START_BLOCK", c.Chain.StartBlock); err != nil {
		return err
	}
	if c.Chain.PollInterval, err = envDuration("LTI_POLL_INTERVAL", c.Chain.PollInterval); err != nil {
		return err
	}

	c.Contracts.Factory = envOrDefault("LTI_FACTORY_ADDRESS", c.Contracts.Factory)
	c.Contracts.GlobalStorage = envOrDefault("LTI_GLOBAL_STORAGE_ADDRESS", c.Contracts.GlobalStorage)
	c.Contracts.Referrals = envOrDefault("LTI_REFERRALS_ADDRESS", c.Contracts.Referrals)
	c.Contracts.LeveragedTokenHelper = envOrDefault("LTI_HELPER_ADDRESS", c.Contracts.LeveragedTokenHelper)
	c.Contracts.USDC = envOrDefault("LTI_USDC_ADDRESS", c.Contracts.USDC)

	c.Storage.Backend = envOrDefault("LTI_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.DatabaseURL = envOrDefault("DATABASE_URL", c.Storage.DatabaseURL)
	c.Storage.DataDir = envOrDefault("LTI_DATA_DIR", c.Storage.DataDir)

	if c.HTTP.Port, err = envInt("LTI_HTTP_PORT", c.HTTP.Port); err != nil {
		return err
	}
	c.HTTP.AllowedOrigins = parseCSV(os.Getenv("LTI_ALLOWED_ORIGINS"), c.HTTP.AllowedOrigins)
	if c.HTTP.MaxQuerySize, err = envInt("LTI_MAX_QUERY_SIZE", c.HTTP.MaxQuerySize); err != nil {
		return err
	}

	c.Kafka.Brokers = parseCSV(os.Getenv("LTI_KAFKA_BROKERS"), c.Kafka.Brokers)
	c.Kafka.Topic = envOrDefault("LTI_KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.GroupID = envOrDefault("LTI_KAFKA_GROUP", c.Kafka.GroupID)

	c.Cache.Backend = envOrDefault("LTI_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.RedisAddr = envOrDefault("LTI_REDIS_ADDR", c.Cache.RedisAddr)
	if c.Cache.TTL, err = envDuration("LTI_CACHE_TTL", c.Cache.TTL); err != nil {
		return err
	}

	c.Ledger.TransferPolicy = envOrDefault("LTI_TRANSFER_POLICY", c.Ledger.TransferPolicy)

	if c.Oracle.Enabled, err = envBool("LTI_ORACLE_ENABLED", c.Oracle.Enabled); err != nil {
		return err
	}
	if c.Oracle.WriteConcurrency, err = envInt("LTI_ORACLE_WRITE_CONCURRENCY", c.Oracle.WriteConcurrency); err != nil {
		return err
	}

	c.Log.Level = envOrDefault("LTI_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOrDefault("LTI_LOG_FORMAT", c.Log.Format)
	return nil
}

// Validate rejects configurations the indexer cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "badger":
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("storage backend postgres requires database_url")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache backend redis requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	if _, err := ledger.ParseTransferPolicy(c.Ledger.TransferPolicy); err != nil {
		return err
	}
	if c.Oracle.Enabled {
		if c.Chain.RPC == "" {
			return fmt.Errorf("oracle enabled but chain rpc is empty")
		}
		if c.Contracts.LeveragedTokenHelper == "" {
			return fmt.Errorf("oracle enabled but leveraged_token_helper address is empty")
		}
	}
	if c.HTTP.MaxQuerySize < 1 {
		return fmt.Errorf("max_query_size must be at least 1")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envUint64(key string, fallback uint64) (uint64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func parseCSV(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
