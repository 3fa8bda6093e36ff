package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Service      ServiceConfig      `yaml:"service"`
		Ledger       LedgerConfig       `yaml:"ledger"`
		Push         PushConfig         `yaml:"push"`
		ContentStore ContentStoreConfig `yaml:"content_store"`
		Cache        CacheConfig        `yaml:"cache"`
		Redis        RedisConfig        `yaml:"redis"`
		Sync         SyncConfig         `yaml:"sync"`
	}

	ServiceConfig struct {
		ListenAddr  string `yaml:"listen_addr"`
		LogLevel    string `yaml:"log_level"`
		Development bool   `yaml:"development"`
	}

	LedgerConfig struct {
		RPCURL         string `yaml:"rpc_url"`
		ProgramID      string `yaml:"program_id"`
		SignatureLimit int    `yaml:"signature_limit"`
		BatchSize      int    `yaml:"batch_size"`
		Commitment     string `yaml:"commitment"`
	}

	PushConfig struct {
		Enabled             bool   `yaml:"enabled"`
		WSURL               string `yaml:"ws_url"`
		PingIntervalSeconds int    `yaml:"ping_interval_seconds"`
		MaxReconnects       int    `yaml:"max_reconnects"`
		BackoffBaseMs       int    `yaml:"backoff_base_ms"`
		BackoffMaxSeconds   int    `yaml:"backoff_max_seconds"`
	}

	ContentStoreConfig struct {
		PinataURL      string   `yaml:"pinata_url"`
		PinataJWT      string   `yaml:"pinata_jwt"`
		Gateways       []string `yaml:"gateways"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
		LRUSize        int      `yaml:"lru_size"`
		RedisTTLHours  int      `yaml:"redis_ttl_hours"`
	}

	CacheConfig struct {
		// Backend is "mongo", "redis" or "none".
		Backend    string `yaml:"backend"`
		MongoURI   string `yaml:"mongo_uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	}

	RedisConfig struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	SyncConfig struct {
		PollIntervalSeconds    int `yaml:"poll_interval_seconds"`
		BackfillTimeoutSeconds int `yaml:"backfill_timeout_seconds"`
	}
)

const (
	CacheMongo = "mongo"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Default returns a config usable against public devnet endpoints.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			ListenAddr: "localhost:9090",
			LogLevel:   "info",
		},
		Ledger: LedgerConfig{
			RPCURL:         "https://api.devnet.solana.com",
			ProgramID:      "FVViRGPShMjCeSF3LDrp2qDjp6anRz9WAMiJrsGCRUzN",
			SignatureLimit: 50,
			BatchSize:      5,
			Commitment:     "confirmed",
		},
		Push: PushConfig{
			PingIntervalSeconds: 30,
			MaxReconnects:       5,
			BackoffBaseMs:       1000,
			BackoffMaxSeconds:   30,
		},
		ContentStore: ContentStoreConfig{
			PinataURL: "https://api.pinata.cloud",
			Gateways: []string{
				"https://gateway.pinata.cloud",
				"https://ipfs.io",
				"https://dweb.link",
			},
			TimeoutSeconds: 10,
			LRUSize:        1024,
			RedisTTLHours:  24 * 7,
		},
		Cache: CacheConfig{
			Backend:    CacheMongo,
			Database:   "shieldchat",
			Collection: "messages",
		},
		Sync: SyncConfig{
			PollIntervalSeconds:    5,
			BackfillTimeoutSeconds: 60,
		},
	}
}

// Load reads a YAML file over the defaults and applies environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Ledger.RPCURL, "SHIELDCHAT_RPC_URL")
	override(&c.Push.WSURL, "SHIELDCHAT_WS_URL")
	override(&c.ContentStore.PinataJWT, "SHIELDCHAT_PINATA_JWT")
	override(&c.Cache.MongoURI, "SHIELDCHAT_MONGO_URI")
	override(&c.Redis.Addr, "SHIELDCHAT_REDIS_ADDR")
	override(&c.Redis.Password, "SHIELDCHAT_REDIS_PASSWORD")
}

func (c *Config) Validate() error {
	if c.Ledger.RPCURL == "" {
		return fmt.Errorf("ledger.rpc_url is required")
	}
	if c.Ledger.ProgramID == "" {
		return fmt.Errorf("ledger.program_id is required")
	}
	if c.Ledger.SignatureLimit < 1 || c.Ledger.SignatureLimit > 1000 {
		return fmt.Errorf("ledger.signature_limit must be between 1 and 1000")
	}
	if c.Ledger.BatchSize < 1 {
		return fmt.Errorf("ledger.batch_size must be at least 1")
	}
	if c.Push.Enabled && c.Push.WSURL == "" {
		return fmt.Errorf("push.ws_url is required when push is enabled")
	}
	if c.Push.MaxReconnects < 0 {
		return fmt.Errorf("push.max_reconnects must not be negative")
	}
	if len(c.ContentStore.Gateways) == 0 {
		return fmt.Errorf("content_store.gateways must not be empty")
	}
	switch c.Cache.Backend {
	case CacheMongo, CacheNone:
	case CacheRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis cache backend")
		}
	default:
		return fmt.Errorf("cache.backend must be one of mongo, redis, none")
	}
	if c.Sync.PollIntervalSeconds < 1 {
		return fmt.Errorf("sync.poll_interval_seconds must be at least 1")
	}
	if c.Sync.BackfillTimeoutSeconds < 1 {
		return fmt.Errorf("sync.backfill_timeout_seconds must be at least 1")
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalSeconds) * time.Second
}

func (c *Config) BackfillTimeout() time.Duration {
	return time.Duration(c.Sync.BackfillTimeoutSeconds) * time.Second
}

func (c *PushConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

func (c *PushConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMs) * time.Millisecond
}

func (c *PushConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

func (c *ContentStoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *ContentStoreConfig) RedisTTL() time.Duration {
	return time.Duration(c.RedisTTLHours) * time.Hour
}
