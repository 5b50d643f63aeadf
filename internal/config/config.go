// Package config loads server and CLI settings from an optional YAML file
// overlaid by POS_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rl1809/pos-checkout/internal/core/domain"
	"github.com/rl1809/pos-checkout/internal/core/validation"
)

const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite3"
	StorageMySQL  = "mysql"

	InventoryStore = "store" // inventory lives with the rest of the data
	InventoryRedis = "redis"
)

type Config struct {
	Service   string          `yaml:"service"`
	Log       LogConfig       `yaml:"log"`
	HTTP      ListenConfig    `yaml:"http"`
	GRPC      ListenConfig    `yaml:"grpc"`
	Storage   StorageConfig   `yaml:"storage"`
	Inventory InventoryConfig `yaml:"inventory"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Engine    EngineConfig    `yaml:"engine"`
	Credit    CreditConfig    `yaml:"credit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ListenConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite3 and a go-sql-driver DSN for mysql,
	// which must set parseTime=true.
	DSN string `yaml:"dsn"`
}

type InventoryConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type EngineConfig struct {
	OperationTimeout   time.Duration `yaml:"operation_timeout"`
	RollbackTimeout    time.Duration `yaml:"rollback_timeout"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
	MaxConflictRetries int           `yaml:"max_conflict_retries"`
	Idempotency        bool          `yaml:"idempotency"`
}

type CreditConfig struct {
	AllowOverdraft bool   `yaml:"allow_overdraft"`
	OverdraftLimit string `yaml:"overdraft_limit"`
}

// Policy converts the configured limit into a domain policy.
func (c CreditConfig) Policy() (domain.CreditPolicy, error) {
	p := domain.CreditPolicy{AllowOverdraft: c.AllowOverdraft}
	if strings.TrimSpace(c.OverdraftLimit) == "" {
		return p, nil
	}
	limit, err := validation.ParseAmount("credit.overdraft_limit", c.OverdraftLimit)
	if err != nil {
		return p, err
	}
	p.OverdraftLimit = limit
	return p, nil
}

func Default() *Config {
	return &Config{
		Service:   "pos-checkout",
		Log:       LogConfig{Level: "info"},
		HTTP:      ListenConfig{Addr: ":8080"},
		GRPC:      ListenConfig{Addr: ":9090"},
		Storage:   StorageConfig{Driver: StorageSQLite, DSN: "pos.db"},
		Inventory: InventoryConfig{Backend: InventoryStore, RedisAddr: "localhost:6379"},
		Kafka:     KafkaConfig{Topic: "pos.audit"},
		Engine: EngineConfig{
			OperationTimeout:   3 * time.Second,
			RollbackTimeout:    10 * time.Second,
			LockTimeout:        2 * time.Second,
			MaxConflictRetries: 5,
		},
	}
}

// Load reads path when it is not empty, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Log.Level = getenv("POS_LOG_LEVEL", c.Log.Level)
	c.HTTP.Addr = getenv("POS_HTTP_ADDR", c.HTTP.Addr)
	c.GRPC.Addr = getenv("POS_GRPC_ADDR", c.GRPC.Addr)
	c.Storage.Driver = getenv("POS_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.DSN = getenv("POS_STORAGE_DSN", c.Storage.DSN)
	c.Inventory.Backend = getenv("POS_INVENTORY_BACKEND", c.Inventory.Backend)
	c.Inventory.RedisAddr = getenv("POS_REDIS_ADDR", c.Inventory.RedisAddr)
	c.Kafka.Topic = getenv("POS_KAFKA_TOPIC", c.Kafka.Topic)
	if v := getenv("POS_KAFKA_BROKERS", ""); v != "" {
		c.Kafka.Brokers = splitCSV(v)
	}
	c.Credit.OverdraftLimit = getenv("POS_OVERDRAFT_LIMIT", c.Credit.OverdraftLimit)

	var err error
	if c.Engine.OperationTimeout, err = envDuration("POS_OPERATION_TIMEOUT_MS", c.Engine.OperationTimeout); err != nil {
		return err
	}
	if c.Engine.RollbackTimeout, err = envDuration("POS_ROLLBACK_TIMEOUT_MS", c.Engine.RollbackTimeout); err != nil {
		return err
	}
	if c.Engine.LockTimeout, err = envDuration("POS_LOCK_TIMEOUT_MS", c.Engine.LockTimeout); err != nil {
		return err
	}
	if v := getenv("POS_MAX_CONFLICT_RETRIES", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("POS_MAX_CONFLICT_RETRIES: %w", err)
		}
		c.Engine.MaxConflictRetries = n
	}
	if v := getenv("POS_IDEMPOTENCY", ""); v != "" {
		c.Engine.Idempotency = truthy(v)
	}
	if v := getenv("POS_ALLOW_OVERDRAFT", ""); v != "" {
		c.Credit.AllowOverdraft = truthy(v)
	}
	return nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StorageMySQL:
	default:
		return fmt.Errorf("storage.driver must be one of memory|sqlite3|mysql, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver != StorageMemory && c.Storage.DSN == "" {
		return fmt.Errorf("storage.dsn is required for %s", c.Storage.Driver)
	}
	switch c.Inventory.Backend {
	case InventoryStore:
	case InventoryRedis:
		if c.Inventory.RedisAddr == "" {
			return errors.New("inventory.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("inventory.backend must be store or redis, got %q", c.Inventory.Backend)
	}
	if c.Engine.OperationTimeout <= 0 || c.Engine.RollbackTimeout <= 0 || c.Engine.LockTimeout <= 0 {
		return errors.New("engine timeouts must be positive")
	}
	if c.Engine.MaxConflictRetries < 0 {
		return errors.New("engine.max_conflict_retries must be >= 0")
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		return errors.New("kafka.topic is required when brokers are set")
	}
	if _, err := c.Credit.Policy(); err != nil {
		return err
	}
	return nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func envDuration(k string, def time.Duration) (time.Duration, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", k, err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func truthy(v string) bool {
	v = strings.ToLower(v)
	return v == "1" || v == "true" || v == "yes"
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
