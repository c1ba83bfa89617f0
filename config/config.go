package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	RiskEngine RiskEngineConfig `yaml:"riskengine"`
}

// RiskEngineConfig is the project configuration.
type RiskEngineConfig struct {
	Input      InputConfig      `yaml:"input"`
	Engine     EngineConfig     `yaml:"engine"`
	Rules      RulesConfig      `yaml:"rules"`
	Tiers      []TierConfig     `yaml:"tiers"`
	Store      StoreConfig      `yaml:"store"`
	Cache      CacheConfig      `yaml:"cache"`
	Lookup     LookupConfig     `yaml:"lookup"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Retry      RetryConfig      `yaml:"retry"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the event source.
type InputConfig struct {
	Redis RedisQueueConfig `yaml:"redis"`
}

// RedisQueueConfig controls the Redis queue consumer.
type RedisQueueConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// EngineConfig controls evaluation behavior.
type EngineConfig struct {
	Workers      int           `yaml:"workers"`
	MaxScore     float64       `yaml:"max_score"`
	Window       time.Duration `yaml:"window"`
	EventTimeout time.Duration `yaml:"event_timeout"`
	// KeyFields maps entity type to the attribute grouping velocity peers.
	KeyFields map[string]string `yaml:"key_fields"`
}

// RulesConfig points at the rule set definition.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// TierConfig binds a tier name to its minimum score. Tiers are listed
// in ascending severity order.
type TierConfig struct {
	Name     string  `yaml:"name"`
	MinScore float64 `yaml:"min_score"`
}

// StoreConfig controls result persistence.
type StoreConfig struct {
	Mode  string           `yaml:"mode"` // redis|memory
	Redis RedisStoreConfig `yaml:"redis"`
}

// RedisStoreConfig controls the Redis result store.
type RedisStoreConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	KeyPrefix  string        `yaml:"key_prefix"`
	Retention  time.Duration `yaml:"retention"`
	QueryLimit int64         `yaml:"query_limit"`
}

// CacheConfig controls the compliance lookup cache.
type CacheConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	ErrTTL time.Duration `yaml:"err_ttl"`
}

// LookupConfig controls external compliance lookups.
type LookupConfig struct {
	Enabled bool             `yaml:"enabled"`
	HTTP    HTTPClientConfig `yaml:"http"`
	Checks  []CheckConfig    `yaml:"checks"`
}

// CheckConfig names one lookup to run per entity type.
type CheckConfig struct {
	Name       string `yaml:"name"`
	EntityType string `yaml:"entity_type"`
}

// AlertsConfig controls alert dispatch.
type AlertsConfig struct {
	Enabled   bool           `yaml:"enabled"`
	FloorTier string         `yaml:"floor_tier"`
	Cooldown  time.Duration  `yaml:"cooldown"`
	Notifier  NotifierConfig `yaml:"notifier"`
}

// NotifierConfig controls the notification collaborator.
type NotifierConfig struct {
	Mode string           `yaml:"mode"` // file|http
	File FileConfig       `yaml:"file"`
	HTTP HTTPClientConfig `yaml:"http"`
}

// HTTPClientConfig config for remote collaborators.
type HTTPClientConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// FileConfig config for local JSONL output.
type FileConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig controls the backoff policy for external calls.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// DeadLetterConfig controls the dead-letter sink.
type DeadLetterConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
