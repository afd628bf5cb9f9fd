package config

import (
	"bytes"
	_ "embed"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

//go:embed defaults.yaml
var defaults []byte

// ---- Root ----

type Config struct {
	HTTP       HTTPConfig      `mapstructure:"http"`
	MySQL      DatabaseConfig  `mapstructure:"mysql"`
	ClickHouse DatabaseConfig  `mapstructure:"clickhouse"`
	Redis      RedisConfig     `mapstructure:"redis"`
	Kafka      KafkaConfig     `mapstructure:"kafka"`
	Log        LogConfig       `mapstructure:"log"`
	Outbox     OutboxConfig    `mapstructure:"outbox"`
	Consumer   ConsumerConfig  `mapstructure:"consumer"`
	Retry      RetryConfig     `mapstructure:"retry"`
	Reconcile  ReconcileConfig `mapstructure:"reconcile"`
	Ranking    RankingConfig   `mapstructure:"ranking"`
	Gateway    GatewayConfig   `mapstructure:"gateway"`
	Scheduler  SchedulerConfig `mapstructure:"scheduler"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

// ---- Leaf structs ----

type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	CallbackURL string `mapstructure:"callback_url"` // advertised to the payment gateway
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql | sqlite3 (mysql section only)
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idletime"`
	PingTimeout     time.Duration `mapstructure:"ping_timeout"`
}

type RedisConfig struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	GroupID        string        `mapstructure:"group_id"`
	Topics         []string      `mapstructure:"topics"` // consumed by the metrics consumer
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval int           `mapstructure:"commit_interval_ms"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequiredAcks   int           `mapstructure:"required_acks"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type OutboxConfig struct {
	BatchSize   int `mapstructure:"batch_size"`
	MaxAttempts int `mapstructure:"max_attempts"`
}

type ConsumerConfig struct {
	Workers int `mapstructure:"workers"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

type ReconcileConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

type RankingConfig struct {
	Timezone        string        `mapstructure:"timezone"`
	KeyTTL          time.Duration `mapstructure:"key_ttl"`
	CarryOverWeight float64       `mapstructure:"carry_over_weight"`
	Weights         ScoreWeights  `mapstructure:"weights"`
}

type ScoreWeights struct {
	View  float64 `mapstructure:"view"`
	Like  float64 `mapstructure:"like"`
	Order float64 `mapstructure:"order"`
}

type BreakerConfig struct {
	FailThreshold int `mapstructure:"fail_threshold" yaml:"fail_threshold"`
	OpenForMs     int `mapstructure:"open_for_ms"    yaml:"open_for_ms"`
}

type GatewayEndpoint struct {
	Name      string        `mapstructure:"name"`
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"base_url"`
	TimeoutMs int           `mapstructure:"timeout_ms"`
	Breaker   BreakerConfig `mapstructure:"breaker"`
}

type GatewayConfig struct {
	MerchantID  string            `mapstructure:"merchant_id"`
	MaxAttempts int               `mapstructure:"max_attempts"`
	Endpoints   []GatewayEndpoint `mapstructure:"endpoints"`
}

type SchedulerConfig struct {
	MetricsAddr   string        `mapstructure:"metrics_addr"`
	LeaseTTL      time.Duration `mapstructure:"lease_ttl"`
	RelaySpec     string        `mapstructure:"relay_spec"`
	RetrySpec     string        `mapstructure:"retry_spec"`
	ReconcileSpec string        `mapstructure:"reconcile_spec"`
	CarryOverSpec string        `mapstructure:"carry_over_spec"`
}

type RateLimitConfig struct {
	RPS int `mapstructure:"rps"`
}

// Location resolves the ranking timezone, falling back to UTC.
func (c RankingConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads embedded defaults, merges user YAML (if provided), and applies env overrides (COMMERCE_*).
func Load(path string) (Config, error) {
	v := viper.New()

	// embedded defaults
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		_ = v.MergeInConfig()
	}

	// env override (COMMERCE_MYSQL_DSN, COMMERCE_OUTBOX_BATCH_SIZE, ...)
	v.SetEnvPrefix("COMMERCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
