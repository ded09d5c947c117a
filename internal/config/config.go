package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"taskhub/pkg/config"
	"taskhub/pkg/otel"
)

// ServiceConfig 服务自身信息
type ServiceConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// TxConfig 协调器事务重试；max_retries 未配置时默认 3，显式配置 0 表示不重试
type TxConfig struct {
	MaxRetries   *int          `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// OutboxConfig outbox 投递配置
type OutboxConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
}

type Config struct {
	Service ServiceConfig       `yaml:"service"`
	DB      config.DBConfig     `yaml:"db"`
	Tx      TxConfig            `yaml:"tx"`
	MQ      config.MQConfig     `yaml:"mq"`
	Redis   config.RedisConfig  `yaml:"redis"`
	Outbox  OutboxConfig        `yaml:"outbox"`
	JWT     config.JWTConfig    `yaml:"jwt"`
	Server  config.ServerConfig `yaml:"server"`
	Log     config.LogConfig    `yaml:"log"`
	OTel    otel.Config         `yaml:"otel"`
}

// Load 从 CONFIG_DIR（默认 config）加载 base.yaml 与 CONFIG_ENV 对应的环境配置，
// 再用环境变量覆盖
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	raw, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(raw, &cfg); err != nil {
		return nil, err
	}

	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	overrideOTelFromEnv(&cfg.OTel)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideOTelFromEnv(cfg *otel.Config) {
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Endpoint = endpoint
		cfg.Enabled = true
	}
	if ratio := os.Getenv("OTEL_SAMPLE_RATIO"); ratio != "" {
		if r, err := strconv.ParseFloat(ratio, 64); err == nil {
			cfg.SampleRatio = r
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "taskhub"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "postgres"
	}
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Tx.MaxRetries == nil {
		retries := 3
		c.Tx.MaxRetries = &retries
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Outbox.DedupTTL <= 0 {
		c.Outbox.DedupTTL = 10 * time.Minute
	}
	if c.OTel.ServiceName == "" {
		c.OTel.ServiceName = c.Service.Name
	}
	if c.OTel.ServiceVersion == "" {
		c.OTel.ServiceVersion = c.Service.Version
	}
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported db driver %q", c.DB.Driver)
	}
	if *c.Tx.MaxRetries < 0 {
		return fmt.Errorf("tx.max_retries must not be negative")
	}
	if c.MQ.Enabled && c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required when mq is enabled")
	}
	return nil
}
