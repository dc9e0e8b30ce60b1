package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Auth   AuthConfig   `mapstructure:"auth"`

	Review      ReviewConfig       `mapstructure:"review"`
	Rules       RulesConfig        `mapstructure:"rules"`
	Gateway     GatewayConfig      `mapstructure:"gateway"`
	RiskService CollaboratorConfig `mapstructure:"risk_service"`
	Treasury    CollaboratorConfig `mapstructure:"treasury"`
	Execution   CollaboratorConfig `mapstructure:"execution"`
	Quarantine  QuarantineConfig   `mapstructure:"quarantine"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	Disabled   bool   `mapstructure:"disabled"`
	JWTSecret  string `mapstructure:"jwt_secret"`
	SeniorRole string `mapstructure:"senior_role"`
}

// ReviewConfig tunes the review engine's retry discipline.
type ReviewConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`
	SweepInterval   string        `mapstructure:"sweep_interval"`
	SweepHoldAge    time.Duration `mapstructure:"sweep_hold_age"`
	SweepLimit      int           `mapstructure:"sweep_limit"`
}

type RulesConfig struct {
	ReloadTTL time.Duration `mapstructure:"reload_ttl"`
}

type GatewayConfig struct {
	InboundTopics     []string      `mapstructure:"inbound_topics"`
	ApprovedTopic     string        `mapstructure:"approved_topic"`
	RejectedTopic     string        `mapstructure:"rejected_topic"`
	PublishRetries    int           `mapstructure:"publish_retries"`
	PublishBackoff    time.Duration `mapstructure:"publish_backoff"`
	PublishBackoffMax time.Duration `mapstructure:"publish_backoff_max"`
}

// CollaboratorConfig covers an external HTTP collaborator.
type CollaboratorConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type QuarantineConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	PurgeSchedule string        `mapstructure:"purge_schedule"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AUDITGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.disabled", false)
	v.SetDefault("auth.senior_role", "senior_reviewer")

	v.SetDefault("review.max_attempts", 5)
	v.SetDefault("review.retry_backoff", "500ms")
	v.SetDefault("review.retry_backoff_max", "30s")
	v.SetDefault("review.sweep_interval", "@every 1m")
	v.SetDefault("review.sweep_hold_age", "2m")
	v.SetDefault("review.sweep_limit", 100)

	v.SetDefault("rules.reload_ttl", "30s")

	v.SetDefault("gateway.inbound_topics", []string{"strategy.proposals"})
	v.SetDefault("gateway.approved_topic", "strategy.approved")
	v.SetDefault("gateway.rejected_topic", "strategy.rejected")
	v.SetDefault("gateway.publish_retries", 5)
	v.SetDefault("gateway.publish_backoff", "200ms")
	v.SetDefault("gateway.publish_backoff_max", "10s")

	v.SetDefault("risk_service.base_url", "http://localhost:8091")
	v.SetDefault("risk_service.timeout", "5s")
	v.SetDefault("treasury.base_url", "http://localhost:8092")
	v.SetDefault("treasury.timeout", "5s")
	v.SetDefault("execution.base_url", "http://localhost:8093")
	v.SetDefault("execution.timeout", "10s")

	v.SetDefault("quarantine.retention", "168h")
	v.SetDefault("quarantine.purge_schedule", "@every 1h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
