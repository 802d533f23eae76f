package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Cron    CronConfig    `mapstructure:"cron"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	Notify  NotifyConfig  `mapstructure:"notify"`

	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Risk     RiskConfig     `mapstructure:"risk"`
	AntiLag  AntiLagConfig  `mapstructure:"anti_lag"`
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

type CronConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	ExpirySweep  string `mapstructure:"expiry_sweep"`
	AntiLagPrune string `mapstructure:"anti_lag_prune"`
}

type CacheConfig struct {
	// Backend is "memory" or "redis". Redis is required when more than one
	// instance serves the same users, otherwise rejection invalidation does
	// not propagate.
	Backend    string        `mapstructure:"backend"`
	VerdictTTL time.Duration `mapstructure:"verdict_ttl"`
	Redis      RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type GatewayConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	DryRun  bool          `mapstructure:"dry_run"`
}

type NotifyConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type PipelineConfig struct {
	// ProposalTTL is the lifetime of a pending proposal before the expiry
	// sweep (or a lazy check on acknowledgment) moves it to expired.
	ProposalTTL time.Duration `mapstructure:"proposal_ttl"`
	// StaleRecheckAfter forces a fresh risk evaluation when the approved
	// verdict is older than this at execution time.
	StaleRecheckAfter time.Duration `mapstructure:"stale_recheck_after"`
	// ExecutingRecoveryAfter bounds how long an executing claim may sit
	// without an update before the sweeper fails it as abandoned.
	ExecutingRecoveryAfter time.Duration `mapstructure:"executing_recovery_after"`
}

type RiskConfig struct {
	// DailyLossResetHour is the UTC hour at which the daily loss window
	// restarts.
	DailyLossResetHour int `mapstructure:"daily_loss_reset_hour"`
	// AntiLagEventWindow bounds how old a confirmed anti-lag event may be and
	// still gate a proposal.
	AntiLagEventWindow time.Duration `mapstructure:"anti_lag_event_window"`
}

type AntiLagConfig struct {
	MinIncreasePct float64       `mapstructure:"min_increase_pct"`
	ConfirmTicks   int           `mapstructure:"confirm_ticks"`
	BaselineWindow time.Duration `mapstructure:"baseline_window"`
	BurstWindow    time.Duration `mapstructure:"burst_window"`
	Retention      time.Duration `mapstructure:"retention"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AP")
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
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.expiry_sweep", "@every 30s")
	v.SetDefault("cron.anti_lag_prune", "@every 10m")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.verdict_ttl", "30s")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.prefix", "autopilot")
	v.SetDefault("gateway.base_url", "http://localhost:9300")
	v.SetDefault("gateway.timeout", "10s")
	v.SetDefault("gateway.dry_run", false)
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.brokers", []string{"localhost:9092"})
	v.SetDefault("notify.topic", "autopilot.proposals")
	v.SetDefault("pipeline.proposal_ttl", "5m")
	v.SetDefault("pipeline.stale_recheck_after", "60s")
	v.SetDefault("pipeline.executing_recovery_after", "10m")
	v.SetDefault("risk.daily_loss_reset_hour", 0)
	v.SetDefault("risk.anti_lag_event_window", "2m")
	v.SetDefault("anti_lag.min_increase_pct", 300)
	v.SetDefault("anti_lag.confirm_ticks", 3)
	v.SetDefault("anti_lag.baseline_window", "60s")
	v.SetDefault("anti_lag.burst_window", "5s")
	v.SetDefault("anti_lag.retention", "24h")

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
