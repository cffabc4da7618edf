package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig                  `mapstructure:"app"`
	Server      ServerConfig               `mapstructure:"server"`
	Log         LogConfig                  `mapstructure:"log"`
	DB          DBConfig                   `mapstructure:"db"`
	Redis       RedisConfig                `mapstructure:"redis"`
	RunLock     RunLockConfig              `mapstructure:"run_lock"`
	Cron        CronConfig                 `mapstructure:"cron"`
	Cycle       CycleConfig                `mapstructure:"cycle"`
	Cascade     CascadeConfig              `mapstructure:"cascade"`
	Timeframes  map[string]TimeframeConfig `mapstructure:"timeframes"`
	Evaluator   EvaluatorConfig            `mapstructure:"evaluator"`
	Binance     BinanceConfig              `mapstructure:"binance"`
	Auth        AuthConfig                 `mapstructure:"auth"`
	Maintenance MaintenanceConfig          `mapstructure:"maintenance"`
}

type AppConfig struct {
	Env     string   `mapstructure:"env"`
	Name    string   `mapstructure:"name"`
	Symbols []string `mapstructure:"symbols"`
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
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type RunLockConfig struct {
	// Backend is "redis", "db" or "memory".
	Backend string        `mapstructure:"backend"`
	Key     string        `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type CronConfig struct {
	Enabled      bool              `mapstructure:"enabled"`
	Cycles       map[string]string `mapstructure:"cycles"`
	DedupPrune   string            `mapstructure:"dedup_prune"`
	PendingSweep string            `mapstructure:"pending_sweep"`
}

type CycleConfig struct {
	Workers                int    `mapstructure:"workers"`
	Limit                  int    `mapstructure:"limit"`
	IncludeCooldownElapsed bool   `mapstructure:"include_cooldown_elapsed"`
	StartFrom              string `mapstructure:"start_from"`
}

type CascadeConfig struct {
	StartFrom           string   `mapstructure:"start_from"`
	ExecutionPreference []string `mapstructure:"execution_preference"`
}

// TimeframeConfig overrides policy fields; nil and zero values keep the defaults.
type TimeframeConfig struct {
	MaxAttempts           *int           `mapstructure:"max_attempts"`
	AscendTarget          string         `mapstructure:"ascend_target"`
	GraceWindow           *time.Duration `mapstructure:"grace_window"`
	MinBars               int            `mapstructure:"min_bars"`
	CandleLimit           int            `mapstructure:"candle_limit"`
	BackfillBars          int            `mapstructure:"backfill_bars"`
	OrderCancelCooldown   time.Duration  `mapstructure:"order_cancel_cooldown"`
	PositionCloseCooldown time.Duration  `mapstructure:"position_close_cooldown"`
	EvaluatorTimeout      time.Duration  `mapstructure:"evaluator_timeout"`
}

type EvaluatorConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	APIKey  string        `mapstructure:"api_key"`
}

type BinanceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type MaintenanceConfig struct {
	DedupRetention   time.Duration `mapstructure:"dedup_retention"`
	PendingRetention time.Duration `mapstructure:"pending_retention"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MTF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.name", "mtf-scheduler")
	v.SetDefault("app.symbols", []string{})
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "mtf:")
	v.SetDefault("run_lock.backend", "db")
	v.SetDefault("run_lock.key", "eligibility_cycle")
	v.SetDefault("run_lock.ttl", "10m")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.cycles", map[string]string{
		"4h":  "5 4 */4 * * *",
		"1h":  "15 4 * * * *",
		"15m": "25 4/15 * * * *",
		"5m":  "35 */5 * * * *",
		"1m":  "50 * * * * *",
	})
	v.SetDefault("cron.dedup_prune", "0 17 3 * * *")
	v.SetDefault("cron.pending_sweep", "0 */10 * * * *")

	v.SetDefault("cycle.workers", 4)
	v.SetDefault("cycle.limit", 200)
	v.SetDefault("cycle.include_cooldown_elapsed", true)
	v.SetDefault("cycle.start_from", "4h")
	v.SetDefault("cascade.start_from", "4h")
	v.SetDefault("cascade.execution_preference", []string{"1m", "5m", "15m"})

	v.SetDefault("evaluator.base_url", "http://127.0.0.1:9090")
	v.SetDefault("evaluator.timeout", "10s")
	v.SetDefault("evaluator.api_key", "")
	v.SetDefault("binance.base_url", "https://api.binance.com")
	v.SetDefault("binance.timeout", "15s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("maintenance.dedup_retention", "720h")
	v.SetDefault("maintenance.pending_retention", "24h")

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
