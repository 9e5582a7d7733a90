// Package config defines all configuration for the order routing engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ROUTER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Debug    bool           `mapstructure:"debug"`
	DB       DBConfig       `mapstructure:"db"`
	Observer ObserverConfig `mapstructure:"observer"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DBConfig holds the connection parameters for the reference/trade store.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// DSN renders the pgx connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

// ObserverConfig names the watched directory tree.
//
//	<base_path>/<xq_signals_dir>/YYYYMMDD_<strategy>.log   upstream signals
//	<base_path>/<callback_dir>/<order_file>                broker order acks
//	<base_path>/<callback_dir>/<trade_file>                broker fills
//	<base_path>/<callback_dir>/<position_file>             broker positions
//	<base_path>/<sf31_orders_dir>/<strategy>/{Buy,Sell}.log emitted orders
type ObserverConfig struct {
	BasePath       string `mapstructure:"base_path"`
	SF31OrdersDir  string `mapstructure:"sf31_orders_dir"`
	XQSignalsDir   string `mapstructure:"xq_signals_dir"`
	CallbackDir    string `mapstructure:"callback_dir"`
	OrderFile      string `mapstructure:"order_file"`
	TradeFile      string `mapstructure:"trade_file"`
	PositionFile   string `mapstructure:"position_file"`
	CheckpointsDir string `mapstructure:"checkpoints_dir"`
}

// EngineConfig holds the timed schedule and engine tunables. Clock times are
// "HH:MM" strings on the exchange clock (UTC+8).
type EngineConfig struct {
	TradeStart        string `mapstructure:"trade_start"`
	TradeEnd          string `mapstructure:"trade_end"`
	SignalStart       string `mapstructure:"signal_start"`
	SignalEnd         string `mapstructure:"signal_end"`
	BeforeMarketStart string `mapstructure:"before_market_start"`
	BeforeMarketEnd   string `mapstructure:"before_market_end"`
	UpdateContracts   string `mapstructure:"update_contracts"`
	Reset1            string `mapstructure:"reset1"`
	Reset2            string `mapstructure:"reset2"`

	SyncInterval        time.Duration `mapstructure:"sync_interval"`
	SnapshotInterval    time.Duration `mapstructure:"snapshot_interval"`
	QuoteDelayTolerance time.Duration `mapstructure:"quote_delay_tolerance"`

	DailyAmountLimit   float64 `mapstructure:"daily_amount_limit"`
	FallbackStrategyID int     `mapstructure:"fallback_strategy_id"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ROUTER_DB_USER, ROUTER_DB_PASSWORD.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ROUTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("engine.sync_interval", 30*time.Second)
	v.SetDefault("engine.snapshot_interval", 10*time.Second)
	v.SetDefault("engine.quote_delay_tolerance", 30*time.Second)
	v.SetDefault("engine.fallback_strategy_id", 7)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if user := os.Getenv("ROUTER_DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if pass := os.Getenv("ROUTER_DB_PASSWORD"); pass != "" {
		cfg.DB.Password = pass
	}
	if os.Getenv("ROUTER_DEBUG") == "true" || os.Getenv("ROUTER_DEBUG") == "1" {
		cfg.Debug = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.DB.User == "" {
		return fmt.Errorf("db.user is required (set ROUTER_DB_USER)")
	}
	if c.Observer.BasePath == "" {
		return fmt.Errorf("observer.base_path is required")
	}
	if c.Observer.CheckpointsDir == "" {
		return fmt.Errorf("observer.checkpoints_dir is required")
	}
	for _, f := range []struct{ key, val string }{
		{"observer.sf31_orders_dir", c.Observer.SF31OrdersDir},
		{"observer.xq_signals_dir", c.Observer.XQSignalsDir},
		{"observer.callback_dir", c.Observer.CallbackDir},
		{"observer.order_file", c.Observer.OrderFile},
		{"observer.trade_file", c.Observer.TradeFile},
		{"observer.position_file", c.Observer.PositionFile},
	} {
		if f.val == "" {
			return fmt.Errorf("%s is required", f.key)
		}
	}
	for _, f := range []struct{ key, val string }{
		{"engine.trade_start", c.Engine.TradeStart},
		{"engine.trade_end", c.Engine.TradeEnd},
		{"engine.signal_start", c.Engine.SignalStart},
		{"engine.signal_end", c.Engine.SignalEnd},
		{"engine.before_market_start", c.Engine.BeforeMarketStart},
		{"engine.before_market_end", c.Engine.BeforeMarketEnd},
		{"engine.update_contracts", c.Engine.UpdateContracts},
		{"engine.reset1", c.Engine.Reset1},
		{"engine.reset2", c.Engine.Reset2},
	} {
		if _, err := ParseClock(f.val); err != nil {
			return fmt.Errorf("%s: %w", f.key, err)
		}
	}
	if c.Engine.SyncInterval <= 0 {
		return fmt.Errorf("engine.sync_interval must be > 0")
	}
	if c.Engine.SnapshotInterval <= 0 {
		return fmt.Errorf("engine.snapshot_interval must be > 0")
	}
	if c.Engine.FallbackStrategyID <= 0 {
		return fmt.Errorf("engine.fallback_strategy_id must be > 0")
	}
	return nil
}

// Clock is a time of day as minutes since midnight on the exchange clock.
type Clock int

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

// MustClock parses "HH:MM" and panics on error. For use after Validate.
func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// At reports whether tm has reached this clock time on its calendar day.
func (c Clock) At(tm time.Time) bool {
	return Clock(tm.Hour()*60+tm.Minute()) >= c
}

// Within reports whether tm falls inside [start, end] on its calendar day.
func Within(tm time.Time, start, end Clock) bool {
	m := Clock(tm.Hour()*60 + tm.Minute())
	return m >= start && m <= end
}
