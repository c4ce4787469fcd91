package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"structure-signals/internal/logging"
	"structure-signals/internal/market"
	"structure-signals/internal/release"
	"structure-signals/internal/structure"
)

// Config materialises application configuration.
type Config struct {
	App         AppConfig             `mapstructure:"app"`
	Logging     logging.Config        `mapstructure:"logging"`
	Database    DatabaseConfig        `mapstructure:"database"`
	Feed        FeedConfig            `mapstructure:"feed"`
	Instruments []InstrumentConfig    `mapstructure:"instruments"`
	Engine      structure.Config      `mapstructure:"engine"`
	Gate        release.GateConfig    `mapstructure:"gate"`
	Planner     release.PlannerConfig `mapstructure:"planner"`
	Lifecycle   LifecycleConfig       `mapstructure:"lifecycle"`
	Alerting    AlertingConfig        `mapstructure:"alerting"`
	Metrics     MetricsConfig         `mapstructure:"metrics"`
	Export      ExportConfig          `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the candidate store.
type DatabaseConfig struct {
	Driver           string        `mapstructure:"driver"`
	DSN              string        `mapstructure:"dsn"`
	SQLitePath       string        `mapstructure:"sqlite_path"`
	MaxOpenConns     int           `mapstructure:"max_open_conns"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	StatementTimeout time.Duration `mapstructure:"statement_timeout"`
	MigrationsPath   string        `mapstructure:"migrations_path"`
}

// FeedConfig covers the candle provider.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	WindowSize     int           `mapstructure:"window_size"`
	StaleBars      int           `mapstructure:"stale_bars"`
	MaxRetries     uint64        `mapstructure:"max_retries"`
	RetryInitial   time.Duration `mapstructure:"retry_initial"`
	RetryMax       time.Duration `mapstructure:"retry_max"`
	Cache          CacheConfig   `mapstructure:"cache"`
}

// CacheConfig enables the shared redis cache in front of the feed.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// InstrumentConfig describes one analysed symbol.
type InstrumentConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Timeframe  string  `mapstructure:"timeframe"`
	PipSize    string  `mapstructure:"pip_size"`
	Precision  int32   `mapstructure:"precision"`
	SpreadPips float64 `mapstructure:"spread_pips"`
}

// LifecycleConfig governs worker cadence and the prepared lease.
type LifecycleConfig struct {
	ProducerInterval time.Duration `mapstructure:"producer_interval"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	TickTimeout      time.Duration `mapstructure:"tick_timeout"`
	PreparedLease    time.Duration `mapstructure:"prepared_lease"`
	AlignToBucket    bool          `mapstructure:"align_to_bucket"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig exposes the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STRUCTSIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "structsig")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.sqlite_path", "structsig.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "5s")
	v.SetDefault("database.statement_timeout", "10s")
	v.SetDefault("database.migrations_path", "migrations")

	v.SetDefault("feed.base_url", "https://api.twelvedata.com")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "")
	v.SetDefault("feed.window_size", 120)
	v.SetDefault("feed.stale_bars", 3)
	v.SetDefault("feed.max_retries", 3)
	v.SetDefault("feed.retry_initial", "500ms")
	v.SetDefault("feed.retry_max", "5s")
	v.SetDefault("feed.cache.enabled", false)
	v.SetDefault("feed.cache.addr", "localhost:6379")
	v.SetDefault("feed.cache.db", 0)
	v.SetDefault("feed.cache.ttl", "20s")

	v.SetDefault("instruments", []map[string]any{
		{"symbol": "EUR/USD", "timeframe": "5min", "pip_size": "0.0001", "precision": 5, "spread_pips": 0.8},
	})

	engine := structure.DefaultConfig()
	v.SetDefault("engine.min_candles", engine.MinCandles)
	v.SetDefault("engine.swing_strength", engine.SwingStrength)
	v.SetDefault("engine.follow_through", engine.FollowThrough)
	v.SetDefault("engine.max_gap_bars", engine.MaxGapBars)
	v.SetDefault("engine.bullish_threshold", engine.BullishThreshold)
	v.SetDefault("engine.bearish_threshold", engine.BearishThreshold)
	v.SetDefault("engine.weights.bos", engine.Weights.BOS)
	v.SetDefault("engine.weights.choch", engine.Weights.CHoCH)
	v.SetDefault("engine.weights.swing_sequence", engine.Weights.SwingSequence)
	v.SetDefault("engine.weights.pending_factor", engine.Weights.PendingFactor)

	gate := release.DefaultGateConfig()
	v.SetDefault("gate.threshold", gate.Threshold)
	v.SetDefault("gate.factor_min", gate.FactorMin)
	v.SetDefault("gate.factor_max", gate.FactorMax)
	v.SetDefault("gate.default_session_weight", gate.DefaultSession)
	sessions := make([]map[string]any, 0, len(gate.Sessions))
	for _, s := range gate.Sessions {
		sessions = append(sessions, map[string]any{
			"name": s.Name, "start_hour": s.StartHour, "end_hour": s.EndHour, "weight": s.Weight,
		})
	}
	v.SetDefault("gate.sessions", sessions)
	v.SetDefault("gate.volatility.low_ratio", gate.Volatility.LowRatio)
	v.SetDefault("gate.volatility.high_ratio", gate.Volatility.HighRatio)
	v.SetDefault("gate.volatility.low_factor", gate.Volatility.LowFactor)
	v.SetDefault("gate.volatility.normal_factor", gate.Volatility.NormalFactor)
	v.SetDefault("gate.volatility.high_factor", gate.Volatility.HighFactor)
	v.SetDefault("gate.spread_penalty", gate.SpreadPenalty)
	v.SetDefault("gate.atr_short", gate.ATRShort)
	v.SetDefault("gate.atr_long", gate.ATRLong)

	planner := release.DefaultPlannerConfig()
	v.SetDefault("planner.mode", planner.Mode)
	v.SetDefault("planner.entry_offset_pips", planner.EntryOffsetPips)
	v.SetDefault("planner.entry_atr_mult", planner.EntryATRMult)
	v.SetDefault("planner.min_offset_pips", planner.MinOffsetPips)
	v.SetDefault("planner.take_profit_pips", planner.TakeProfitPips)
	v.SetDefault("planner.stop_loss_pips", planner.StopLossPips)
	v.SetDefault("planner.take_profit_atr", planner.TakeProfitATR)
	v.SetDefault("planner.stop_loss_atr", planner.StopLossATR)
	v.SetDefault("planner.entry_window", planner.EntryWindow.String())
	v.SetDefault("planner.trade_window", planner.TradeWindow.String())

	v.SetDefault("lifecycle.producer_interval", "1m")
	v.SetDefault("lifecycle.monitor_interval", "15s")
	v.SetDefault("lifecycle.sweep_interval", "1m")
	v.SetDefault("lifecycle.tick_timeout", "45s")
	v.SetDefault("lifecycle.prepared_lease", "2m")
	v.SetDefault("lifecycle.align_to_bucket", true)
	v.SetDefault("lifecycle.startup_delay", "0s")
	v.SetDefault("lifecycle.advisory_lock_key", int64(0x73747275))

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("export.max_rows", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("at least one instrument must be configured")
	}
	for i, inst := range c.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instruments[%d].symbol is required", i)
		}
		if _, err := market.ParseTimeframe(inst.Timeframe); err != nil {
			return fmt.Errorf("instruments[%d].timeframe: %w", i, err)
		}
		pip, err := decimal.NewFromString(inst.PipSize)
		if err != nil || !pip.IsPositive() {
			return fmt.Errorf("instruments[%d].pip_size must be a positive decimal", i)
		}
		if inst.SpreadPips < 0 {
			return fmt.Errorf("instruments[%d].spread_pips cannot be negative", i)
		}
	}
	if c.Feed.WindowSize < c.Engine.MinCandles {
		return fmt.Errorf("feed.window_size must be at least engine.min_candles (%d)", c.Engine.MinCandles)
	}
	if c.Feed.RequestTimeout <= 0 {
		return fmt.Errorf("feed.request_timeout must be greater than zero")
	}
	if c.Engine.SwingStrength < 1 {
		return fmt.Errorf("engine.swing_strength must be at least 1")
	}
	if c.Engine.BearishThreshold >= c.Engine.BullishThreshold {
		return fmt.Errorf("engine.bearish_threshold must be below engine.bullish_threshold")
	}
	if c.Gate.Threshold < 0 || c.Gate.Threshold > 1 {
		return fmt.Errorf("gate.threshold must be within [0, 1]")
	}
	if c.Gate.FactorMin <= 0 || c.Gate.FactorMin > c.Gate.FactorMax {
		return fmt.Errorf("gate.factor_min must be positive and not above gate.factor_max")
	}
	if c.Planner.Mode != release.ModeFixed && c.Planner.Mode != release.ModeATR {
		return fmt.Errorf("planner.mode must be %q or %q", release.ModeFixed, release.ModeATR)
	}
	if c.Planner.EntryWindow <= 0 || c.Planner.TradeWindow <= 0 {
		return fmt.Errorf("planner.entry_window and planner.trade_window must be greater than zero")
	}
	if c.Lifecycle.ProducerInterval <= 0 || c.Lifecycle.MonitorInterval <= 0 || c.Lifecycle.SweepInterval <= 0 {
		return fmt.Errorf("lifecycle intervals must be greater than zero")
	}
	if c.Lifecycle.PreparedLease <= 0 {
		return fmt.Errorf("lifecycle.prepared_lease must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}
	return nil
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}

// Instrument resolves the configured instrument for symbol.
func (c *Config) Instrument(symbol string) (InstrumentConfig, bool) {
	for _, inst := range c.Instruments {
		if strings.EqualFold(inst.Symbol, symbol) {
			return inst, true
		}
	}
	return InstrumentConfig{}, false
}

// Grid converts the instrument into the planner's price grid.
func (i InstrumentConfig) Grid() release.Instrument {
	return release.Instrument{
		Symbol:    i.Symbol,
		PipSize:   decimal.RequireFromString(i.PipSize),
		Precision: i.Precision,
	}
}

// TF returns the parsed timeframe. Validate guarantees it parses.
func (i InstrumentConfig) TF() market.Timeframe {
	tf, _ := market.ParseTimeframe(i.Timeframe)
	return tf
}

// Spread returns the typical spread in price units.
func (i InstrumentConfig) Spread() float64 {
	pip, err := decimal.NewFromString(i.PipSize)
	if err != nil {
		return 0
	}
	return pip.InexactFloat64() * i.SpreadPips
}
