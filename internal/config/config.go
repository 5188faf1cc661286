package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"setup-maturity/internal/logging"
	"setup-maturity/internal/market"
	"setup-maturity/internal/phase"
	"setup-maturity/internal/pipeline"
	"setup-maturity/internal/policy"
	"setup-maturity/internal/scoring"
	"setup-maturity/internal/structure"
	"setup-maturity/internal/trades"
	"setup-maturity/internal/zone"
)

// ErrInvalidConfiguration wraps every load-time violation.
var ErrInvalidConfiguration = market.ErrInvalidConfiguration

// Config materialises application configuration.
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Logging     logging.Config     `mapstructure:"logging"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Redis       trades.RedisConfig `mapstructure:"redis"`
	Scheduler   SchedulerConfig    `mapstructure:"scheduler"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Engine      EngineConfig       `mapstructure:"engine"`
	Trades      TradesConfig       `mapstructure:"trades"`
	Journal     JournalConfig      `mapstructure:"journal"`
	Alerting    AlertingConfig     `mapstructure:"alerting"`
	Policy      policy.Config      `mapstructure:"policy"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	Export      ExportConfig       `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// SchedulerConfig governs polling cadence in run mode.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// FeedConfig selects where base bars come from.
type FeedConfig struct {
	Source         string            `mapstructure:"source"`
	CSVDir         string            `mapstructure:"csv_dir"`
	BaseURL        string            `mapstructure:"base_url"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	FetchLimit     int               `mapstructure:"fetch_limit"`
	Symbols        map[string]string `mapstructure:"symbols"`
	// Lookback bounds the first fetch of a fresh cursor in run mode.
	Lookback time.Duration `mapstructure:"lookback"`
}

// InstrumentConfig names one evaluated symbol. A plain string in the config
// document decodes into Name.
type InstrumentConfig struct {
	Name      string  `mapstructure:"name"`
	PointSize float64 `mapstructure:"point_size"`
	HTFBias   string  `mapstructure:"htf_bias"`
}

// EngineConfig holds the shared pipeline parameters.
type EngineConfig struct {
	BaseTimeframe   string           `mapstructure:"base_timeframe"`
	Timeframes      []string         `mapstructure:"timeframes"`
	SetupTimeframes []string         `mapstructure:"setup_timeframes"`
	HTFTimeframe    string           `mapstructure:"htf_timeframe"`
	PhaseTimeframe  string           `mapstructure:"phase_timeframe"`
	Structure       structure.Config `mapstructure:"structure"`
	Zones           zone.Config      `mapstructure:"zones"`
	Phase           phase.Table      `mapstructure:"phase"`
	Scoring         scoring.Config   `mapstructure:"scoring"`
}

// TradesConfig selects the active-trade provider: none, static, redis or postgres.
type TradesConfig struct {
	Source string               `mapstructure:"source"`
	Static []trades.ActiveTrade `mapstructure:"static"`
}

// JournalConfig lists sinks (postgres, jsonl, yaml, memory) and the write filter.
type JournalConfig struct {
	Sinks    []string `mapstructure:"sinks"`
	Dir      string   `mapstructure:"dir"`
	LogAll   bool     `mapstructure:"log_all"`
	MinScore float64  `mapstructure:"min_score"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	Cooldown       time.Duration  `mapstructure:"cooldown"`
	Channels       []string       `mapstructure:"channels"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// MetricsConfig controls the Prometheus endpoint in run mode.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SETUPSCORE")
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
		return nil, fmt.Errorf("%w: unmarshal config: %v", ErrInvalidConfiguration, err)
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
	v.SetDefault("app.name", "setupscore")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "1m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53455455))
	v.SetDefault("scheduler.startup_delay", "5s")

	v.SetDefault("redis.key_prefix", "trades:active")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("feed.source", "csv")
	v.SetDefault("feed.csv_dir", "data")
	v.SetDefault("feed.base_url", "https://api.binance.com")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "setupscore/1.0")
	v.SetDefault("feed.fetch_limit", 500)
	v.SetDefault("feed.lookback", "24h")

	v.SetDefault("instruments", []string{})

	v.SetDefault("engine.base_timeframe", "1m")
	v.SetDefault("engine.timeframes", []string{"5m", "15m", "1h", "4h"})
	v.SetDefault("engine.setup_timeframes", []string{"5m", "15m"})
	v.SetDefault("engine.htf_timeframe", "4h")
	v.SetDefault("engine.phase_timeframe", "15m")

	str := structure.DefaultConfig()
	v.SetDefault("engine.structure.swing_lookback", str.SwingLookback)
	v.SetDefault("engine.structure.range_window", str.RangeWindow)
	v.SetDefault("engine.structure.impulse_threshold", str.ImpulseThreshold)
	v.SetDefault("engine.structure.point_size", str.PointSize)
	v.SetDefault("engine.structure.sweep_tolerance_points", str.SweepTolerancePoints)
	v.SetDefault("engine.structure.sweep_reversal_bars", str.SweepReversalBars)
	v.SetDefault("engine.structure.inducement_lookback", str.InducementLookback)
	v.SetDefault("engine.structure.inducement_touches", str.InducementTouches)
	v.SetDefault("engine.structure.equal_level_points", str.EqualLevelPoints)
	v.SetDefault("engine.structure.history", str.History)

	zn := zone.DefaultConfig()
	v.SetDefault("engine.zones.ob_lookback", zn.OBLookback)
	v.SetDefault("engine.zones.fvg_scan_depth", zn.FVGScanDepth)
	v.SetDefault("engine.zones.max_fvg_points", zn.MaxFVGPoints)
	v.SetDefault("engine.zones.wick_ratio", zn.WickRatio)

	sc := scoring.DefaultConfig()
	w := sc.Weights
	v.SetDefault("engine.scoring.weights.htf_bias_alignment", w.HTFBiasAlignment)
	v.SetDefault("engine.scoring.weights.idm_detected_clarity", w.InducementClarity)
	v.SetDefault("engine.scoring.weights.sweep_validation_strength", w.SweepValidationStrength)
	v.SetDefault("engine.scoring.weights.choch_confirmation_score", w.CHoCHConfirmation)
	v.SetDefault("engine.scoring.weights.poi_validation_score", w.POIValidation)
	v.SetDefault("engine.scoring.weights.tick_density_score", w.TickDensity)
	v.SetDefault("engine.scoring.weights.spread_stability_score", w.SpreadStability)
	v.SetDefault("engine.scoring.thresholds.a", sc.Thresholds.A)
	v.SetDefault("engine.scoring.thresholds.b", sc.Thresholds.B)
	v.SetDefault("engine.scoring.thresholds.c", sc.Thresholds.C)
	v.SetDefault("engine.scoring.thresholds.d", sc.Thresholds.D)
	v.SetDefault("engine.scoring.features.volume_spike_multiplier", sc.Features.VolumeSpikeMultiplier)
	v.SetDefault("engine.scoring.features.density_window", sc.Features.DensityWindow)
	v.SetDefault("engine.scoring.features.spread_window", sc.Features.SpreadWindow)
	v.SetDefault("engine.scoring.features.min_spread_samples", sc.Features.MinSpreadSamples)
	v.SetDefault("engine.scoring.conflict.horizon", sc.Conflict.Horizon.String())
	v.SetDefault("engine.scoring.conflict.alert_threshold", sc.Conflict.AlertThreshold)
	v.SetDefault("engine.scoring.conflict.review_threshold", sc.Conflict.ReviewThreshold)

	v.SetDefault("trades.source", "none")

	v.SetDefault("journal.sinks", []string{"jsonl"})
	v.SetDefault("journal.dir", "journal")
	v.SetDefault("journal.log_all", true)
	v.SetDefault("journal.min_score", 0.0)

	pol := policy.DefaultConfig()
	v.SetDefault("policy.min_score_to_act", pol.MinScoreToAct)
	v.SetDefault("policy.min_grade", pol.MinGrade)
	v.SetDefault("policy.block_on_conflict", pol.BlockOnConflict)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "30m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.request_timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9102")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
			instrumentHook(),
		)
	}
}

// instrumentHook lets "EURUSD" stand in for {name: EURUSD}.
func instrumentHook() mapstructure.DecodeHookFuncType {
	target := reflect.TypeOf(InstrumentConfig{})
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != target || f.Kind() != reflect.String {
			return data, nil
		}
		return InstrumentConfig{Name: strings.TrimSpace(data.(string))}, nil
	}
}

// Validate performs sanity checks and builds every pipeline once so that
// engine errors surface at load time.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("%w: export.max_data_points must be greater than zero", ErrInvalidConfiguration)
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("%w: scheduler.interval must be greater than zero", ErrInvalidConfiguration)
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("%w: at least one instrument is required", ErrInvalidConfiguration)
	}
	switch strings.ToLower(c.Feed.Source) {
	case "csv", "http", "postgres":
	default:
		return fmt.Errorf("%w: unknown feed.source %q", ErrInvalidConfiguration, c.Feed.Source)
	}
	if c.Feed.FetchLimit <= 0 {
		return fmt.Errorf("%w: feed.fetch_limit must be greater than zero", ErrInvalidConfiguration)
	}
	switch strings.ToLower(c.Trades.Source) {
	case "", "none", "static", "redis", "postgres":
	default:
		return fmt.Errorf("%w: unknown trades.source %q", ErrInvalidConfiguration, c.Trades.Source)
	}
	for i, t := range c.Trades.Static {
		dir, err := trades.ParseDirection(string(t.Direction))
		if err != nil {
			return fmt.Errorf("%w: trades.static %s: %v", ErrInvalidConfiguration, t.ID, err)
		}
		c.Trades.Static[i].Direction = dir
	}
	if strings.EqualFold(c.Trades.Source, "redis") && c.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required for trades.source=redis", ErrInvalidConfiguration)
	}
	if len(c.Journal.Sinks) == 0 {
		return fmt.Errorf("%w: journal.sinks cannot be empty", ErrInvalidConfiguration)
	}
	for _, sink := range c.Journal.Sinks {
		switch strings.ToLower(strings.TrimSpace(sink)) {
		case "postgres", "jsonl", "yaml", "memory":
		default:
			return fmt.Errorf("%w: unknown journal sink %q", ErrInvalidConfiguration, sink)
		}
	}
	if c.Journal.MinScore < 0 || c.Journal.MinScore > 1 {
		return fmt.Errorf("%w: journal.min_score must be in [0,1]", ErrInvalidConfiguration)
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("%w: metrics.addr is required when metrics are enabled", ErrInvalidConfiguration)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("%w: alerting.telegram.bot_token 必须配置", ErrInvalidConfiguration)
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("%w: alerting.telegram.chat_id 必须配置", ErrInvalidConfiguration)
		}
	}

	if _, err := c.Pipelines(); err != nil {
		return err
	}
	return nil
}

// Pipelines expands the shared engine block into one pipeline config per
// instrument.
func (c *Config) Pipelines() ([]pipeline.Config, error) {
	base, err := market.ParseTimeframe(c.Engine.BaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("engine.base_timeframe: %w", err)
	}
	tfs, err := market.ParseTimeframes(c.Engine.Timeframes)
	if err != nil {
		return nil, fmt.Errorf("engine.timeframes: %w", err)
	}
	setups, err := market.ParseTimeframes(c.Engine.SetupTimeframes)
	if err != nil {
		return nil, fmt.Errorf("engine.setup_timeframes: %w", err)
	}
	htf, err := optionalTimeframe(c.Engine.HTFTimeframe)
	if err != nil {
		return nil, fmt.Errorf("engine.htf_timeframe: %w", err)
	}
	phaseTF, err := optionalTimeframe(c.Engine.PhaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("engine.phase_timeframe: %w", err)
	}

	seen := make(map[string]bool, len(c.Instruments))
	out := make([]pipeline.Config, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		name := strings.ToUpper(strings.TrimSpace(inst.Name))
		if name == "" {
			return nil, fmt.Errorf("%w: instrument name is required", ErrInvalidConfiguration)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate instrument %s", ErrInvalidConfiguration, name)
		}
		seen[name] = true

		str := c.Engine.Structure
		if inst.PointSize > 0 {
			str.PointSize = inst.PointSize
		}
		var bias market.Bias
		if inst.HTFBias != "" {
			if bias, err = market.ParseBias(inst.HTFBias); err != nil {
				return nil, fmt.Errorf("instrument %s: %w", name, err)
			}
		}

		pc := pipeline.Config{
			Instrument:      name,
			Base:            base,
			Timeframes:      withoutBase(tfs, base),
			SetupTimeframes: setups,
			HTFTimeframe:    htf,
			HTFBias:         bias,
			PhaseTimeframe:  phaseTF,
			Structure:       str,
			Zones:           c.Engine.Zones,
			Phase:           c.Engine.Phase,
			Scoring:         c.Engine.Scoring,
		}
		if err := validatePipeline(pc); err != nil {
			return nil, fmt.Errorf("instrument %s: %w", name, err)
		}
		out = append(out, pc)
	}
	return out, nil
}

// InstrumentNames returns the normalised instrument list.
func (c *Config) InstrumentNames() []string {
	out := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		out = append(out, strings.ToUpper(strings.TrimSpace(inst.Name)))
	}
	return out
}

// Symbols returns feed.symbols keyed by upper-case instrument.
func (c *Config) Symbols() map[string]string {
	out := make(map[string]string, len(c.Feed.Symbols))
	for k, v := range c.Feed.Symbols {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

func optionalTimeframe(s string) (market.Timeframe, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	return market.ParseTimeframe(s)
}

func withoutBase(tfs []market.Timeframe, base market.Timeframe) []market.Timeframe {
	out := make([]market.Timeframe, 0, len(tfs))
	for _, tf := range tfs {
		if tf != base {
			out = append(out, tf)
		}
	}
	return out
}

// validatePipeline constructs and discards a pipeline.
func validatePipeline(pc pipeline.Config) error {
	_, err := pipeline.New(pc, zerolog.Nop())
	return err
}
