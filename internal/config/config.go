package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"royalty-risk/internal/logging"
)

// Config materialises application configuration. It is loaded and validated
// once at startup and treated as read-only afterwards.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logging     logging.Config    `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Alerting    AlertingConfig    `mapstructure:"alerting"`
	Export      ExportConfig      `mapstructure:"export"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Deal        DealConfig        `mapstructure:"deal"`
	Reserves    []ReserveConfig   `mapstructure:"reserves"`
	Yield       YieldConfig       `mapstructure:"yield"`
	Decline     DeclineConfig     `mapstructure:"decline"`
	Delay       DelayConfig       `mapstructure:"delay"`
	Prices      PriceConfig       `mapstructure:"prices"`
	Terminal    TerminalConfig    `mapstructure:"terminal"`
	Simulation  SimulationConfig  `mapstructure:"simulation"`
	Solver      SolverConfig      `mapstructure:"solver"`
	Attribution AttributionConfig `mapstructure:"attribution"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for run history.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// AlertingConfig defines risk limits and notification routing.
type AlertingConfig struct {
	Enabled            bool           `mapstructure:"enabled"`
	MaxLossProbability float64        `mapstructure:"max_loss_probability"`
	DownsidePercentile float64        `mapstructure:"downside_percentile"`
	MinDownsideIRR     float64        `mapstructure:"min_downside_irr"`
	Channels           []string       `mapstructure:"channels"`
	Telegram           TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot used for alerts.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MonitorConfig drives the long-running re-evaluation loop.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	ReloadConfig  bool          `mapstructure:"reload_config"`
	RotateSeed    bool          `mapstructure:"rotate_seed"`
	Trials        int           `mapstructure:"trials"`
	// AdvisoryLockKey serialises monitor instances sharing a database; zero
	// disables locking.
	AdvisoryLockKey int64 `mapstructure:"advisory_lock_key"`
}

// ExportConfig sets CSV/PNG export behaviour.
type ExportConfig struct {
	HistogramBins int `mapstructure:"histogram_bins"`
	MaxSampleRows int `mapstructure:"max_sample_rows"`
	ChartWidth    int `mapstructure:"chart_width"`
	ChartHeight   int `mapstructure:"chart_height"`
}

// DealConfig holds the capital structure of the co-investment, in $MM.
type DealConfig struct {
	InvestmentMM  float64 `mapstructure:"investment_mm"`
	TotalEquityMM float64 `mapstructure:"total_equity_mm"`
	GARate        float64 `mapstructure:"ga_rate"`
	StripOilPrice float64 `mapstructure:"strip_oil_price"`
}

// OwnershipShare is the co-investor's share of the total equity.
func (d DealConfig) OwnershipShare() float64 {
	return d.InvestmentMM / d.TotalEquityMM
}

// ReserveConfig describes one reserve category. NAV drives the protected
// share of the yield curve; ReturnShare drives delay weighting.
type ReserveConfig struct {
	Name             string  `mapstructure:"name"`
	NAVMM            float64 `mapstructure:"nav_mm"`
	ReturnShare      float64 `mapstructure:"return_share"`
	Protected        bool    `mapstructure:"protected"`
	DelayProbability float64 `mapstructure:"delay_probability"`
	MaxDelayYears    float64 `mapstructure:"max_delay_years"`
}

// YieldConfig anchors the early years of the yield curve.
type YieldConfig struct {
	Anchors       []float64 `mapstructure:"anchors"`
	TargetAverage float64   `mapstructure:"target_average"`
	Floor         float64   `mapstructure:"floor"`
}

// DeclineConfig holds the Arps parameters and their Monte Carlo volatilities.
type DeclineConfig struct {
	BaseBFactor     float64 `mapstructure:"base_b_factor"`
	BaseDi          float64 `mapstructure:"base_di"`
	BVolatility     float64 `mapstructure:"b_volatility"`
	DiVolatility    float64 `mapstructure:"di_volatility"`
	BMin            float64 `mapstructure:"b_min"`
	BMax            float64 `mapstructure:"b_max"`
	DiMin           float64 `mapstructure:"di_min"`
	DiMax           float64 `mapstructure:"di_max"`
	RelativeScaling bool    `mapstructure:"relative_scaling"`
}

// DelayConfig holds the economic rates that price development delay.
type DelayConfig struct {
	InflationRate       float64 `mapstructure:"inflation_rate"`
	OpportunityCostRate float64 `mapstructure:"opportunity_cost_rate"`
}

// CommodityConfig parameterises one mean-reverting price process.
type CommodityConfig struct {
	Mu      float64 `mapstructure:"mu"`
	Theta   float64 `mapstructure:"theta"`
	Sigma   float64 `mapstructure:"sigma"`
	Floor   float64 `mapstructure:"floor"`
	Initial float64 `mapstructure:"initial"`
}

// MixConfig holds production-mix weights.
type MixConfig struct {
	Oil float64 `mapstructure:"oil"`
	Gas float64 `mapstructure:"gas"`
	NGL float64 `mapstructure:"ngl"`
}

// PriceConfig covers the commodity price model. Correlation rows follow
// the oil, gas, ngl order.
type PriceConfig struct {
	Oil         CommodityConfig `mapstructure:"oil"`
	Gas         CommodityConfig `mapstructure:"gas"`
	NGL         CommodityConfig `mapstructure:"ngl"`
	Correlation [][]float64     `mapstructure:"correlation"`
	Mix         MixConfig       `mapstructure:"mix"`
	TimeStep    float64         `mapstructure:"time_step"`
}

// NAVBandConfig is one step of the terminal NAV multiple table.
type NAVBandConfig struct {
	MinPriceFactor float64 `mapstructure:"min_price_factor"`
	Multiple       float64 `mapstructure:"multiple"`
}

// TerminalConfig controls the year-10 exit value.
type TerminalConfig struct {
	RemainingReserveFraction float64         `mapstructure:"remaining_reserve_fraction"`
	NAVBands                 []NAVBandConfig `mapstructure:"nav_bands"`
	FloorMultiple            float64         `mapstructure:"floor_multiple"`
}

// SimulationConfig governs Monte Carlo batches.
type SimulationConfig struct {
	Trials      int       `mapstructure:"trials"`
	Seed        uint64    `mapstructure:"seed"`
	Workers     int       `mapstructure:"workers"`
	Percentiles []float64 `mapstructure:"percentiles"`
	IncludeGA   bool      `mapstructure:"include_ga"`
}

// SolverConfig bounds the IRR root-finder and the breakeven search.
type SolverConfig struct {
	IRRGuess          float64 `mapstructure:"irr_guess"`
	IRRTolerance      float64 `mapstructure:"irr_tolerance"`
	IRRMaxIterations  int     `mapstructure:"irr_max_iterations"`
	IRRMinRate        float64 `mapstructure:"irr_min_rate"`
	IRRMaxRate        float64 `mapstructure:"irr_max_rate"`
	BreakevenStep     float64 `mapstructure:"breakeven_step"`
	BreakevenMaxSteps int     `mapstructure:"breakeven_max_steps"`
	IRRFloor          float64 `mapstructure:"irr_floor"`
}

// AttributionConfig holds the loss attribution cutoffs. Price and b-factor
// cutoffs follow the deck's stress cases (0.80x strip, b below 0.7 is
// "moderate steepening"); a one-year delay is the first full deferral of a
// development year.
type AttributionConfig struct {
	PriceFactor float64 `mapstructure:"price_factor"`
	DelayYears  float64 `mapstructure:"delay_years"`
	BFactor     float64 `mapstructure:"b_factor"`
}

// TotalNAV sums reserve NAV across categories, in $MM.
func (c *Config) TotalNAV() float64 {
	total := 0.0
	for _, r := range c.Reserves {
		total += r.NAVMM
	}
	return total
}

// ProtectedShare is the NAV share of delay-immune reserve categories.
func (c *Config) ProtectedShare() float64 {
	total := c.TotalNAV()
	if total <= 0 {
		return 0
	}
	protected := 0.0
	for _, r := range c.Reserves {
		if r.Protected {
			protected += r.NAVMM
		}
	}
	return protected / total
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ROYALTYRISK")
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

	return decode(v)
}

// Default returns the validated reference configuration without reading a
// file or the environment.
func Default() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
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
	v.SetDefault("app.name", "royaltyrisk")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_timeout", "10s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.max_loss_probability", 0.10)
	v.SetDefault("alerting.downside_percentile", 5.0)
	v.SetDefault("alerting.min_downside_irr", 0.0)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("monitor.interval", "24h")
	v.SetDefault("monitor.align_to_bucket", true)
	v.SetDefault("monitor.startup_delay", "0s")
	v.SetDefault("monitor.reload_config", true)
	v.SetDefault("monitor.rotate_seed", false)
	v.SetDefault("monitor.trials", 0)
	v.SetDefault("monitor.advisory_lock_key", int64(0x726f7961))

	v.SetDefault("export.histogram_bins", 50)
	v.SetDefault("export.max_sample_rows", 0)
	v.SetDefault("export.chart_width", 1280)
	v.SetDefault("export.chart_height", 720)

	v.SetDefault("deal.investment_mm", 195.0)
	v.SetDefault("deal.total_equity_mm", 710.0)
	v.SetDefault("deal.ga_rate", 0.0075)
	v.SetDefault("deal.strip_oil_price", 70.0)

	v.SetDefault("reserves", []map[string]any{
		{"name": "PDP", "nav_mm": 691.0, "return_share": 0.70, "protected": true},
		{"name": "DUC", "nav_mm": 123.0, "return_share": 0.12, "delay_probability": 0.15, "max_delay_years": 1.0},
		{"name": "Permit", "nav_mm": 39.0, "return_share": 0.04, "delay_probability": 0.25, "max_delay_years": 1.5},
		{"name": "APD", "nav_mm": 91.0, "return_share": 0.08, "delay_probability": 0.35, "max_delay_years": 2.0},
		{"name": "Undeveloped", "nav_mm": 108.0, "return_share": 0.06, "delay_probability": 0.50, "max_delay_years": 3.0},
	})

	v.SetDefault("yield.anchors", []float64{0.269, 0.266, 0.251})
	v.SetDefault("yield.target_average", 0.186)
	v.SetDefault("yield.floor", 0.03)

	v.SetDefault("decline.base_b_factor", 0.9)
	v.SetDefault("decline.base_di", 0.25)
	v.SetDefault("decline.b_volatility", 0.12)
	v.SetDefault("decline.di_volatility", 0.05)
	v.SetDefault("decline.b_min", 0.3)
	v.SetDefault("decline.b_max", 1.2)
	v.SetDefault("decline.di_min", 0.10)
	v.SetDefault("decline.di_max", 0.45)
	v.SetDefault("decline.relative_scaling", false)

	v.SetDefault("delay.inflation_rate", 0.03)
	v.SetDefault("delay.opportunity_cost_rate", 0.08)

	v.SetDefault("prices.oil", map[string]any{"mu": 1.0, "theta": 0.30, "sigma": 0.25, "floor": 0.2, "initial": 1.0})
	v.SetDefault("prices.gas", map[string]any{"mu": 1.0, "theta": 0.50, "sigma": 0.45, "floor": 0.2, "initial": 1.0})
	v.SetDefault("prices.ngl", map[string]any{"mu": 1.0, "theta": 0.35, "sigma": 0.30, "floor": 0.2, "initial": 1.0})
	v.SetDefault("prices.correlation", [][]float64{
		{1.0, 0.35, 0.75},
		{0.35, 1.0, 0.40},
		{0.75, 0.40, 1.0},
	})
	v.SetDefault("prices.mix", map[string]any{"oil": 0.32, "gas": 0.40, "ngl": 0.28})
	v.SetDefault("prices.time_step", 1.0)

	v.SetDefault("terminal.remaining_reserve_fraction", 0.15)
	v.SetDefault("terminal.nav_bands", []map[string]any{
		{"min_price_factor": 0.9, "multiple": 0.95},
		{"min_price_factor": 0.7, "multiple": 0.85},
		{"min_price_factor": 0.5, "multiple": 0.75},
	})
	v.SetDefault("terminal.floor_multiple", 0.60)

	v.SetDefault("simulation.trials", 50000)
	v.SetDefault("simulation.seed", uint64(42))
	v.SetDefault("simulation.workers", 0)
	v.SetDefault("simulation.percentiles", []float64{1, 5, 10, 25, 50, 75, 90, 95, 99})
	v.SetDefault("simulation.include_ga", true)

	v.SetDefault("solver.irr_guess", 0.10)
	v.SetDefault("solver.irr_tolerance", 1e-8)
	v.SetDefault("solver.irr_max_iterations", 100)
	v.SetDefault("solver.irr_min_rate", -0.99)
	v.SetDefault("solver.irr_max_rate", 2.0)
	v.SetDefault("solver.breakeven_step", 0.01)
	v.SetDefault("solver.breakeven_max_steps", 100)
	v.SetDefault("solver.irr_floor", 0.10)

	v.SetDefault("attribution.price_factor", 0.80)
	v.SetDefault("attribution.delay_years", 1.0)
	v.SetDefault("attribution.b_factor", 0.70)
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

// ResolveTrials returns either the CLI override or config default.
func (c *Config) ResolveTrials(override int) int {
	if override > 0 {
		return override
	}
	return c.Simulation.Trials
}
