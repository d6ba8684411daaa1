package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DB         DBConfig         `mapstructure:"db"`
	DataAPI    DataAPIConfig    `mapstructure:"data_api"`
	ClobREST   ClobRESTConfig   `mapstructure:"clob_rest"`
	ClobStream ClobStreamConfig `mapstructure:"clob_stream"`
	Gamma      GammaConfig      `mapstructure:"gamma"`

	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Profiler   ProfilerConfig   `mapstructure:"profiler"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Sizing     SizingConfig     `mapstructure:"sizing"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Shadow     ShadowConfig     `mapstructure:"shadow"`

	Targets    []TargetAccount `mapstructure:"targets"`
	Candidates []TargetAccount `mapstructure:"candidates"`
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

type DataAPIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClobRESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ClobStreamConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	MaxAssets       int           `mapstructure:"max_assets"`
}

type GammaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TargetAccount identifies one tracked external wallet.
type TargetAccount struct {
	Address  string `mapstructure:"address"`
	Nickname string `mapstructure:"nickname"`
	Active   bool   `mapstructure:"active"`
}

type MonitorConfig struct {
	TradeFetchLimit int           `mapstructure:"trade_fetch_limit"`
	MinPollInterval time.Duration `mapstructure:"min_poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`
	MarketFilter    FilterConfig  `mapstructure:"market_filter"`
}

type FilterConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Assets             []string `mapstructure:"assets"`
	Keywords           []string `mapstructure:"keywords"`
	ExcludeKeywords    []string `mapstructure:"exclude_keywords"`
	MinDurationMinutes int      `mapstructure:"min_duration_minutes"`
	MaxDurationMinutes int      `mapstructure:"max_duration_minutes"`
}

type ProfilerConfig struct {
	HistoryLimit       int           `mapstructure:"history_limit"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl"`
	AccumulationWindow time.Duration `mapstructure:"accumulation_window"`
	AccumulationRecent time.Duration `mapstructure:"accumulation_recent"`
	WashWindow         time.Duration `mapstructure:"wash_window"`
}

type RiskConfig struct {
	SignalTTL time.Duration `mapstructure:"signal_ttl"`
}

type SizingConfig struct {
	WhaleFollowPct float64 `mapstructure:"whale_follow_pct"`
	MinInvestment  float64 `mapstructure:"min_investment"`
	DecayThreshold int     `mapstructure:"decay_threshold"`
}

type SimulationConfig struct {
	Delays              []int   `mapstructure:"delays"`
	InvestmentPerTrade  float64 `mapstructure:"investment_per_trade"`
	FeeRate             float64 `mapstructure:"fee_rate"`
	MaxBookLevels       int     `mapstructure:"max_book_levels"`
	EnableSlippageCheck bool    `mapstructure:"enable_slippage_check"`
	MaxSlippagePct      float64 `mapstructure:"max_slippage_pct"`
	HardSlippagePct     float64 `mapstructure:"hard_slippage_pct"`
}

type SettlementConfig struct {
	Schedule       string        `mapstructure:"schedule"`
	MarketCacheTTL time.Duration `mapstructure:"market_cache_ttl"`
}

type ShadowConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	TradeFetchLimit   int           `mapstructure:"trade_fetch_limit"`
	FeeRate           float64       `mapstructure:"fee_rate"`
	MinTradesVerified int           `mapstructure:"min_trades_verified"`
	MinHoursVerified  float64       `mapstructure:"min_hours_verified"`
	InactiveHours     float64       `mapstructure:"inactive_hours"`
	BaselineWinRate   float64       `mapstructure:"baseline_win_rate"`
	PromotionTopN     int           `mapstructure:"promotion_top_n"`
	SnapshotSchedule  string        `mapstructure:"snapshot_schedule"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PS")
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
	v.SetDefault("data_api.base_url", "https://data-api.polymarket.com")
	v.SetDefault("data_api.timeout", "15s")
	v.SetDefault("clob_rest.base_url", "https://clob.polymarket.com")
	v.SetDefault("clob_rest.timeout", "15s")
	v.SetDefault("clob_stream.enabled", false)
	v.SetDefault("clob_stream.url", "")
	v.SetDefault("clob_stream.refresh_interval", "30s")
	v.SetDefault("clob_stream.max_assets", 200)
	v.SetDefault("gamma.base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("gamma.timeout", "15s")

	v.SetDefault("monitor.trade_fetch_limit", 50)
	v.SetDefault("monitor.min_poll_interval", "500ms")
	v.SetDefault("monitor.max_poll_interval", "10s")
	v.SetDefault("monitor.market_filter.enabled", true)
	v.SetDefault("monitor.market_filter.assets", []string{"BTC", "ETH", "Bitcoin", "Ethereum"})
	v.SetDefault("monitor.market_filter.keywords", []string{"up", "down", "higher", "lower"})
	v.SetDefault("monitor.market_filter.exclude_keywords", []string{})
	v.SetDefault("monitor.market_filter.min_duration_minutes", 5)
	v.SetDefault("monitor.market_filter.max_duration_minutes", 15)

	v.SetDefault("profiler.history_limit", 200)
	v.SetDefault("profiler.cache_ttl", "10m")
	v.SetDefault("profiler.accumulation_window", "30m")
	v.SetDefault("profiler.accumulation_recent", "5m")
	v.SetDefault("profiler.wash_window", "15m")

	v.SetDefault("risk.signal_ttl", "10m")

	v.SetDefault("sizing.whale_follow_pct", 0.01)
	v.SetDefault("sizing.min_investment", 5.0)
	v.SetDefault("sizing.decay_threshold", 3)

	v.SetDefault("simulation.delays", []int{1, 3})
	v.SetDefault("simulation.investment_per_trade", 100.0)
	v.SetDefault("simulation.fee_rate", 0.015)
	v.SetDefault("simulation.max_book_levels", 10)
	v.SetDefault("simulation.enable_slippage_check", true)
	v.SetDefault("simulation.max_slippage_pct", 5.0)
	v.SetDefault("simulation.hard_slippage_pct", 5.0)

	v.SetDefault("settlement.schedule", "@every 1m")
	v.SetDefault("settlement.market_cache_ttl", "1h")

	v.SetDefault("shadow.poll_interval", "5s")
	v.SetDefault("shadow.trade_fetch_limit", 10)
	v.SetDefault("shadow.fee_rate", 0.015)
	v.SetDefault("shadow.min_trades_verified", 5)
	v.SetDefault("shadow.min_hours_verified", 12.0)
	v.SetDefault("shadow.inactive_hours", 48.0)
	v.SetDefault("shadow.baseline_win_rate", 38.0)
	v.SetDefault("shadow.promotion_top_n", 3)
	v.SetDefault("shadow.snapshot_schedule", "@every 5m")

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

// ActiveTargets filters out disabled entries.
func (c Config) ActiveTargets() []TargetAccount {
	out := make([]TargetAccount, 0, len(c.Targets))
	for _, t := range c.Targets {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}
