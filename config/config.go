package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Log         Logger         `mapstructure:"logger"`
	DB          Database       `mapstructure:"database"`
	API         API            `mapstructure:"api"`
	Scheduler   Scheduler      `mapstructure:"scheduler"`
	Cache       Cache          `mapstructure:"cache"`
	MarketData  MarketData     `mapstructure:"market_data"`
	Backtest    Backtest       `mapstructure:"backtest"`
	WalkForward WalkForward    `mapstructure:"walk_forward"`
	Optimizer   Optimizer      `mapstructure:"optimizer"`
	Report      Report         `mapstructure:"report"`
	Gemini      Gemini         `mapstructure:"gemini"`
	Telegram    TelegramConfig `mapstructure:"telegram"`
}

type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Database struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"name"`
	SSLMode         string `mapstructure:"ssl_mode"`
	TimeZone        string `mapstructure:"time_zone"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
	LogLevel        string `mapstructure:"log_level"`
}

type API struct {
	Port int `mapstructure:"port"`
}

// Scheduler controls the in-process trigger loop. TickCron decides how often
// due schedules are checked; each schedule row carries its own cron expression
// for computing the next execution.
type Scheduler struct {
	Enabled        bool          `mapstructure:"enabled"`
	TickCron       string        `mapstructure:"tick_cron"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	RunTimeout     time.Duration `mapstructure:"run_timeout"`
}

type Cache struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// MarketData configures the daily OHLCV price source. The HTTP chart API is
// the primary source; CSVPath is an offline fallback for air-gapped runs.
type MarketData struct {
	BaseURL             string        `mapstructure:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	Symbol              string        `mapstructure:"symbol"`
	StartDate           string        `mapstructure:"start_date"`
	CSVPath             string        `mapstructure:"csv_path"`
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
}

// Backtest holds the per-side trading cost assumptions shared by every
// simulation in a run.
type Backtest struct {
	CommissionBps  float64 `mapstructure:"commission_bps"`
	SlippageBps    float64 `mapstructure:"slippage_bps"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
}

type WalkForward struct {
	TrainYears   int    `mapstructure:"train_years"`
	ValYears     int    `mapstructure:"val_years"`
	StepYears    int    `mapstructure:"step_years"`
	HoldoutStart string `mapstructure:"holdout_start"`
}

// Optimizer carries the drawdown-capped selection knobs. RiskScales widens
// the base parameter grids with a post-signal weight multiplier; Objective
// picks the in-sample metric the per-fold search maximizes (calmar, sharpe,
// sortino or cagr).
type Optimizer struct {
	MaxConcurrency int       `mapstructure:"max_concurrency"`
	Objective      string    `mapstructure:"objective"`
	DDCap          float64   `mapstructure:"dd_cap"`
	FoldPassRate   float64   `mapstructure:"fold_pass_rate"`
	MinExposurePct float64   `mapstructure:"min_exposure_pct"`
	RiskScales     []float64 `mapstructure:"risk_scales"`
	SweepCaps      []float64 `mapstructure:"sweep_caps"`
	Strategies     []string  `mapstructure:"strategies"`
}

type Report struct {
	OutputDir string `mapstructure:"output_dir"`
}

type Gemini struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	BaseModel           string        `mapstructure:"base_model"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxRequestPerMinute int           `mapstructure:"max_request_per_minute"`
	MaxTokenPerMinute   int           `mapstructure:"max_token_per_minute"`
	Enabled             bool          `mapstructure:"enabled"`
}

type TelegramConfig struct {
	BotToken                  string        `mapstructure:"bot_token"`
	ChatID                    int64         `mapstructure:"chat_id"`
	Enabled                   bool          `mapstructure:"enabled"`
	TimeoutDuration           time.Duration `mapstructure:"timeout_duration"`
	MaxGlobalRequestPerSecond int           `mapstructure:"max_global_request_per_second"`
}

func Load() (*Config, error) {
	// .env is optional; values there feed the viper env lookup below.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Println("No config file loaded:", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
