package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full agent configuration. Values come from config.yaml,
// environment variables (POOLPILOT_ prefix, dots replaced by underscores),
// and built-in defaults, in that order of precedence.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Strategy  StrategyConfig  `mapstructure:"strategy"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Exchanges ExchangesConfig `mapstructure:"exchanges"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
}

type TradingConfig struct {
	Pairs         []string `mapstructure:"pairs"`
	Exchanges     []string `mapstructure:"exchanges"`
	CycleInterval string   `mapstructure:"cycle_interval"`
	DryRun        bool     `mapstructure:"dry_run"`
}

type RiskConfig struct {
	MinProfitThreshold float64            `mapstructure:"min_profit_threshold"`
	MaxPositionSizePct float64            `mapstructure:"max_position_size_pct"`
	MaxRiskThreshold   float64            `mapstructure:"max_risk_threshold"`
	FailureProbs       map[string]float64 `mapstructure:"failure_probs"`
	DefaultFailureProb float64            `mapstructure:"default_failure_prob"`
}

type ExecutionConfig struct {
	MaxSlippagePct    float64 `mapstructure:"max_slippage_pct"`
	OrderTimeout      string  `mapstructure:"order_timeout"`
	MarketDataTimeout string  `mapstructure:"market_data_timeout"`
	MaxConcurrency    int     `mapstructure:"max_concurrency"`
}

type StrategyConfig struct {
	TextTimeout      string `mapstructure:"text_timeout"`
	FallbackDuration string `mapstructure:"fallback_duration"`
	RetrievalLimit   int    `mapstructure:"retrieval_limit"`
}

type PoolConfig struct {
	CacheTTL                 string  `mapstructure:"cache_ttl"`
	BaseReserveRatio         float64 `mapstructure:"base_reserve_ratio"`
	ExpectedWithdrawalRatio  float64 `mapstructure:"expected_withdrawal_ratio"`
	WorstCaseWithdrawalRatio float64 `mapstructure:"worst_case_withdrawal_ratio"`
}

type ExchangesConfig struct {
	FeesPct        map[string]float64 `mapstructure:"fees_pct"`
	GasCosts       map[string]float64 `mapstructure:"gas_costs"`
	DefaultFeePct  float64            `mapstructure:"default_fee_pct"`
	DefaultGasCost float64            `mapstructure:"default_gas_cost"`
}

type GatewayConfig struct {
	ServiceURL string `mapstructure:"service_url"`
	Timeout    int    `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	DatabaseURL string `mapstructure:"database_url"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Load reads configuration from file, environment, and defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("POOLPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; defaults and env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Environment = strings.ToLower(cfg.Environment)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that thresholds and durations are usable.
func (c *Config) Validate() error {
	if c.Risk.MaxPositionSizePct <= 0 || c.Risk.MaxPositionSizePct > 100 {
		return fmt.Errorf("max_position_size_pct must be in (0, 100], got %v", c.Risk.MaxPositionSizePct)
	}
	if c.Risk.MaxRiskThreshold < 1 || c.Risk.MaxRiskThreshold > 10 {
		return fmt.Errorf("max_risk_threshold must be in [1, 10], got %v", c.Risk.MaxRiskThreshold)
	}
	if c.Execution.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %v", c.Execution.MaxConcurrency)
	}
	for name, d := range map[string]string{
		"trading.cycle_interval":        c.Trading.CycleInterval,
		"execution.order_timeout":       c.Execution.OrderTimeout,
		"execution.market_data_timeout": c.Execution.MarketDataTimeout,
		"strategy.text_timeout":         c.Strategy.TextTimeout,
		"strategy.fallback_duration":    c.Strategy.FallbackDuration,
		"pool.cache_ttl":                c.Pool.CacheTTL,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// ExchangeFeePct returns the taker fee percentage for an exchange.
func (c *Config) ExchangeFeePct(exchange string) float64 {
	if fee, ok := c.Exchanges.FeesPct[strings.ToLower(exchange)]; ok {
		return fee
	}
	return c.Exchanges.DefaultFeePct
}

// ExchangeGasCost returns the base transaction cost for an exchange in USD.
func (c *Config) ExchangeGasCost(exchange string) float64 {
	if cost, ok := c.Exchanges.GasCosts[strings.ToLower(exchange)]; ok {
		return cost
	}
	return c.Exchanges.DefaultGasCost
}

// ExchangeFailureProb returns the configured failure probability for an
// exchange.
func (c *Config) ExchangeFailureProb(exchange string) float64 {
	if p, ok := c.Risk.FailureProbs[strings.ToLower(exchange)]; ok {
		return p
	}
	return c.Risk.DefaultFailureProb
}

// Concurrency returns the execution worker limit, never less than one. A
// zero limit would block every submission forever.
func (c *Config) Concurrency() int {
	if c.Execution.MaxConcurrency < 1 {
		return 1
	}
	return c.Execution.MaxConcurrency
}

// Duration parses a stored duration string, falling back to def on error.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Apply updates recognized configuration keys from a partial map. Application
// is all-or-nothing: if any key is unknown or its value has the wrong type,
// no key is applied and Apply returns false.
func (c *Config) Apply(partial map[string]any) bool {
	// apply mutates scalar fields only, so a shallow copy is a safe dry run.
	scratch := *c
	if !scratch.apply(partial) {
		return false
	}
	return c.apply(partial)
}

func (c *Config) apply(partial map[string]any) bool {
	ok := true
	for key, raw := range partial {
		switch key {
		case "risk.min_profit_threshold":
			ok = setFloat(&c.Risk.MinProfitThreshold, raw) && ok
		case "risk.max_position_size_pct":
			ok = setFloat(&c.Risk.MaxPositionSizePct, raw) && ok
		case "risk.max_risk_threshold":
			ok = setFloat(&c.Risk.MaxRiskThreshold, raw) && ok
		case "execution.max_slippage_pct":
			ok = setFloat(&c.Execution.MaxSlippagePct, raw) && ok
		case "execution.order_timeout":
			ok = setDuration(&c.Execution.OrderTimeout, raw) && ok
		case "trading.cycle_interval":
			ok = setDuration(&c.Trading.CycleInterval, raw) && ok
		default:
			ok = false
		}
	}
	return ok
}

func setFloat(dst *float64, raw any) bool {
	switch v := raw.(type) {
	case float64:
		*dst = v
	case float32:
		*dst = float64(v)
	case int:
		*dst = float64(v)
	default:
		return false
	}
	return true
}

func setDuration(dst *string, raw any) bool {
	s, ok := raw.(string)
	if !ok {
		return false
	}
	if _, err := time.ParseDuration(s); err != nil {
		return false
	}
	*dst = s
	return true
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("trading.pairs", []string{
		"BTC/USDT", "ETH/USDT", "BNB/USDT", "SOL/USDT", "XRP/USDT",
		"ADA/USDT", "DOGE/USDT", "AVAX/USDT", "DOT/USDT",
	})
	v.SetDefault("trading.exchanges", []string{"binance", "coinbase", "kraken", "huobi", "kucoin"})
	v.SetDefault("trading.cycle_interval", "60s")
	v.SetDefault("trading.dry_run", true)

	v.SetDefault("risk.min_profit_threshold", 0.5)
	v.SetDefault("risk.max_position_size_pct", 10.0)
	v.SetDefault("risk.max_risk_threshold", 7.0)
	v.SetDefault("risk.failure_probs", map[string]float64{})
	v.SetDefault("risk.default_failure_prob", 0.01)

	v.SetDefault("execution.max_slippage_pct", 1.0)
	v.SetDefault("execution.order_timeout", "30s")
	v.SetDefault("execution.market_data_timeout", "10s")
	v.SetDefault("execution.max_concurrency", 4)

	v.SetDefault("strategy.text_timeout", "30s")
	v.SetDefault("strategy.fallback_duration", "5m")
	v.SetDefault("strategy.retrieval_limit", 5)

	v.SetDefault("pool.cache_ttl", "60s")
	v.SetDefault("pool.base_reserve_ratio", 0.10)
	v.SetDefault("pool.expected_withdrawal_ratio", 0.05)
	v.SetDefault("pool.worst_case_withdrawal_ratio", 0.15)

	v.SetDefault("exchanges.fees_pct", map[string]float64{
		"binance":  0.1,
		"coinbase": 0.5,
		"kraken":   0.26,
		"huobi":    0.2,
		"kucoin":   0.1,
	})
	v.SetDefault("exchanges.gas_costs", map[string]float64{})
	v.SetDefault("exchanges.default_fee_pct", 0.1)
	v.SetDefault("exchanges.default_gas_cost", 5.0)

	v.SetDefault("gateway.service_url", "http://localhost:3001")
	v.SetDefault("gateway.timeout", 30)

	v.SetDefault("database.database_url", "")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", false)

	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", 0)
}
