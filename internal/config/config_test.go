package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.Risk.MinProfitThreshold)
	assert.Equal(t, 10.0, cfg.Risk.MaxPositionSizePct)
	assert.Equal(t, 7.0, cfg.Risk.MaxRiskThreshold)
	assert.Equal(t, "60s", cfg.Trading.CycleInterval)
	assert.True(t, cfg.Trading.DryRun)
	assert.NotEmpty(t, cfg.Trading.Pairs)
	assert.NotEmpty(t, cfg.Trading.Exchanges)
	assert.Equal(t, 4, cfg.Execution.MaxConcurrency)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Risk.MaxPositionSizePct = 0
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.Risk.MaxRiskThreshold = 11
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.Trading.CycleInterval = "soon"
	assert.Error(t, cfg.Validate())

	cfg, _ = Load()
	cfg.Execution.MaxConcurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestConcurrencyNeverBelowOne(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Concurrency())
	cfg.Execution.MaxConcurrency = 0
	assert.Equal(t, 1, cfg.Concurrency())
	cfg.Execution.MaxConcurrency = -3
	assert.Equal(t, 1, cfg.Concurrency())
}

func TestExchangeLookupsAreCaseInsensitive(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.1, cfg.ExchangeFeePct("Binance"))
	assert.Equal(t, 0.26, cfg.ExchangeFeePct("KRAKEN"))
	assert.Equal(t, cfg.Exchanges.DefaultFeePct, cfg.ExchangeFeePct("unknown"))
	assert.Equal(t, cfg.Exchanges.DefaultGasCost, cfg.ExchangeGasCost("binance"))
	assert.Equal(t, cfg.Risk.DefaultFailureProb, cfg.ExchangeFailureProb("binance"))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("bogus", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}

func TestApplyUpdatesKnownKeys(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	ok := cfg.Apply(map[string]any{
		"risk.min_profit_threshold":  1.5,
		"risk.max_risk_threshold":    6,
		"execution.order_timeout":    "45s",
		"trading.cycle_interval":     "90s",
		"execution.max_slippage_pct": 0.8,
	})
	assert.True(t, ok)
	assert.Equal(t, 1.5, cfg.Risk.MinProfitThreshold)
	assert.Equal(t, 6.0, cfg.Risk.MaxRiskThreshold)
	assert.Equal(t, "45s", cfg.Execution.OrderTimeout)
	assert.Equal(t, "90s", cfg.Trading.CycleInterval)
	assert.Equal(t, 0.8, cfg.Execution.MaxSlippagePct)
}

func TestApplyRejectsUnknownKeysAndBadTypes(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.False(t, cfg.Apply(map[string]any{"risk.unknown": 1.0}))
	assert.False(t, cfg.Apply(map[string]any{"risk.min_profit_threshold": "high"}))
	assert.False(t, cfg.Apply(map[string]any{"execution.order_timeout": "whenever"}))

	// A bad key poisons the whole batch; the recognized key must not land.
	before := cfg.Risk.MinProfitThreshold
	ok := cfg.Apply(map[string]any{
		"risk.min_profit_threshold": 2.0,
		"bogus.key":                 true,
	})
	assert.False(t, ok)
	assert.Equal(t, before, cfg.Risk.MinProfitThreshold)
}
