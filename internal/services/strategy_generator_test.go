package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbfund/poolpilot/internal/exchange"
	"github.com/arbfund/poolpilot/internal/models"
)

func testOpportunity() models.Opportunity {
	return models.Opportunity{
		Pair:         "BTC/USDT",
		BuyExchange:  "binance",
		BuyPrice:     decimal.NewFromInt(50000),
		SellExchange: "kraken",
		SellPrice:    decimal.NewFromInt(51000),
		PriceDiffPct: decimal.NewFromFloat(2),
		EstProfitPct: decimal.NewFromFloat(1.64),
		DetectedAt:   time.Now(),
	}
}

func poolOfSize(total float64) *models.PoolSnapshot {
	return &models.PoolSnapshot{TotalValue: decimal.NewFromFloat(total)}
}

func TestGenerateFallbackBrackets(t *testing.T) {
	cfg := newTestConfig(t)
	gen := NewStrategyGenerator(cfg, nil, nil, newTestLogger())

	tests := []struct {
		name     string
		poolSize float64
		pct      float64
		risk     int
		gas      models.GasSetting
		timeout  time.Duration
	}{
		{"small pool", 5_000, 0.5, 3, models.GasMedium, 15 * time.Second},
		{"medium pool", 50_000, 1.0, 5, models.GasMedium, 20 * time.Second},
		{"large pool", 500_000, 2.0, 7, models.GasHigh, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decisions := gen.Generate(context.Background(), poolOfSize(tt.poolSize), []models.Opportunity{testOpportunity()})
			require.Len(t, decisions, 1)

			d := decisions[0]
			assert.True(t, d.Fallback)
			assert.Equal(t, tt.pct, d.PositionSizePct)
			assert.Equal(t, tt.risk, d.RiskScore)
			assert.Equal(t, tt.gas, d.Gas)
			assert.Equal(t, tt.timeout, d.Limits.Timeout)
		})
	}
}

func TestGenerateParsesValidResponse(t *testing.T) {
	cfg := newTestConfig(t)
	fake := exchange.NewFake()
	fake.Text = `{
		"position_size_pct": 1.5,
		"risk_score": 4,
		"execution_priority": 6,
		"expected_slippage_pct": 0.12,
		"gas_setting": "high",
		"circuit_breakers": {"max_slippage_pct": 0.8, "timeout_seconds": 25}
	}`
	gen := NewStrategyGenerator(cfg, fake, nil, newTestLogger())

	decisions := gen.Generate(context.Background(), poolOfSize(50_000), []models.Opportunity{testOpportunity()})
	require.Len(t, decisions, 1)

	d := decisions[0]
	assert.False(t, d.Fallback)
	assert.Equal(t, 1.5, d.PositionSizePct)
	assert.Equal(t, 4, d.RiskScore)
	assert.Equal(t, 6, d.ExecutionPriority)
	assert.Equal(t, models.GasHigh, d.Gas)
	assert.Equal(t, 0.8, d.Limits.MaxSlippagePct)
	assert.Equal(t, 25*time.Second, d.Limits.Timeout)
}

func TestGenerateRejectsInvalidResponses(t *testing.T) {
	cfg := newTestConfig(t)

	tests := []struct {
		name string
		text string
	}{
		{"not json", "buy more"},
		{"oversized position", `{"position_size_pct": 50, "risk_score": 4, "execution_priority": 6,
			"expected_slippage_pct": 0.1, "gas_setting": "low",
			"circuit_breakers": {"max_slippage_pct": 0.8, "timeout_seconds": 25}}`},
		{"unknown gas setting", `{"position_size_pct": 1, "risk_score": 4, "execution_priority": 6,
			"expected_slippage_pct": 0.1, "gas_setting": "turbo",
			"circuit_breakers": {"max_slippage_pct": 0.8, "timeout_seconds": 25}}`},
		{"missing breakers", `{"position_size_pct": 1, "risk_score": 4, "execution_priority": 6,
			"expected_slippage_pct": 0.1, "gas_setting": "low"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := exchange.NewFake()
			fake.Text = tt.text
			gen := NewStrategyGenerator(cfg, fake, nil, newTestLogger())

			decisions := gen.Generate(context.Background(), poolOfSize(50_000), []models.Opportunity{testOpportunity()})
			require.Len(t, decisions, 1)
			assert.True(t, decisions[0].Fallback, "invalid responses must fall back")
		})
	}
}

func TestGenerateFailureOpensFallbackWindow(t *testing.T) {
	cfg := newTestConfig(t)
	fake := exchange.NewFake()
	fake.TextErr = errors.New("collaborator down")
	gen := NewStrategyGenerator(cfg, fake, nil, newTestLogger())

	decisions := gen.Generate(context.Background(), poolOfSize(50_000), []models.Opportunity{testOpportunity()})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Fallback)

	// The collaborator recovers, but the window keeps fallback active.
	fake.TextErr = nil
	fake.Text = `{"position_size_pct": 1, "risk_score": 4, "execution_priority": 6,
		"expected_slippage_pct": 0.1, "gas_setting": "low",
		"circuit_breakers": {"max_slippage_pct": 0.8, "timeout_seconds": 25}}`
	decisions = gen.Generate(context.Background(), poolOfSize(50_000), []models.Opportunity{testOpportunity()})
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Fallback)
	assert.True(t, gen.inFallbackWindow())
}

func TestGenerateClampsFallbackToMaxPosition(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Risk.MaxPositionSizePct = 1.5
	gen := NewStrategyGenerator(cfg, nil, nil, newTestLogger())

	decisions := gen.Generate(context.Background(), poolOfSize(500_000), []models.Opportunity{testOpportunity()})
	require.Len(t, decisions, 1)
	assert.Equal(t, 1.5, decisions[0].PositionSizePct)
}

func TestGenerateEmbedsSimilarOutcomes(t *testing.T) {
	cfg := newTestConfig(t)
	outcomes := &stubOutcomes{similar: []models.OutcomeRecord{{
		Pair:      "BTC/USDT",
		PoolSize:  decimal.NewFromInt(40_000),
		SpreadPct: decimal.NewFromFloat(1.8),
		Profit:    decimal.NewFromFloat(12.5),
	}}}
	gen := NewStrategyGenerator(cfg, nil, outcomes, newTestLogger())

	prompt := gen.buildPrompt(context.Background(), poolOfSize(50_000), testOpportunity())
	assert.Contains(t, prompt, "Past trade 1")
	assert.Contains(t, prompt, "BTC/USDT")
}

func TestGenerateNoOpportunities(t *testing.T) {
	cfg := newTestConfig(t)
	gen := NewStrategyGenerator(cfg, nil, nil, newTestLogger())
	assert.Nil(t, gen.Generate(context.Background(), poolOfSize(50_000), nil))
}
