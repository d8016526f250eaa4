package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Opportunity is a profitable price divergence between two exchanges.
// EstProfitPct is net of the configured per-exchange fees; detection only
// emits opportunities with EstProfitPct above the configured minimum.
type Opportunity struct {
	Pair         string          `json:"pair"`
	BuyExchange  string          `json:"buy_exchange"`
	BuyPrice     decimal.Decimal `json:"buy_price"`
	SellExchange string          `json:"sell_exchange"`
	SellPrice    decimal.Decimal `json:"sell_price"`
	PriceDiffPct decimal.Decimal `json:"price_diff_pct"`
	EstProfitPct decimal.Decimal `json:"estimated_profit_pct"`
	DetectedAt   time.Time       `json:"detected_at"`
}

// GasSetting selects the assumed transaction-cost tier for a trade.
type GasSetting string

const (
	GasLow    GasSetting = "low"
	GasMedium GasSetting = "medium"
	GasHigh   GasSetting = "high"
)

// Multiplier returns the cost factor applied to an exchange's base gas cost.
func (g GasSetting) Multiplier() decimal.Decimal {
	switch g {
	case GasLow:
		return decimal.NewFromFloat(0.8)
	case GasHigh:
		return decimal.NewFromFloat(1.5)
	default:
		return decimal.NewFromInt(1)
	}
}

// CircuitBreakerLimits are the per-leg abort conditions for an execution.
type CircuitBreakerLimits struct {
	MaxSlippagePct float64       `json:"max_slippage_pct"`
	Timeout        time.Duration `json:"timeout"`
}

// RiskAssessment scores a decision across four risk dimensions. OverallRisk
// is a weighted combination on a 1-10 scale; Proceed is true when it is at
// or below the configured maximum risk threshold.
type RiskAssessment struct {
	PoolImpactScore     float64   `json:"pool_impact_score"`      // 1-10
	LiquidityStrain     float64   `json:"liquidity_strain_index"` // 0-1
	ParticipantRisk     float64   `json:"participant_risk"`       // 1-10
	ExchangeFailureProb float64   `json:"exchange_failure_prob"`  // 0-1
	OverallRisk         float64   `json:"overall_risk"`           // 1-10
	Proceed             bool      `json:"proceed"`
	Default             bool      `json:"default,omitempty"`
	AssessedAt          time.Time `json:"assessed_at"`
}

// Decision wraps one opportunity with sizing and execution parameters.
// PositionSizePct is a percentage of available capital in (0, max].
type Decision struct {
	ID                  string               `json:"id"`
	Opportunity         Opportunity          `json:"opportunity"`
	PositionSizePct     float64              `json:"position_size_pct"`
	RiskScore           int                  `json:"risk_score"`         // 1-10
	ExecutionPriority   int                  `json:"execution_priority"` // 1-10
	ExpectedSlippagePct float64              `json:"expected_slippage_pct"`
	Gas                 GasSetting           `json:"gas_setting"`
	Limits              CircuitBreakerLimits `json:"circuit_breakers"`
	Fallback            bool                 `json:"fallback,omitempty"`
	Assessment          *RiskAssessment      `json:"risk_assessment,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

// Proceeds reports whether the decision passed risk assessment.
func (d *Decision) Proceeds() bool {
	return d.Assessment != nil && d.Assessment.Proceed
}
