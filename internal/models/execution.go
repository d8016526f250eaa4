package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of one execution leg.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderRequest is submitted to an exchange adapter. For buy legs Amount is
// the quote-currency capital to spend; for sell legs it is the base-currency
// amount acquired by the paired buy.
type OrderRequest struct {
	Exchange    string          `json:"exchange"`
	Pair        string          `json:"pair"`
	Side        OrderSide       `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	Price       decimal.Decimal `json:"price"`
	MaxSlippage float64         `json:"max_slippage"` // fraction, not percent
	Timeout     time.Duration   `json:"timeout"`
}

// OrderResult is the adapter's report for one executed leg.
type OrderResult struct {
	Success       bool            `json:"success"`
	ExecutedPrice decimal.Decimal `json:"executed_price"`
	FilledAmount  decimal.Decimal `json:"filled_amount"`
	Error         string          `json:"error,omitempty"`
}

// ExecutionPlan is a fully costed trade ready for submission. A combined
// plan merges several plans sharing exchange pair and trading pair.
type ExecutionPlan struct {
	ID                 string               `json:"id"`
	DecisionID         string               `json:"decision_id,omitempty"`
	Pair               string               `json:"pair"`
	BuyExchange        string               `json:"buy_exchange"`
	SellExchange       string               `json:"sell_exchange"`
	PositionSize       decimal.Decimal      `json:"position_size"`
	BuyPrice           decimal.Decimal      `json:"buy_price"`
	SellPrice          decimal.Decimal      `json:"sell_price"`
	EffectiveBuyPrice  decimal.Decimal      `json:"effective_buy_price"`
	EffectiveSellPrice decimal.Decimal      `json:"effective_sell_price"`
	BuySlippage        float64              `json:"buy_slippage"`  // fraction
	SellSlippage       float64              `json:"sell_slippage"` // fraction
	BuyAmount          decimal.Decimal      `json:"buy_amount"`
	SellAmount         decimal.Decimal      `json:"sell_amount"`
	GasCost            decimal.Decimal      `json:"gas_cost"`
	ExpectedProfit     decimal.Decimal      `json:"expected_profit"`
	ExpectedProfitPct  decimal.Decimal      `json:"expected_profit_pct"`
	Gas                GasSetting           `json:"gas_setting"`
	Limits             CircuitBreakerLimits `json:"circuit_breakers"`
	Combined           bool                 `json:"combined,omitempty"`
	CombinedCount      int                  `json:"combined_count,omitempty"`
	CreatedAt          time.Time            `json:"created_at"`
}

// FailureStage tags which leg of an execution failed.
type FailureStage string

const (
	FailureStageBuy     FailureStage = "buy"
	FailureStageSell    FailureStage = "sell"
	FailureStageUnknown FailureStage = "unknown"
)

// LegFill records the realized outcome of one leg.
type LegFill struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"` // cost for buys, revenue for sells
	Fee    decimal.Decimal `json:"fee"`
}

// ExecutionResult is the realized outcome of one plan.
type ExecutionResult struct {
	Plan              *ExecutionPlan  `json:"plan"`
	Success           bool            `json:"success"`
	Buy               *LegFill        `json:"buy_result,omitempty"`
	Sell              *LegFill        `json:"sell_result,omitempty"`
	GasCost           decimal.Decimal `json:"gas_cost"`
	RealizedProfit    decimal.Decimal `json:"realized_profit"`
	RealizedProfitPct decimal.Decimal `json:"realized_profit_pct"`
	ProfitDelta       decimal.Decimal `json:"profit_difference"`
	FailedStage       FailureStage    `json:"stage,omitempty"`
	Error             string          `json:"error,omitempty"`
	Duration          time.Duration   `json:"duration"`
	CompletedAt       time.Time       `json:"completed_at"`
}
