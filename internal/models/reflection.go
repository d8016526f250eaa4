package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// StageError records a pipeline stage failure without aborting the cycle.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// TradeAnalysis aggregates one cycle's execution results.
type TradeAnalysis struct {
	TotalTrades      int             `json:"total_trades"`
	SuccessfulTrades int             `json:"successful_trades"`
	FailedTrades     int             `json:"failed_trades"`
	SuccessRate      float64         `json:"success_rate"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	ExpectedProfit   decimal.Decimal `json:"total_expected_profit"`
	ProfitDifference decimal.Decimal `json:"profit_difference"`
	ProfitAccuracy   float64         `json:"profit_accuracy"`
	AvgBuySlippage   float64         `json:"avg_buy_slippage"`  // fraction
	AvgSellSlippage  float64         `json:"avg_sell_slippage"` // fraction
	FailureReasons   map[string]int  `json:"failure_reasons"`
	AvgExecutionTime time.Duration   `json:"avg_execution_time"`
}

// Adjustment is an advisory parameter change derived from reflection. The
// controller never applies these itself.
type Adjustment struct {
	Parameter string  `json:"parameter"`
	Direction string  `json:"adjustment"` // "increase" or "decrease"
	Value     float64 `json:"value"`
	Reason    string  `json:"reason"`
}

// Reflection is the end-of-cycle learning output.
type Reflection struct {
	Analysis    TradeAnalysis `json:"trade_analysis"`
	Adjustments []Adjustment  `json:"strategy_adjustments"`
	CreatedAt   time.Time     `json:"created_at"`
}

// PerformanceMetrics accumulates across cycles. It is the only state that
// survives cycle boundaries and is updated once per cycle during Reflect.
type PerformanceMetrics struct {
	Cycles            int             `json:"cycles"`
	TotalTrades       int             `json:"total_trades"`
	SuccessfulTrades  int             `json:"successful_trades"`
	FailedTrades      int             `json:"failed_trades"`
	TotalProfit       decimal.Decimal `json:"total_profit"`
	TotalPositionSize decimal.Decimal `json:"total_position_size"`
	ROIPct            float64         `json:"roi_pct"`
	SuccessRate       float64         `json:"success_rate"`
	AvgProfitPerTrade decimal.Decimal `json:"avg_profit_per_trade"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CycleSummary is returned to callers of RunOnce and reported after each
// continuous-loop iteration. It never carries an error to the caller; stage
// failures appear in Errors.
type CycleSummary struct {
	Opportunities  int             `json:"opportunities_found"`
	Decisions      int             `json:"decisions_made"`
	Proceeded      int             `json:"proceeded"`
	Rejected       int             `json:"rejected"`
	Executed       int             `json:"executed"`
	Failed         int             `json:"failed"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`
	Errors         []StageError    `json:"errors,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	Duration       time.Duration   `json:"duration"`
}

// OutcomeRecord is the persisted trace of one completed trade, used for
// similarity retrieval in later cycles.
type OutcomeRecord struct {
	ID               string          `json:"id"`
	Pair             string          `json:"pair"`
	BuyExchange      string          `json:"buy_exchange"`
	SellExchange     string          `json:"sell_exchange"`
	PoolSize         decimal.Decimal `json:"pool_size"`
	ParticipantCount int             `json:"participant_count"`
	LiquidityRatio   float64         `json:"liquidity_ratio"`
	SpreadPct        decimal.Decimal `json:"spread_pct"`
	PositionSize     decimal.Decimal `json:"position_size"`
	Profit           decimal.Decimal `json:"profit"`
	Slippage         float64         `json:"slippage"` // mean of both legs, fraction
	ExecutionTime    time.Duration   `json:"execution_time"`
	CreatedAt        time.Time       `json:"created_at"`
}

// SimilarityQuery selects historical outcomes resembling a live opportunity.
type SimilarityQuery struct {
	Pair      string          `json:"pair"`
	PoolSize  decimal.Decimal `json:"pool_size"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Limit     int             `json:"limit"`
}
