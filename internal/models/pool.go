package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalFrequency classifies how often participants withdraw.
type WithdrawalFrequency string

const (
	WithdrawalFrequencyLow    WithdrawalFrequency = "low"
	WithdrawalFrequencyMedium WithdrawalFrequency = "medium"
	WithdrawalFrequencyHigh   WithdrawalFrequency = "high"
)

// WithdrawalForecast estimates how much capital participants will pull out
// before the next rebalance.
type WithdrawalForecast struct {
	Expected  decimal.Decimal `json:"expected"`
	WorstCase decimal.Decimal `json:"worst_case"`
}

// ParticipantMetrics summarizes participant behavior for risk scoring.
type ParticipantMetrics struct {
	AvgHoldingDays      float64             `json:"avg_holding_period_days"`
	WithdrawalFrequency WithdrawalFrequency `json:"withdrawal_frequency"`
	NewParticipantRatio float64             `json:"new_participants_ratio"`
}

// PoolData is the raw fund state reported by the orchestrator and the share
// contract. Derived metrics live on PoolSnapshot.
type PoolData struct {
	TotalValue       decimal.Decimal `json:"total_value"`
	ParticipantCount int             `json:"participant_count"`
	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalShares      decimal.Decimal `json:"total_shares"`
}

// PoolSnapshot is the fund state threaded through one pipeline cycle.
// It is refreshed once per cycle and read-only within it.
type PoolSnapshot struct {
	NAV                decimal.Decimal    `json:"nav"`
	TotalValue         decimal.Decimal    `json:"total_value"`
	LiquidityReserve   decimal.Decimal    `json:"liquidity_reserve"`
	ParticipantCount   int                `json:"participant_count"`
	WithdrawalForecast WithdrawalForecast `json:"withdrawal_forecast"`
	Participants       ParticipantMetrics `json:"participant_metrics"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// AvailableCapital is the tradable capital: total value minus the liquidity
// reserve, floored at zero.
func (p *PoolSnapshot) AvailableCapital() decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	capital := p.TotalValue.Sub(p.LiquidityReserve)
	if capital.IsNegative() {
		return decimal.Zero
	}
	return capital
}
