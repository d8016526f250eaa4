package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

// ReflectionEngine closes each cycle: it analyzes execution results, derives
// advisory parameter adjustments, persists trade outcomes for similarity
// retrieval, and accumulates cross-cycle performance metrics. It runs for
// every cycle, including cycles that executed nothing.
type ReflectionEngine struct {
	cfg      *config.Config
	outcomes OutcomeStore // optional
	logger   *logrus.Logger

	// metrics is single-writer (only the controller goroutine calls
	// Reflect); the mutex covers concurrent readers.
	metricsMu sync.Mutex
	metrics   models.PerformanceMetrics
}

// NewReflectionEngine creates an engine; outcomes may be nil.
func NewReflectionEngine(cfg *config.Config, outcomes OutcomeStore, logger *logrus.Logger) *ReflectionEngine {
	return &ReflectionEngine{cfg: cfg, outcomes: outcomes, logger: logger}
}

// Reflect analyzes the finished cycle and updates cumulative metrics.
func (e *ReflectionEngine) Reflect(ctx context.Context, state PipelineState) *models.Reflection {
	analysis := e.analyze(state.Results)
	reflection := &models.Reflection{
		Analysis:    analysis,
		Adjustments: e.deriveAdjustments(analysis),
		CreatedAt:   time.Now(),
	}

	e.persistOutcomes(ctx, state)
	e.updateMetrics(state.Results)

	e.logger.WithFields(logrus.Fields{
		"trades":       analysis.TotalTrades,
		"success_rate": analysis.SuccessRate,
		"total_profit": analysis.TotalProfit.StringFixed(4),
		"adjustments":  len(reflection.Adjustments),
	}).Info("Cycle reflection completed")

	return reflection
}

// Metrics returns a copy of the cumulative performance metrics.
func (e *ReflectionEngine) Metrics() models.PerformanceMetrics {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	return e.metrics
}

func (e *ReflectionEngine) analyze(results []models.ExecutionResult) models.TradeAnalysis {
	analysis := models.TradeAnalysis{
		TotalTrades:    len(results),
		FailureReasons: make(map[string]int),
	}
	if len(results) == 0 {
		analysis.ProfitAccuracy = 1
		return analysis
	}

	var buySlip, sellSlip float64
	var slipSamples int
	var totalDuration time.Duration
	for _, r := range results {
		totalDuration += r.Duration
		if r.Success {
			analysis.SuccessfulTrades++
			analysis.TotalProfit = analysis.TotalProfit.Add(r.RealizedProfit)
		} else {
			analysis.FailedTrades++
			stage := r.FailedStage
			if stage == "" {
				stage = models.FailureStageUnknown
			}
			analysis.FailureReasons[string(stage)]++
		}
		if r.Plan != nil {
			analysis.ExpectedProfit = analysis.ExpectedProfit.Add(r.Plan.ExpectedProfit)
		}
		if r.Buy != nil && r.Plan != nil {
			buySlip += realizedSlippage(models.OrderSideBuy, r.Plan.BuyPrice, r.Buy.Price)
			sellSlip += realizedSlippage(models.OrderSideSell, r.Plan.SellPrice, sellPriceOf(r))
			slipSamples++
		}
	}

	analysis.SuccessRate = float64(analysis.SuccessfulTrades) / float64(analysis.TotalTrades)
	analysis.ProfitDifference = analysis.TotalProfit.Sub(analysis.ExpectedProfit)
	analysis.AvgExecutionTime = totalDuration / time.Duration(analysis.TotalTrades)
	if slipSamples > 0 {
		analysis.AvgBuySlippage = buySlip / float64(slipSamples)
		analysis.AvgSellSlippage = sellSlip / float64(slipSamples)
	}

	// Accuracy is the realized-to-expected profit ratio on a 0-1 scale.
	// Beating the expectation counts as fully accurate, not as error.
	if analysis.ExpectedProfit.Sign() > 0 {
		ratio, _ := analysis.TotalProfit.Div(analysis.ExpectedProfit).Float64()
		analysis.ProfitAccuracy = clamp(ratio, 0, 1)
	} else {
		analysis.ProfitAccuracy = 1
	}

	return analysis
}

func sellPriceOf(r models.ExecutionResult) decimal.Decimal {
	if r.Sell != nil {
		return r.Sell.Price
	}
	if r.Plan != nil {
		return r.Plan.SellPrice
	}
	return decimal.Zero
}

// deriveAdjustments turns the cycle's analysis into advisory parameter
// changes. The controller surfaces them but never applies them on its own.
func (e *ReflectionEngine) deriveAdjustments(a models.TradeAnalysis) []models.Adjustment {
	if a.TotalTrades == 0 {
		return nil
	}

	var adjustments []models.Adjustment

	if a.AvgBuySlippage > 0 || a.AvgSellSlippage > 0 {
		worst := a.AvgBuySlippage
		if a.AvgSellSlippage > worst {
			worst = a.AvgSellSlippage
		}
		adjustments = append(adjustments, models.Adjustment{
			Parameter: "slippage_estimate",
			Direction: "increase",
			Value:     worst * 1.2,
			Reason:    "realized slippage exceeded the estimate",
		})
	}

	if a.ProfitAccuracy < 0.9 {
		adjustments = append(adjustments, models.Adjustment{
			Parameter: "min_profit_threshold",
			Direction: "increase",
			Value:     e.cfg.Risk.MinProfitThreshold * (2 - a.ProfitAccuracy),
			Reason:    "realized profit diverged from the expectation",
		})
	}

	if a.AvgExecutionTime > 10*time.Second {
		adjustments = append(adjustments, models.Adjustment{
			Parameter: "timeout_seconds",
			Direction: "increase",
			Value:     a.AvgExecutionTime.Seconds() * 1.5,
			Reason:    "executions are running long",
		})
	}

	if a.SuccessRate < 0.8 {
		adjustments = append(adjustments, models.Adjustment{
			Parameter: "max_risk_threshold",
			Direction: "decrease",
			Value:     e.cfg.Risk.MaxRiskThreshold * 0.9,
			Reason:    "trade success rate is below target",
		})
	}

	return adjustments
}

// persistOutcomes stores one record per successful execution. Persistence is
// best-effort and never affects the cycle result.
func (e *ReflectionEngine) persistOutcomes(ctx context.Context, state PipelineState) {
	if e.outcomes == nil {
		return
	}
	for _, r := range state.Results {
		if !r.Success || r.Plan == nil {
			continue
		}

		rec := models.OutcomeRecord{
			ID:            uuid.NewString(),
			Pair:          r.Plan.Pair,
			BuyExchange:   r.Plan.BuyExchange,
			SellExchange:  r.Plan.SellExchange,
			PositionSize:  r.Plan.PositionSize,
			Profit:        r.RealizedProfit,
			Slippage:      (r.Plan.BuySlippage + r.Plan.SellSlippage) / 2,
			ExecutionTime: r.Duration,
			CreatedAt:     r.CompletedAt,
		}
		if state.Pool != nil {
			rec.PoolSize = state.Pool.TotalValue
			rec.ParticipantCount = state.Pool.ParticipantCount
			if state.Pool.TotalValue.Sign() > 0 {
				rec.LiquidityRatio, _ = state.Pool.LiquidityReserve.Div(state.Pool.TotalValue).Float64()
			}
		}
		if r.Plan.PositionSize.Sign() > 0 && r.Plan.BuyPrice.Sign() > 0 {
			rec.SpreadPct = r.Plan.SellPrice.Sub(r.Plan.BuyPrice).Div(r.Plan.BuyPrice).Mul(decimal.NewFromInt(100))
		}

		if err := e.outcomes.StoreOutcome(ctx, rec); err != nil {
			e.logger.WithError(err).WithField("pair", rec.Pair).Warn("Outcome persistence failed")
		}
	}
}

func (e *ReflectionEngine) updateMetrics(results []models.ExecutionResult) {
	e.metricsMu.Lock()
	defer e.metricsMu.Unlock()
	e.metrics.Cycles++
	for _, r := range results {
		e.metrics.TotalTrades++
		if r.Success {
			e.metrics.SuccessfulTrades++
			e.metrics.TotalProfit = e.metrics.TotalProfit.Add(r.RealizedProfit)
		} else {
			e.metrics.FailedTrades++
		}
		if r.Plan != nil {
			e.metrics.TotalPositionSize = e.metrics.TotalPositionSize.Add(r.Plan.PositionSize)
		}
	}
	if e.metrics.TotalTrades > 0 {
		e.metrics.SuccessRate = float64(e.metrics.SuccessfulTrades) / float64(e.metrics.TotalTrades)
		e.metrics.AvgProfitPerTrade = e.metrics.TotalProfit.Div(decimal.NewFromInt(int64(e.metrics.TotalTrades)))
	}
	if e.metrics.TotalPositionSize.Sign() > 0 {
		e.metrics.ROIPct, _ = e.metrics.TotalProfit.Div(e.metrics.TotalPositionSize).Mul(decimal.NewFromInt(100)).Float64()
	}
	e.metrics.UpdatedAt = time.Now()
}
