package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/exchange"
	"github.com/arbfund/poolpilot/internal/models"
)

// ExecutionOptimizer converts approved decisions into costed execution plans
// and carries them out. Planning allocates capital by priority, re-verifies
// each opportunity against fresh market data, estimates slippage from order
// book depth, and merges plans that share an exchange route. Execution runs
// plans concurrently, each as a strict buy-then-sell sequence guarded by
// per-leg circuit breakers.
type ExecutionOptimizer struct {
	cfg      *config.Config
	market   exchange.MarketDataSource
	executor exchange.OrderExecutor
	logger   *logrus.Logger
}

// NewExecutionOptimizer creates an optimizer bound to the shared config.
func NewExecutionOptimizer(cfg *config.Config, market exchange.MarketDataSource, executor exchange.OrderExecutor, logger *logrus.Logger) *ExecutionOptimizer {
	return &ExecutionOptimizer{cfg: cfg, market: market, executor: executor, logger: logger}
}

// Optimize builds execution plans for the approved decisions. The sum of all
// plan position sizes never exceeds the pool's available capital.
func (o *ExecutionOptimizer) Optimize(ctx context.Context, pool *models.PoolSnapshot, decisions []models.Decision) []models.ExecutionPlan {
	if len(decisions) == 0 {
		return nil
	}

	ordered := make([]models.Decision, len(decisions))
	copy(ordered, decisions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutionPriority > ordered[j].ExecutionPriority
	})

	available := pool.AvailableCapital()
	remaining := available

	var plans []models.ExecutionPlan
	for _, d := range ordered {
		if remaining.Sign() <= 0 {
			o.logger.WithField("decision_id", d.ID).Debug("Capital exhausted, skipping remaining decisions")
			break
		}

		size := available.Mul(decimal.NewFromFloat(d.PositionSizePct)).Div(decimal.NewFromInt(100))
		if size.GreaterThan(remaining) {
			size = remaining
		}
		if size.Sign() <= 0 {
			continue
		}

		plan, err := o.createPlan(ctx, d, size)
		if err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"decision_id": d.ID,
				"pair":        d.Opportunity.Pair,
			}).Warn("Plan creation rejected")
			continue
		}

		remaining = remaining.Sub(size)
		plans = append(plans, *plan)
	}

	plans = o.combinePlans(plans)

	o.logger.WithFields(logrus.Fields{
		"plans":     len(plans),
		"allocated": available.Sub(remaining).String(),
	}).Info("Execution optimization completed")

	return plans
}

// createPlan re-verifies the opportunity against fresh market details and
// produces a fully costed plan. Opportunities whose spread has closed since
// detection are rejected as stale.
func (o *ExecutionOptimizer) createPlan(ctx context.Context, d models.Decision, size decimal.Decimal) (*models.ExecutionPlan, error) {
	opp := d.Opportunity

	fetchCtx, cancel := context.WithTimeout(ctx, config.Duration(o.cfg.Execution.MarketDataTimeout, 10*time.Second))
	defer cancel()

	buyDetails, err := o.market.FetchMarketDetails(fetchCtx, opp.BuyExchange, opp.Pair)
	if err != nil {
		return nil, fmt.Errorf("fetch %s details: %w", opp.BuyExchange, err)
	}
	sellDetails, err := o.market.FetchMarketDetails(fetchCtx, opp.SellExchange, opp.Pair)
	if err != nil {
		return nil, fmt.Errorf("fetch %s details: %w", opp.SellExchange, err)
	}

	buyPrice, sellPrice := buyDetails.Price, sellDetails.Price
	if buyPrice.Sign() <= 0 || sellPrice.Sub(buyPrice).Sign() <= 0 {
		return nil, ErrOpportunityStale
	}

	// Slippage is estimated in base units against current depth.
	targetAmount := size.Div(buyPrice)
	buySlippage := o.estimateSlippage(buyDetails.OrderBook.Asks, targetAmount)
	sellSlippage := o.estimateSlippage(sellDetails.OrderBook.Bids, targetAmount)

	effectiveBuy := buyPrice.Mul(decimal.NewFromFloat(1 + buySlippage))
	effectiveSell := sellPrice.Mul(decimal.NewFromFloat(1 - sellSlippage))
	if effectiveSell.Sub(effectiveBuy).Sign() <= 0 {
		return nil, fmt.Errorf("%w: spread consumed by slippage", ErrOpportunityStale)
	}

	buyFee := decimal.NewFromFloat(o.cfg.ExchangeFeePct(opp.BuyExchange) / 100)
	sellFee := decimal.NewFromFloat(o.cfg.ExchangeFeePct(opp.SellExchange) / 100)

	buyAmount := size.Div(effectiveBuy).Mul(decimal.NewFromInt(1).Sub(buyFee))
	sellAmount := buyAmount.Mul(decimal.NewFromInt(1).Sub(sellFee))

	baseGas := decimal.NewFromFloat(o.cfg.ExchangeGasCost(opp.BuyExchange) + o.cfg.ExchangeGasCost(opp.SellExchange))
	gasCost := baseGas.Mul(d.Gas.Multiplier())

	expectedProfit := sellAmount.Mul(effectiveSell).Sub(size).Sub(gasCost)
	if expectedProfit.Sign() <= 0 {
		return nil, fmt.Errorf("expected profit %s not positive after costs", expectedProfit.StringFixed(4))
	}

	return &models.ExecutionPlan{
		ID:                 uuid.NewString(),
		DecisionID:         d.ID,
		Pair:               opp.Pair,
		BuyExchange:        opp.BuyExchange,
		SellExchange:       opp.SellExchange,
		PositionSize:       size,
		BuyPrice:           buyPrice,
		SellPrice:          sellPrice,
		EffectiveBuyPrice:  effectiveBuy,
		EffectiveSellPrice: effectiveSell,
		BuySlippage:        buySlippage,
		SellSlippage:       sellSlippage,
		BuyAmount:          buyAmount,
		SellAmount:         sellAmount,
		GasCost:            gasCost,
		ExpectedProfit:     expectedProfit,
		ExpectedProfitPct:  expectedProfit.Div(size).Mul(decimal.NewFromInt(100)),
		Gas:                d.Gas,
		Limits:             d.Limits,
		CreatedAt:          time.Now(),
	}, nil
}

// estimateSlippage walks the book levels best-first and returns the relative
// distance between the volume-weighted fill price and the best level. Any
// remainder past the book's depth is charged the last level's price marked up
// by half a basis point per percent unfilled. Conservative constants cover
// the degenerate cases: 0.001 when no depth is available, 0.002 when the
// book is unusable.
func (o *ExecutionOptimizer) estimateSlippage(levels []models.OrderBookLevel, target decimal.Decimal) float64 {
	if target.Sign() <= 0 {
		return 0
	}
	if len(levels) == 0 {
		return 0.001
	}
	best := levels[0].Price
	if best.Sign() <= 0 {
		return 0.002
	}

	remaining := target
	totalCost := decimal.Zero
	lastPrice := best
	for _, level := range levels {
		if remaining.Sign() <= 0 {
			break
		}
		if level.Price.Sign() <= 0 || level.Amount.Sign() <= 0 {
			return 0.002
		}
		take := level.Amount
		if take.GreaterThan(remaining) {
			take = remaining
		}
		totalCost = totalCost.Add(take.Mul(level.Price))
		remaining = remaining.Sub(take)
		lastPrice = level.Price
	}

	if remaining.Sign() > 0 {
		unfilledRatio := remaining.Div(target)
		penalty := lastPrice.Mul(decimal.NewFromInt(1).Add(unfilledRatio.Mul(decimal.NewFromFloat(0.005))))
		totalCost = totalCost.Add(remaining.Mul(penalty))
	}

	vwap := totalCost.Div(target)
	slippage, _ := vwap.Sub(best).Abs().Div(best).Float64()
	return slippage
}

// combinePlans merges plans that share the same buy exchange, sell exchange,
// and trading pair into one larger order. Sizes, amounts, and profits add;
// gas is paid once at the largest plan's cost; prices and slippages are
// averaged weighted by position size. The tightest circuit-breaker limits of
// the group apply. Groups of one pass through unchanged.
func (o *ExecutionOptimizer) combinePlans(plans []models.ExecutionPlan) []models.ExecutionPlan {
	if len(plans) < 2 {
		return plans
	}

	type group struct {
		order int
		plans []models.ExecutionPlan
	}
	groups := make(map[string]*group)
	var keys []string
	for _, p := range plans {
		key := p.BuyExchange + "|" + p.SellExchange + "|" + p.Pair
		g, ok := groups[key]
		if !ok {
			g = &group{order: len(keys)}
			groups[key] = g
			keys = append(keys, key)
		}
		g.plans = append(g.plans, p)
	}

	out := make([]models.ExecutionPlan, 0, len(keys))
	for _, key := range keys {
		g := groups[key]
		if len(g.plans) == 1 {
			out = append(out, g.plans[0])
			continue
		}
		out = append(out, o.mergeGroup(g.plans))
	}
	return out
}

func (o *ExecutionOptimizer) mergeGroup(group []models.ExecutionPlan) models.ExecutionPlan {
	merged := models.ExecutionPlan{
		ID:            uuid.NewString(),
		Pair:          group[0].Pair,
		BuyExchange:   group[0].BuyExchange,
		SellExchange:  group[0].SellExchange,
		Gas:           group[0].Gas,
		Limits:        group[0].Limits,
		Combined:      true,
		CombinedCount: len(group),
		CreatedAt:     time.Now(),
	}

	var weightedBuy, weightedSell, weightedEffBuy, weightedEffSell decimal.Decimal
	var weightedBuySlip, weightedSellSlip decimal.Decimal
	for _, p := range group {
		merged.PositionSize = merged.PositionSize.Add(p.PositionSize)
		merged.BuyAmount = merged.BuyAmount.Add(p.BuyAmount)
		merged.SellAmount = merged.SellAmount.Add(p.SellAmount)
		merged.ExpectedProfit = merged.ExpectedProfit.Add(p.ExpectedProfit)
		if p.GasCost.GreaterThan(merged.GasCost) {
			merged.GasCost = p.GasCost
		}

		weightedBuy = weightedBuy.Add(p.BuyPrice.Mul(p.PositionSize))
		weightedSell = weightedSell.Add(p.SellPrice.Mul(p.PositionSize))
		weightedEffBuy = weightedEffBuy.Add(p.EffectiveBuyPrice.Mul(p.PositionSize))
		weightedEffSell = weightedEffSell.Add(p.EffectiveSellPrice.Mul(p.PositionSize))
		weightedBuySlip = weightedBuySlip.Add(decimal.NewFromFloat(p.BuySlippage).Mul(p.PositionSize))
		weightedSellSlip = weightedSellSlip.Add(decimal.NewFromFloat(p.SellSlippage).Mul(p.PositionSize))

		if p.Limits.MaxSlippagePct < merged.Limits.MaxSlippagePct {
			merged.Limits.MaxSlippagePct = p.Limits.MaxSlippagePct
		}
		if p.Limits.Timeout < merged.Limits.Timeout {
			merged.Limits.Timeout = p.Limits.Timeout
		}
	}

	if merged.PositionSize.Sign() > 0 {
		merged.BuyPrice = weightedBuy.Div(merged.PositionSize)
		merged.SellPrice = weightedSell.Div(merged.PositionSize)
		merged.EffectiveBuyPrice = weightedEffBuy.Div(merged.PositionSize)
		merged.EffectiveSellPrice = weightedEffSell.Div(merged.PositionSize)
		merged.BuySlippage, _ = weightedBuySlip.Div(merged.PositionSize).Float64()
		merged.SellSlippage, _ = weightedSellSlip.Div(merged.PositionSize).Float64()
		merged.ExpectedProfitPct = merged.ExpectedProfit.Div(merged.PositionSize).Mul(decimal.NewFromInt(100))
	}

	o.logger.WithFields(logrus.Fields{
		"pair":          merged.Pair,
		"buy_exchange":  merged.BuyExchange,
		"sell_exchange": merged.SellExchange,
		"count":         merged.CombinedCount,
		"position_size": merged.PositionSize.String(),
	}).Info("Combined plans sharing exchange route")

	return merged
}

// Execute runs all plans concurrently. Within a plan the buy leg must
// complete before the sell leg is attempted; a failed or breaker-tripped buy
// leaves nothing to unwind.
func (o *ExecutionOptimizer) Execute(ctx context.Context, plans []models.ExecutionPlan) []models.ExecutionResult {
	if len(plans) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency())

	results := make([]models.ExecutionResult, len(plans))
	for i, plan := range plans {
		i, plan := i, plan
		g.Go(func() error {
			results[i] = o.executePlan(ctx, plan)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	o.logger.WithFields(logrus.Fields{
		"plans":     len(plans),
		"succeeded": succeeded,
	}).Info("Execution completed")

	return results
}

func (o *ExecutionOptimizer) executePlan(ctx context.Context, plan models.ExecutionPlan) models.ExecutionResult {
	start := time.Now()
	result := models.ExecutionResult{Plan: &plan, GasCost: plan.GasCost}
	maxSlippage := plan.Limits.MaxSlippagePct / 100

	buyFill, err := o.executeLeg(ctx, plan, models.OrderRequest{
		Exchange:    plan.BuyExchange,
		Pair:        plan.Pair,
		Side:        models.OrderSideBuy,
		Amount:      plan.PositionSize,
		Price:       plan.BuyPrice,
		MaxSlippage: maxSlippage,
		Timeout:     plan.Limits.Timeout,
	})
	if err != nil {
		result.FailedStage = models.FailureStageBuy
		result.Error = err.Error()
		result.Duration = time.Since(start)
		result.CompletedAt = time.Now()
		o.logger.WithError(err).WithField("plan_id", plan.ID).Warn("Buy leg failed")
		return result
	}
	result.Buy = buyFill

	sellFill, err := o.executeLeg(ctx, plan, models.OrderRequest{
		Exchange:    plan.SellExchange,
		Pair:        plan.Pair,
		Side:        models.OrderSideSell,
		Amount:      buyFill.Amount,
		Price:       plan.SellPrice,
		MaxSlippage: maxSlippage,
		Timeout:     plan.Limits.Timeout,
	})
	if err != nil {
		result.FailedStage = models.FailureStageSell
		result.Error = err.Error()
		result.Duration = time.Since(start)
		result.CompletedAt = time.Now()
		o.logger.WithError(err).WithFields(logrus.Fields{
			"plan_id":    plan.ID,
			"buy_amount": buyFill.Amount.String(),
		}).Error("Sell leg failed after completed buy")
		return result
	}
	result.Sell = sellFill

	result.Success = true
	result.RealizedProfit = sellFill.Value.
		Sub(buyFill.Value).
		Sub(buyFill.Fee).
		Sub(sellFill.Fee).
		Sub(plan.GasCost)
	if plan.PositionSize.Sign() > 0 {
		result.RealizedProfitPct = result.RealizedProfit.Div(plan.PositionSize).Mul(decimal.NewFromInt(100))
	}
	result.ProfitDelta = result.RealizedProfit.Sub(plan.ExpectedProfit)
	result.Duration = time.Since(start)
	result.CompletedAt = time.Now()

	o.logger.WithFields(logrus.Fields{
		"plan_id":         plan.ID,
		"realized_profit": result.RealizedProfit.StringFixed(4),
		"duration":        result.Duration.String(),
	}).Info("Plan executed")

	return result
}

// executeLeg submits one order and enforces the plan's circuit breakers:
// realized slippage beyond the limit or a leg running past its timeout both
// fail the leg even when the exchange reports a fill.
func (o *ExecutionOptimizer) executeLeg(ctx context.Context, plan models.ExecutionPlan, req models.OrderRequest) (*models.LegFill, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = config.Duration(o.cfg.Execution.OrderTimeout, 30*time.Second)
	}
	legCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	legStart := time.Now()
	res, err := o.executor.ExecuteOrder(legCtx, req)
	elapsed := time.Since(legStart)
	if err != nil {
		return nil, fmt.Errorf("%s order on %s: %w", req.Side, req.Exchange, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%s order on %s rejected: %s", req.Side, req.Exchange, res.Error)
	}
	if elapsed > timeout {
		return nil, fmt.Errorf("%w: %s leg took %s, limit %s", ErrCircuitBreakerTripped, req.Side, elapsed, timeout)
	}

	slippage := realizedSlippage(req.Side, req.Price, res.ExecutedPrice)
	if slippage > req.MaxSlippage {
		return nil, fmt.Errorf("%w: %s slippage %.5f over limit %.5f", ErrCircuitBreakerTripped, req.Side, slippage, req.MaxSlippage)
	}

	feePct := decimal.NewFromFloat(o.cfg.ExchangeFeePct(req.Exchange) / 100)
	value := res.ExecutedPrice.Mul(res.FilledAmount)
	return &models.LegFill{
		Price:  res.ExecutedPrice,
		Amount: res.FilledAmount,
		Value:  value,
		Fee:    value.Mul(feePct),
	}, nil
}

// realizedSlippage is the adverse price movement of a fill as a fraction of
// the expected price. Favorable movement counts as zero.
func realizedSlippage(side models.OrderSide, expected, executed decimal.Decimal) float64 {
	if expected.Sign() <= 0 {
		return 0
	}
	var adverse decimal.Decimal
	if side == models.OrderSideBuy {
		adverse = executed.Sub(expected)
	} else {
		adverse = expected.Sub(executed)
	}
	if adverse.Sign() <= 0 {
		return 0
	}
	slip, _ := adverse.Div(expected).Float64()
	return slip
}
