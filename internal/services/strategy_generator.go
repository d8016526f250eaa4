package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/exchange"
	"github.com/arbfund/poolpilot/internal/models"
)

// OutcomeStore persists trade outcomes and retrieves similar historical
// trades. Both operations are best-effort: failures are logged and ignored.
type OutcomeStore interface {
	StoreOutcome(ctx context.Context, rec models.OutcomeRecord) error
	RetrieveSimilar(ctx context.Context, q models.SimilarityQuery) ([]models.OutcomeRecord, error)
}

// StrategyGenerator turns detected opportunities into sized decisions. The
// text-generation collaborator proposes parameters under a strict JSON
// schema; whenever the call fails, times out, or the response does not
// validate, the deterministic sizing table keyed by pool-size bracket is
// used instead. The table is the sole source of truth on any doubt.
type StrategyGenerator struct {
	cfg      *config.Config
	text     exchange.TextGenerator // optional
	outcomes OutcomeStore           // optional
	logger   *logrus.Logger

	mu            sync.Mutex
	fallbackUntil time.Time
}

// NewStrategyGenerator creates a generator; text and outcomes may be nil,
// which forces pure fallback operation.
func NewStrategyGenerator(cfg *config.Config, text exchange.TextGenerator, outcomes OutcomeStore, logger *logrus.Logger) *StrategyGenerator {
	return &StrategyGenerator{cfg: cfg, text: text, outcomes: outcomes, logger: logger}
}

// strategyParams is the strict schema a text response must satisfy. Every
// field is required; out-of-range values reject the whole response.
type strategyParams struct {
	PositionSizePct     float64 `json:"position_size_pct"`
	RiskScore           int     `json:"risk_score"`
	ExecutionPriority   int     `json:"execution_priority"`
	ExpectedSlippagePct float64 `json:"expected_slippage_pct"`
	GasSetting          string  `json:"gas_setting"`
	CircuitBreakers     struct {
		MaxSlippagePct float64 `json:"max_slippage_pct"`
		TimeoutSeconds int     `json:"timeout_seconds"`
	} `json:"circuit_breakers"`
}

// Generate produces one decision per opportunity.
func (g *StrategyGenerator) Generate(ctx context.Context, pool *models.PoolSnapshot, opportunities []models.Opportunity) []models.Decision {
	if len(opportunities) == 0 {
		return nil
	}

	decisions := make([]models.Decision, 0, len(opportunities))
	for _, opp := range opportunities {
		decisions = append(decisions, g.generateOne(ctx, pool, opp))
	}

	g.logger.WithField("decisions", len(decisions)).Info("Strategy generation completed")
	return decisions
}

func (g *StrategyGenerator) generateOne(ctx context.Context, pool *models.PoolSnapshot, opp models.Opportunity) models.Decision {
	if g.text == nil || g.inFallbackWindow() {
		return g.fallbackDecision(pool, opp)
	}

	prompt := g.buildPrompt(ctx, pool, opp)

	timeout := config.Duration(g.cfg.Strategy.TextTimeout, 30*time.Second)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := g.text.GenerateStrategyText(callCtx, prompt)
	if err != nil {
		g.logger.WithError(err).WithField("pair", opp.Pair).Warn("Strategy text generation failed, using fallback")
		g.activateFallback()
		return g.fallbackDecision(pool, opp)
	}

	params, err := g.parseStrategy(text)
	if err != nil {
		g.logger.WithError(err).WithField("pair", opp.Pair).Warn("Strategy response rejected, using fallback")
		return g.fallbackDecision(pool, opp)
	}

	return models.Decision{
		ID:                  uuid.NewString(),
		Opportunity:         opp,
		PositionSizePct:     params.PositionSizePct,
		RiskScore:           params.RiskScore,
		ExecutionPriority:   params.ExecutionPriority,
		ExpectedSlippagePct: params.ExpectedSlippagePct,
		Gas:                 models.GasSetting(params.GasSetting),
		Limits: models.CircuitBreakerLimits{
			MaxSlippagePct: params.CircuitBreakers.MaxSlippagePct,
			Timeout:        time.Duration(params.CircuitBreakers.TimeoutSeconds) * time.Second,
		},
		CreatedAt: time.Now(),
	}
}

// parseStrategy validates a text response against the strict schema.
func (g *StrategyGenerator) parseStrategy(text string) (*strategyParams, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var params strategyParams
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("decode strategy response: %w", err)
	}

	if params.PositionSizePct <= 0 || params.PositionSizePct > g.cfg.Risk.MaxPositionSizePct {
		return nil, fmt.Errorf("position_size_pct %v outside (0, %v]", params.PositionSizePct, g.cfg.Risk.MaxPositionSizePct)
	}
	if params.RiskScore < 1 || params.RiskScore > 10 {
		return nil, fmt.Errorf("risk_score %d outside [1, 10]", params.RiskScore)
	}
	if params.ExecutionPriority < 1 || params.ExecutionPriority > 10 {
		return nil, fmt.Errorf("execution_priority %d outside [1, 10]", params.ExecutionPriority)
	}
	if params.ExpectedSlippagePct < 0 {
		return nil, fmt.Errorf("expected_slippage_pct %v is negative", params.ExpectedSlippagePct)
	}
	switch models.GasSetting(params.GasSetting) {
	case models.GasLow, models.GasMedium, models.GasHigh:
	default:
		return nil, fmt.Errorf("unknown gas_setting %q", params.GasSetting)
	}
	if params.CircuitBreakers.MaxSlippagePct <= 0 {
		return nil, fmt.Errorf("circuit_breakers.max_slippage_pct %v must be positive", params.CircuitBreakers.MaxSlippagePct)
	}
	if params.CircuitBreakers.TimeoutSeconds <= 0 {
		return nil, fmt.Errorf("circuit_breakers.timeout_seconds %d must be positive", params.CircuitBreakers.TimeoutSeconds)
	}
	return &params, nil
}

// fallbackDecision applies the deterministic sizing table by pool bracket.
func (g *StrategyGenerator) fallbackDecision(pool *models.PoolSnapshot, opp models.Opportunity) models.Decision {
	poolSize := decimal.Zero
	if pool != nil {
		poolSize = pool.TotalValue
	}

	d := models.Decision{
		ID:          uuid.NewString(),
		Opportunity: opp,
		Gas:         models.GasMedium,
		Fallback:    true,
		CreatedAt:   time.Now(),
	}
	switch {
	case poolSize.LessThan(decimal.NewFromInt(10_000)):
		// Conservative
		d.PositionSizePct = 0.5
		d.RiskScore = 3
		d.ExecutionPriority = 3
		d.ExpectedSlippagePct = 0.2
		d.Limits = models.CircuitBreakerLimits{MaxSlippagePct: 0.5, Timeout: 15 * time.Second}
	case poolSize.LessThan(decimal.NewFromInt(100_000)):
		// Moderate
		d.PositionSizePct = 1.0
		d.RiskScore = 5
		d.ExecutionPriority = 5
		d.ExpectedSlippagePct = 0.15
		d.Limits = models.CircuitBreakerLimits{MaxSlippagePct: 0.75, Timeout: 20 * time.Second}
	default:
		// Aggressive
		d.PositionSizePct = 2.0
		d.RiskScore = 7
		d.ExecutionPriority = 7
		d.ExpectedSlippagePct = 0.1
		d.Gas = models.GasHigh
		d.Limits = models.CircuitBreakerLimits{MaxSlippagePct: 1.0, Timeout: 30 * time.Second}
	}
	if d.PositionSizePct > g.cfg.Risk.MaxPositionSizePct {
		d.PositionSizePct = g.cfg.Risk.MaxPositionSizePct
	}
	return d
}

// buildPrompt assembles the strategy prompt, embedding similar historical
// outcomes when the store can supply them.
func (g *StrategyGenerator) buildPrompt(ctx context.Context, pool *models.PoolSnapshot, opp models.Opportunity) string {
	var b strings.Builder
	b.WriteString("Propose parameters for a pooled arbitrage trade as a JSON object with fields ")
	b.WriteString("position_size_pct, risk_score, execution_priority, expected_slippage_pct, gas_setting, ")
	b.WriteString("circuit_breakers{max_slippage_pct, timeout_seconds}.\n\n")

	if pool != nil {
		fmt.Fprintf(&b, "Pool: total value %s, available capital %s, liquidity reserve %s, %d participants.\n",
			pool.TotalValue.StringFixed(2), pool.AvailableCapital().StringFixed(2),
			pool.LiquidityReserve.StringFixed(2), pool.ParticipantCount)
	}
	fmt.Fprintf(&b, "Opportunity: %s, buy on %s at %s, sell on %s at %s, spread %s%%, estimated profit %s%%.\n",
		opp.Pair, opp.BuyExchange, opp.BuyPrice.String(), opp.SellExchange, opp.SellPrice.String(),
		opp.PriceDiffPct.StringFixed(2), opp.EstProfitPct.StringFixed(2))

	if g.outcomes != nil && pool != nil {
		similar, err := g.outcomes.RetrieveSimilar(ctx, models.SimilarityQuery{
			Pair:      opp.Pair,
			PoolSize:  pool.TotalValue,
			SpreadPct: opp.PriceDiffPct,
			Limit:     g.cfg.Strategy.RetrievalLimit,
		})
		if err != nil {
			g.logger.WithError(err).Debug("Similar-outcome retrieval failed")
		}
		for i, rec := range similar {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "Past trade %d: pool %s, spread %s%%, profit %s, slippage %.4f, took %s.\n",
				i+1, rec.PoolSize.StringFixed(0), rec.SpreadPct.StringFixed(2),
				rec.Profit.StringFixed(2), rec.Slippage, rec.ExecutionTime)
		}
	}
	return b.String()
}

func (g *StrategyGenerator) inFallbackWindow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Now().Before(g.fallbackUntil)
}

func (g *StrategyGenerator) activateFallback() {
	d := config.Duration(g.cfg.Strategy.FallbackDuration, 5*time.Minute)
	g.mu.Lock()
	g.fallbackUntil = time.Now().Add(d)
	g.mu.Unlock()
	g.logger.WithField("until", g.fallbackUntil.Format(time.RFC3339)).Warn("Strategy fallback window activated")
}
