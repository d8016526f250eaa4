package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

// RiskAssessor scores decisions across four dimensions and gates them
// against the configured maximum risk threshold. Assessments never abort a
// cycle: if scoring a decision fails for any reason, a neutral default
// assessment is attached instead.
type RiskAssessor struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewRiskAssessor creates an assessor bound to the shared config.
func NewRiskAssessor(cfg *config.Config, logger *logrus.Logger) *RiskAssessor {
	return &RiskAssessor{cfg: cfg, logger: logger}
}

// Assess attaches a risk assessment to every decision, in place of order.
// Decisions are scored concurrently up to the configured limit.
func (r *RiskAssessor) Assess(ctx context.Context, pool *models.PoolSnapshot, decisions []models.Decision) []models.Decision {
	if len(decisions) == 0 {
		return decisions
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency())

	out := make([]models.Decision, len(decisions))
	for i, d := range decisions {
		i, d := i, d
		g.Go(func() error {
			select {
			case <-ctx.Done():
				out[i] = d
				out[i].Assessment = r.defaultAssessment()
				return nil
			default:
			}
			out[i] = d
			out[i].Assessment = r.assessOne(pool, d)
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = g.Wait()

	proceeded := 0
	for _, d := range out {
		if d.Proceeds() {
			proceeded++
		}
	}
	r.logger.WithFields(logrus.Fields{
		"decisions": len(out),
		"proceeded": proceeded,
		"threshold": r.cfg.Risk.MaxRiskThreshold,
	}).Info("Risk assessment completed")

	return out
}

func (r *RiskAssessor) assessOne(pool *models.PoolSnapshot, d models.Decision) (a *models.RiskAssessment) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithField("panic", rec).Error("Risk scoring panicked")
			a = r.defaultAssessment()
		}
	}()

	size := positionSize(pool, d.PositionSizePct)

	a = &models.RiskAssessment{
		PoolImpactScore:     r.poolImpactScore(pool, size),
		LiquidityStrain:     r.liquidityStrain(pool, size),
		ParticipantRisk:     r.participantRisk(pool),
		ExchangeFailureProb: r.exchangeFailureProb(d.Opportunity.BuyExchange, d.Opportunity.SellExchange),
		AssessedAt:          time.Now(),
	}

	overall := 0.3*a.PoolImpactScore +
		0.3*(a.LiquidityStrain*10) +
		0.2*a.ParticipantRisk +
		0.2*(a.ExchangeFailureProb*10)
	a.OverallRisk = clamp(overall, 1, 10)
	a.Proceed = a.OverallRisk <= r.cfg.Risk.MaxRiskThreshold
	return a
}

// defaultAssessment is the neutral midpoint score used when scoring fails.
func (r *RiskAssessor) defaultAssessment() *models.RiskAssessment {
	return &models.RiskAssessment{
		PoolImpactScore:     5,
		LiquidityStrain:     0.5,
		ParticipantRisk:     5,
		ExchangeFailureProb: 0.05,
		OverallRisk:         5,
		Proceed:             r.cfg.Risk.MaxRiskThreshold >= 5,
		Default:             true,
		AssessedAt:          time.Now(),
	}
}

// poolImpactScore maps the position's share of the pool onto a 1-10 scale:
// 10% of the pool scores the full 10, scaling linearly down to 1 at zero.
func (r *RiskAssessor) poolImpactScore(pool *models.PoolSnapshot, size decimal.Decimal) float64 {
	if pool == nil || pool.TotalValue.Sign() <= 0 {
		return 10
	}
	sizePct, _ := size.Div(pool.TotalValue).Mul(decimal.NewFromInt(100)).Float64()
	return clamp(1+(sizePct/10)*9, 1, 10)
}

// liquidityStrain is the position size over the reserve remaining after
// expected withdrawals, on a 0-1 scale.
func (r *RiskAssessor) liquidityStrain(pool *models.PoolSnapshot, size decimal.Decimal) float64 {
	if pool == nil {
		return 1
	}
	effective := pool.LiquidityReserve.Sub(pool.WithdrawalForecast.Expected)
	if effective.Sign() <= 0 {
		return 1
	}
	strain, _ := size.Div(effective).Float64()
	return clamp(strain, 0, 1)
}

// participantRisk blends holding period, withdrawal frequency, and the new
// participant ratio into a 1-10 score. Short holders, frequent withdrawers,
// and a young participant base all raise it.
func (r *RiskAssessor) participantRisk(pool *models.PoolSnapshot) float64 {
	m := models.ParticipantMetrics{
		AvgHoldingDays:      30,
		WithdrawalFrequency: models.WithdrawalFrequencyLow,
		NewParticipantRatio: 0.1,
	}
	if pool != nil {
		m = pool.Participants
	}

	holdingScore := 10 - clamp(m.AvgHoldingDays/10, 0, 10)

	var freqScore float64
	switch m.WithdrawalFrequency {
	case models.WithdrawalFrequencyHigh:
		freqScore = 8
	case models.WithdrawalFrequencyMedium:
		freqScore = 5
	default:
		freqScore = 2
	}

	return 0.4*holdingScore + 0.4*freqScore + 0.2*(m.NewParticipantRatio*10)
}

// exchangeFailureProb is the probability that at least one leg's exchange
// fails, from the configured per-exchange probabilities.
func (r *RiskAssessor) exchangeFailureProb(buyExchange, sellExchange string) float64 {
	pb := r.cfg.ExchangeFailureProb(buyExchange)
	ps := r.cfg.ExchangeFailureProb(sellExchange)
	return pb + ps - pb*ps
}

func positionSize(pool *models.PoolSnapshot, pct float64) decimal.Decimal {
	return pool.AvailableCapital().Mul(decimal.NewFromFloat(pct)).Div(decimal.NewFromInt(100))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
