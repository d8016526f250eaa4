package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/database"
	"github.com/arbfund/poolpilot/internal/exchange"
	"github.com/arbfund/poolpilot/internal/models"
)

// PoolContext maintains the fund-state snapshot: NAV, recommended liquidity
// reserve, withdrawal forecast, and participant metrics. Snapshots are
// cached (in-process and optionally in Redis) for the configured TTL so
// consecutive cycles within the TTL share one orchestrator fetch.
type PoolContext struct {
	cfg    *config.Config
	source exchange.PoolStateSource
	cache  *database.RedisClient // optional
	logger *logrus.Logger

	mu        sync.Mutex
	snapshot  *models.PoolSnapshot
	fetchedAt time.Time
}

// NewPoolContext creates a pool-context engine; cache may be nil.
func NewPoolContext(cfg *config.Config, source exchange.PoolStateSource, cache *database.RedisClient, logger *logrus.Logger) *PoolContext {
	return &PoolContext{cfg: cfg, source: source, cache: cache, logger: logger}
}

// Snapshot returns the current pool snapshot, refreshing it when the cached
// copy is older than the configured TTL.
func (p *PoolContext) Snapshot(ctx context.Context) (*models.PoolSnapshot, error) {
	ttl := config.Duration(p.cfg.Pool.CacheTTL, time.Minute)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshot != nil && time.Since(p.fetchedAt) < ttl {
		return p.snapshot, nil
	}

	if p.cache != nil {
		if cached, err := p.cache.GetPoolSnapshot(ctx); err != nil {
			p.logger.WithError(err).Warn("Pool snapshot cache read failed")
		} else if cached != nil && time.Since(cached.UpdatedAt) < ttl {
			p.snapshot, p.fetchedAt = cached, time.Now()
			return cached, nil
		}
	}

	raw, err := p.source.FetchPoolState(ctx)
	if err != nil {
		// Serve a stale snapshot over failing the cycle when we have one.
		if p.snapshot != nil {
			p.logger.WithError(err).Warn("Pool state fetch failed, serving stale snapshot")
			return p.snapshot, nil
		}
		return nil, fmt.Errorf("fetch pool state: %w", err)
	}

	snapshot := p.derive(raw)
	p.snapshot, p.fetchedAt = snapshot, time.Now()

	if p.cache != nil {
		if err := p.cache.SetPoolSnapshot(ctx, snapshot, ttl); err != nil {
			p.logger.WithError(err).Warn("Pool snapshot cache write failed")
		}
	}
	return snapshot, nil
}

// derive computes the snapshot's derived metrics from raw pool data.
func (p *PoolContext) derive(raw *models.PoolData) *models.PoolSnapshot {
	nav := decimal.Zero
	if raw.TotalShares.Sign() > 0 {
		nav = raw.TotalAssets.Div(raw.TotalShares)
	}

	// Reserve grows with participant count: 1% per 10 participants on top of
	// the base ratio, capped at +5%.
	participantFactor := 0.01 * float64(raw.ParticipantCount) / 10
	if participantFactor > 0.05 {
		participantFactor = 0.05
	}
	reserveRatio := decimal.NewFromFloat(p.cfg.Pool.BaseReserveRatio + participantFactor)

	return &models.PoolSnapshot{
		NAV:              nav,
		TotalValue:       raw.TotalValue,
		LiquidityReserve: raw.TotalValue.Mul(reserveRatio),
		ParticipantCount: raw.ParticipantCount,
		WithdrawalForecast: models.WithdrawalForecast{
			Expected:  raw.TotalValue.Mul(decimal.NewFromFloat(p.cfg.Pool.ExpectedWithdrawalRatio)),
			WorstCase: raw.TotalValue.Mul(decimal.NewFromFloat(p.cfg.Pool.WorstCaseWithdrawalRatio)),
		},
		Participants: models.ParticipantMetrics{
			AvgHoldingDays:      30,
			WithdrawalFrequency: models.WithdrawalFrequencyLow,
			NewParticipantRatio: 0.1,
		},
		UpdatedAt: time.Now(),
	}
}

// Invalidate drops the cached snapshot so the next call refetches.
func (p *PoolContext) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot = nil
	p.fetchedAt = time.Time{}
}
