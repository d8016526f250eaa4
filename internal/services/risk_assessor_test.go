package services

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbfund/poolpilot/internal/models"
)

func testDecision(pct float64) models.Decision {
	return models.Decision{
		ID: uuid.NewString(),
		Opportunity: models.Opportunity{
			Pair:         "BTC/USDT",
			BuyExchange:  "binance",
			SellExchange: "kraken",
		},
		PositionSizePct:   pct,
		RiskScore:         5,
		ExecutionPriority: 5,
		Gas:               models.GasMedium,
		Limits:            models.CircuitBreakerLimits{MaxSlippagePct: 1, Timeout: 30 * time.Second},
	}
}

func TestAssessScoresKnownScenario(t *testing.T) {
	cfg := newTestConfig(t)
	assessor := NewRiskAssessor(cfg, newTestLogger())

	pool := testPool(100_000, 15_000)
	out := assessor.Assess(context.Background(), pool, []models.Decision{testDecision(2)})
	require.Len(t, out, 1)
	a := out[0].Assessment
	require.NotNil(t, a)

	// available = 85000, size = 1700: 1.7% of the pool.
	assert.InDelta(t, 1+(1.7/10)*9, a.PoolImpactScore, 1e-9)
	// effective reserve = 15000 - 5000 expected withdrawals.
	assert.InDelta(t, 1700.0/10_000, a.LiquidityStrain, 1e-9)
	// 30 day holders, low frequency, 10% new participants.
	assert.InDelta(t, 0.4*7+0.4*2+0.2*1, a.ParticipantRisk, 1e-9)
	assert.InDelta(t, 0.01+0.01-0.01*0.01, a.ExchangeFailureProb, 1e-9)

	expected := 0.3*a.PoolImpactScore + 0.3*(a.LiquidityStrain*10) +
		0.2*a.ParticipantRisk + 0.2*(a.ExchangeFailureProb*10)
	assert.InDelta(t, expected, a.OverallRisk, 1e-9)
	assert.True(t, a.Proceed)
	assert.False(t, a.Default)
}

func TestAssessEmptyPoolIsMaximumRisk(t *testing.T) {
	cfg := newTestConfig(t)
	assessor := NewRiskAssessor(cfg, newTestLogger())

	out := assessor.Assess(context.Background(), &models.PoolSnapshot{}, []models.Decision{testDecision(2)})
	require.Len(t, out, 1)
	a := out[0].Assessment

	assert.Equal(t, 10.0, a.PoolImpactScore)
	assert.Equal(t, 1.0, a.LiquidityStrain)
	assert.False(t, a.Proceed)
}

func TestAssessOverallRiskStaysOnScale(t *testing.T) {
	cfg := newTestConfig(t)
	assessor := NewRiskAssessor(cfg, newTestLogger())
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		pool := testPool(rng.Float64()*1_000_000, rng.Float64()*200_000)
		pool.Participants.AvgHoldingDays = rng.Float64() * 200
		pool.Participants.NewParticipantRatio = rng.Float64()

		out := assessor.Assess(context.Background(), pool, []models.Decision{testDecision(rng.Float64() * 10)})
		a := out[0].Assessment
		assert.GreaterOrEqual(t, a.OverallRisk, 1.0)
		assert.LessOrEqual(t, a.OverallRisk, 10.0)
	}
}

func TestAssessProceedBoundary(t *testing.T) {
	cfg := newTestConfig(t)
	assessor := NewRiskAssessor(cfg, newTestLogger())
	pool := testPool(100_000, 15_000)

	out := assessor.Assess(context.Background(), pool, []models.Decision{testDecision(2)})
	risk := out[0].Assessment.OverallRisk

	cfg.Risk.MaxRiskThreshold = risk
	out = assessor.Assess(context.Background(), pool, []models.Decision{testDecision(2)})
	assert.True(t, out[0].Assessment.Proceed, "at the threshold still proceeds")

	cfg.Risk.MaxRiskThreshold = risk - 0.001
	out = assessor.Assess(context.Background(), pool, []models.Decision{testDecision(2)})
	assert.False(t, out[0].Assessment.Proceed)
}

func TestAssessCanceledContextUsesDefaultAssessment(t *testing.T) {
	cfg := newTestConfig(t)
	assessor := NewRiskAssessor(cfg, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := assessor.Assess(ctx, testPool(100_000, 15_000), []models.Decision{testDecision(2)})
	require.Len(t, out, 1)
	a := out[0].Assessment
	require.NotNil(t, a)
	assert.True(t, a.Default)
	assert.Equal(t, 5.0, a.OverallRisk)
	assert.True(t, a.Proceed, "default threshold of 7 accepts the midpoint score")
}

func TestAssessCompletesWithZeroConcurrency(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Execution.MaxConcurrency = 0 // must be floored, not block every worker
	assessor := NewRiskAssessor(cfg, newTestLogger())

	done := make(chan []models.Decision, 1)
	go func() {
		done <- assessor.Assess(context.Background(), testPool(100_000, 15_000),
			[]models.Decision{testDecision(1), testDecision(2)})
	}()

	select {
	case out := <-done:
		require.Len(t, out, 2)
		for _, d := range out {
			assert.NotNil(t, d.Assessment)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Assess did not return with max_concurrency=0")
	}
}

func TestAssessKeepsDecisionOrder(t *testing.T) {
	cfg := newTestConfig(t)
	assessor := NewRiskAssessor(cfg, newTestLogger())

	decisions := []models.Decision{testDecision(1), testDecision(2), testDecision(3)}
	out := assessor.Assess(context.Background(), testPool(100_000, 15_000), decisions)
	require.Len(t, out, 3)
	for i := range decisions {
		assert.Equal(t, decisions[i].ID, out[i].ID)
		assert.NotNil(t, out[i].Assessment)
	}
}
