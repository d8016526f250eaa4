package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// marketWith builds a snapshot from exchange -> pair -> last price.
func marketWith(prices map[string]map[string]float64) *models.MarketSnapshot {
	snapshot := &models.MarketSnapshot{
		Exchanges: make(map[string]map[string]models.Ticker),
		FetchedAt: time.Now(),
	}
	for ex, pairs := range prices {
		snapshot.Exchanges[ex] = make(map[string]models.Ticker)
		for pair, price := range pairs {
			snapshot.Exchanges[ex][pair] = models.Ticker{Price: decimal.NewFromFloat(price)}
		}
	}
	return snapshot
}

func testPool(totalValue, reserve float64) *models.PoolSnapshot {
	return &models.PoolSnapshot{
		TotalValue:       decimal.NewFromFloat(totalValue),
		LiquidityReserve: decimal.NewFromFloat(reserve),
		ParticipantCount: 50,
		WithdrawalForecast: models.WithdrawalForecast{
			Expected:  decimal.NewFromFloat(totalValue * 0.05),
			WorstCase: decimal.NewFromFloat(totalValue * 0.15),
		},
		Participants: models.ParticipantMetrics{
			AvgHoldingDays:      30,
			WithdrawalFrequency: models.WithdrawalFrequencyLow,
			NewParticipantRatio: 0.1,
		},
		UpdatedAt: time.Now(),
	}
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// stubOutcomes is an in-memory OutcomeStore for tests.
type stubOutcomes struct {
	stored  []models.OutcomeRecord
	similar []models.OutcomeRecord
	err     error
}

func (s *stubOutcomes) StoreOutcome(_ context.Context, rec models.OutcomeRecord) error {
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, rec)
	return nil
}

func (s *stubOutcomes) RetrieveSimilar(context.Context, models.SimilarityQuery) ([]models.OutcomeRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.similar, nil
}
