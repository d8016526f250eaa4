package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFindsSpreadAcrossExchanges(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewOpportunityDetector(cfg, newTestLogger())

	snapshot := marketWith(map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000},
		"kraken":  {"BTC/USDT": 51000},
	})

	opportunities := detector.Detect(snapshot)
	require.Len(t, opportunities, 1)

	opp := opportunities[0]
	assert.Equal(t, "BTC/USDT", opp.Pair)
	assert.Equal(t, "binance", opp.BuyExchange)
	assert.Equal(t, "kraken", opp.SellExchange)
	// (51000-50000)/50000 = 2%, minus binance 0.1% and kraken 0.26% fees.
	assert.InDelta(t, 2.0, mustFloat(opp.PriceDiffPct), 1e-9)
	assert.InDelta(t, 1.64, mustFloat(opp.EstProfitPct), 1e-9)
}

func TestDetectSkipsSpreadsBelowThreshold(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Risk.MinProfitThreshold = 0.5
	detector := NewOpportunityDetector(cfg, newTestLogger())

	// 0.5% spread minus 0.36% fees leaves 0.14%, below the threshold.
	snapshot := marketWith(map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000},
		"kraken":  {"BTC/USDT": 50250},
	})

	assert.Empty(t, detector.Detect(snapshot))
}

func TestDetectIgnoresSinglesAndBadPrices(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewOpportunityDetector(cfg, newTestLogger())

	snapshot := marketWith(map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000, "ETH/USDT": 3000},
		"kraken":  {"ETH/USDT": 0},
	})

	assert.Empty(t, detector.Detect(snapshot))
	assert.Empty(t, detector.Detect(nil))
}

func TestDetectOrdersByProfitWithStableTies(t *testing.T) {
	cfg := newTestConfig(t)
	detector := NewOpportunityDetector(cfg, newTestLogger())

	snapshot := marketWith(map[string]map[string]float64{
		"binance": {"BTC/USDT": 50000, "ETH/USDT": 3000, "SOL/USDT": 100},
		"kraken":  {"BTC/USDT": 51000, "ETH/USDT": 3060, "SOL/USDT": 105},
	})

	opportunities := detector.Detect(snapshot)
	require.Len(t, opportunities, 3)

	for i := 1; i < len(opportunities); i++ {
		assert.False(t, opportunities[i].EstProfitPct.GreaterThan(opportunities[i-1].EstProfitPct),
			"profits must be non-increasing")
	}
	// BTC and ETH tie at 2% spread; the pair name breaks the tie.
	assert.Equal(t, "SOL/USDT", opportunities[0].Pair)
	assert.Equal(t, "BTC/USDT", opportunities[1].Pair)
	assert.Equal(t, "ETH/USDT", opportunities[2].Pair)
}
