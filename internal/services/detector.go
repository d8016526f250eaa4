package services

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

// OpportunityDetector scans a market snapshot for profitable price
// divergences between exchange pairs.
type OpportunityDetector struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewOpportunityDetector creates a detector bound to the shared config.
func NewOpportunityDetector(cfg *config.Config, logger *logrus.Logger) *OpportunityDetector {
	return &OpportunityDetector{cfg: cfg, logger: logger}
}

// Detect returns all opportunities whose estimated profit, net of the
// configured per-exchange fees, meets the minimum threshold. The result is
// sorted by estimated profit descending; ties break on pair name.
func (d *OpportunityDetector) Detect(snapshot *models.MarketSnapshot) []models.Opportunity {
	if snapshot == nil || len(snapshot.Exchanges) == 0 {
		return nil
	}

	minProfit := decimal.NewFromFloat(d.cfg.Risk.MinProfitThreshold)
	hundred := decimal.NewFromInt(100)
	now := time.Now()

	var opportunities []models.Opportunity
	for _, pair := range snapshot.Pairs() {
		// Exchange names iterate in sorted order so min/max selection is
		// deterministic when prices tie.
		exchanges := exchangesWithPair(snapshot, pair)
		if len(exchanges) < 2 {
			continue
		}

		var minEx, maxEx string
		var minPrice, maxPrice decimal.Decimal
		for _, ex := range exchanges {
			price := snapshot.Exchanges[ex][pair].Price
			if price.Sign() <= 0 {
				continue
			}
			if minEx == "" || price.LessThan(minPrice) {
				minEx, minPrice = ex, price
			}
			if maxEx == "" || price.GreaterThan(maxPrice) {
				maxEx, maxPrice = ex, price
			}
		}
		if minEx == "" || maxEx == "" || minEx == maxEx {
			continue
		}

		priceDiffPct := maxPrice.Sub(minPrice).Div(minPrice).Mul(hundred)
		fees := decimal.NewFromFloat(d.cfg.ExchangeFeePct(minEx) + d.cfg.ExchangeFeePct(maxEx))
		estProfitPct := priceDiffPct.Sub(fees)

		if estProfitPct.Sign() <= 0 || estProfitPct.LessThan(minProfit) {
			continue
		}

		opportunities = append(opportunities, models.Opportunity{
			Pair:         pair,
			BuyExchange:  minEx,
			BuyPrice:     minPrice,
			SellExchange: maxEx,
			SellPrice:    maxPrice,
			PriceDiffPct: priceDiffPct,
			EstProfitPct: estProfitPct,
			DetectedAt:   now,
		})
	}

	sort.SliceStable(opportunities, func(i, j int) bool {
		if opportunities[i].EstProfitPct.Equal(opportunities[j].EstProfitPct) {
			return opportunities[i].Pair < opportunities[j].Pair
		}
		return opportunities[i].EstProfitPct.GreaterThan(opportunities[j].EstProfitPct)
	})

	d.logger.WithFields(logrus.Fields{
		"opportunities": len(opportunities),
		"min_profit":    d.cfg.Risk.MinProfitThreshold,
	}).Info("Opportunity detection completed")

	return opportunities
}

func exchangesWithPair(snapshot *models.MarketSnapshot, pair string) []string {
	var exchanges []string
	for ex, tickers := range snapshot.Exchanges {
		if _, ok := tickers[pair]; ok {
			exchanges = append(exchanges, ex)
		}
	}
	sort.Strings(exchanges)
	return exchanges
}
