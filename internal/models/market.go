package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker holds the last observed quote for one trading pair on one exchange.
type Ticker struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
}

// MarketSnapshot is the per-cycle view of all tracked markets, keyed by
// exchange and then by trading pair.
type MarketSnapshot struct {
	Exchanges map[string]map[string]Ticker `json:"exchanges"`
	FetchedAt time.Time                    `json:"fetched_at"`
}

// Pairs returns the set of trading pairs present on at least one exchange.
func (s *MarketSnapshot) Pairs() []string {
	seen := make(map[string]struct{})
	var pairs []string
	for _, tickers := range s.Exchanges {
		for pair := range tickers {
			if _, ok := seen[pair]; !ok {
				seen[pair] = struct{}{}
				pairs = append(pairs, pair)
			}
		}
	}
	return pairs
}

// OrderBookLevel is one price level of an order book.
type OrderBookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBook holds both sides of an order book. Bids are expected best-first
// (descending price), asks best-first (ascending price).
type OrderBook struct {
	Bids []OrderBookLevel `json:"bids"`
	Asks []OrderBookLevel `json:"asks"`
}

// MarketDetails is the point-in-time market view fetched right before plan
// creation: current price plus order book depth.
type MarketDetails struct {
	Exchange  string          `json:"exchange"`
	Pair      string          `json:"pair"`
	Price     decimal.Decimal `json:"price"`
	OrderBook OrderBook       `json:"order_book"`
}
