package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbfund/poolpilot/internal/config"
	"github.com/arbfund/poolpilot/internal/models"
)

func newClientForServer(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.Gateway.ServiceURL = srv.URL
	cfg.Trading.Exchanges = []string{"binance", "kraken"}
	cfg.Trading.Pairs = []string{"BTC/USDT"}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewClient(cfg, logger)
}

func TestFetchMarketSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tickers", r.URL.Path)

		var req map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"binance", "kraken"}, req["exchanges"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tickers": [
			{"exchange": "Binance", "pair": "BTC/USDT", "price": "50000", "volume": "12", "bid": "49990", "ask": "50010"},
			{"exchange": "kraken", "pair": "BTC/USDT", "price": "0"}
		]}`))
	}))
	defer srv.Close()

	client := newClientForServer(t, srv)
	snapshot, err := client.FetchMarketSnapshot(context.Background())
	require.NoError(t, err)

	// Exchange names normalize to lowercase; zero prices are dropped.
	require.Contains(t, snapshot.Exchanges, "binance")
	assert.NotContains(t, snapshot.Exchanges, "kraken")
	ticker := snapshot.Exchanges["binance"]["BTC/USDT"]
	assert.Equal(t, "50000", ticker.Price.String())
}

func TestFetchMarketDetailsEscapesPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/markets/binance/BTC-USDT", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"exchange": "binance", "pair": "BTC/USDT", "price": "50000",
			"order_book": {"asks": [{"price": "50010", "amount": "3"}], "bids": [{"price": "49990", "amount": "2"}]}}`))
	}))
	defer srv.Close()

	client := newClientForServer(t, srv)
	details, err := client.FetchMarketDetails(context.Background(), "binance", "BTC/USDT")
	require.NoError(t, err)

	assert.Equal(t, "BTC/USDT", details.Pair)
	require.Len(t, details.OrderBook.Asks, 1)
	assert.Equal(t, "50010", details.OrderBook.Asks[0].Price.String())
}

func TestExecuteOrderSurfacesGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error": "exchange unavailable"}`))
	}))
	defer srv.Close()

	client := newClientForServer(t, srv)
	_, err := client.ExecuteOrder(context.Background(), models.OrderRequest{
		Exchange: "binance",
		Pair:     "BTC/USDT",
		Side:     models.OrderSideBuy,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exchange unavailable")
	assert.Contains(t, err.Error(), "502")
}

func TestFetchPoolState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/pool", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"total_value": "100000", "participant_count": 50,
			"total_assets": "105000", "total_shares": "100000"}`))
	}))
	defer srv.Close()

	client := newClientForServer(t, srv)
	pool, err := client.FetchPoolState(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "100000", pool.TotalValue.String())
	assert.Equal(t, 50, pool.ParticipantCount)
}
