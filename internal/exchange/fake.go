package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arbfund/poolpilot/internal/models"
)

// Fake is a deterministic in-memory implementation of every collaborator
// interface. Tests and dry runs script its data; it never touches the
// network and records every order it receives.
type Fake struct {
	mu sync.Mutex

	Snapshot *models.MarketSnapshot
	Details  map[string]*models.MarketDetails // keyed by exchange|pair
	Pool     *models.PoolData
	Text     string

	// FillSlippage shifts executed prices away from the requested price by
	// the given fraction (buys up, sells down).
	FillSlippage float64

	// FailBuys / FailSells force the corresponding legs to fail.
	FailBuys  bool
	FailSells bool

	// SnapshotErr / DetailsErr / OrderErr / PoolErr / TextErr force the
	// corresponding calls to return an error.
	SnapshotErr error
	DetailsErr  error
	OrderErr    error
	PoolErr     error
	TextErr     error

	orders []models.OrderRequest
}

var _ MarketDataSource = (*Fake)(nil)
var _ OrderExecutor = (*Fake)(nil)
var _ PoolStateSource = (*Fake)(nil)
var _ TextGenerator = (*Fake)(nil)

// NewFake returns an empty fake; callers populate its fields directly.
func NewFake() *Fake {
	return &Fake{Details: make(map[string]*models.MarketDetails)}
}

// DetailsKey builds the lookup key used by SetDetails and FetchMarketDetails.
func DetailsKey(exchange, pair string) string {
	return strings.ToLower(exchange) + "|" + pair
}

// SetDetails registers the market details returned for one exchange/pair.
func (f *Fake) SetDetails(d *models.MarketDetails) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Details[DetailsKey(d.Exchange, d.Pair)] = d
}

// Orders returns a copy of every order request received so far.
func (f *Fake) Orders() []models.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.OrderRequest, len(f.orders))
	copy(out, f.orders)
	return out
}

// OrdersBySide returns the received orders matching one side.
func (f *Fake) OrdersBySide(side models.OrderSide) []models.OrderRequest {
	var out []models.OrderRequest
	for _, o := range f.Orders() {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func (f *Fake) FetchMarketSnapshot(ctx context.Context) (*models.MarketSnapshot, error) {
	if f.SnapshotErr != nil {
		return nil, f.SnapshotErr
	}
	if f.Snapshot == nil {
		return &models.MarketSnapshot{Exchanges: map[string]map[string]models.Ticker{}, FetchedAt: time.Now()}, nil
	}
	return f.Snapshot, nil
}

func (f *Fake) FetchMarketDetails(ctx context.Context, exchange, pair string) (*models.MarketDetails, error) {
	if f.DetailsErr != nil {
		return nil, f.DetailsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.Details[DetailsKey(exchange, pair)]
	if !ok {
		return nil, fmt.Errorf("no market details for %s %s", exchange, pair)
	}
	return d, nil
}

func (f *Fake) ExecuteOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	f.mu.Lock()
	f.orders = append(f.orders, req)
	failBuys, failSells := f.FailBuys, f.FailSells
	slip := f.FillSlippage
	f.mu.Unlock()

	if f.OrderErr != nil {
		return nil, f.OrderErr
	}
	if req.Side == models.OrderSideBuy && failBuys {
		return &models.OrderResult{Success: false, Error: "buy rejected"}, nil
	}
	if req.Side == models.OrderSideSell && failSells {
		return &models.OrderResult{Success: false, Error: "sell rejected"}, nil
	}

	price := req.Price
	if slip != 0 {
		factor := decimal.NewFromFloat(1 + slip)
		if req.Side == models.OrderSideSell {
			factor = decimal.NewFromFloat(1 - slip)
		}
		price = price.Mul(factor)
	}

	filled := req.Amount
	if req.Side == models.OrderSideBuy && price.Sign() > 0 {
		// Buy requests carry quote capital; the fill is reported in base units.
		filled = req.Amount.Div(price)
	}
	return &models.OrderResult{Success: true, ExecutedPrice: price, FilledAmount: filled}, nil
}

func (f *Fake) FetchPoolState(ctx context.Context) (*models.PoolData, error) {
	if f.PoolErr != nil {
		return nil, f.PoolErr
	}
	if f.Pool == nil {
		return &models.PoolData{}, nil
	}
	return f.Pool, nil
}

func (f *Fake) GenerateStrategyText(ctx context.Context, prompt string) (string, error) {
	if f.TextErr != nil {
		return "", f.TextErr
	}
	return f.Text, nil
}
