// Package exchange defines the collaborator contracts the decision pipeline
// consumes, plus two implementations: an HTTP gateway client and a
// deterministic in-memory fake for tests and dry runs.
package exchange

import (
	"context"

	"github.com/arbfund/poolpilot/internal/models"
)

// MarketDataSource supplies market observations. Snapshot fetches feed the
// Observe stage; detail fetches feed plan creation.
type MarketDataSource interface {
	FetchMarketSnapshot(ctx context.Context) (*models.MarketSnapshot, error)
	FetchMarketDetails(ctx context.Context, exchange, pair string) (*models.MarketDetails, error)
}

// OrderExecutor submits individual order legs to an exchange.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
}

// PoolStateSource reports the raw fund state from the orchestrator.
type PoolStateSource interface {
	FetchPoolState(ctx context.Context) (*models.PoolData, error)
}

// TextGenerator produces free-form strategy text for a prompt. Responses are
// parsed against a strict schema; any failure falls back to deterministic
// sizing rules, so implementations may be best-effort.
type TextGenerator interface {
	GenerateStrategyText(ctx context.Context, prompt string) (string, error)
}
