package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/arbfund/poolpilot/internal/models"
)

// PgxIface is the subset of pgxpool.Pool the repository needs; pgxmock
// implements it for tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const outcomeSchema = `
CREATE TABLE IF NOT EXISTS trade_outcomes (
    id UUID PRIMARY KEY,
    pair TEXT NOT NULL,
    buy_exchange TEXT NOT NULL,
    sell_exchange TEXT NOT NULL,
    pool_size NUMERIC NOT NULL,
    participant_count INT NOT NULL,
    liquidity_ratio DOUBLE PRECISION NOT NULL,
    spread_pct NUMERIC NOT NULL,
    position_size NUMERIC NOT NULL,
    profit NUMERIC NOT NULL,
    slippage DOUBLE PRECISION NOT NULL,
    execution_time_ms BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trade_outcomes_pair ON trade_outcomes (pair, created_at DESC);
`

// OutcomeRepository persists trade outcomes and serves similarity lookups
// for strategy generation. All operations are best-effort from the
// pipeline's perspective; callers log and ignore failures.
type OutcomeRepository struct {
	db     PgxIface
	logger *logrus.Logger
}

// NewOutcomeRepository creates a repository over an open connection pool.
func NewOutcomeRepository(db PgxIface, logger *logrus.Logger) *OutcomeRepository {
	return &OutcomeRepository{db: db, logger: logger}
}

// EnsureSchema creates the outcome table if it does not exist yet.
func (r *OutcomeRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, outcomeSchema); err != nil {
		return fmt.Errorf("ensure trade_outcomes schema: %w", err)
	}
	return nil
}

// StoreOutcome inserts one completed trade outcome.
func (r *OutcomeRepository) StoreOutcome(ctx context.Context, rec models.OutcomeRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO trade_outcomes
		 (id, pair, buy_exchange, sell_exchange, pool_size, participant_count,
		  liquidity_ratio, spread_pct, position_size, profit, slippage,
		  execution_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Pair, rec.BuyExchange, rec.SellExchange, rec.PoolSize,
		rec.ParticipantCount, rec.LiquidityRatio, rec.SpreadPct,
		rec.PositionSize, rec.Profit, rec.Slippage,
		rec.ExecutionTime.Milliseconds(), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("store trade outcome: %w", err)
	}
	return nil
}

// RetrieveSimilar returns stored outcomes closest to the query, ranked by
// pool-size and spread proximity for the same trading pair.
func (r *OutcomeRepository) RetrieveSimilar(ctx context.Context, q models.SimilarityQuery) ([]models.OutcomeRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(ctx,
		`SELECT id, pair, buy_exchange, sell_exchange, pool_size,
		        participant_count, liquidity_ratio, spread_pct, position_size,
		        profit, slippage, execution_time_ms, created_at
		 FROM trade_outcomes
		 WHERE pair = $1
		 ORDER BY ABS(pool_size - $2) + ABS(spread_pct - $3) * 1000, created_at DESC
		 LIMIT $4`,
		q.Pair, q.PoolSize, q.SpreadPct, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve similar outcomes: %w", err)
	}
	defer rows.Close()

	var records []models.OutcomeRecord
	for rows.Next() {
		var rec models.OutcomeRecord
		var execMs int64
		var poolSize, spreadPct, positionSize, profit decimal.Decimal
		if err := rows.Scan(&rec.ID, &rec.Pair, &rec.BuyExchange, &rec.SellExchange,
			&poolSize, &rec.ParticipantCount, &rec.LiquidityRatio, &spreadPct,
			&positionSize, &profit, &rec.Slippage, &execMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade outcome: %w", err)
		}
		rec.PoolSize = poolSize
		rec.SpreadPct = spreadPct
		rec.PositionSize = positionSize
		rec.Profit = profit
		rec.ExecutionTime = time.Duration(execMs) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade outcomes: %w", err)
	}
	return records, nil
}
