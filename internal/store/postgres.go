package store

import (
	"context"
	"fmt"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const createTradesTable = `
CREATE TABLE IF NOT EXISTS trades (
	seq         BIGSERIAL PRIMARY KEY,
	run_id      UUID      NOT NULL,
	symbol      TEXT      NOT NULL,
	price       NUMERIC   NOT NULL,
	size        BIGINT    NOT NULL,
	buyer_kind  TEXT      NOT NULL,
	buyer_id    BIGINT    NOT NULL,
	seller_kind TEXT      NOT NULL,
	seller_id   BIGINT    NOT NULL,
	tick        BIGINT    NOT NULL
)`

const createTradesIndex = `CREATE INDEX IF NOT EXISTS trades_run_symbol_idx ON trades (run_id, symbol, seq)`

// PostgresTradeLog implements TradeLog on PostgreSQL. Prices are stored
// as NUMERIC for exact decimal precision.
type PostgresTradeLog struct {
	pool *pgxpool.Pool
}

// NewPostgresTradeLog creates a PostgreSQL-backed trade log.
func NewPostgresTradeLog(pool *pgxpool.Pool) *PostgresTradeLog {
	return &PostgresTradeLog{pool: pool}
}

// Migrate creates the trades table if it does not exist.
func (s *PostgresTradeLog) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createTradesTable, createTradesIndex} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate trades: %w", err)
		}
	}
	return nil
}

// Append inserts trades in one transaction so a batch is either fully
// recorded or not at all.
func (s *PostgresTradeLog) Append(ctx context.Context, runID uuid.UUID, trades ...domain.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade batch: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, t := range trades {
		_, err := tx.Exec(ctx,
			`INSERT INTO trades (run_id, symbol, price, size, buyer_kind, buyer_id, seller_kind, seller_id, tick)
			 VALUES ($1::UUID, $2, $3::NUMERIC, $4, $5, $6, $7, $8, $9)`,
			runID.String(), t.Symbol, t.Price.String(), int64(t.Size),
			string(t.Buyer.Kind), t.Buyer.ID, string(t.Seller.Kind), t.Seller.ID,
			int64(t.Time),
		)
		if err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// List returns a run's trades for symbol in insertion order.
func (s *PostgresTradeLog) List(ctx context.Context, runID uuid.UUID, symbol string) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, price::TEXT, size, buyer_kind, buyer_id, seller_kind, seller_id, tick
		 FROM trades WHERE run_id = $1::UUID AND symbol = $2 ORDER BY seq`,
		runID.String(), domain.NormalizeSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	trades := []domain.Trade{}
	for rows.Next() {
		var (
			t                     domain.Trade
			price                 string
			size, tick            int64
			buyerKind, sellerKind string
		)
		if err := rows.Scan(&t.Symbol, &price, &size, &buyerKind, &t.Buyer.ID, &sellerKind, &t.Seller.ID, &tick); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		t.Size = uint64(size)
		t.Buyer.Kind = domain.Kind(buyerKind)
		t.Seller.Kind = domain.Kind(sellerKind)
		t.Time = domain.Tick(tick)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
