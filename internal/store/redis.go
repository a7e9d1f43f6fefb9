package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/efreitasn/marketsim/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CachedTradeLog wraps a primary TradeLog with a Redis read-through
// cache. Appends go to the primary and invalidate the touched symbols;
// lists check Redis first and fall back to the primary. An unreachable
// Redis only costs the cache.
//
// Every append bumps a per-symbol generation key. A list only fills the
// cache inside a transaction watching that key, so a read that raced an
// append is returned but never cached.
type CachedTradeLog struct {
	primary TradeLog
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedTradeLog creates a cached wrapper around a primary log.
func NewCachedTradeLog(primary TradeLog, rdb *redis.Client, ttl time.Duration) *CachedTradeLog {
	return &CachedTradeLog{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedTradeLog) Append(ctx context.Context, runID uuid.UUID, trades ...domain.Trade) error {
	if err := s.primary.Append(ctx, runID, trades...); err != nil {
		return err
	}
	seen := make(map[string]struct{})
	var symbols []string
	for _, t := range trades {
		if _, ok := seen[t.Symbol]; ok {
			continue
		}
		seen[t.Symbol] = struct{}{}
		symbols = append(symbols, t.Symbol)
	}
	if len(symbols) == 0 {
		return nil
	}
	s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sym := range symbols {
			pipe.Incr(ctx, generationKey(runID, sym))
			pipe.Del(ctx, tradesKey(runID, sym))
		}
		return nil
	})
	return nil
}

func (s *CachedTradeLog) List(ctx context.Context, runID uuid.UUID, symbol string) ([]domain.Trade, error) {
	symbol = domain.NormalizeSymbol(symbol)
	key := tradesKey(runID, symbol)

	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var trades []domain.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	var (
		trades  []domain.Trade
		listed  bool
		listErr error
	)
	// Watch only runs the callback once WATCH succeeded.
	s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		trades, listErr = s.primary.List(ctx, runID, symbol)
		listed = true
		if listErr != nil {
			return listErr
		}
		data, err := json.Marshal(trades)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			return nil
		})
		return err
	}, generationKey(runID, symbol))

	if !listed {
		trades, listErr = s.primary.List(ctx, runID, symbol)
	}
	if listErr != nil {
		return nil, listErr
	}
	return trades, nil
}

func tradesKey(runID uuid.UUID, symbol string) string {
	return fmt.Sprintf("trades:%s:%s", runID, symbol)
}

func generationKey(runID uuid.UUID, symbol string) string {
	return fmt.Sprintf("trades-gen:%s:%s", runID, symbol)
}
