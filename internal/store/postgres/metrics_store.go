package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// MetricsStore implements domain.MetricsStore using PostgreSQL.
type MetricsStore struct {
	pool *pgxpool.Pool
}

// NewMetricsStore creates a new MetricsStore backed by the given connection pool.
func NewMetricsStore(pool *pgxpool.Pool) *MetricsStore {
	return &MetricsStore{pool: pool}
}

const metricsSelectCols = `symbol, sequence, best_bid, best_bid_sz, best_ask, best_ask_sz,
	mid, microprice, spread, spread_bps, volatility, imbalance, depth, crossed, sampled_at`

// InsertBatch writes all samples in a single round trip using pgx Batch.
func (s *MetricsStore) InsertBatch(ctx context.Context, samples []domain.BookMetrics) error {
	if len(samples) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO book_metrics (
			symbol, sequence, best_bid, best_bid_sz, best_ask, best_ask_sz,
			mid, microprice, spread, spread_bps, volatility,
			imbalance, depth, crossed, sampled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15
		)`

	for _, m := range samples {
		bidPx, bidSz := levelArgs(m.BestBid)
		askPx, askSz := levelArgs(m.BestAsk)
		batch.Queue(query,
			m.Symbol, m.Sequence, bidPx, bidSz, askPx, askSz,
			m.Mid, m.Microprice, m.Spread, m.SpreadBps, m.Volatility,
			m.Imbalance, m.Depth, m.Crossed, m.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range samples {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert metrics batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns up to limit samples for symbol, newest first.
func (s *MetricsStore) ListRecent(ctx context.Context, symbol string, limit int) ([]domain.BookMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + metricsSelectCols + `
		FROM book_metrics
		WHERE symbol = $1
		ORDER BY sampled_at DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list metrics for %s: %w", symbol, err)
	}
	defer rows.Close()

	out, err := scanMetricsRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan metrics for %s: %w", symbol, err)
	}
	return out, nil
}

func scanMetricsRows(rows pgx.Rows) ([]domain.BookMetrics, error) {
	var out []domain.BookMetrics
	for rows.Next() {
		var (
			m                          domain.BookMetrics
			bidPx, bidSz, askPx, askSz *float64
		)
		if err := rows.Scan(
			&m.Symbol, &m.Sequence, &bidPx, &bidSz, &askPx, &askSz,
			&m.Mid, &m.Microprice, &m.Spread, &m.SpreadBps, &m.Volatility,
			&m.Imbalance, &m.Depth, &m.Crossed, &m.Timestamp,
		); err != nil {
			return nil, err
		}
		m.BestBid = levelFromArgs(bidPx, bidSz)
		m.BestAsk = levelFromArgs(askPx, askSz)
		out = append(out, m)
	}
	return out, rows.Err()
}

func levelArgs(l *domain.PriceLevel) (price, size *float64) {
	if l == nil {
		return nil, nil
	}
	p, sz := l.Price, l.Size
	return &p, &sz
}

func levelFromArgs(price, size *float64) *domain.PriceLevel {
	if price == nil || size == nil {
		return nil
	}
	return &domain.PriceLevel{Price: *price, Size: *size}
}

// DeleteBefore removes samples taken before the cutoff and returns how many
// rows were deleted.
func (s *MetricsStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM book_metrics WHERE sampled_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune metrics: %w", err)
	}
	return tag.RowsAffected(), nil
}
