package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/redis/go-redis/v9"
)

// MetricsCache implements domain.MetricsCache with one hash per symbol at
// "metrics:{symbol}". Undefined values are stored as empty strings so a
// reader can tell them from zero.
type MetricsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetricsCache creates a MetricsCache backed by the given Client.
func NewMetricsCache(c *Client) *MetricsCache {
	return &MetricsCache{rdb: c.Underlying(), ttl: c.keyTTL}
}

func metricsKey(symbol string) string {
	return "metrics:" + symbol
}

// SetMetrics stores the latest metrics for m.Symbol.
func (mc *MetricsCache) SetMetrics(ctx context.Context, m domain.BookMetrics) error {
	key := metricsKey(m.Symbol)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, metricsFields(m))
	if mc.ttl > 0 {
		pipe.Expire(ctx, key, mc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set metrics %s: %w", m.Symbol, err)
	}
	return nil
}

// GetMetrics reads the latest metrics. It returns domain.ErrNotFound when
// none were stored.
func (mc *MetricsCache) GetMetrics(ctx context.Context, symbol string) (domain.BookMetrics, error) {
	vals, err := mc.rdb.HGetAll(ctx, metricsKey(symbol)).Result()
	if err != nil {
		return domain.BookMetrics{}, fmt.Errorf("redis: get metrics %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.BookMetrics{}, domain.ErrNotFound
	}
	m, err := parseMetrics(symbol, vals)
	if err != nil {
		return domain.BookMetrics{}, fmt.Errorf("redis: parse metrics %s: %w", symbol, err)
	}
	return m, nil
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func parseOptional(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func metricsFields(m domain.BookMetrics) map[string]any {
	fields := map[string]any{
		"seq":        strconv.FormatInt(m.Sequence, 10),
		"mid":        optional(m.Mid),
		"microprice": optional(m.Microprice),
		"spread":     optional(m.Spread),
		"spread_bps": optional(m.SpreadBps),
		"volatility": optional(m.Volatility),
		"imbalance":  formatFloat(m.Imbalance),
		"depth":      strconv.Itoa(m.Depth),
		"crossed":    strconv.FormatBool(m.Crossed),
		"ts":         strconv.FormatInt(m.Timestamp.UnixNano(), 10),
		"bid":        "",
		"bid_size":   "",
		"ask":        "",
		"ask_size":   "",
	}
	if m.BestBid != nil {
		fields["bid"] = formatFloat(m.BestBid.Price)
		fields["bid_size"] = formatFloat(m.BestBid.Size)
	}
	if m.BestAsk != nil {
		fields["ask"] = formatFloat(m.BestAsk.Price)
		fields["ask_size"] = formatFloat(m.BestAsk.Size)
	}
	return fields
}

func parseLevel(price, size string) (*domain.PriceLevel, error) {
	if price == "" {
		return nil, nil
	}
	p, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return nil, err
	}
	s, err := strconv.ParseFloat(size, 64)
	if err != nil {
		return nil, err
	}
	return &domain.PriceLevel{Price: p, Size: s}, nil
}

func parseMetrics(symbol string, vals map[string]string) (domain.BookMetrics, error) {
	m := domain.BookMetrics{Symbol: symbol}
	var err error
	if m.Sequence, err = strconv.ParseInt(vals["seq"], 10, 64); err != nil {
		return m, fmt.Errorf("seq: %w", err)
	}
	for field, dst := range map[string]**float64{
		"mid":        &m.Mid,
		"microprice": &m.Microprice,
		"spread":     &m.Spread,
		"spread_bps": &m.SpreadBps,
		"volatility": &m.Volatility,
	} {
		if *dst, err = parseOptional(vals[field]); err != nil {
			return m, fmt.Errorf("%s: %w", field, err)
		}
	}
	if m.Imbalance, err = strconv.ParseFloat(vals["imbalance"], 64); err != nil {
		return m, fmt.Errorf("imbalance: %w", err)
	}
	m.Depth, _ = strconv.Atoi(vals["depth"])
	m.Crossed, _ = strconv.ParseBool(vals["crossed"])
	if ns, err := strconv.ParseInt(vals["ts"], 10, 64); err == nil {
		m.Timestamp = time.Unix(0, ns).UTC()
	}
	if m.BestBid, err = parseLevel(vals["bid"], vals["bid_size"]); err != nil {
		return m, fmt.Errorf("bid: %w", err)
	}
	if m.BestAsk, err = parseLevel(vals["ask"], vals["ask_size"]); err != nil {
		return m, fmt.Errorf("ask: %w", err)
	}
	return m, nil
}

// Compile-time interface check.
var _ domain.MetricsCache = (*MetricsCache)(nil)
