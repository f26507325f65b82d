package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/redis/go-redis/v9"
)

// BookCache implements domain.BookCache by mirroring the top levels of each
// book into sorted sets and hashes, so other processes can read a symbol's
// book without talking to this service.
//
// Key schema:
//
//	book:{symbol}:bids     - sorted set of bid prices (score = price)
//	book:{symbol}:asks     - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size - hash mapping price -> size for bids
//	book:{symbol}:ask:size - hash mapping price -> size for asks
//	book:{symbol}:bbo      - hash with fields "bid" and "ask" (best prices)
//	book:{symbol}:meta     - hash with "ts" (unix nanos) and "seq"
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying(), ttl: c.keyTTL}
}

func bookBidsKey(symbol string) string    { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string    { return "book:" + symbol + ":asks" }
func bookBidSizeKey(symbol string) string { return "book:" + symbol + ":bid:size" }
func bookAskSizeKey(symbol string) string { return "book:" + symbol + ":ask:size" }
func bookBBOKey(symbol string) string     { return "book:" + symbol + ":bbo" }
func bookMetaKey(symbol string) string    { return "book:" + symbol + ":meta" }

func bookKeys(symbol string) []string {
	return []string{
		bookBidsKey(symbol),
		bookAsksKey(symbol),
		bookBidSizeKey(symbol),
		bookAskSizeKey(symbol),
		bookBBOKey(symbol),
		bookMetaKey(symbol),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// SetBook atomically replaces the mirrored view of a symbol.
func (bc *BookCache) SetBook(ctx context.Context, view domain.BookSnapshot) error {
	symbol := view.Symbol
	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, bookKeys(symbol)...)

	for _, lvl := range view.Bids {
		p := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, bookBidsKey(symbol), redis.Z{Score: lvl.Price, Member: p})
		pipe.HSet(ctx, bookBidSizeKey(symbol), p, formatFloat(lvl.Size))
	}
	for _, lvl := range view.Asks {
		p := formatFloat(lvl.Price)
		pipe.ZAdd(ctx, bookAsksKey(symbol), redis.Z{Score: lvl.Price, Member: p})
		pipe.HSet(ctx, bookAskSizeKey(symbol), p, formatFloat(lvl.Size))
	}

	if len(view.Bids) > 0 {
		pipe.HSet(ctx, bookBBOKey(symbol), "bid", formatFloat(view.Bids[0].Price))
	}
	if len(view.Asks) > 0 {
		pipe.HSet(ctx, bookBBOKey(symbol), "ask", formatFloat(view.Asks[0].Price))
	}
	pipe.HSet(ctx, bookMetaKey(symbol),
		"ts", strconv.FormatInt(view.Timestamp.UnixNano(), 10),
		"seq", strconv.FormatInt(view.Sequence, 10),
	)

	if bc.ttl > 0 {
		for _, k := range bookKeys(symbol) {
			pipe.Expire(ctx, k, bc.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", symbol, err)
	}
	return nil
}

// GetBook reads a mirrored view back. It returns domain.ErrNotFound when the
// symbol has never been mirrored.
func (bc *BookCache) GetBook(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.BookSnapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.BookSnapshot{}, domain.ErrNotFound
	}

	view := domain.BookSnapshot{Symbol: symbol}
	if ns, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		view.Timestamp = time.Unix(0, ns).UTC()
	}
	view.Sequence, _ = strconv.ParseInt(meta["seq"], 10, 64)

	bidsZ, _ := bidsCmd.Result()
	bidSizes, _ := bidSizeCmd.Result()
	view.Bids = levelsFromZ(bidsZ, bidSizes)

	asksZ, _ := asksCmd.Result()
	askSizes, _ := askSizeCmd.Result()
	view.Asks = levelsFromZ(asksZ, askSizes)

	return view, nil
}

// levelsFromZ joins sorted-set members with their size hash entries.
func levelsFromZ(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		size, err := strconv.ParseFloat(sizes[member], 64)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: z.Score, Size: size})
	}
	return out
}

// GetBBO returns the mirrored best bid and ask prices.
func (bc *BookCache) GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HGetAll(ctx, bookBBOKey(symbol)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return 0, 0, domain.ErrNotFound
	}
	if s, ok := vals["bid"]; ok {
		bestBid, _ = strconv.ParseFloat(s, 64)
	}
	if s, ok := vals["ask"]; ok {
		bestAsk, _ = strconv.ParseFloat(s, 64)
	}
	return bestBid, bestAsk, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
