package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/l2book/internal/blob/s3"
	"github.com/alanyoungcy/l2book/internal/book"
	"github.com/alanyoungcy/l2book/internal/domain"
)

// ReplaySummary aggregates a replay of recorded views for one symbol.
// Mid and spread statistics are nil when no replayed view had both sides.
type ReplaySummary struct {
	Symbol        string    `json:"symbol"`
	Files         int       `json:"files"`
	Count         int       `json:"count"`
	Rejected      int       `json:"rejected"`
	MinMid        *float64  `json:"min_mid"`
	MaxMid        *float64  `json:"max_mid"`
	MeanMid       *float64  `json:"mean_mid"`
	MeanImbalance float64   `json:"mean_imbalance"`
	MeanSpreadBps *float64  `json:"mean_spread_bps"`
	Crossed       int       `json:"crossed"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
}

// Replayer rebuilds books from recorded JSONL views in object storage.
type Replayer struct {
	reader         domain.BlobReader
	prefix         string
	scale          book.TickScale
	imbalanceDepth int
	logger         *slog.Logger
}

// NewReplayer creates a Replayer reading under prefix.
func NewReplayer(reader domain.BlobReader, prefix string, scale book.TickScale, imbalanceDepth int, logger *slog.Logger) *Replayer {
	if prefix == "" {
		prefix = s3blob.DefaultPrefix
	}
	if imbalanceDepth <= 0 {
		imbalanceDepth = 5
	}
	return &Replayer{
		reader:         reader,
		prefix:         strings.TrimSuffix(prefix, "/"),
		scale:          scale,
		imbalanceDepth: imbalanceDepth,
		logger:         logger.With(slog.String("component", "replayer")),
	}
}

// Replay applies every recorded view of symbol, optionally restricted to
// files whose key falls under the given YYYY-MM-DD date, through a fresh
// book and summarizes the result. Views the book rejects are counted and
// skipped.
func (r *Replayer) Replay(ctx context.Context, symbol, date string) (ReplaySummary, error) {
	prefix := s3blob.SymbolPrefix(r.prefix, symbol)
	if date != "" {
		prefix += date + "/"
	}
	files, err := r.reader.List(ctx, prefix)
	if err != nil {
		return ReplaySummary{}, fmt.Errorf("replayer: list %s: %w", prefix, err)
	}

	acc := newReplayAccumulator(symbol)
	b := book.New(r.scale)
	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".jsonl") {
			continue
		}
		views, err := r.load(ctx, f.Path)
		if err != nil {
			return acc.summary(), err
		}
		acc.files++
		for _, v := range views {
			if err := b.ApplySnapshot(v.Bids, v.Asks); err != nil {
				acc.rejected++
				r.logger.Debug("skipping rejected view",
					slog.String("path", f.Path),
					slog.Int64("sequence", v.Sequence),
					slog.String("error", err.Error()),
				)
				continue
			}
			acc.observe(b, r.imbalanceDepth, v.Timestamp)
		}
	}

	s := acc.summary()
	r.logger.Info("replay complete",
		slog.String("symbol", symbol),
		slog.Int("files", s.Files),
		slog.Int("count", s.Count),
		slog.Int("rejected", s.Rejected),
	)
	return s, nil
}

func (r *Replayer) load(ctx context.Context, path string) ([]domain.BookSnapshot, error) {
	body, err := r.reader.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("replayer: get %s: %w", path, err)
	}
	defer body.Close()
	views, err := s3blob.DecodeJSONL(body)
	if err != nil {
		return nil, fmt.Errorf("replayer: %s: %w", path, err)
	}
	return views, nil
}

type replayAccumulator struct {
	symbol   string
	files    int
	count    int
	rejected int
	crossed  int

	mids, minMid, maxMid float64
	midN                 int
	imbalance            float64
	spreadBps            float64
	spreadN              int
	from, to             time.Time
}

func newReplayAccumulator(symbol string) *replayAccumulator {
	return &replayAccumulator{symbol: symbol, minMid: math.Inf(1), maxMid: math.Inf(-1)}
}

func (a *replayAccumulator) observe(b *book.Book, depth int, ts time.Time) {
	a.count++
	a.imbalance += b.Imbalance(depth)
	if mid, ok := b.Mid(); ok {
		a.mids += mid
		a.midN++
		a.minMid = min(a.minMid, mid)
		a.maxMid = max(a.maxMid, mid)
	}
	if bps, ok := b.SpreadBps(); ok {
		a.spreadBps += bps
		a.spreadN++
	}
	if b.IsCrossed() {
		a.crossed++
	}
	if !ts.IsZero() {
		if a.from.IsZero() || ts.Before(a.from) {
			a.from = ts
		}
		if ts.After(a.to) {
			a.to = ts
		}
	}
}

func (a *replayAccumulator) summary() ReplaySummary {
	s := ReplaySummary{
		Symbol:   a.symbol,
		Files:    a.files,
		Count:    a.count,
		Rejected: a.rejected,
		Crossed:  a.crossed,
		From:     a.from,
		To:       a.to,
	}
	if a.count > 0 {
		s.MeanImbalance = a.imbalance / float64(a.count)
	}
	if a.midN > 0 {
		s.MinMid = domain.Float(a.minMid, true)
		s.MaxMid = domain.Float(a.maxMid, true)
		s.MeanMid = domain.Float(a.mids/float64(a.midN), true)
	}
	if a.spreadN > 0 {
		s.MeanSpreadBps = domain.Float(a.spreadBps/float64(a.spreadN), true)
	}
	return s
}
