package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookSnapshot is a full replacement of both sides of a symbol's book.
// Sequence is the venue update id; zero means the venue does not sequence
// the stream.
type BookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Sequence  int64        `json:"sequence"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BookDelta is an incremental change to a symbol's book. A level with
// Size <= 0 removes that price.
type BookDelta struct {
	Symbol    string       `json:"symbol"`
	Sequence  int64        `json:"sequence"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// UpdateKind distinguishes snapshot and delta messages on the bus.
type UpdateKind string

const (
	UpdateSnapshot UpdateKind = "snapshot"
	UpdateDelta    UpdateKind = "delta"
)

// BookUpdate is the envelope an external gateway publishes for decoded
// venue updates. Exactly one of Snapshot and Delta is set, matching Kind.
type BookUpdate struct {
	Kind     UpdateKind    `json:"kind"`
	Snapshot *BookSnapshot `json:"snapshot,omitempty"`
	Delta    *BookDelta    `json:"delta,omitempty"`
}

// BookMetrics is the derived microstructure view of a book at one instant.
// Pointer fields are nil when the value is undefined for the current book.
type BookMetrics struct {
	Symbol     string      `json:"symbol"`
	Sequence   int64       `json:"sequence"`
	BestBid    *PriceLevel `json:"best_bid"`
	BestAsk    *PriceLevel `json:"best_ask"`
	Mid        *float64    `json:"mid"`
	Microprice *float64    `json:"microprice"`
	Spread     *float64    `json:"spread"`
	SpreadBps  *float64    `json:"spread_bps"`
	Volatility *float64    `json:"volatility"`
	Imbalance  float64     `json:"imbalance"`
	Depth      int         `json:"depth"`
	Crossed    bool        `json:"crossed"`
	Timestamp  time.Time   `json:"timestamp"`
}

// BookStats are the running counters kept per symbol.
type BookStats struct {
	Symbol      string    `json:"symbol"`
	Updates     int64     `json:"updates"`
	Snapshots   int64     `json:"snapshots"`
	Deltas      int64     `json:"deltas"`
	Gaps        int64     `json:"sequence_gaps"`
	Rejected    int64     `json:"rejected"`
	Crossed     int64     `json:"crossed"`
	Synced      bool      `json:"synced"`
	NeedsResync bool      `json:"needs_resync"`
	LastSeq     int64     `json:"last_sequence"`
	LastUpdate  time.Time `json:"last_update"`
	BidLevels   int       `json:"bid_levels"`
	AskLevels   int       `json:"ask_levels"`
}

// Float returns a pointer to v when ok, nil otherwise.
func Float(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
