package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// BookSink consumes decoded book updates. Reset discards a symbol's book so
// the next snapshot is accepted regardless of sequence.
type BookSink interface {
	HandleSnapshot(ctx context.Context, snap domain.BookSnapshot) error
	HandleDelta(ctx context.Context, delta domain.BookDelta) error
	Reset(symbol string)
}

// dispatchUpdate decodes a JSON domain.BookUpdate and hands it to sink.
func dispatchUpdate(ctx context.Context, sink BookSink, data []byte) error {
	var up domain.BookUpdate
	if err := json.Unmarshal(data, &up); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	switch up.Kind {
	case domain.UpdateSnapshot:
		if up.Snapshot == nil || up.Snapshot.Symbol == "" {
			return fmt.Errorf("snapshot update without symbol")
		}
		return sink.HandleSnapshot(ctx, *up.Snapshot)
	case domain.UpdateDelta:
		if up.Delta == nil || up.Delta.Symbol == "" {
			return fmt.Errorf("delta update without symbol")
		}
		return sink.HandleDelta(ctx, *up.Delta)
	default:
		return fmt.Errorf("unknown update kind %q", up.Kind)
	}
}
