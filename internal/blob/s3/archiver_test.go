package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/l2book/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	fail    map[string]bool
}

func newMemWriter() *memWriter {
	return &memWriter{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		fail:    make(map[string]bool),
	}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for prefix := range w.fail {
		if strings.HasPrefix(path, prefix) {
			return errors.New("boom")
		}
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	w.types[path] = contentType
	return nil
}

func view(symbol string, seq int64, bid, ask float64) domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:    symbol,
		Sequence:  seq,
		Bids:      []domain.PriceLevel{{Price: bid, Size: 1}},
		Asks:      []domain.PriceLevel{{Price: ask, Size: 2}},
		Timestamp: time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC),
	}
}

func TestArchiverFlush(t *testing.T) {
	w := newMemWriter()
	a := NewArchiver(w, "")
	a.now = func() time.Time { return time.Date(2025, 1, 31, 23, 59, 7, 0, time.UTC) }

	a.Add(view("BTCUSDT", 1, 100, 101))
	a.Add(view("BTCUSDT", 2, 100.5, 101))
	a.Add(view("ETHUSDT", 9, 10, 11))
	assert.Equal(t, 3, a.Pending())

	n, err := a.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, a.Pending())

	btc := "books/BTCUSDT/2025-01-31/235907.jsonl"
	require.Contains(t, w.objects, btc)
	require.Contains(t, w.objects, "books/ETHUSDT/2025-01-31/235907.jsonl")
	assert.Equal(t, ContentTypeJSONL, w.types[btc])

	views, err := DecodeJSONL(bytes.NewReader(w.objects[btc]))
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, int64(1), views[0].Sequence)
	assert.Equal(t, 100.5, views[1].Bids[0].Price)
}

func TestArchiverFlushEmpty(t *testing.T) {
	w := newMemWriter()
	n, err := NewArchiver(w, "x").Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.objects)
}

func TestArchiverFailedUploadIsRequeued(t *testing.T) {
	w := newMemWriter()
	w.fail["books/ETHUSDT/"] = true
	a := NewArchiver(w, "books")

	a.Add(view("BTCUSDT", 1, 100, 101))
	a.Add(view("ETHUSDT", 1, 10, 11))

	n, err := a.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, a.Pending())

	delete(w.fail, "books/ETHUSDT/")
	n, err = a.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecodeJSONLMalformed(t *testing.T) {
	views, err := DecodeJSONL(strings.NewReader(`{"symbol":"A"}` + "\n" + `{bad`))
	require.Error(t, err)
	assert.Len(t, views, 1)
}

func TestPaths(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("x", 3600))
	assert.Equal(t, "books/SOLUSDT/2025-03-04/040607.jsonl", ObjectPath("books", "SOLUSDT", at))
	assert.Equal(t, "books/SOLUSDT/", SymbolPrefix("books", "SOLUSDT"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio.internal", normaliseEndpoint("minio.internal", true))
}
