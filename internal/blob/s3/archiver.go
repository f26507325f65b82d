package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// ContentTypeJSONL is the content type of recorded book files.
const ContentTypeJSONL = "application/x-ndjson"

// DefaultPrefix is the key prefix recorded book files live under.
const DefaultPrefix = "books"

// multipartWriter is implemented by Writer. Payloads of at least one part
// go through the upload manager instead of a single PutObject.
type multipartWriter interface {
	PutMultipart(ctx context.Context, path string, data io.Reader, contentType string, partSize int64) error
}

// Archiver implements domain.BookArchiver. It buffers views per symbol and
// uploads each symbol's buffer as one JSONL object on Flush:
//
//	books/BTCUSDT/2025-01-31/235900.jsonl
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	buf map[string][]domain.BookSnapshot
}

// NewArchiver creates an Archiver writing under prefix (DefaultPrefix when
// empty).
func NewArchiver(writer domain.BlobWriter, prefix string) *Archiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Archiver{
		writer: writer,
		prefix: prefix,
		now:    time.Now,
		buf:    make(map[string][]domain.BookSnapshot),
	}
}

// Add buffers view until the next Flush.
func (a *Archiver) Add(view domain.BookSnapshot) {
	a.mu.Lock()
	a.buf[view.Symbol] = append(a.buf[view.Symbol], view)
	a.mu.Unlock()
}

// Pending returns the number of buffered views.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, views := range a.buf {
		n += len(views)
	}
	return n
}

// Flush uploads every symbol's buffered views and returns how many views
// were written. Views of a symbol whose upload fails stay buffered for the
// next Flush.
func (a *Archiver) Flush(ctx context.Context) (int, error) {
	a.mu.Lock()
	pending := a.buf
	a.buf = make(map[string][]domain.BookSnapshot)
	a.mu.Unlock()

	symbols := make([]string, 0, len(pending))
	for sym := range pending {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	at := a.now().UTC()
	written := 0
	var errs []error
	for _, sym := range symbols {
		views := pending[sym]
		if err := a.upload(ctx, ObjectPath(a.prefix, sym, at), views); err != nil {
			errs = append(errs, err)
			a.requeue(sym, views)
			continue
		}
		written += len(views)
	}
	return written, errors.Join(errs...)
}

func (a *Archiver) upload(ctx context.Context, path string, views []domain.BookSnapshot) error {
	data, err := marshalJSONL(views)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", path, err)
	}
	if mw, ok := a.writer.(multipartWriter); ok && int64(len(data)) >= minPartSize {
		err = mw.PutMultipart(ctx, path, bytes.NewReader(data), ContentTypeJSONL, minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), ContentTypeJSONL)
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", path, err)
	}
	return nil
}

// requeue puts views back in front of anything added since Flush started.
func (a *Archiver) requeue(symbol string, views []domain.BookSnapshot) {
	a.mu.Lock()
	a.buf[symbol] = append(views, a.buf[symbol]...)
	a.mu.Unlock()
}

// ObjectPath is the key for symbol's file flushed at t.
func ObjectPath(prefix, symbol string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/%s/%s.jsonl", prefix, symbol, t.Format("2006-01-02"), t.Format("150405"))
}

// SymbolPrefix is the key prefix of every file recorded for symbol.
func SymbolPrefix(prefix, symbol string) string {
	return fmt.Sprintf("%s/%s/", prefix, symbol)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeJSONL reads newline-delimited book views from r. Blank lines are
// skipped.
func DecodeJSONL(r io.Reader) ([]domain.BookSnapshot, error) {
	dec := json.NewDecoder(r)
	var out []domain.BookSnapshot
	for {
		var v domain.BookSnapshot
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("s3blob: decode jsonl record %d: %w", len(out), err)
		}
		out = append(out, v)
	}
}
