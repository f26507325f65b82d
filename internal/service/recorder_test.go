package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/alanyoungcy/l2book/internal/marketdata"
	"github.com/alanyoungcy/l2book/internal/notify"
)

func syncedRegistry(t *testing.T) *marketdata.Registry {
	t.Helper()
	registry := marketdata.NewRegistry(marketdata.ManagerConfig{}, quietLogger())
	require.NoError(t, registry.GetOrCreate("BTCUSDT").ApplySnapshot(s1Snapshot(10)))
	registry.GetOrCreate("ETHUSDT") // never synced
	return registry
}

func TestRecorderSampleOnce(t *testing.T) {
	store := &fakeMetricsStore{}
	archiver := &fakeArchiver{}
	r := NewRecorder(syncedRegistry(t), RecorderConfig{Depth: 1, ImbalanceDepth: 1}, RecorderDeps{
		Store:    store,
		Archiver: archiver,
	}, quietLogger())

	require.NoError(t, r.SampleOnce(context.Background()))

	require.Len(t, store.samples, 1)
	assert.Equal(t, "BTCUSDT", store.samples[0].Symbol)
	assert.InDelta(t, 0.25, store.samples[0].Imbalance, 1e-9)

	require.Len(t, archiver.views, 1)
	assert.Len(t, archiver.views[0].Bids, 1)
	assert.Equal(t, lv(101, 5), archiver.views[0].Bids[0])

	n, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	samples, flushed := r.Counts()
	assert.Equal(t, int64(1), samples)
	assert.Equal(t, int64(1), flushed)
}

func TestRecorderStoreErrorIsReported(t *testing.T) {
	store := &fakeMetricsStore{err: errors.New("db down")}
	events := &fakeEvents{}
	sender := &recordingSender{}
	r := NewRecorder(syncedRegistry(t), RecorderConfig{}, RecorderDeps{
		Store:    store,
		Events:   events,
		Notifier: notify.NewNotifier([]notify.Sender{sender}, nil, 0, quietLogger()),
	}, quietLogger())

	err := r.SampleOnce(context.Background())
	require.Error(t, err)
	r.reportError(context.Background(), "sample", err)

	assert.Equal(t, []string{domain.EventRecorderError}, events.kinds())
	assert.Equal(t, []string{"recorder error"}, sender.sent())
}

func TestRecorderRunFlushesOnShutdown(t *testing.T) {
	store := &fakeMetricsStore{}
	archiver := &fakeArchiver{}
	locks := &fakeLocks{}
	r := NewRecorder(syncedRegistry(t), RecorderConfig{
		SampleInterval: 5 * time.Millisecond,
		FlushInterval:  time.Hour,
	}, RecorderDeps{Store: store, Archiver: archiver, Locks: locks}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	err := r.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, flushed := r.Counts()
	assert.Positive(t, flushed)
	assert.Empty(t, archiver.views)
	assert.False(t, locks.held, "lock released on exit")
}

func TestRecorderStandsByWhileLockHeld(t *testing.T) {
	locks := &fakeLocks{held: true}
	store := &fakeMetricsStore{}
	r := NewRecorder(syncedRegistry(t), RecorderConfig{
		SampleInterval: time.Millisecond,
		LockTTL:        10 * time.Millisecond,
	}, RecorderDeps{Store: store, Locks: locks}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)

	assert.Empty(t, store.samples)
	assert.Greater(t, locks.attempts, 1)
}
