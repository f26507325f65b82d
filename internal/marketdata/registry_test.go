package marketdata

import (
	"log/slog"
	"testing"

	"github.com/alanyoungcy/l2book/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(DefaultManagerConfig(), slog.New(slog.DiscardHandler))

	var created []string
	r.OnCreate(func(m *Manager) { created = append(created, m.Symbol()) })

	eth := r.GetOrCreate("ETHUSDT")
	btc := r.GetOrCreate("BTCUSDT")
	assert.Same(t, eth, r.GetOrCreate("ETHUSDT"))
	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, created)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, r.Symbols())
	managers := r.Managers()
	require.Len(t, managers, 2)
	assert.Same(t, btc, managers[0])

	got, err := r.Get("BTCUSDT")
	require.NoError(t, err)
	assert.Same(t, btc, got)

	_, err = r.Get("DOGEUSDT")
	assert.ErrorIs(t, err, domain.ErrUnknownSymbol)
}

func TestRegistryResetAll(t *testing.T) {
	r := NewRegistry(DefaultManagerConfig(), slog.New(slog.DiscardHandler))
	m := r.GetOrCreate("BTCUSDT")
	require.NoError(t, m.ApplySnapshot(snapshot(3)))

	r.ResetAll()
	assert.False(t, m.Stats().Synced)
}
