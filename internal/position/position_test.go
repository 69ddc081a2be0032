package position

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPosition(symbol string, entry, stop, qty float64) *Position {
	return &Position{
		Symbol:             symbol,
		EntryPrice:         entry,
		StopPrice:          stop,
		Qty:                qty,
		InitialRiskPerUnit: entry - stop,
		HighestPrice:       entry,
	}
}

func TestRGain(t *testing.T) {
	p := newPosition("BTCUSDT", 100, 95, 1)
	assert.Equal(t, 0.0, p.RGain(100))
	assert.Equal(t, 1.0, p.RGain(105))
	assert.Equal(t, 2.0, p.RGain(110))
	assert.Equal(t, -1.0, p.RGain(95))

	// degenerate risk yields zero, not a division blowup
	p.InitialRiskPerUnit = 0
	assert.Equal(t, 0.0, p.RGain(200))
}

func TestRaiseTrailingStop(t *testing.T) {
	p := newPosition("BTCUSDT", 100, 95, 1)
	require.Nil(t, p.TrailingStop)

	assert.True(t, p.RaiseTrailingStop(98))
	require.NotNil(t, p.TrailingStop)
	assert.Equal(t, 98.0, *p.TrailingStop)

	// lower candidate is rejected
	assert.False(t, p.RaiseTrailingStop(97))
	assert.Equal(t, 98.0, *p.TrailingStop)

	// equal candidate is rejected too
	assert.False(t, p.RaiseTrailingStop(98))
	assert.Equal(t, 98.0, *p.TrailingStop)

	assert.True(t, p.RaiseTrailingStop(101))
	assert.Equal(t, 101.0, *p.TrailingStop)
}

func TestTrailingStopMonotonic(t *testing.T) {
	p := newPosition("ETHUSDT", 2000, 1900, 1)
	candidates := []float64{1950, 1940, 1980, 1975, 2010, 1800, 2050}
	last := 0.0
	for _, c := range candidates {
		p.RaiseTrailingStop(c)
		require.NotNil(t, p.TrailingStop)
		assert.GreaterOrEqual(t, *p.TrailingStop, last)
		last = *p.TrailingStop
	}
	assert.Equal(t, 2050.0, last)
}

func TestLedgerOnePositionPerSymbol(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Open(newPosition("BTCUSDT", 100, 95, 1)))

	err := l.Open(newPosition("BTCUSDT", 101, 96, 2))
	assert.Error(t, err)
	assert.Equal(t, 1, l.OpenCount())

	require.NoError(t, l.Open(newPosition("ETHUSDT", 2000, 1900, 1)))
	assert.Equal(t, 2, l.OpenCount())
}

func TestLedgerCloseAndGet(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Open(newPosition("BTCUSDT", 100, 95, 1)))

	got := l.Get("BTCUSDT")
	require.NotNil(t, got)
	assert.Equal(t, 100.0, got.EntryPrice)

	closed := l.Close("BTCUSDT")
	require.NotNil(t, closed)
	assert.Nil(t, l.Get("BTCUSDT"))
	assert.Equal(t, 0, l.OpenCount())

	// closing again is a nil no-op
	assert.Nil(t, l.Close("BTCUSDT"))
}

func TestLedgerOpenRisk(t *testing.T) {
	l := NewLedger()
	require.NoError(t, l.Open(newPosition("BTCUSDT", 100, 95, 2)))      // 10
	require.NoError(t, l.Open(newPosition("ETHUSDT", 2000, 1900, 0.5))) // 50

	assert.InDelta(t, 60.0, l.OpenRisk(), 1e-9)

	l.Close("ETHUSDT")
	assert.InDelta(t, 10.0, l.OpenRisk(), 1e-9)
}

func TestLedgerMajorCount(t *testing.T) {
	majors := map[string]bool{"BTCUSDT": true, "ETHUSDT": true}
	l := NewLedger()
	require.NoError(t, l.Open(newPosition("BTCUSDT", 100, 95, 1)))
	require.NoError(t, l.Open(newPosition("SOLUSDT", 150, 140, 1)))

	assert.Equal(t, 1, l.MajorCount(majors))

	require.NoError(t, l.Open(newPosition("ETHUSDT", 2000, 1900, 1)))
	assert.Equal(t, 2, l.MajorCount(majors))
}
