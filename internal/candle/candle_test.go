package candle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeCandle(symbol string, close float64, closeTime time.Time) Candle {
	return Candle{
		Symbol:    symbol,
		Open:      close - 0.5,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    10,
		OpenTime:  closeTime.Add(-time.Hour),
		CloseTime: closeTime,
		Closed:    true,
	}
}

func TestCandleValidate(t *testing.T) {
	base := makeCandle("BTCUSDT", 100, time.Now())

	t.Run("valid candle", func(t *testing.T) {
		c := base
		assert.NoError(t, c.Validate())
	})

	t.Run("missing symbol", func(t *testing.T) {
		c := base
		c.Symbol = ""
		assert.Error(t, c.Validate())
	})

	t.Run("high below low", func(t *testing.T) {
		c := base
		c.High = c.Low - 1
		assert.Error(t, c.Validate())
	})

	t.Run("close outside range", func(t *testing.T) {
		c := base
		c.Close = c.High + 5
		assert.Error(t, c.Validate())
	})

	t.Run("negative volume", func(t *testing.T) {
		c := base
		c.Volume = -1
		assert.Error(t, c.Validate())
	})
}

func TestHistoryAppend(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("trims to capacity oldest first", func(t *testing.T) {
		h := NewHistory(3)
		for i := 0; i < 5; i++ {
			h.Append(makeCandle("BTCUSDT", 100+float64(i), start.Add(time.Duration(i)*time.Hour)))
		}
		require.Equal(t, 3, h.Len())
		assert.Equal(t, 102.0, h.Candles()[0].Close)
		assert.Equal(t, 104.0, h.Last().Close)
	})

	t.Run("deduplicates by close time", func(t *testing.T) {
		h := NewHistory(10)
		c := makeCandle("BTCUSDT", 100, start)
		h.Append(c)
		h.Append(c)
		assert.Equal(t, 1, h.Len())
	})

	t.Run("drops out-of-order candles", func(t *testing.T) {
		h := NewHistory(10)
		h.Append(makeCandle("BTCUSDT", 101, start.Add(time.Hour)))
		h.Append(makeCandle("BTCUSDT", 100, start))
		require.Equal(t, 1, h.Len())
		assert.Equal(t, 101.0, h.Last().Close)
	})
}

func TestHistoryReplace(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(2)
	var batch []Candle
	for i := 0; i < 4; i++ {
		batch = append(batch, makeCandle("ETHUSDT", 2000+float64(i), start.Add(time.Duration(i)*time.Hour)))
	}
	h.Replace(batch)
	require.Equal(t, 2, h.Len())
	assert.Equal(t, 2002.0, h.Candles()[0].Close)
	assert.Equal(t, 2003.0, h.Last().Close)
}

func TestHistorySeries(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := NewHistory(10)
	h.Append(makeCandle("BTCUSDT", 100, start))
	h.Append(makeCandle("BTCUSDT", 102, start.Add(time.Hour)))

	assert.Equal(t, []float64{100, 102}, h.Closes())
	assert.Equal(t, []float64{101, 103}, h.Highs())
	assert.Equal(t, []float64{99, 101}, h.Lows())
}

func TestHistoryLastEmpty(t *testing.T) {
	h := NewHistory(5)
	assert.Nil(t, h.Last())
}
