package tfutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	cases := map[string]time.Duration{
		"1m":  time.Minute,
		"5m":  5 * time.Minute,
		"15m": 15 * time.Minute,
		"30m": 30 * time.Minute,
		"1h":  time.Hour,
		"4h":  4 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for tf, want := range cases {
		got, err := ParseTimeframe(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got, tf)
	}

	_, err := ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestIsValidTimeframe(t *testing.T) {
	for _, tf := range GetSupportedTimeframes() {
		assert.True(t, IsValidTimeframe(tf), tf)
	}
	assert.False(t, IsValidTimeframe("2w"))
	assert.False(t, IsValidTimeframe(""))
}

func TestGetTimeframeDuration(t *testing.T) {
	assert.Equal(t, time.Hour, GetTimeframeDuration("1h"))
	assert.Equal(t, time.Duration(0), GetTimeframeDuration("bogus"))
}
