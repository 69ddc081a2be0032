// Package tfutils
package tfutils

import (
	"errors"
	"time"
)

// ParseTimeframe parses a timeframe string (e.g., "1h", "4h") to time.Duration
func ParseTimeframe(timeframe string) (time.Duration, error) {
	switch timeframe {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, errors.New("unsupported timeframe")
	}
}

// GetTimeframeDuration returns the duration for a given timeframe, 0 if unsupported
func GetTimeframeDuration(timeframe string) time.Duration {
	dur, err := ParseTimeframe(timeframe)
	if err != nil {
		return 0
	}
	return dur
}

// IsValidTimeframe reports whether the timeframe is supported
func IsValidTimeframe(timeframe string) bool {
	_, err := ParseTimeframe(timeframe)
	return err == nil
}

// GetSupportedTimeframes returns all supported timeframes
func GetSupportedTimeframes() []string {
	return []string{"1m", "5m", "15m", "30m", "1h", "4h", "1d"}
}
