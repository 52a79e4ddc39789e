// Package window parses and validates the fixed time-window tokens used by
// rollups ("24h", "7d", "30d") and the trending endpoint ("24h", "72h", "7d").
package window

import (
	"fmt"
	"time"
)

// Canonical window tokens.
const (
	Day24h  = "24h"
	Hours72 = "72h"
	Week7d  = "7d"
	Month30 = "30d"
)

// RollupWindows are the windows the aggregator materializes.
var RollupWindows = []string{Day24h, Week7d, Month30}

// TrendingWindows are the windows the trending endpoint accepts.
var TrendingWindows = []string{Day24h, Hours72, Week7d}

// Parse converts a window token into a duration. Supports Go duration syntax
// plus an "Xd" day suffix, which time.ParseDuration lacks.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("window must not be empty")
	}

	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err != nil {
			return 0, fmt.Errorf("invalid window %q: %w", s, err)
		}
		if days <= 0 {
			return 0, fmt.Errorf("window must be positive, got %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("window must be positive, got %q", s)
	}
	return d, nil
}

// ValidRollup reports whether s is a window the aggregator materializes.
func ValidRollup(s string) bool {
	for _, w := range RollupWindows {
		if w == s {
			return true
		}
	}
	return false
}

// ValidTrending reports whether s is accepted by the trending endpoint.
func ValidTrending(s string) bool {
	for _, w := range TrendingWindows {
		if w == s {
			return true
		}
	}
	return false
}
