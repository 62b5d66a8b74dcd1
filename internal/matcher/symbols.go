package matcher

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SYMBOL PARSING - Structural fields from venue-native identifiers
// ═══════════════════════════════════════════════════════════════════════════════

// Venue-A crypto binary: GEMI-{ASSET}{YYMMDDHHMM}-HI{STRIKE} (or -LO{STRIKE}).
// The strike tolerates a decimal-point escape: HI1D3 means 1.3.
var symbolRe = regexp.MustCompile(`^GEMI-([A-Z]+?)(\d{10})-(HI|LO)([0-9D]+)$`)

// ParseSymbol extracts structural metadata from a venue-A crypto symbol.
func ParseSymbol(symbol string) (*types.StructuralMeta, error) {
	m := symbolRe.FindStringSubmatch(symbol)
	if m == nil {
		return nil, fmt.Errorf("not a structured symbol: %q", symbol)
	}

	expiry, err := time.Parse("0601021504", m[2])
	if err != nil {
		return nil, fmt.Errorf("bad expiry in %q: %w", symbol, err)
	}

	strikeStr := strings.ReplaceAll(m[4], "D", ".")
	strike, err := decimal.NewFromString(strikeStr)
	if err != nil || !strike.IsPositive() {
		return nil, fmt.Errorf("bad strike in %q: %v", symbol, err)
	}

	dir := types.PayoffAbove
	if m[3] == "LO" {
		dir = types.PayoffBelow
	}

	return &types.StructuralMeta{
		Asset:     m[1],
		Strike:    strike,
		Expiry:    expiry.UTC(),
		Direction: dir,
	}, nil
}

// Venue-C event ticker embeds date and hour after the last dash, e.g.
// KXBTCD-25AUG2417 → 2025-08-24 17:00 UTC. A trailing minute block is
// tolerated (25AUG241730).
var eventExpiryRe = regexp.MustCompile(`-(\d{2})([A-Z]{3})(\d{2})(\d{2})(\d{2})?$`)

var monthAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseEventExpiry extracts the expiry timestamp from a venue-C event ticker.
func ParseEventExpiry(eventTicker string) (time.Time, error) {
	m := eventExpiryRe.FindStringSubmatch(eventTicker)
	if m == nil {
		return time.Time{}, fmt.Errorf("no expiry in event ticker %q", eventTicker)
	}

	month, ok := monthAbbrev[m[2]]
	if !ok {
		return time.Time{}, fmt.Errorf("bad month in event ticker %q", eventTicker)
	}

	year := 2000 + atoi2(m[1])
	day := atoi2(m[3])
	hour := atoi2(m[4])
	minute := 0
	if m[5] != "" {
		minute = atoi2(m[5])
	}

	if day < 1 || day > 31 || hour > 23 || minute > 59 {
		return time.Time{}, fmt.Errorf("out-of-range expiry in event ticker %q", eventTicker)
	}

	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC), nil
}

// EventAsset guesses the underlying asset from a venue-C event ticker prefix.
func EventAsset(eventTicker string) string {
	for _, asset := range []string{"BTC", "ETH", "SOL"} {
		if strings.Contains(eventTicker, asset) {
			return asset
		}
	}
	return ""
}

func atoi2(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}
