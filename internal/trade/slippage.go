package trade

import (
	"fmt"
	"math"
	"strconv"
)

// SlippagePrice converts a mid price into an aggressive IOC limit price:
// mid * (1 + slippage/100) for buys, mid * (1 - slippage/100) for sells.
// The result is rounded to 5 significant figures, the exchange's price
// granularity.
func SlippagePrice(mid string, isBuy bool, slippagePct float64) (string, error) {
	if slippagePct < 0 {
		return "", fmt.Errorf("slippage must be non-negative, got %v", slippagePct)
	}
	px, err := strconv.ParseFloat(mid, 64)
	if err != nil {
		return "", fmt.Errorf("parsing mid price %q: %w", mid, err)
	}

	factor := 1 + slippagePct/100
	if !isBuy {
		factor = 1 - slippagePct/100
	}
	return formatPrice(px * factor), nil
}

// formatPrice renders a price with at most 5 significant figures, without
// scientific notation.
func formatPrice(px float64) string {
	if px == 0 {
		return "0"
	}
	digits := int(math.Floor(math.Log10(math.Abs(px)))) + 1
	decimals := 5 - digits
	if decimals < 0 {
		decimals = 0
	}
	scale := math.Pow10(decimals)
	rounded := math.Round(px*scale) / scale
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

// ValidateSize rejects non-positive order sizes before any network call.
func ValidateSize(sz string) error {
	v, err := strconv.ParseFloat(sz, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q", sz)
	}
	if v <= 0 {
		return fmt.Errorf("size must be positive, got %s", sz)
	}
	return nil
}
