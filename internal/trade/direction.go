// Package trade holds order-input validation and the slippage pricing used
// to express market intent as IOC limit orders.
package trade

import (
	"fmt"
	"strings"
)

// Market kinds a direction can target.
const (
	MarketPerp = "perp"
	MarketSpot = "spot"
)

// Direction is a parsed trade direction: which market and which side.
type Direction struct {
	MarketType string
	IsBuy      bool
}

// ParseDirection maps the user-facing direction words onto markets:
// long/short trade perps, buy/sell trade spot. Case-insensitive.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "long":
		return Direction{MarketType: MarketPerp, IsBuy: true}, nil
	case "short":
		return Direction{MarketType: MarketPerp, IsBuy: false}, nil
	case "buy":
		return Direction{MarketType: MarketSpot, IsBuy: true}, nil
	case "sell":
		return Direction{MarketType: MarketSpot, IsBuy: false}, nil
	default:
		return Direction{}, fmt.Errorf("invalid direction %q: want long, short, buy or sell", s)
	}
}
