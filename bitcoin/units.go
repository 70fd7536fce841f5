package bitcoin

import (
	"fmt"
	"math"
)

// SatoshisPerBCH is the number of satoshis in one BCH.
const SatoshisPerBCH = 100_000_000

// Units accepted by amount-bearing operations.
const (
	UnitSat = "sat"
	UnitBCH = "bch"
	UnitUSD = "usd"
)

// ToSatoshis converts value in unit to satoshis. usdPrice is only consulted
// for the usd unit.
func ToSatoshis(value float64, unit string, usdPrice float64) (int64, error) {
	if value < 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid amount %v", value)
	}
	switch unit {
	case UnitSat:
		if value != math.Trunc(value) {
			return 0, fmt.Errorf("satoshi amounts must be whole numbers")
		}
		return int64(value), nil
	case UnitBCH:
		return int64(math.Round(value * SatoshisPerBCH)), nil
	case UnitUSD:
		if usdPrice <= 0 {
			return 0, fmt.Errorf("usd price unavailable")
		}
		return int64(math.Round(value / usdPrice * SatoshisPerBCH)), nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}

// FromSatoshis converts sats into unit.
func FromSatoshis(sats int64, unit string, usdPrice float64) (float64, error) {
	switch unit {
	case UnitSat:
		return float64(sats), nil
	case UnitBCH:
		return float64(sats) / SatoshisPerBCH, nil
	case UnitUSD:
		if usdPrice <= 0 {
			return 0, fmt.Errorf("usd price unavailable")
		}
		usd := float64(sats) / SatoshisPerBCH * usdPrice
		return math.Round(usd*100) / 100, nil
	default:
		return 0, fmt.Errorf("unknown unit %q", unit)
	}
}
