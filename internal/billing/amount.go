package billing

import (
	"fmt"
	"math"
	"strings"
)

// zeroDecimalCurrencies are the currencies whose smallest unit is the
// whole unit. Amounts in these currencies are passed to the processor
// unscaled.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {},
	"jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {},
	"vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// minimumAmounts are the processor per-currency charge minimums in
// minor units. Currencies not listed use the default.
var minimumAmounts = map[string]int64{
	"usd": 50,
	"cad": 50,
	"eur": 50,
	"chf": 50,
	"aud": 50,
	"sgd": 50,
	"gbp": 30,
	"dkk": 250,
	"nok": 300,
	"sek": 300,
	"jpy": 5000,
	"mxn": 1000,
	"hkd": 400,
}

const defaultMinimumAmount = 50

// IsZeroDecimal reports whether the currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToLower(currency)]
	return ok
}

// ToMinorUnits converts a decimal order total into the smallest unit
// the processor accepts for the currency. Sign is preserved; refund
// deltas pass through here as negative amounts.
func ToMinorUnits(total float64, currency string) int64 {
	if IsZeroDecimal(currency) {
		return int64(math.Round(total))
	}
	return int64(math.Round(total * 100))
}

// FromMinorUnits converts a processor amount back into a decimal total.
// Used when accumulating fees and nets from balance transactions.
func FromMinorUnits(amount int64, currency string) float64 {
	if IsZeroDecimal(currency) {
		return float64(amount)
	}
	return float64(amount) / 100
}

// MinimumAmount returns the smallest chargeable amount for the
// currency, in minor units.
func MinimumAmount(currency string) int64 {
	if m, ok := minimumAmounts[strings.ToLower(currency)]; ok {
		return m
	}
	return defaultMinimumAmount
}

// FormatAmount renders a minor-unit amount for order notes,
// e.g. "49.99 USD" or "5000 JPY".
func FormatAmount(amount int64, currency string) string {
	cur := strings.ToUpper(currency)
	if IsZeroDecimal(currency) {
		return fmt.Sprintf("%d %s", amount, cur)
	}
	return fmt.Sprintf("%.2f %s", float64(amount)/100, cur)
}
