// Package services – fulfillment announcement amounts
//
// Public ledger announcements render the fulfilled amount in a randomly
// chosen unit denomination of the same underlying value. The conversion
// table is fixed; quotients are rendered with integer truncation, never
// rounding. The random source is injected so tests can pin the outcome.
package services

import (
	"math/rand"

	"github.com/shopspring/decimal"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// RandSource supplies the index choice for denomination selection.
// math/rand's *Rand satisfies it.
type RandSource interface {
	Intn(n int) int
}

// denom is one renderable unit of a currency.
type denom struct {
	unit   string
	factor decimal.Decimal
}

// denomTable maps each currency to its unit denominations, smallest factor
// first. Factors are fixed; changing them changes announced history.
var denomTable = map[domain.Currency][]denom{
	domain.CurrencyCHDPU: {
		{unit: "CHDPU", factor: decimal.NewFromInt(1)},
		{unit: "kCHDPU", factor: decimal.NewFromInt(1_000)},
		{unit: "MCHDPU", factor: decimal.NewFromInt(1_000_000)},
	},
	domain.CurrencyTARA: {
		{unit: "TARA", factor: decimal.NewFromInt(1)},
		{unit: "kTARA", factor: decimal.NewFromInt(1_000)},
	},
}

// RenderDenomination renders amount in a randomly selected denomination of
// its currency. Only denominations whose truncated quotient is non-zero are
// eligible, so small amounts always fall back to the base unit. An unknown
// currency renders in base units with the upper-cased code.
func RenderDenomination(r RandSource, amount decimal.Decimal, cur domain.Currency) string {
	if r == nil {
		r = rand.New(rand.NewSource(rand.Int63()))
	}
	denoms, ok := denomTable[cur]
	if !ok {
		return amount.String() + " " + string(cur)
	}

	eligible := make([]denom, 0, len(denoms))
	for _, d := range denoms {
		if amount.Div(d.factor).Truncate(0).IsPositive() {
			eligible = append(eligible, d)
		}
	}
	if len(eligible) == 0 {
		// amount < 1 base unit; keep the exact value
		return amount.String() + " " + denoms[0].unit
	}

	pick := eligible[r.Intn(len(eligible))]
	return amount.Div(pick.factor).Truncate(0).String() + " " + pick.unit
}
