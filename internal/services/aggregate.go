// Package services – batch aggregation
//
// Aggregate is the pure grouping step under InitiateBatchClaim. It partitions
// a recipient's awaiting tips by currency, selects the first-encountered
// currency group, and sums its amounts with exact decimal arithmetic.
package services

import (
	"github.com/shopspring/decimal"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// Aggregation is the result of grouping a recipient's eligible tips.
type Aggregation struct {
	// Currency of the selected group.
	Currency domain.Currency
	// Selected tips, in the order they were issued.
	Selected []domain.Tip
	// Total is the exact sum of the selected tips' amounts.
	Total decimal.Decimal
	// Remainder holds tips of other currencies, left untouched and still
	// individually claimable.
	Remainder []domain.Tip
}

// Aggregate groups tips by currency and selects the currency of the first
// tip in insertion order. The selected group must contain at least two tips;
// otherwise ErrInsufficientTips is returned. Tips of other currencies are
// returned as the remainder so callers can tell the user what was skipped.
func Aggregate(tips []domain.Tip) (*Aggregation, error) {
	if len(tips) < 2 {
		return nil, ErrInsufficientTips
	}

	cur := tips[0].Currency
	agg := &Aggregation{Currency: cur, Total: decimal.Zero}
	for _, t := range tips {
		if t.Currency == cur {
			agg.Selected = append(agg.Selected, t)
			agg.Total = agg.Total.Add(t.Amount)
		} else {
			agg.Remainder = append(agg.Remainder, t)
		}
	}
	if len(agg.Selected) < 2 {
		return nil, ErrInsufficientTips
	}
	return agg, nil
}
