// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// by the admin /stats command. Each function is context-aware and safe to
// call from services or handlers.
package repo

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// TipStatusCounts returns the number of tips per lifecycle status.
func TipStatusCounts(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Tip{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

// FulfilledTotals returns the exact fulfilled amount per currency.
//
// Amounts are stored as decimal text, so summing happens in Go with
// shopspring/decimal rather than in SQL, where SQLite would coerce the
// column to a float and drift.
func FulfilledTotals(ctx context.Context, db *gorm.DB) (map[domain.Currency]decimal.Decimal, error) {
	var rows []struct {
		Currency domain.Currency
		Amount   decimal.Decimal
	}
	err := db.WithContext(ctx).
		Model(&domain.Tip{}).
		Select("currency, amount").
		Where("status = ?", domain.StatusFulfilled).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Currency]decimal.Decimal)
	for _, r := range rows {
		out[r.Currency] = out[r.Currency].Add(r.Amount)
	}
	return out, nil
}
