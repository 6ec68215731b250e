// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the UserProfile
// last-used-address cache.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// UpsertProfile records the most recent payout address for userID,
// creating the profile row on first use.
func UpsertProfile(ctx context.Context, db *gorm.DB, userID int64, username, address string) error {
	rec := &domain.UserProfile{
		UserID:      userID,
		Username:    username,
		LastAddress: address,
		UpdatedAt:   time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "last_address", "updated_at"}),
		}).
		Create(rec).Error
}

// GetProfile fetches the profile for userID, or ErrNotFound.
func GetProfile(ctx context.Context, db *gorm.DB, userID int64) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
