// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the per-user
// ConversationContext register.
//
// The register holds at most one row per user. SetContext uses an ON CONFLICT
// upsert so a new claim flow always replaces whatever the user was doing
// before (last write wins), never merges with it.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// SetContext inserts or replaces the conversation context for userID.
func SetContext(ctx context.Context, db *gorm.DB, userID int64, kind domain.ContextKind, refID string) error {
	rec := &domain.ConversationContext{
		UserID:    userID,
		Kind:      kind,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"kind", "ref_id", "updated_at"}),
		}).
		Create(rec).Error
}

// GetContext fetches the active context for userID, or ErrNotFound.
func GetContext(ctx context.Context, db *gorm.DB, userID int64) (*domain.ConversationContext, error) {
	var c domain.ConversationContext
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearContext deletes the active context for userID. Deleting a missing
// context is not an error.
func ClearContext(ctx context.Context, db *gorm.DB, userID int64) error {
	return db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.ConversationContext{}).Error
}
