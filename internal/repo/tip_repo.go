// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Tip model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a tip is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateTip inserts a new Tip row. The tip ID is a randomly generated UUID
// (string) and CreatedAt is set to UTC. The caller provides all other fields.
func CreateTip(ctx context.Context, db *gorm.DB, t *domain.Tip) (*domain.Tip, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	return t, nil
}

// GetTip fetches a single tip by ID, or ErrNotFound if missing.
func GetTip(ctx context.Context, db *gorm.DB, id string) (*domain.Tip, error) {
	var t domain.Tip
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// ListClaimableTips returns every tip in awaiting_claim with no batch
// reference that matches the recipient either by resolved Telegram id or by
// handle, in stable insertion order. An empty username only matches by id.
func ListClaimableTips(ctx context.Context, db *gorm.DB, userID int64, username string) ([]domain.Tip, error) {
	var out []domain.Tip
	err := db.WithContext(ctx).
		Where("status = ? AND batch_id IS NULL", domain.StatusAwaitingClaim).
		Where("recipient_id = ? OR (recipient_username <> '' AND recipient_username = ?)", userID, username).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListTipsByStatus returns all tips with the given status, oldest first.
func ListTipsByStatus(ctx context.Context, db *gorm.DB, status domain.Status) ([]domain.Tip, error) {
	var out []domain.Tip
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListOutstandingTips returns every tip that is neither fulfilled nor absorbed
// into a batch, oldest first. Used by the admin /outstanding command.
func ListOutstandingTips(ctx context.Context, db *gorm.DB) ([]domain.Tip, error) {
	var out []domain.Tip
	err := db.WithContext(ctx).
		Where("status NOT IN ?", []domain.Status{domain.StatusFulfilled, domain.StatusPartOfBatch, domain.StatusReadyBatchMember}).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListBatchTips returns the tips absorbed into the given batch, oldest first.
func ListBatchTips(ctx context.Context, db *gorm.DB, batchID string) ([]domain.Tip, error) {
	var out []domain.Tip
	err := db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// UpdateTip applies a column patch to the tip identified by id. If no rows
// are affected (tip missing), it returns ErrNotFound.
func UpdateTip(ctx context.Context, db *gorm.DB, id string, patch map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Tip{}).
		Where("id = ?", id).
		Updates(patch)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateBatchTips applies a column patch to every tip absorbed into batchID.
// Returns the number of affected rows.
func UpdateBatchTips(ctx context.Context, db *gorm.DB, batchID string, patch map[string]any) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Tip{}).
		Where("batch_id = ?", batchID).
		Updates(patch)
	return res.RowsAffected, res.Error
}
