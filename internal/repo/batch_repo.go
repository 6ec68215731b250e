// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the BatchClaim
// model.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// CreateBatchClaim inserts a new BatchClaim row with a generated UUID and a
// UTC creation timestamp.
func CreateBatchClaim(ctx context.Context, db *gorm.DB, b *domain.BatchClaim) (*domain.BatchClaim, error) {
	b.ID = uuid.NewString()
	b.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, err
	}
	return b, nil
}

// GetBatchClaim fetches a single batch claim by ID, or ErrNotFound if missing.
func GetBatchClaim(ctx context.Context, db *gorm.DB, id string) (*domain.BatchClaim, error) {
	var b domain.BatchClaim
	if err := db.WithContext(ctx).Where("id = ?", id).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatchClaimsByStatus returns all batch claims with the given status,
// oldest first.
func ListBatchClaimsByStatus(ctx context.Context, db *gorm.DB, status domain.Status) ([]domain.BatchClaim, error) {
	var out []domain.BatchClaim
	err := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// UpdateBatchClaim applies a column patch to the batch identified by id.
// If no rows are affected, it returns ErrNotFound.
func UpdateBatchClaim(ctx context.Context, db *gorm.DB, id string, patch map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.BatchClaim{}).
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
