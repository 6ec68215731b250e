// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// ProcessedUpdate model used to drop redelivered transport updates.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// ErrDuplicate indicates that an update id has already been processed.
var ErrDuplicate = errors.New("duplicate")

// MarkUpdateProcessed inserts a row for updateID and returns ErrDuplicate on
// unique violation, i.e. when this update was already handled once.
func MarkUpdateProcessed(ctx context.Context, db *gorm.DB, updateID int64, ttl time.Duration) error {
	now := time.Now().UTC()
	rec := &domain.ProcessedUpdate{
		ID:        uuid.NewString(),
		UpdateID:  updateID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// PurgeExpiredUpdates removes rows whose TTL has elapsed. Called
// opportunistically; failures are safe to ignore.
func PurgeExpiredUpdates(ctx context.Context, db *gorm.DB, now time.Time) error {
	return db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedUpdate{}).Error
}
