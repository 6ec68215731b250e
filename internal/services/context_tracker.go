// Package services – ContextTracker
//
// The tracker owns the per-user ConversationContext register exclusively: no
// other component writes those rows. It is a thin wrapper over the repo so
// the claim service and the dispatcher share one access path, and so tests
// can exercise the upsert-replace semantics directly.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
	"github.com/tccp/tipbot-backend/internal/repo"
)

// ContextTracker records which address input is expected from each user.
type ContextTracker struct {
	DB *gorm.DB
}

// Set records that userID is expected to supply an address for the given tip
// or batch, replacing any context the user had before.
func (t *ContextTracker) Set(ctx context.Context, userID int64, kind domain.ContextKind, refID string) error {
	if err := repo.SetContext(ctx, t.DB, userID, kind, refID); err != nil {
		return storeErr(err)
	}
	return nil
}

// Get returns the active context for userID, or ErrNoActiveContext.
func (t *ContextTracker) Get(ctx context.Context, userID int64) (*domain.ConversationContext, error) {
	c, err := repo.GetContext(ctx, t.DB, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNoActiveContext
		}
		return nil, storeErr(err)
	}
	return c, nil
}

// Clear deletes the active context for userID, if any.
func (t *ContextTracker) Clear(ctx context.Context, userID int64) error {
	if err := repo.ClearContext(ctx, t.DB, userID); err != nil {
		return storeErr(err)
	}
	return nil
}
