// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// ProcessedUpdate records a transport update id that has already been
// consumed. The chat platform redelivers webhook updates on timeouts, so the
// dispatcher inserts a row before handling an update and drops any update
// whose id is already present. Rows expire after a TTL and are purged lazily.
type ProcessedUpdate struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	UpdateID  int64     `gorm:"uniqueIndex:ux_processed_update"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }
