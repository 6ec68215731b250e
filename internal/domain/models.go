// Package domain defines the persistence models for tips, batch claims, and
// per-user conversation state. These types are mapped with GORM and form the
// core data layer of the tip ledger.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Currency is one of the two assets the admin tips in.
type Currency string

// Supported currencies.
const (
	CurrencyCHDPU Currency = "chdpu"
	CurrencyTARA  Currency = "tara"
)

// Valid reports whether c is a recognized currency.
func (c Currency) Valid() bool {
	return c == CurrencyCHDPU || c == CurrencyTARA
}

// Status is the claim lifecycle state shared by tips and batch claims.
//
// Single-tip path:
//
//	awaiting_claim → awaiting_recipient_address → ready_for_admin_fulfillment → fulfilled
//
// Batch path: a tip absorbed into a batch moves to part_of_batch_claim and is
// only advanced by batch operations from then on. The batch itself starts at
// awaiting_address and follows the same remaining states; when it becomes
// ready, its children move to ready_for_admin_fulfillment_batch.
type Status string

const (
	StatusAwaitingClaim    Status = "awaiting_claim"
	StatusAwaitingAddress  Status = "awaiting_recipient_address"
	StatusBatchAwaiting    Status = "awaiting_address"
	StatusPartOfBatch      Status = "part_of_batch_claim"
	StatusReadyForAdmin    Status = "ready_for_admin_fulfillment"
	StatusReadyBatchMember Status = "ready_for_admin_fulfillment_batch"
	StatusFulfilled        Status = "fulfilled"
)

// transitions is the set of allowed forward moves. Anything not listed is
// rejected; there are no backward moves.
var transitions = map[Status][]Status{
	StatusAwaitingClaim:    {StatusAwaitingAddress, StatusPartOfBatch},
	StatusAwaitingAddress:  {StatusReadyForAdmin},
	StatusBatchAwaiting:    {StatusReadyForAdmin},
	StatusPartOfBatch:      {StatusReadyBatchMember},
	StatusReadyForAdmin:    {StatusFulfilled},
	StatusReadyBatchMember: {StatusFulfilled},
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s Status) CanTransition(next Status) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool { return s == StatusFulfilled }

// Tip represents one promised payment from the admin to a recipient.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - AdminID: Telegram id of the issuing admin.
//   - RecipientID: resolved Telegram id of the recipient; nil until known.
//   - RecipientUsername: lowercased "@handle"; may be the only recipient ref.
//   - Amount: exact decimal amount (> 0); stored as text to avoid float drift.
//   - Currency: one of the supported currencies.
//   - Status: claim lifecycle state, advanced only by the claim service.
//   - PayoutAddress: EVM address supplied by the recipient; nil until then.
//   - TxHash: settlement reference recorded at fulfillment; nil until then.
//   - BatchID: set once the tip is absorbed into a batch claim. A tip with a
//     non-nil BatchID is never advanced by single-tip operations.
//   - OriginChatID: the group chat the tip was announced in.
//
// Tips are never physically deleted; terminal rows persist for audit/stats.
type Tip struct {
	ID                string          `json:"id"                 gorm:"type:char(36);primaryKey"`
	AdminID           int64           `json:"admin_id"           gorm:"not null"`
	RecipientID       *int64          `json:"recipient_id"       gorm:"index:idx_tip_recipient"`
	RecipientUsername string          `json:"recipient_username" gorm:"type:varchar(64);index:idx_tip_username"`
	Amount            decimal.Decimal `json:"amount"             gorm:"type:decimal(30,10);not null"`
	Currency          Currency        `json:"currency"           gorm:"type:varchar(16);not null"`
	Status            Status          `json:"status"             gorm:"type:varchar(48);not null;index"`
	PayoutAddress     *string         `json:"payout_address,omitempty" gorm:"type:varchar(64)"`
	TxHash            *string         `json:"tx_hash,omitempty"  gorm:"type:varchar(80)"`
	BatchID           *string         `json:"batch_id,omitempty" gorm:"type:char(36);index"`
	OriginChatID      int64           `json:"origin_chat_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Tip.
func (Tip) TableName() string { return "tips" }

// BatchClaim aggregates several same-currency tips claimed together by one
// recipient. TotalAmount equals the sum of the absorbed tips' amounts at the
// moment of aggregation; a batch always absorbs at least two tips.
type BatchClaim struct {
	ID            string          `json:"id"             gorm:"type:char(36);primaryKey"`
	RecipientID   int64           `json:"recipient_id"   gorm:"not null;index"`
	DisplayName   string          `json:"display_name"   gorm:"type:varchar(128)"`
	TotalAmount   decimal.Decimal `json:"total_amount"   gorm:"type:decimal(30,10);not null"`
	Currency      Currency        `json:"currency"       gorm:"type:varchar(16);not null"`
	Status        Status          `json:"status"         gorm:"type:varchar(48);not null;index"`
	PayoutAddress *string         `json:"payout_address,omitempty" gorm:"type:varchar(64)"`
	TxHash        *string         `json:"tx_hash,omitempty"        gorm:"type:varchar(80)"`
	AdminID       int64           `json:"admin_id"       gorm:"not null"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TableName returns the database table name for BatchClaim.
func (BatchClaim) TableName() string { return "batch_claims" }

// ContextKind says what free-text input is expected from a user.
type ContextKind string

const (
	// ContextTipAddress expects a payout address for a single tip.
	ContextTipAddress ContextKind = "tip_address"
	// ContextBatchAddress expects a payout address for a batch claim.
	ContextBatchAddress ContextKind = "batch_address"
)

// ConversationContext is the per-user single-slot register recording which
// address input is currently expected and for which tip or batch. At most one
// row exists per user; setting a new context replaces any prior one.
type ConversationContext struct {
	UserID    int64       `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	Kind      ContextKind `json:"kind"    gorm:"type:varchar(32);not null"`
	RefID     string      `json:"ref_id"  gorm:"type:char(36);not null"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TableName returns the database table name for ConversationContext.
func (ConversationContext) TableName() string { return "conversation_contexts" }

// UserProfile caches the most recent payout address a user supplied, so a
// later claim can reuse it without retyping.
type UserProfile struct {
	UserID      int64     `json:"user_id"      gorm:"primaryKey;autoIncrement:false"`
	Username    string    `json:"username"     gorm:"type:varchar(64)"`
	LastAddress string    `json:"last_address" gorm:"type:varchar(64)"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }
