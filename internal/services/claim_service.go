// Package services – ClaimService
//
// This file implements the claim state machine, the component that exclusively
// owns Tip.Status and BatchClaim.Status transitions. It validates issue
// requests, serializes claim attempts per user, aggregates tips into batch
// claims, consumes address input, and finalizes fulfillment on admin
// confirmation.
//
// Every multi-record mutation (batch absorption, address-plus-context-clear,
// fulfillment cascade) runs inside a single transaction; partial application
// is a correctness bug, not an acceptable degradation. Notifications are sent
// only after the transaction commits, and a failed send never rolls anything
// back — it is logged and forgotten.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
	"github.com/tccp/tipbot-backend/internal/repo"
)

// BurnAddress is the conventional dead address users may send their tip to.
const BurnAddress = "0x000000000000000000000000000000000000dEaD"

// Sentinel inputs the dispatcher passes to SupplyAddress in place of a
// literal address.
const (
	InputBurn      = "\x00burn"
	InputReuseLast = "\x00reuse"
)

// addressRE matches a 20-byte EVM address: 0x followed by 40 hex digits.
var addressRE = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// UserRef identifies the user behind an inbound action.
type UserRef struct {
	ID        int64
	Username  string // bare handle without '@', may be empty
	FirstName string
}

// handle returns the user's lowercased "@handle", or "" when unknown.
func (u UserRef) handle() string {
	if u.Username == "" {
		return ""
	}
	return normalizeHandle(u.Username)
}

// ClaimResult describes a successfully consumed address input.
type ClaimResult struct {
	Kind    domain.ContextKind
	Tip     *domain.Tip
	Batch   *domain.BatchClaim
	Address string
	Burned  bool
}

// FulfillmentResult describes a successful admin confirmation.
type FulfillmentResult struct {
	Tip        *domain.Tip
	Batch      *domain.BatchClaim
	ChildCount int
}

// LedgerStats is the aggregate view served by the /stats command.
type LedgerStats struct {
	StatusCounts    map[domain.Status]int64
	FulfilledTotals map[domain.Currency]decimal.Decimal
}

// ClaimService coordinates the tip and batch claim lifecycle. Construct one
// per process; all per-request data flows through method parameters.
type ClaimService struct {
	DB       *gorm.DB
	Notifier Notifier
	Tracker  *ContextTracker
	// AdminID is the sole identity allowed to issue and confirm tips.
	AdminID int64
	// BotName is the bot's public handle, used in announcements.
	BotName string
	// Rand selects announcement denominations; injected for deterministic tests.
	Rand RandSource

	locks userLocks
}

// IssueTip validates and persists a new tip in awaiting_claim, then announces
// it in the origin chat. recipientID is the resolved Telegram id when the
// transport could derive one (explicit mention or replied-to author), else
// nil; recipientHandle may then be the only reference.
func (s *ClaimService) IssueTip(ctx context.Context, issuerID int64, recipientHandle string, recipientID *int64, amount decimal.Decimal, currency domain.Currency, originChat int64) (*domain.Tip, error) {
	if issuerID != s.AdminID {
		return nil, ErrNotAuthorized
	}
	if !amount.IsPositive() {
		return nil, ErrValidation
	}
	if !currency.Valid() {
		return nil, ErrValidation
	}
	handle := normalizeHandle(recipientHandle)
	if handle == "" && recipientID == nil {
		return nil, ErrValidation
	}

	tip := &domain.Tip{
		AdminID:           issuerID,
		RecipientID:       recipientID,
		RecipientUsername: handle,
		Amount:            amount,
		Currency:          currency,
		Status:            domain.StatusAwaitingClaim,
		OriginChatID:      originChat,
	}
	tip, err := repo.CreateTip(ctx, s.DB, tip)
	if err != nil {
		return nil, storeErr(err)
	}

	s.announce(ctx, originChat, tipAnnouncement(tip, s.BotName))
	return tip, nil
}

// InitiateClaim selects the user's oldest awaiting tip, moves it to
// awaiting_recipient_address, and registers a conversation context expecting
// an address for it. Remaining tips stay claimable one at a time.
func (s *ClaimService) InitiateClaim(ctx context.Context, user UserRef) (*domain.Tip, error) {
	unlock := s.locks.lock(user.ID)
	defer unlock()

	tips, err := repo.ListClaimableTips(ctx, s.DB, user.ID, user.handle())
	if err != nil {
		return nil, storeErr(err)
	}
	if len(tips) == 0 {
		return nil, ErrNoPendingTips
	}

	tip := tips[0]
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Capture the Telegram id even when the tip was issued by handle only.
		if uerr := repo.UpdateTip(ctx, tx, tip.ID, map[string]any{
			"status":       domain.StatusAwaitingAddress,
			"recipient_id": user.ID,
		}); uerr != nil {
			return uerr
		}
		return repo.SetContext(ctx, tx, user.ID, domain.ContextTipAddress, tip.ID)
	})
	if err != nil {
		return nil, storeErr(err)
	}

	tip.Status = domain.StatusAwaitingAddress
	tip.RecipientID = &user.ID
	return &tip, nil
}

// InitiateBatchClaim aggregates the user's awaiting tips of the
// first-encountered currency into one batch claim. Tips of other currencies
// are left pending; their count is returned so the caller can surface it.
func (s *ClaimService) InitiateBatchClaim(ctx context.Context, user UserRef) (*domain.BatchClaim, int, error) {
	unlock := s.locks.lock(user.ID)
	defer unlock()

	tips, err := repo.ListClaimableTips(ctx, s.DB, user.ID, user.handle())
	if err != nil {
		return nil, 0, storeErr(err)
	}
	agg, err := Aggregate(tips)
	if err != nil {
		return nil, 0, err
	}

	display := user.handle()
	if display == "" {
		display = user.FirstName
	}
	batch := &domain.BatchClaim{
		RecipientID: user.ID,
		DisplayName: display,
		TotalAmount: agg.Total,
		Currency:    agg.Currency,
		Status:      domain.StatusBatchAwaiting,
		AdminID:     s.AdminID,
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, cerr := repo.CreateBatchClaim(ctx, tx, batch); cerr != nil {
			return cerr
		}
		for _, t := range agg.Selected {
			if uerr := repo.UpdateTip(ctx, tx, t.ID, map[string]any{
				"status":       domain.StatusPartOfBatch,
				"batch_id":     batch.ID,
				"recipient_id": user.ID,
			}); uerr != nil {
				return uerr
			}
		}
		return repo.SetContext(ctx, tx, user.ID, domain.ContextBatchAddress, batch.ID)
	})
	if err != nil {
		return nil, 0, storeErr(err)
	}

	return batch, len(agg.Remainder), nil
}

// SupplyAddress consumes address input for the user's active context. Input
// is one of: a literal EVM address, the burn sentinel, or the reuse-last
// sentinel. On success the referenced tip or batch becomes ready for admin
// fulfillment, the context is cleared, the address cache updated, and the
// admin notified — address write, status transition, and context clear are
// one transaction.
func (s *ClaimService) SupplyAddress(ctx context.Context, user UserRef, rawInput string) (*ClaimResult, error) {
	unlock := s.locks.lock(user.ID)
	defer unlock()

	cc, err := s.Tracker.Get(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	address, err := s.resolveAddress(ctx, user.ID, rawInput)
	if err != nil {
		return nil, err
	}
	burned := strings.EqualFold(address, BurnAddress)

	res := &ClaimResult{Kind: cc.Kind, Address: address, Burned: burned}
	switch cc.Kind {
	case domain.ContextTipAddress:
		err = s.readyTip(ctx, user, cc.RefID, address, res)
	case domain.ContextBatchAddress:
		err = s.readyBatch(ctx, user, cc.RefID, address, res)
	default:
		err = ErrNoActiveContext
	}
	if err != nil {
		return nil, err
	}

	s.notifyAdmin(ctx, adminReadyNotice(res, user))
	return res, nil
}

// resolveAddress turns raw input into a concrete payout address.
func (s *ClaimService) resolveAddress(ctx context.Context, userID int64, raw string) (string, error) {
	switch raw {
	case InputBurn:
		return BurnAddress, nil
	case InputReuseLast:
		p, err := repo.GetProfile(ctx, s.DB, userID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", ErrNoCachedAddress
			}
			return "", storeErr(err)
		}
		if p.LastAddress == "" {
			return "", ErrNoCachedAddress
		}
		return p.LastAddress, nil
	}
	addr := strings.TrimSpace(raw)
	if !addressRE.MatchString(addr) {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// readyTip moves a single tip to ready_for_admin_fulfillment.
func (s *ClaimService) readyTip(ctx context.Context, user UserRef, tipID, address string, res *ClaimResult) error {
	tip, err := repo.GetTip(ctx, s.DB, tipID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// The context points at a vanished tip; drop it so the user
			// is not stuck.
			_ = s.Tracker.Clear(ctx, user.ID)
			return ErrNoActiveContext
		}
		return storeErr(err)
	}
	if !tip.Status.CanTransition(domain.StatusReadyForAdmin) {
		_ = s.Tracker.Clear(ctx, user.ID)
		return ErrNoActiveContext
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uerr := repo.UpdateTip(ctx, tx, tip.ID, map[string]any{
			"payout_address": address,
			"status":         domain.StatusReadyForAdmin,
		}); uerr != nil {
			return uerr
		}
		if perr := repo.UpsertProfile(ctx, tx, user.ID, user.handle(), address); perr != nil {
			return perr
		}
		return repo.ClearContext(ctx, tx, user.ID)
	})
	if err != nil {
		return storeErr(err)
	}

	tip.PayoutAddress = &address
	tip.Status = domain.StatusReadyForAdmin
	res.Tip = tip
	return nil
}

// readyBatch moves a batch to ready_for_admin_fulfillment and cascades its
// absorbed tips to ready_for_admin_fulfillment_batch in the same transaction.
func (s *ClaimService) readyBatch(ctx context.Context, user UserRef, batchID, address string, res *ClaimResult) error {
	batch, err := repo.GetBatchClaim(ctx, s.DB, batchID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			_ = s.Tracker.Clear(ctx, user.ID)
			return ErrNoActiveContext
		}
		return storeErr(err)
	}
	if !batch.Status.CanTransition(domain.StatusReadyForAdmin) {
		_ = s.Tracker.Clear(ctx, user.ID)
		return ErrNoActiveContext
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uerr := repo.UpdateBatchClaim(ctx, tx, batch.ID, map[string]any{
			"payout_address": address,
			"status":         domain.StatusReadyForAdmin,
		}); uerr != nil {
			return uerr
		}
		if _, uerr := repo.UpdateBatchTips(ctx, tx, batch.ID, map[string]any{
			"status": domain.StatusReadyBatchMember,
		}); uerr != nil {
			return uerr
		}
		if perr := repo.UpsertProfile(ctx, tx, user.ID, user.handle(), address); perr != nil {
			return perr
		}
		return repo.ClearContext(ctx, tx, user.ID)
	})
	if err != nil {
		return storeErr(err)
	}

	batch.PayoutAddress = &address
	batch.Status = domain.StatusReadyForAdmin
	res.Batch = batch
	return nil
}

// ConfirmFulfillment finalizes a tip or batch claim by id. The id is looked
// up in both tables; a tip absorbed into a batch is rejected with
// ErrWrongGranularity, pointing the admin at the batch instead. Repeated
// confirmation of the same id fails with ErrAlreadyFulfilled and sends no
// duplicate notifications. txHash may be empty.
func (s *ClaimService) ConfirmFulfillment(ctx context.Context, callerID int64, id, txHash string) (*FulfillmentResult, error) {
	if callerID != s.AdminID {
		return nil, ErrNotAuthorized
	}

	// Serialized like the claim paths: without this, two concurrent /done
	// deliveries for the same id both pass the fulfilled check and both
	// notify.
	unlock := s.locks.lock(callerID)
	defer unlock()

	tip, err := repo.GetTip(ctx, s.DB, id)
	switch {
	case err == nil:
		return s.fulfillTip(ctx, tip, txHash)
	case errors.Is(err, repo.ErrNotFound):
		// fall through to batch lookup
	default:
		return nil, storeErr(err)
	}

	batch, err := repo.GetBatchClaim(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return s.fulfillBatch(ctx, batch, txHash)
}

func (s *ClaimService) fulfillTip(ctx context.Context, tip *domain.Tip, txHash string) (*FulfillmentResult, error) {
	if tip.Status == domain.StatusFulfilled {
		return nil, ErrAlreadyFulfilled
	}
	if tip.BatchID != nil {
		return nil, ErrWrongGranularity
	}

	patch := map[string]any{"status": domain.StatusFulfilled}
	if txHash != "" {
		patch["tx_hash"] = txHash
	}
	if err := repo.UpdateTip(ctx, s.DB, tip.ID, patch); err != nil {
		return nil, storeErr(err)
	}
	tip.Status = domain.StatusFulfilled
	if txHash != "" {
		tip.TxHash = &txHash
	}

	s.notifyRecipient(ctx, tip.RecipientID, tipFulfilledNotice(tip))
	s.announce(ctx, tip.OriginChatID, ledgerAnnouncement(s.Rand, tip.Amount, tip.Currency, recipientDisplay(tip.RecipientUsername, tip.RecipientID)))
	return &FulfillmentResult{Tip: tip}, nil
}

func (s *ClaimService) fulfillBatch(ctx context.Context, batch *domain.BatchClaim, txHash string) (*FulfillmentResult, error) {
	if batch.Status == domain.StatusFulfilled {
		return nil, ErrAlreadyFulfilled
	}

	patch := map[string]any{"status": domain.StatusFulfilled}
	childPatch := map[string]any{"status": domain.StatusFulfilled}
	if txHash != "" {
		patch["tx_hash"] = txHash
		childPatch["tx_hash"] = txHash
	}

	var children int64
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if uerr := repo.UpdateBatchClaim(ctx, tx, batch.ID, patch); uerr != nil {
			return uerr
		}
		n, uerr := repo.UpdateBatchTips(ctx, tx, batch.ID, childPatch)
		children = n
		return uerr
	})
	if err != nil {
		return nil, storeErr(err)
	}
	batch.Status = domain.StatusFulfilled
	if txHash != "" {
		batch.TxHash = &txHash
	}

	s.notifyRecipient(ctx, &batch.RecipientID, batchFulfilledNotice(batch))

	// Announce in every chat the absorbed tips came from.
	if tips, lerr := repo.ListBatchTips(ctx, s.DB, batch.ID); lerr == nil {
		seen := map[int64]bool{}
		for _, t := range tips {
			if !seen[t.OriginChatID] {
				seen[t.OriginChatID] = true
				s.announce(ctx, t.OriginChatID, ledgerAnnouncement(s.Rand, batch.TotalAmount, batch.Currency, batch.DisplayName))
			}
		}
	} else {
		log.Warn().Err(lerr).Str("batch_id", batch.ID).Msg("listing batch tips for announcement")
	}

	return &FulfillmentResult{Batch: batch, ChildCount: int(children)}, nil
}

// ListPendingFulfillment returns the tips and batches waiting on the admin.
func (s *ClaimService) ListPendingFulfillment(ctx context.Context) ([]domain.Tip, []domain.BatchClaim, error) {
	tips, err := repo.ListTipsByStatus(ctx, s.DB, domain.StatusReadyForAdmin)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	batches, err := repo.ListBatchClaimsByStatus(ctx, s.DB, domain.StatusReadyForAdmin)
	if err != nil {
		return nil, nil, storeErr(err)
	}
	return tips, batches, nil
}

// ListOutstanding returns every tip not yet fulfilled and not absorbed into
// a batch, oldest first.
func (s *ClaimService) ListOutstanding(ctx context.Context) ([]domain.Tip, error) {
	tips, err := repo.ListOutstandingTips(ctx, s.DB)
	if err != nil {
		return nil, storeErr(err)
	}
	return tips, nil
}

// Stats returns per-status counts and exact fulfilled totals per currency.
func (s *ClaimService) Stats(ctx context.Context) (*LedgerStats, error) {
	counts, err := repo.TipStatusCounts(ctx, s.DB)
	if err != nil {
		return nil, storeErr(err)
	}
	totals, err := repo.FulfilledTotals(ctx, s.DB)
	if err != nil {
		return nil, storeErr(err)
	}
	return &LedgerStats{StatusCounts: counts, FulfilledTotals: totals}, nil
}

// announce sends a chat message, logging (not propagating) failures.
func (s *ClaimService) announce(ctx context.Context, chatID int64, text string) {
	if s.Notifier == nil || chatID == 0 {
		return
	}
	if err := s.Notifier.SendToChat(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("chat announcement failed")
	}
}

// notifyAdmin DMs the admin, logging failures.
func (s *ClaimService) notifyAdmin(ctx context.Context, text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendToUser(ctx, s.AdminID, text); err != nil {
		log.Warn().Err(err).Msg("admin notification failed")
	}
}

// notifyRecipient DMs a recipient; when the id is unknown or the DM fails
// (the user may never have started the bot), the admin gets a notice instead.
func (s *ClaimService) notifyRecipient(ctx context.Context, userID *int64, text string) {
	if s.Notifier == nil {
		return
	}
	if userID == nil {
		s.notifyAdmin(ctx, "Recipient has no captured Telegram id; could not DM the fulfillment notice. They can check their wallet.")
		return
	}
	if err := s.Notifier.SendToUser(ctx, *userID, text); err != nil {
		log.Warn().Err(err).Int64("user_id", *userID).Msg("recipient DM failed")
		s.notifyAdmin(ctx, "Could not DM the recipient about fulfillment. They might need to start a DM with the bot first.")
	}
}

// normalizeHandle lowercases a username and ensures a single leading '@'.
// Empty input stays empty.
func normalizeHandle(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	return "@" + strings.TrimPrefix(s, "@")
}
