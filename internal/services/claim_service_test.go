package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tccp/tipbot-backend/internal/domain"
	"github.com/tccp/tipbot-backend/internal/repo"
)

const (
	testAdminID  = int64(1)
	testChatID   = int64(-100500)
	validAddress = "0x1111111111111111111111111111111111111111"
)

// sentMsg records one outbound notifier call.
type sentMsg struct {
	To   int64
	Text string
}

// fakeNotifier captures sends and can be told to fail DMs to chosen users.
type fakeNotifier struct {
	mu       sync.Mutex
	users    []sentMsg
	chats    []sentMsg
	failUser map[int64]bool
}

func (f *fakeNotifier) SendToUser(_ context.Context, userID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUser[userID] {
		return errors.New("blocked by user")
	}
	f.users = append(f.users, sentMsg{To: userID, Text: text})
	return nil
}

func (f *fakeNotifier) SendToChat(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, sentMsg{To: chatID, Text: text})
	return nil
}

func (f *fakeNotifier) SendImage(context.Context, int64, string, string) error { return nil }

func (f *fakeNotifier) userMsgs(to int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.users {
		if m.To == to {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeNotifier) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users, f.chats = nil, nil
}

func newClaimService(t *testing.T) (*ClaimService, *fakeNotifier, *gorm.DB) {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("claim_service_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.Tip{}, &domain.BatchClaim{},
		&domain.ConversationContext{}, &domain.UserProfile{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	fn := &fakeNotifier{failUser: map[int64]bool{}}
	svc := &ClaimService{
		DB:       db,
		Notifier: fn,
		Tracker:  &ContextTracker{DB: db},
		AdminID:  testAdminID,
		BotName:  "@chdputip_bot",
		Rand:     pinnedRand{0},
	}
	return svc, fn, db
}

func chad(id int64) UserRef {
	return UserRef{ID: id, Username: "chad", FirstName: "Chad"}
}

func issue(t *testing.T, svc *ClaimService, amount int64, cur domain.Currency) *domain.Tip {
	t.Helper()
	tip, err := svc.IssueTip(context.Background(), testAdminID, "@chad", nil, decimal.NewFromInt(amount), cur, testChatID)
	if err != nil {
		t.Fatalf("IssueTip: %v", err)
	}
	return tip
}

func TestIssueTip_Validation(t *testing.T) {
	svc, _, _ := newClaimService(t)
	ctx := context.Background()
	amount := decimal.NewFromInt(100)

	if _, err := svc.IssueTip(ctx, 999, "@chad", nil, amount, domain.CurrencyCHDPU, testChatID); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin issuer: got %v", err)
	}
	if _, err := svc.IssueTip(ctx, testAdminID, "@chad", nil, decimal.Zero, domain.CurrencyCHDPU, testChatID); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero amount: got %v", err)
	}
	if _, err := svc.IssueTip(ctx, testAdminID, "@chad", nil, decimal.NewFromInt(-5), domain.CurrencyCHDPU, testChatID); !errors.Is(err, ErrValidation) {
		t.Fatalf("negative amount: got %v", err)
	}
	if _, err := svc.IssueTip(ctx, testAdminID, "@chad", nil, amount, domain.Currency("doge"), testChatID); !errors.Is(err, ErrValidation) {
		t.Fatalf("unknown currency: got %v", err)
	}
	if _, err := svc.IssueTip(ctx, testAdminID, "", nil, amount, domain.CurrencyCHDPU, testChatID); !errors.Is(err, ErrValidation) {
		t.Fatalf("no recipient reference: got %v", err)
	}

	var count int64
	if err := svc.DB.Model(&domain.Tip{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected issues must persist nothing, found %d rows", count)
	}
}

func TestIssueTip_PersistsAndAnnounces(t *testing.T) {
	svc, fn, _ := newClaimService(t)

	tip := issue(t, svc, 500, domain.CurrencyCHDPU)
	if tip.Status != domain.StatusAwaitingClaim {
		t.Fatalf("unexpected initial status %s", tip.Status)
	}
	if tip.RecipientUsername != "@chad" {
		t.Fatalf("handle not normalized: %q", tip.RecipientUsername)
	}
	if len(fn.chats) != 1 || fn.chats[0].To != testChatID {
		t.Fatalf("expected one announcement in the origin chat, got %+v", fn.chats)
	}
	if !strings.Contains(fn.chats[0].Text, "@chad") {
		t.Fatalf("announcement should address the recipient: %q", fn.chats[0].Text)
	}
}

func TestIssueTip_HandleCaseInsensitive(t *testing.T) {
	svc, _, _ := newClaimService(t)

	tip, err := svc.IssueTip(context.Background(), testAdminID, "@ChAd", nil, decimal.NewFromInt(10), domain.CurrencyTARA, testChatID)
	if err != nil {
		t.Fatalf("IssueTip: %v", err)
	}
	if tip.RecipientUsername != "@chad" {
		t.Fatalf("expected lowercased handle, got %q", tip.RecipientUsername)
	}

	// The mixed-case issue still matches the lowercase caller handle.
	got, err := svc.InitiateClaim(context.Background(), chad(42))
	if err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if got.ID != tip.ID {
		t.Fatalf("expected to claim the issued tip")
	}
}

func TestInitiateClaim_NoPendingTips(t *testing.T) {
	svc, _, _ := newClaimService(t)
	if _, err := svc.InitiateClaim(context.Background(), chad(42)); !errors.Is(err, ErrNoPendingTips) {
		t.Fatalf("got %v", err)
	}
}

func TestInitiateClaim_OldestFirstAndContextSet(t *testing.T) {
	svc, _, db := newClaimService(t)
	ctx := context.Background()

	first := issue(t, svc, 100, domain.CurrencyCHDPU)
	issue(t, svc, 200, domain.CurrencyCHDPU)

	got, err := svc.InitiateClaim(ctx, chad(42))
	if err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected the oldest tip first")
	}
	if got.Status != domain.StatusAwaitingAddress {
		t.Fatalf("unexpected status %s", got.Status)
	}
	if got.RecipientID == nil || *got.RecipientID != 42 {
		t.Fatalf("claimant id not captured: %+v", got.RecipientID)
	}

	cc, err := repo.GetContext(ctx, db, 42)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if cc.Kind != domain.ContextTipAddress || cc.RefID != first.ID {
		t.Fatalf("unexpected context %+v", cc)
	}
}

func TestSupplyAddress_NoContext(t *testing.T) {
	svc, _, _ := newClaimService(t)
	if _, err := svc.SupplyAddress(context.Background(), chad(42), validAddress); !errors.Is(err, ErrNoActiveContext) {
		t.Fatalf("got %v", err)
	}
}

func TestSupplyAddress_InvalidInputKeepsContext(t *testing.T) {
	svc, _, db := newClaimService(t)
	ctx := context.Background()

	issue(t, svc, 100, domain.CurrencyCHDPU)
	tip, err := svc.InitiateClaim(ctx, chad(42))
	if err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}

	bad := []string{
		"not an address",
		"0x123",
		"0x111111111111111111111111111111111111111",    // 39 hex chars
		"0x11111111111111111111111111111111111111zz",   // non-hex
		"0x11111111111111111111111111111111111111111",  // 41 hex chars
		"1111111111111111111111111111111111111111",     // missing 0x
		" 0x1111111111111111111111111111111111111111x", // trailing junk
	}
	for _, input := range bad {
		if _, err := svc.SupplyAddress(ctx, chad(42), input); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("input %q: expected ErrInvalidAddress, got %v", input, err)
		}
	}

	// Context survives failed attempts so the user can retry.
	if _, err := repo.GetContext(ctx, db, 42); err != nil {
		t.Fatalf("context should survive invalid input: %v", err)
	}
	got, err := repo.GetTip(ctx, db, tip.ID)
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if got.Status != domain.StatusAwaitingAddress || got.PayoutAddress != nil {
		t.Fatalf("tip mutated by invalid input: %+v", got)
	}
}

func TestSupplyAddress_WhitespaceTolerated(t *testing.T) {
	svc, _, _ := newClaimService(t)
	ctx := context.Background()

	issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	res, err := svc.SupplyAddress(ctx, chad(42), "  "+validAddress+"\n")
	if err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	if res.Address != validAddress {
		t.Fatalf("expected trimmed address, got %q", res.Address)
	}
}

func TestSupplyAddress_TipBecomesReadyAndAdminNotified(t *testing.T) {
	svc, fn, db := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	fn.reset()

	res, err := svc.SupplyAddress(ctx, chad(42), validAddress)
	if err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	if res.Tip == nil || res.Tip.Status != domain.StatusReadyForAdmin {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Burned {
		t.Fatalf("plain address must not be flagged as burn")
	}

	got, err := repo.GetTip(ctx, db, tip.ID)
	if err != nil {
		t.Fatalf("GetTip: %v", err)
	}
	if got.Status != domain.StatusReadyForAdmin || got.PayoutAddress == nil || *got.PayoutAddress != validAddress {
		t.Fatalf("tip not readied: %+v", got)
	}

	// Context consumed, address cached, admin alerted.
	if _, err := repo.GetContext(ctx, db, 42); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("context should be cleared, got %v", err)
	}
	p, err := repo.GetProfile(ctx, db, 42)
	if err != nil || p.LastAddress != validAddress {
		t.Fatalf("address not cached: %+v, %v", p, err)
	}
	notices := fn.userMsgs(testAdminID)
	if len(notices) != 1 || !strings.Contains(notices[0], tip.ID) || !strings.Contains(notices[0], validAddress) {
		t.Fatalf("expected one admin notice with id and address, got %+v", notices)
	}
}

func TestSupplyAddress_Burn(t *testing.T) {
	svc, fn, db := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}

	res, err := svc.SupplyAddress(ctx, chad(42), InputBurn)
	if err != nil {
		t.Fatalf("SupplyAddress burn: %v", err)
	}
	if !res.Burned || res.Address != BurnAddress {
		t.Fatalf("unexpected burn result %+v", res)
	}

	got, _ := repo.GetTip(ctx, db, tip.ID)
	if got.PayoutAddress == nil || *got.PayoutAddress != BurnAddress {
		t.Fatalf("burn address not persisted: %+v", got)
	}
	notices := fn.userMsgs(testAdminID)
	if len(notices) == 0 || !strings.Contains(notices[len(notices)-1], BurnAddress) {
		t.Fatalf("admin notice should carry the burn address")
	}
}

func TestSupplyAddress_ReuseLast(t *testing.T) {
	svc, _, _ := newClaimService(t)
	ctx := context.Background()

	// No address on file yet.
	issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	_, err := svc.SupplyAddress(ctx, chad(42), InputReuseLast)
	if !errors.Is(err, ErrNoCachedAddress) {
		t.Fatalf("expected ErrNoCachedAddress, got %v", err)
	}
	// The specific error still reads as an invalid-address failure.
	if !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("ErrNoCachedAddress must unwrap to ErrInvalidAddress")
	}

	// Supply once, then reuse on the next claim.
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	issue(t, svc, 200, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("second InitiateClaim: %v", err)
	}
	res, err := svc.SupplyAddress(ctx, chad(42), InputReuseLast)
	if err != nil {
		t.Fatalf("reuse: %v", err)
	}
	if res.Address != validAddress {
		t.Fatalf("expected cached address, got %q", res.Address)
	}
}

func TestSupplyAddress_StaleContextCleared(t *testing.T) {
	svc, _, db := newClaimService(t)
	ctx := context.Background()

	// Context referencing a tip that no longer exists.
	if err := repo.SetContext(ctx, db, 42, domain.ContextTipAddress, "gone"); err != nil {
		t.Fatalf("SetContext: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); !errors.Is(err, ErrNoActiveContext) {
		t.Fatalf("got %v", err)
	}
	if _, err := repo.GetContext(ctx, db, 42); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("stale context should have been dropped")
	}
}

func TestConfirmFulfillment_SingleTipRoundTrip(t *testing.T) {
	svc, fn, db := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	fn.reset()

	res, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, "0xabc123")
	if err != nil {
		t.Fatalf("ConfirmFulfillment: %v", err)
	}
	if res.Tip == nil || res.Tip.Status != domain.StatusFulfilled {
		t.Fatalf("unexpected result %+v", res)
	}

	got, _ := repo.GetTip(ctx, db, tip.ID)
	if got.Status != domain.StatusFulfilled || got.TxHash == nil || *got.TxHash != "0xabc123" {
		t.Fatalf("tip not finalized: %+v", got)
	}

	// Recipient DM plus the public ledger announcement.
	if msgs := fn.userMsgs(42); len(msgs) != 1 || !strings.Contains(msgs[0], "0xabc123") {
		t.Fatalf("expected recipient DM with tx hash, got %+v", msgs)
	}
	if len(fn.chats) != 1 || fn.chats[0].To != testChatID {
		t.Fatalf("expected ledger announcement in origin chat, got %+v", fn.chats)
	}
}

func TestConfirmFulfillment_EmptyTxHashAllowed(t *testing.T) {
	svc, _, db := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}

	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, ""); err != nil {
		t.Fatalf("ConfirmFulfillment: %v", err)
	}
	got, _ := repo.GetTip(ctx, db, tip.ID)
	if got.Status != domain.StatusFulfilled || got.TxHash != nil {
		t.Fatalf("expected fulfilled without tx hash, got %+v", got)
	}
}

func TestConfirmFulfillment_RepeatIsIdempotent(t *testing.T) {
	svc, fn, _ := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, "0xabc"); err != nil {
		t.Fatalf("first confirmation: %v", err)
	}
	fn.reset()

	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, "0xabc"); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	if len(fn.users) != 0 || len(fn.chats) != 0 {
		t.Fatalf("repeat confirmation must not re-notify: %+v %+v", fn.users, fn.chats)
	}
}

func TestConfirmFulfillment_ConcurrentRepeatsNotifyOnce(t *testing.T) {
	svc, fn, _ := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	fn.reset()

	// The webhook transport delivers updates concurrently, so a double-sent
	// /done can race itself. Exactly one attempt may win.
	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, "0xabc")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyFulfilled):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != attempts-1 {
		t.Fatalf("want 1 winner and %d rejections, got %d/%d", attempts-1, ok, dup)
	}
	if msgs := fn.userMsgs(42); len(msgs) != 1 {
		t.Fatalf("recipient notified %d times for one fulfillment: %+v", len(msgs), msgs)
	}
	if len(fn.chats) != 1 {
		t.Fatalf("expected a single ledger announcement, got %+v", fn.chats)
	}
}

func TestConfirmFulfillment_Rejections(t *testing.T) {
	svc, _, _ := newClaimService(t)
	ctx := context.Background()

	if _, err := svc.ConfirmFulfillment(ctx, 999, "whatever", ""); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin: got %v", err)
	}
	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, "no-such-id", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown id: got %v", err)
	}
}

func TestConfirmFulfillment_RecipientDMFailureFallsBackToAdmin(t *testing.T) {
	svc, fn, _ := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	fn.reset()
	fn.failUser[42] = true

	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, "0xabc"); err != nil {
		t.Fatalf("ConfirmFulfillment: %v", err)
	}
	notices := fn.userMsgs(testAdminID)
	if len(notices) != 1 || !strings.Contains(notices[0], "Could not DM") {
		t.Fatalf("expected admin fallback notice, got %+v", notices)
	}
}

func TestBatchClaim_FullRoundTrip(t *testing.T) {
	svc, fn, db := newClaimService(t)
	ctx := context.Background()

	a := issue(t, svc, 500, domain.CurrencyCHDPU)
	b := issue(t, svc, 700, domain.CurrencyCHDPU)
	c := issue(t, svc, 300, domain.CurrencyCHDPU)
	other := issue(t, svc, 50, domain.CurrencyTARA)

	batch, skipped, err := svc.InitiateBatchClaim(ctx, chad(42))
	if err != nil {
		t.Fatalf("InitiateBatchClaim: %v", err)
	}
	if !batch.TotalAmount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("expected total 1500, got %s", batch.TotalAmount)
	}
	if batch.Status != domain.StatusBatchAwaiting || batch.Currency != domain.CurrencyCHDPU {
		t.Fatalf("unexpected batch %+v", batch)
	}
	if skipped != 1 {
		t.Fatalf("expected 1 skipped tara tip, got %d", skipped)
	}

	// All absorbed children carry the batch id and the member status.
	for _, id := range []string{a.ID, b.ID, c.ID} {
		child, _ := repo.GetTip(ctx, db, id)
		if child.Status != domain.StatusPartOfBatch || child.BatchID == nil || *child.BatchID != batch.ID {
			t.Fatalf("child %s not absorbed: %+v", id, child)
		}
	}
	left, _ := repo.GetTip(ctx, db, other.ID)
	if left.Status != domain.StatusAwaitingClaim || left.BatchID != nil {
		t.Fatalf("other-currency tip must stay claimable: %+v", left)
	}

	// An absorbed tip can no longer be claimed individually.
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("claiming the remaining tara tip: %v", err)
	}
	// (that claim picked up the tara tip; put its context aside)
	if err := svc.Tracker.Clear(ctx, 42); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if err := svc.Tracker.Set(ctx, 42, domain.ContextBatchAddress, batch.ID); err != nil {
		t.Fatalf("Set: %v", err)
	}

	fn.reset()
	res, err := svc.SupplyAddress(ctx, chad(42), validAddress)
	if err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}
	if res.Batch == nil || res.Batch.Status != domain.StatusReadyForAdmin {
		t.Fatalf("unexpected supply result %+v", res)
	}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		child, _ := repo.GetTip(ctx, db, id)
		if child.Status != domain.StatusReadyBatchMember {
			t.Fatalf("child %s should be ready_for_admin_fulfillment_batch, got %s", id, child.Status)
		}
	}
	if notices := fn.userMsgs(testAdminID); len(notices) != 1 || !strings.Contains(notices[0], batch.ID) {
		t.Fatalf("expected admin notice with batch id, got %+v", notices)
	}

	// Confirming one absorbed child is the wrong granularity.
	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, a.ID, "0xdead"); !errors.Is(err, ErrWrongGranularity) {
		t.Fatalf("expected ErrWrongGranularity, got %v", err)
	}

	fn.reset()
	fres, err := svc.ConfirmFulfillment(ctx, testAdminID, batch.ID, "0xbatchtx")
	if err != nil {
		t.Fatalf("ConfirmFulfillment batch: %v", err)
	}
	if fres.Batch == nil || fres.ChildCount != 3 {
		t.Fatalf("unexpected fulfillment result %+v", fres)
	}
	for _, id := range []string{a.ID, b.ID, c.ID} {
		child, _ := repo.GetTip(ctx, db, id)
		if child.Status != domain.StatusFulfilled || child.TxHash == nil || *child.TxHash != "0xbatchtx" {
			t.Fatalf("child %s not cascaded: %+v", id, child)
		}
	}
	gotBatch, _ := repo.GetBatchClaim(ctx, db, batch.ID)
	if gotBatch.Status != domain.StatusFulfilled || gotBatch.TxHash == nil || *gotBatch.TxHash != "0xbatchtx" {
		t.Fatalf("batch not finalized: %+v", gotBatch)
	}

	// One recipient DM; one announcement per distinct origin chat.
	if msgs := fn.userMsgs(42); len(msgs) != 1 {
		t.Fatalf("expected one recipient DM, got %+v", msgs)
	}
	if len(fn.chats) != 1 || fn.chats[0].To != testChatID {
		t.Fatalf("expected one ledger announcement, got %+v", fn.chats)
	}

	// Repeat batch confirmation is rejected without new notifications.
	fn.reset()
	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, batch.ID, "0xbatchtx"); !errors.Is(err, ErrAlreadyFulfilled) {
		t.Fatalf("expected ErrAlreadyFulfilled, got %v", err)
	}
	if len(fn.users) != 0 || len(fn.chats) != 0 {
		t.Fatalf("repeat batch confirmation must not re-notify")
	}
}

func TestInitiateBatchClaim_RequiresTwoTips(t *testing.T) {
	svc, _, _ := newClaimService(t)
	ctx := context.Background()

	if _, _, err := svc.InitiateBatchClaim(ctx, chad(42)); !errors.Is(err, ErrInsufficientTips) {
		t.Fatalf("no tips: got %v", err)
	}
	issue(t, svc, 100, domain.CurrencyCHDPU)
	if _, _, err := svc.InitiateBatchClaim(ctx, chad(42)); !errors.Is(err, ErrInsufficientTips) {
		t.Fatalf("one tip: got %v", err)
	}
}

func TestListPendingFulfillmentAndStats(t *testing.T) {
	svc, _, _ := newClaimService(t)
	ctx := context.Background()

	tip := issue(t, svc, 100, domain.CurrencyCHDPU)
	issue(t, svc, 200, domain.CurrencyTARA)
	if _, err := svc.InitiateClaim(ctx, chad(42)); err != nil {
		t.Fatalf("InitiateClaim: %v", err)
	}
	if _, err := svc.SupplyAddress(ctx, chad(42), validAddress); err != nil {
		t.Fatalf("SupplyAddress: %v", err)
	}

	tips, batches, err := svc.ListPendingFulfillment(ctx)
	if err != nil {
		t.Fatalf("ListPendingFulfillment: %v", err)
	}
	if len(tips) != 1 || tips[0].ID != tip.ID || len(batches) != 0 {
		t.Fatalf("unexpected pending view: %d tips, %d batches", len(tips), len(batches))
	}

	if _, err := svc.ConfirmFulfillment(ctx, testAdminID, tip.ID, "0x1"); err != nil {
		t.Fatalf("ConfirmFulfillment: %v", err)
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.StatusCounts[domain.StatusFulfilled] != 1 || stats.StatusCounts[domain.StatusAwaitingClaim] != 1 {
		t.Fatalf("unexpected counts %+v", stats.StatusCounts)
	}
	if !stats.FulfilledTotals[domain.CurrencyCHDPU].Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected totals %+v", stats.FulfilledTotals)
	}

	out, err := svc.ListOutstanding(ctx)
	if err != nil {
		t.Fatalf("ListOutstanding: %v", err)
	}
	if len(out) != 1 || out[0].Currency != domain.CurrencyTARA {
		t.Fatalf("expected only the unclaimed tara tip outstanding, got %+v", out)
	}
}
