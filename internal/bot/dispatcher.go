// Package bot – update dispatcher.
//
// The dispatcher is the single entry point for inbound updates. It drops
// redelivered updates (the platform retries webhooks on timeouts), classifies
// each message exactly once — command with arguments, command as a reply,
// or free text — and routes to the claim service. Free text is consumed as
// address input only when the sender has an active conversation context and
// the text does not carry the command marker; commands are never
// misinterpreted as addresses because the command branch is taken first.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/tccp/tipbot-backend/internal/domain"
	"github.com/tccp/tipbot-backend/internal/repo"
	"github.com/tccp/tipbot-backend/internal/services"
)

// Defaults configures the bare/reply form of /tip.
type Defaults struct {
	TipAmount   decimal.Decimal
	TipCurrency domain.Currency
}

// Dispatcher routes inbound updates to the claim service and replies in the
// chat the update came from.
type Dispatcher struct {
	DB       *gorm.DB
	Claims   *services.ClaimService
	Notifier services.Notifier
	AdminID  int64
	// BotName is the bot's "@handle"; command suffixes like /tip@bot are
	// stripped against it.
	BotName  string
	Defaults Defaults
	// UpdateTTL bounds how long a processed update id is remembered.
	UpdateTTL time.Duration
}

// tipShape is the one-time classification of a /tip invocation.
type tipShape int

const (
	tipExplicit  tipShape = iota // /tip @user <amount> <currency>
	tipReply                     // bare /tip as a reply to the recipient
	tipMalformed                 // anything else
)

// Handle processes one update end to end. It never returns an error to the
// transport; all failures become chat replies or log lines so the webhook
// always acknowledges.
func (d *Dispatcher) Handle(ctx context.Context, upd *Update) {
	if upd == nil || upd.Message == nil || upd.Message.From == nil {
		updatesTotal.WithLabelValues("ignored").Inc()
		return
	}

	if err := repo.MarkUpdateProcessed(ctx, d.DB, upd.UpdateID, d.updateTTL()); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			updatesTotal.WithLabelValues("duplicate").Inc()
			log.Debug().Int64("update_id", upd.UpdateID).Msg("dropping redelivered update")
			return
		}
		// Best effort: a dedupe bookkeeping failure must not eat the update.
		log.Warn().Err(err).Int64("update_id", upd.UpdateID).Msg("recording processed update")
	}

	msg := upd.Message
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		updatesTotal.WithLabelValues("ignored").Inc()
		return
	}

	if strings.HasPrefix(text, "/") {
		d.dispatchCommand(ctx, msg, text)
	} else {
		d.handleFreeText(ctx, msg, text)
	}
	updatesTotal.WithLabelValues("handled").Inc()
}

func (d *Dispatcher) updateTTL() time.Duration {
	if d.UpdateTTL > 0 {
		return d.UpdateTTL
	}
	return 24 * time.Hour
}

// dispatchCommand parses the command name once and branches on it.
func (d *Dispatcher) dispatchCommand(ctx context.Context, msg *Message, text string) {
	fields := strings.Fields(text)
	name := strings.ToLower(fields[0])
	if at := strings.IndexByte(name, '@'); at > 0 {
		// "/tip@chdputip_bot" → "/tip"; ignore commands aimed at other bots.
		if d.BotName != "" && !strings.EqualFold(name[at:], d.BotName) {
			return
		}
		name = name[:at]
	}
	args := fields[1:]

	switch name {
	case "/start":
		d.reply(ctx, msg.Chat.ID, startReply(msg.Chat.Private()))
	case "/help":
		d.reply(ctx, msg.Chat.ID, helpReply())
	case "/tip":
		d.handleTip(ctx, msg, args)
	case "/claimtip":
		d.handleClaim(ctx, msg)
	case "/claimall":
		d.handleClaimAll(ctx, msg)
	case "/burn":
		d.handleSupply(ctx, msg, services.InputBurn)
	case "/reuselast":
		d.handleSupply(ctx, msg, services.InputReuseLast)
	case "/done", "/donebatch":
		d.handleDone(ctx, msg, args)
	case "/pending":
		d.handlePending(ctx, msg)
	case "/outstanding":
		d.handleOutstanding(ctx, msg)
	case "/stats":
		d.handleStats(ctx, msg)
	default:
		// unknown commands are ignored, matching platform bot etiquette
	}
}

// classifyTip decides the argument shape of a /tip invocation exactly once.
func classifyTip(msg *Message, args []string) tipShape {
	if len(args) >= 3 && strings.HasPrefix(args[0], "@") {
		return tipExplicit
	}
	if len(args) == 0 && msg.ReplyTo != nil && msg.ReplyTo.From != nil {
		return tipReply
	}
	return tipMalformed
}

func (d *Dispatcher) handleTip(ctx context.Context, msg *Message, args []string) {
	var (
		handle      string
		recipientID *int64
		amount      decimal.Decimal
		currency    domain.Currency
	)

	switch classifyTip(msg, args) {
	case tipExplicit:
		handle = args[0]
		var err error
		amount, err = decimal.NewFromString(args[1])
		if err != nil {
			commandsTotal.WithLabelValues("tip", "rejected").Inc()
			d.reply(ctx, msg.Chat.ID, "Please specify a valid positive amount to tip.")
			return
		}
		currency = domain.Currency(strings.ToLower(args[2]))
		recipientID = mentionedUserID(msg, handle)
	case tipReply:
		recipient := msg.ReplyTo.From
		handle = recipient.Username
		recipientID = &recipient.ID
		amount = d.Defaults.TipAmount
		currency = d.Defaults.TipCurrency
	default:
		commandsTotal.WithLabelValues("tip", "rejected").Inc()
		d.reply(ctx, msg.Chat.ID, tipUsageReply())
		return
	}

	tip, err := d.Claims.IssueTip(ctx, msg.From.ID, handle, recipientID, amount, currency, msg.Chat.ID)
	if err != nil {
		commandsTotal.WithLabelValues("tip", outcomeFor(err)).Inc()
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}
	commandsTotal.WithLabelValues("tip", "ok").Inc()
	log.Info().Str("tip_id", tip.ID).Str("amount", tip.Amount.String()).Str("currency", string(tip.Currency)).Msg("tip issued")
}

// mentionedUserID resolves the numeric id behind a handle when the platform
// attached a text_mention entity for it; plain @mentions carry no id.
func mentionedUserID(msg *Message, handle string) *int64 {
	want := strings.TrimPrefix(strings.ToLower(handle), "@")
	for _, e := range msg.Entities {
		if e.Type != "text_mention" || e.User == nil {
			continue
		}
		if strings.ToLower(e.User.Username) == want {
			id := e.User.ID
			return &id
		}
	}
	return nil
}

func (d *Dispatcher) handleClaim(ctx context.Context, msg *Message) {
	if !msg.Chat.Private() {
		d.reply(ctx, msg.Chat.ID, "no no, almost, please use the /claimtip command in a private chat with me, not in a group.")
		return
	}
	tip, err := d.Claims.InitiateClaim(ctx, userRef(msg.From))
	if err != nil {
		commandsTotal.WithLabelValues("claimtip", outcomeFor(err)).Inc()
		if errors.Is(err, services.ErrNoPendingTips) {
			d.reply(ctx, msg.Chat.ID, noPendingReply(msg.From.FirstName))
			return
		}
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}
	commandsTotal.WithLabelValues("claimtip", "ok").Inc()
	d.reply(ctx, msg.Chat.ID, claimPromptReply(tip))
}

func (d *Dispatcher) handleClaimAll(ctx context.Context, msg *Message) {
	if !msg.Chat.Private() {
		d.reply(ctx, msg.Chat.ID, "Please use /claimall in a private chat with me.")
		return
	}
	batch, skipped, err := d.Claims.InitiateBatchClaim(ctx, userRef(msg.From))
	if err != nil {
		commandsTotal.WithLabelValues("claimall", outcomeFor(err)).Inc()
		switch {
		case errors.Is(err, services.ErrInsufficientTips):
			d.reply(ctx, msg.Chat.ID, "You need at least two pending tips for /claimall. Try /claimtip for a single one.")
		default:
			d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		}
		return
	}
	commandsTotal.WithLabelValues("claimall", "ok").Inc()
	d.reply(ctx, msg.Chat.ID, batchPromptReply(batch, skipped))
}

func (d *Dispatcher) handleSupply(ctx context.Context, msg *Message, input string) {
	if !msg.Chat.Private() {
		return
	}
	res, err := d.Claims.SupplyAddress(ctx, userRef(msg.From), input)
	if err != nil {
		commandsTotal.WithLabelValues("supply", outcomeFor(err)).Inc()
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}
	commandsTotal.WithLabelValues("supply", "ok").Inc()
	d.reply(ctx, msg.Chat.ID, addressAcceptedReply(res))
}

// handleFreeText consumes non-command text as address input. Without an
// active context the text is answered with a hint, never silently dropped.
func (d *Dispatcher) handleFreeText(ctx context.Context, msg *Message, text string) {
	if !msg.Chat.Private() {
		return
	}
	d.handleSupply(ctx, msg, text)
}

func (d *Dispatcher) handleDone(ctx context.Context, msg *Message, args []string) {
	if len(args) < 1 {
		d.reply(ctx, msg.Chat.ID, "Usage: /done <id> [tx_hash]")
		return
	}
	id := args[0]
	txHash := ""
	if len(args) > 1 {
		txHash = args[1]
	}

	res, err := d.Claims.ConfirmFulfillment(ctx, msg.From.ID, id, txHash)
	if err != nil {
		commandsTotal.WithLabelValues("done", outcomeFor(err)).Inc()
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}
	commandsTotal.WithLabelValues("done", "ok").Inc()
	switch {
	case res.Batch != nil:
		d.reply(ctx, msg.Chat.ID, fmt.Sprintf("Batch %s marked as fulfilled (%d tips).", res.Batch.ID, res.ChildCount))
	default:
		d.reply(ctx, msg.Chat.ID, fmt.Sprintf("Tip %s marked as fulfilled.", res.Tip.ID))
	}
}

func (d *Dispatcher) handlePending(ctx context.Context, msg *Message) {
	if msg.From.ID != d.AdminID {
		d.reply(ctx, msg.Chat.ID, "Sorry, only the admin can use this command.")
		return
	}
	tips, batches, err := d.Claims.ListPendingFulfillment(ctx)
	if err != nil {
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}
	if len(tips) == 0 && len(batches) == 0 {
		d.reply(ctx, msg.Chat.ID, "Nothing is waiting on you. 🧘")
		return
	}

	var b strings.Builder
	b.WriteString("Ready for fulfillment:\n")
	for _, t := range tips {
		addr := ""
		if t.PayoutAddress != nil {
			addr = *t.PayoutAddress
		}
		fmt.Fprintf(&b, "• tip %s — %s — %s — %s\n", t.ID, t.RecipientUsername, services.FormatCurrency(t.Amount, t.Currency), addr)
	}
	for _, bc := range batches {
		addr := ""
		if bc.PayoutAddress != nil {
			addr = *bc.PayoutAddress
		}
		fmt.Fprintf(&b, "• batch %s — %s — %s — %s\n", bc.ID, bc.DisplayName, services.FormatCurrency(bc.TotalAmount, bc.Currency), addr)
	}
	d.reply(ctx, msg.Chat.ID, b.String())
}

func (d *Dispatcher) handleOutstanding(ctx context.Context, msg *Message) {
	if msg.From.ID != d.AdminID {
		d.reply(ctx, msg.Chat.ID, "Sorry, only the admin can use this command.")
		return
	}
	tips, err := d.Claims.ListOutstanding(ctx)
	if err != nil {
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}
	if len(tips) == 0 {
		d.reply(ctx, msg.Chat.ID, "No outstanding tips. Everyone got paid. 🎉")
		return
	}

	var b strings.Builder
	b.WriteString("Outstanding tips:\n")
	for _, t := range tips {
		fmt.Fprintf(&b, "• %s — %s — %s — %s\n", t.ID, t.RecipientUsername, services.FormatCurrency(t.Amount, t.Currency), t.Status)
	}
	d.reply(ctx, msg.Chat.ID, b.String())
}

func (d *Dispatcher) handleStats(ctx context.Context, msg *Message) {
	stats, err := d.Claims.Stats(ctx)
	if err != nil {
		d.reply(ctx, msg.Chat.ID, d.errorReply(err))
		return
	}

	var b strings.Builder
	b.WriteString("📊 Ledger stats\n")
	for _, st := range []domain.Status{
		domain.StatusAwaitingClaim,
		domain.StatusAwaitingAddress,
		domain.StatusBatchAwaiting,
		domain.StatusPartOfBatch,
		domain.StatusReadyForAdmin,
		domain.StatusReadyBatchMember,
		domain.StatusFulfilled,
	} {
		if n := stats.StatusCounts[st]; n > 0 {
			fmt.Fprintf(&b, "%s: %d\n", st, n)
		}
	}
	for cur, total := range stats.FulfilledTotals {
		fmt.Fprintf(&b, "fulfilled %s total: %s\n", strings.ToUpper(string(cur)), total.String())
	}
	d.reply(ctx, msg.Chat.ID, b.String())
}

// errorReply maps service errors to user-facing text. Unexpected store
// failures get a generic retry hint; the detail stays in the logs.
func (d *Dispatcher) errorReply(err error) string {
	switch {
	case errors.Is(err, services.ErrNotAuthorized):
		return "Sorry, only the admin can use this command."
	case errors.Is(err, services.ErrValidation):
		return "Please specify a valid positive amount and one of: chdpu, tara."
	case errors.Is(err, services.ErrNoPendingTips):
		return noPendingReply("")
	case errors.Is(err, services.ErrInsufficientTips):
		return "You need at least two pending tips for a batch claim."
	case errors.Is(err, services.ErrNoActiveContext):
		return noContextReply()
	case errors.Is(err, services.ErrNoCachedAddress):
		return noCachedAddressReply()
	case errors.Is(err, services.ErrInvalidAddress):
		return invalidAddressReply()
	case errors.Is(err, services.ErrNotFound):
		return "No tip or batch with that id."
	case errors.Is(err, services.ErrAlreadyFulfilled):
		return "That one is already marked as fulfilled."
	case errors.Is(err, services.ErrWrongGranularity):
		return "That tip is part of a batch claim — confirm the batch id instead."
	default:
		log.Error().Err(err).Msg("command failed")
		return retryLaterReply()
	}
}

// outcomeFor buckets an error for the command metrics.
func outcomeFor(err error) string {
	if errors.Is(err, services.ErrStore) {
		return "error"
	}
	return "rejected"
}

func userRef(u *User) services.UserRef {
	return services.UserRef{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
}

// reply sends text back to the chat; failures are logged only.
func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if d.Notifier == nil || text == "" {
		return
	}
	if err := d.Notifier.SendToChat(ctx, chatID, text); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("reply send failed")
	}
}
