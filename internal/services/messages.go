// Package services – notification texts
//
// Texts the claim service fans out after a transition commits. Command
// replies live in the bot package; only the asynchronous notifications
// (announcements, admin alerts, recipient DMs) are built here.
package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tccp/tipbot-backend/internal/domain"
)

// FormatCurrency renders an amount with its upper-cased currency code and
// the community's emoji for it.
func FormatCurrency(amount decimal.Decimal, cur domain.Currency) string {
	symbol := "🗿🟢"
	if cur == domain.CurrencyTARA {
		symbol = "🟢"
	}
	code := strings.ToUpper(string(cur))
	if code == "" {
		code = "UNKNOWN"
	}
	return fmt.Sprintf("%s %s %s", amount.String(), code, symbol)
}

// recipientDisplay prefers the handle, falling back to the numeric id.
func recipientDisplay(handle string, id *int64) string {
	if handle != "" {
		return handle
	}
	if id != nil {
		return "user " + strconv.FormatInt(*id, 10)
	}
	return "an anonymous chad"
}

// tipAnnouncement is posted in the origin group when a tip is issued.
func tipAnnouncement(t *domain.Tip, botName string) string {
	who := recipientDisplay(t.RecipientUsername, t.RecipientID)
	return fmt.Sprintf(
		"%s - 💰You've been tipped %s! Please DM %s and send /claimtip to claim your tip.\n\nThank you for contributing to (TCCP) Taraxa Chad Culture Production",
		who, FormatCurrency(t.Amount, t.Currency), botName,
	)
}

// adminReadyNotice alerts the admin that a claim is ready to pay out. It
// carries everything needed to execute and later confirm the transfer.
func adminReadyNotice(res *ClaimResult, user UserRef) string {
	var b strings.Builder
	b.WriteString("💰 NEW TIP READY FOR MANUAL FULFILLMENT! 💰\n\n")
	switch {
	case res.Tip != nil:
		fmt.Fprintf(&b, "Tip ID: %s\n", res.Tip.ID)
		fmt.Fprintf(&b, "Recipient: %s (TG ID: %d)\n", recipientDisplay(res.Tip.RecipientUsername, res.Tip.RecipientID), user.ID)
		fmt.Fprintf(&b, "Amount: %s\n", FormatCurrency(res.Tip.Amount, res.Tip.Currency))
	case res.Batch != nil:
		fmt.Fprintf(&b, "Batch ID: %s\n", res.Batch.ID)
		fmt.Fprintf(&b, "Recipient: %s (TG ID: %d)\n", res.Batch.DisplayName, user.ID)
		fmt.Fprintf(&b, "Amount: %s\n", FormatCurrency(res.Batch.TotalAmount, res.Batch.Currency))
	}
	fmt.Fprintf(&b, "Address: %s\n", res.Address)
	if res.Burned {
		b.WriteString("(burn address — nothing to send on-chain unless you want the theatrics)\n")
	}
	b.WriteString("\nPlease manually send this tip, then reply with /done <id> <tx_hash>.")
	return b.String()
}

// tipFulfilledNotice is DMed to the recipient after the admin confirms.
func tipFulfilledNotice(t *domain.Tip) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Your tip for %s has been sent! 🎉\n", FormatCurrency(t.Amount, t.Currency))
	if t.PayoutAddress != nil && strings.EqualFold(*t.PayoutAddress, BurnAddress) {
		fmt.Fprintf(&b, "(Note: this tip went to the burn address %s as per your request.)\n", BurnAddress)
	}
	if t.TxHash != nil {
		fmt.Fprintf(&b, "Transaction: %s\n", *t.TxHash)
	}
	return b.String()
}

// batchFulfilledNotice is DMed to the recipient after a batch confirmation.
func batchFulfilledNotice(batch *domain.BatchClaim) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎉 Your batch claim for %s has been sent! 🎉\n", FormatCurrency(batch.TotalAmount, batch.Currency))
	if batch.PayoutAddress != nil && strings.EqualFold(*batch.PayoutAddress, BurnAddress) {
		fmt.Fprintf(&b, "(Note: this claim went to the burn address %s as per your request.)\n", BurnAddress)
	}
	if batch.TxHash != nil {
		fmt.Fprintf(&b, "Transaction: %s\n", *batch.TxHash)
	}
	return b.String()
}

// ledgerAnnouncement is the public fulfillment line posted back to the chat
// the tips came from, with the amount in a random denomination.
func ledgerAnnouncement(r RandSource, amount decimal.Decimal, cur domain.Currency, who string) string {
	return fmt.Sprintf("📜 %s just received %s. PU TO THE MOON 🗿🟢", who, RenderDenomination(r, amount, cur))
}
