// Package bot – command reply texts.
package bot

import (
	"fmt"
	"strings"

	"github.com/tccp/tipbot-backend/internal/domain"
	"github.com/tccp/tipbot-backend/internal/services"
)

const thanksLine = "Keep up the good work - $chdpu to $1, $tara $10"

func startReply(private bool) string {
	if private {
		return "Hello! I am your admin-tip bot. Send me /claimtip if you have a pending tip, or /help to see what else I can do."
	}
	return "Hello! I am your admin-tip bot. Admins can use /tip here. Other users can DM me directly for /claimtip."
}

func helpReply() string {
	return strings.TrimSpace(`
I am a specialized bot for admin-only CHDPU/TARA tipping.

Commands:
/tip @username <amount> <chdpu|tara> - (Admin Only) Initiate a tip to a user in a group.
/tip - (Admin Only) As a reply to someone's message: tip them the default amount.
/claimtip - (User in DM) Claim a pending tip.
/claimall - (User in DM) Claim all your pending tips of one currency at once.
/burn - While claiming: send the tip to the burn address instead.
/reuselast - While claiming: reuse the last address you supplied.
/done <id> <tx_hash> - (Admin Only, in DM) Mark a tip or batch as fulfilled and notify the recipient.
/pending - (Admin Only) List claims waiting on fulfillment.
/outstanding - (Admin Only) List tips not yet fulfilled.
/stats - Ledger statistics.
`)
}

func tipUsageReply() string {
	return "Usage: /tip @username <amount> <chdpu|tara>, or reply to someone's message with /tip."
}

func noPendingReply(firstName string) string {
	if firstName == "" {
		firstName = "there"
	}
	return fmt.Sprintf("Sorry %s - you've got no tips to claim yet. Be an engaged community member in future to get tips! Participate in social media raids, make memes, be active in the TG, make your own unique $chdpu posts on X. All of these could lead to more than just the tip ;) nfa", firstName)
}

func claimPromptReply(t *domain.Tip) string {
	return fmt.Sprintf(
		"Hey chad, you're claiming %s. Reply with a valid Taraxa EVM address (starting with 0x...) to receive your tip.\n\n🔥 Want to burn it instead? Send /burn.\n♻️ Want your last address again? Send /reuselast.\n\nPU TO THE MOON 🗿🟢",
		services.FormatCurrency(t.Amount, t.Currency),
	)
}

func batchPromptReply(b *domain.BatchClaim, skipped int) string {
	msg := fmt.Sprintf(
		"Hey chad, you're claiming %s in one go. Reply with a valid Taraxa EVM address (starting with 0x...), or send /burn or /reuselast.",
		services.FormatCurrency(b.TotalAmount, b.Currency),
	)
	if skipped > 0 {
		msg += fmt.Sprintf("\n\n(%d tip(s) in another currency were left pending — claim them separately.)", skipped)
	}
	return msg
}

func addressAcceptedReply(res *services.ClaimResult) string {
	if res.Burned {
		return "🔥 Burn it is. The Chadmin has been notified. " + thanksLine
	}
	return "Thank you! Your address has been received. The Chadmin will fulfill your request shortly. " + thanksLine
}

func invalidAddressReply() string {
	return "That doesn't look like a valid Taraxa EVM address. Please try again. It should start with 0x and be 42 characters long."
}

func noCachedAddressReply() string {
	return "I don't have an address on file for you yet. Supply one once with a normal claim and /reuselast will work after that."
}

func noContextReply() string {
	return "I wasn't expecting an address from you right now. Send /claimtip (or /claimall) first."
}

func retryLaterReply() string {
	return "An unexpected error occurred. Please try again later."
}
