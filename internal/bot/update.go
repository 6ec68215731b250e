// Package bot translates inbound chat-platform updates into claim service
// calls and renders the replies. It owns command classification, per-update
// idempotency, and the outbound Bot API client.
package bot

// Update is one inbound webhook payload from the chat platform.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of the platform message object the bot consumes.
type Message struct {
	MessageID int64     `json:"message_id"`
	From      *User     `json:"from"`
	Chat      Chat      `json:"chat"`
	Text      string    `json:"text"`
	Entities  []Entity  `json:"entities,omitempty"`
	ReplyTo   *Message  `json:"reply_to_message,omitempty"`
}

// User identifies the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Chat identifies where a message was sent.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"` // "private", "group", "supergroup", "channel"
}

// Private reports whether the chat is a direct conversation with the bot.
func (c Chat) Private() bool { return c.Type == "private" }

// Entity annotates a span of the message text. A "text_mention" entity
// carries the mentioned user, which is how a recipient's numeric id can be
// resolved at issue time.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}
