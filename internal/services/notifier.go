// Package services – Notifier contract
//
// The claim service fans out notifications after its store mutations commit:
// group announcements when a tip is issued, admin alerts when a claim becomes
// ready, recipient and ledger messages on fulfillment. Delivery is a
// collaborator concern; send failures are logged by the caller and never
// abort the state transition that preceded them (the mutation is durable by
// the time a send happens).
package services

import "context"

// Notifier delivers text to a specific chat or user on the chat platform.
// Implementations must be safe for concurrent use.
type Notifier interface {
	// SendToUser delivers a direct message to the given user id.
	SendToUser(ctx context.Context, userID int64, text string) error
	// SendToChat delivers a message to the given chat (group or private).
	SendToChat(ctx context.Context, chatID int64, text string) error
	// SendImage delivers an image by URL with a caption to the given chat.
	SendImage(ctx context.Context, chatID int64, url, caption string) error
}
