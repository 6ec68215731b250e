// Package services defines the business logic of the tip ledger: the claim
// state machine, batch aggregation, and conversation context tracking. This
// file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing chat messages is performed at the bot dispatcher layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when a tip is issued with a non-positive
	// amount or an unrecognized currency. Nothing is persisted.
	ErrValidation = errors.New("invalid amount or currency")

	// ErrNotAuthorized is returned when a non-admin invokes an admin-only
	// operation. Nothing is mutated.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNoPendingTips is returned by claim initiation when the caller has
	// no eligible tips waiting.
	ErrNoPendingTips = errors.New("no pending tips")

	// ErrInsufficientTips is returned by batch claim initiation when fewer
	// than two eligible tips match the caller.
	ErrInsufficientTips = errors.New("not enough tips for a batch claim")

	// ErrNoActiveContext is returned when address input arrives from a user
	// with no pending conversation context. The input is ignored.
	ErrNoActiveContext = errors.New("no active claim in progress")

	// ErrInvalidAddress is returned when supplied input is neither a valid
	// EVM address nor a resolvable sentinel. No record is mutated.
	ErrInvalidAddress = errors.New("invalid payout address")

	// ErrNoCachedAddress is the reuse-last-address failure: the user has no
	// previously accepted address on file. It unwraps to ErrInvalidAddress
	// so generic handling still applies, while the dispatcher can give
	// specific guidance.
	ErrNoCachedAddress = fmt.Errorf("%w: no previously used address on file", ErrInvalidAddress)

	// ErrNotFound indicates the given id matches neither a tip nor a batch.
	ErrNotFound = errors.New("tip or batch not found")

	// ErrAlreadyFulfilled is the idempotency guard on confirmation: a
	// repeated /done neither mutates nor re-fires notifications.
	ErrAlreadyFulfilled = errors.New("already fulfilled")

	// ErrWrongGranularity is returned when the admin confirms an individual
	// tip that has been absorbed into a batch; the batch must be confirmed
	// instead.
	ErrWrongGranularity = errors.New("tip belongs to a batch claim")

	// ErrStore wraps unexpected persistence failures. Callers surface it as
	// a generic retry-later message and log the underlying cause.
	ErrStore = errors.New("store operation failed")
)

// storeErr wraps a driver error into ErrStore, preserving the cause for logs.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}
