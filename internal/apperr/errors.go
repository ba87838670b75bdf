// Package apperr holds the sentinel errors shared across margin packages.
package apperr

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")

	// Signing.
	ErrMissingKey     = errors.New("no private key found")
	ErrNotImplemented = errors.New("not implemented")

	// Event adaptation.
	ErrInvalidEvent         = errors.New("invalid event")
	ErrReferenceNotFound    = errors.New("reference not found")
	ErrRootMismatch         = errors.New("root reference does not match root annotation")
	ErrKindMismatch         = errors.New("unexpected event kind")
	ErrNoEvent              = errors.New("parent annotation does not have a Nostr event")
	ErrMissingQuoteSelector = errors.New("annotation has no TextQuoteSelector")
	ErrMalformedSelector    = errors.New("malformed selector")

	// Publishing.
	ErrPublishRejected = errors.New("failed to publish annotation")
	ErrDraftNotSaved   = errors.New("annotation has no id")
)
