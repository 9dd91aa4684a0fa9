package chat

import "errors"

var (
	// ErrCreation reports that a conversation could not be created.
	ErrCreation = errors.New("conversation creation failed")

	// ErrDelivery reports that a message could not be persisted.
	ErrDelivery = errors.New("message delivery failed")

	// ErrSubscription reports a failure establishing a live subscription.
	ErrSubscription = errors.New("subscription failed")

	// ErrNotFound reports that a referenced conversation or message does
	// not exist.
	ErrNotFound = errors.New("not found")
)
