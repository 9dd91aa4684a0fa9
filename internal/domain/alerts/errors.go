package alerts

import "errors"

var (
	// ErrCreation reports that an alert could not be created.
	ErrCreation = errors.New("alert creation failed")

	// ErrSubscription reports a failure establishing a live feed.
	ErrSubscription = errors.New("subscription failed")

	// ErrNotFound reports that a referenced alert does not exist.
	ErrNotFound = errors.New("not found")
)
