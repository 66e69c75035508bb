package conversation

import "errors"

var (
	// ErrNotFound is returned for unknown conversations and messages.
	ErrNotFound = errors.New("not found")

	// ErrConversationClosed is returned for changes to a closed conversation.
	ErrConversationClosed = errors.New("conversation is closed")

	// ErrAssigneeRequired is returned when a takeover has no user.
	ErrAssigneeRequired = errors.New("human takeover requires an assigned user")

	// ErrNotTakenOver is returned when releasing a conversation no human holds.
	ErrNotTakenOver = errors.New("conversation is not taken over by a human")

	// ErrInvalidReleaseMode is returned for release modes other than ai and queue.
	ErrInvalidReleaseMode = errors.New("release mode must be \"ai\" or \"queue\"")

	// ErrMessageDelivered is returned when editing a message already sent.
	ErrMessageDelivered = errors.New("message has already been delivered")

	// ErrContentRequired is returned for text messages without content.
	ErrContentRequired = errors.New("message content is required")

	// ErrNotPendingReview is returned when moderating a message outside the review gate.
	ErrNotPendingReview = errors.New("message is not pending review")
)
