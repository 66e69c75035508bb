package conversation

import "time"

// The functions in this file are the conversation state transitions. They
// mutate the conversation passed in and perform no I/O; the caller supplies
// the current time.

// ApplyCustomerMessage records an inbound customer message.
//
// The cooldown window restarts at now+cooldown; windows do not stack. A
// conversation taken over by a human who has not replied yet goes back to the
// agent. A resolved conversation reopens.
func ApplyCustomerMessage(c *Conversation, now time.Time, cooldown time.Duration, hasHumanReply bool) error {
	if c.Status == StatusClosed {
		return ErrConversationClosed
	}

	until := now.Add(cooldown)
	c.CooldownUntil = &until
	c.LastCustomerMessageAt = timePtr(now)

	switch {
	case c.Status == StatusHumanTookOver && !hasHumanReply:
		c.Status = StatusOpen
		c.PreviousStatus = ""
		clearAssignment(c)
		c.NeedsProcessing = true
	case c.Status == StatusHumanTookOver:
		// the human is engaged; the agent stays out
	case c.Status == StatusResolved:
		c.Status = StatusOpen
		c.ClosedAt = nil
		c.EndedAt = nil
		c.NeedsProcessing = true
	default:
		c.NeedsProcessing = true
	}
	return nil
}

// AssignToUser hands the conversation to a human.
func AssignToUser(c *Conversation, userID string, now time.Time) error {
	if userID == "" {
		return ErrAssigneeRequired
	}
	if c.Status == StatusClosed {
		return ErrConversationClosed
	}
	if c.Status != StatusHumanTookOver {
		c.PreviousStatus = c.Status
	}
	c.Status = StatusHumanTookOver
	c.AssignedUserID = userID
	c.AssignedAt = timePtr(now)
	return nil
}

// ReleaseFromUser ends a human takeover.
func ReleaseFromUser(c *Conversation, mode ReleaseMode) error {
	if c.Status != StatusHumanTookOver {
		return ErrNotTakenOver
	}
	switch mode {
	case ReleaseToAI:
		c.Status = StatusOpen
		c.NeedsProcessing = true
		c.PreviousStatus = ""
	case ReleaseToQueue:
		c.Status = StatusPendingHuman
	default:
		return ErrInvalidReleaseMode
	}
	clearAssignment(c)
	return nil
}

// EscalateToHuman queues the conversation for a human.
func EscalateToHuman(c *Conversation) error {
	if c.Status.IsFinal() {
		return ErrConversationClosed
	}
	if c.Status == StatusHumanTookOver {
		return nil
	}
	c.Status = StatusPendingHuman
	return nil
}

// Close ends the conversation.
func Close(c *Conversation, now time.Time) {
	c.Status = StatusClosed
	c.ClosedAt = timePtr(now)
	c.EndedAt = timePtr(now)
	c.NeedsProcessing = false
	clearAssignment(c)
}

// Resolve marks the conversation as resolved. A later customer message reopens it.
func Resolve(c *Conversation, now time.Time) error {
	if c.Status == StatusClosed {
		return ErrConversationClosed
	}
	c.Status = StatusResolved
	c.ClosedAt = timePtr(now)
	c.NeedsProcessing = false
	clearAssignment(c)
	return nil
}

// InCooldown reports whether the cooldown window is still open.
func InCooldown(c *Conversation, now time.Time) bool {
	return c.CooldownUntil != nil && now.Before(*c.CooldownUntil)
}

// ClearCooldown ends the cooldown window.
func ClearCooldown(c *Conversation) {
	c.CooldownUntil = nil
}

// LockHeld reports whether a worker other than workerID holds an unexpired lock.
func LockHeld(c *Conversation, workerID string, now time.Time) bool {
	return c.ProcessingLockedUntil != nil &&
		now.Before(*c.ProcessingLockedUntil) &&
		c.ProcessingLockedBy != workerID
}

// TryAcquireLock takes the advisory processing lock for d.
//
// The lock is time-boxed rather than exclusive: it lapses on its own, so a
// crashed worker never blocks a conversation. Two workers with skewed clocks
// can both believe they hold it.
func TryAcquireLock(c *Conversation, workerID string, now time.Time, d time.Duration) bool {
	if LockHeld(c, workerID, now) {
		return false
	}
	until := now.Add(d)
	c.ProcessingLockedUntil = &until
	c.ProcessingLockedBy = workerID
	c.ProcessingStartedAt = timePtr(now)
	return true
}

// ReleaseLock drops the lock if workerID holds it.
func ReleaseLock(c *Conversation, workerID string) {
	if c.ProcessingLockedBy != workerID {
		return
	}
	c.ProcessingLockedUntil = nil
	c.ProcessingLockedBy = ""
}

// ReadyForProcessing reports whether an agent worker should pick the conversation up.
func ReadyForProcessing(c *Conversation, now time.Time) bool {
	return awaitingAgent(c, now) && !LockHeld(c, "", now)
}

// awaitingAgent ignores the lock.
func awaitingAgent(c *Conversation, now time.Time) bool {
	if !c.NeedsProcessing || InCooldown(c, now) {
		return false
	}
	return c.Status == StatusOpen || c.Status == StatusProcessing
}

// IsDuplicate reports whether next repeats prev: same type and byte-identical
// content.
func IsDuplicate(prev *Message, next MessageInput) bool {
	if prev == nil {
		return false
	}
	return prev.Type == next.Type && prev.Content == next.Content
}

func clearAssignment(c *Conversation) {
	c.AssignedUserID = ""
	c.AssignedAt = nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
