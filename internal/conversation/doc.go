// Package conversation implements the lifecycle of support conversations
// and their messages.
//
// The state transitions live in machine.go as plain functions over
// *Conversation with an injected time, so they are tested without storage.
// Service applies them against a Repository and publishes the resulting
// events on the event bus, always after the write has succeeded.
//
// # Statuses
//
//	open -> processing -> pending-human | resolved -> closed
//
// human-took-over overlays any non-final status: AssignToUser enters it and
// ReleaseFromUser leaves it, either back to the agent (open) or to the human
// queue (pending-human).
//
// # Cooldown and processing
//
// Every customer message restarts a cooldown window. The agent is dispatched
// only once the window has elapsed, so a burst of messages produces one
// reply. Workers claim a conversation with a time-boxed advisory lock that
// is allowed to lapse; it is not a distributed mutex.
//
// # Review gate
//
// Conversations whose agent runs in test mode store bot replies as pending
// and queued until a human approves, edits or rejects them.
package conversation
