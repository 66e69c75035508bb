package conversation

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen          Status = "open"
	StatusProcessing    Status = "processing"
	StatusPendingHuman  Status = "pending-human"
	StatusHumanTookOver Status = "human-took-over"
	StatusResolved      Status = "resolved"
	StatusClosed        Status = "closed"
)

// IsFinal reports whether the status ends the conversation.
func (s Status) IsFinal() bool {
	return s == StatusResolved || s == StatusClosed
}

// MessageType discriminates who or what produced a message.
type MessageType string

const (
	MessageCustomer   MessageType = "customer"
	MessageSystem     MessageType = "system"
	MessageHumanAgent MessageType = "human_agent"
	MessageBotAgent   MessageType = "bot_agent"
	MessageTool       MessageType = "tool"
	MessageDocument   MessageType = "document"
	MessagePlaybook   MessageType = "playbook"
)

// MessageStatus is the review-gate state of a message.
type MessageStatus string

const (
	MessagePending  MessageStatus = "pending"
	MessageApproved MessageStatus = "approved"
	MessageRejected MessageStatus = "rejected"
	MessageEdited   MessageStatus = "edited"
)

// DeliveryState tells whether a message has been sent to the customer.
type DeliveryState string

const (
	DeliveryQueued DeliveryState = "queued"
	DeliverySent   DeliveryState = "sent"
)

// ReleaseMode selects where a conversation goes when a human hands it back.
type ReleaseMode string

const (
	// ReleaseToAI hands the conversation back to the agent.
	ReleaseToAI ReleaseMode = "ai"
	// ReleaseToQueue puts it in the queue for another human.
	ReleaseToQueue ReleaseMode = "queue"
)

// Conversation is an organization-scoped support conversation.
type Conversation struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organizationId"`
	AgentID        string `json:"agentId,omitempty"`
	ChannelID      string `json:"channelId,omitempty"`
	CustomerID     string `json:"customerId,omitempty"`

	Status         Status `json:"status"`
	PreviousStatus Status `json:"previousStatus,omitempty"`

	NeedsProcessing       bool       `json:"needsProcessing"`
	CooldownUntil         *time.Time `json:"cooldownUntil,omitempty"`
	ProcessingLockedUntil *time.Time `json:"processingLockedUntil,omitempty"`
	ProcessingLockedBy    string     `json:"processingLockedBy,omitempty"`
	ProcessingStartedAt   *time.Time `json:"processingStartedAt,omitempty"`
	LastCustomerMessageAt *time.Time `json:"lastCustomerMessageAt,omitempty"`

	AssignedUserID string     `json:"assignedUserId,omitempty"`
	AssignedAt     *time.Time `json:"assignedAt,omitempty"`

	DocumentIDs  []string `json:"documentIds,omitempty"`
	EnabledTools []string `json:"enabledTools,omitempty"`

	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Validate checks the conversation invariants.
func (c *Conversation) Validate() error {
	if c.OrganizationID == "" {
		return fmt.Errorf("conversation requires an organization id")
	}
	switch c.Status {
	case StatusOpen, StatusProcessing, StatusPendingHuman, StatusHumanTookOver, StatusResolved, StatusClosed:
	default:
		return fmt.Errorf("unknown conversation status %q", c.Status)
	}
	if c.Status == StatusHumanTookOver && c.AssignedUserID == "" {
		return ErrAssigneeRequired
	}
	if c.Status.IsFinal() && c.ClosedAt == nil {
		return fmt.Errorf("%s conversation requires closedAt", c.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	out := *c
	out.CooldownUntil = cloneTime(c.CooldownUntil)
	out.ProcessingLockedUntil = cloneTime(c.ProcessingLockedUntil)
	out.ProcessingStartedAt = cloneTime(c.ProcessingStartedAt)
	out.LastCustomerMessageAt = cloneTime(c.LastCustomerMessageAt)
	out.AssignedAt = cloneTime(c.AssignedAt)
	out.ClosedAt = cloneTime(c.ClosedAt)
	out.EndedAt = cloneTime(c.EndedAt)
	out.DocumentIDs = append([]string(nil), c.DocumentIDs...)
	out.EnabledTools = append([]string(nil), c.EnabledTools...)
	return &out
}

// Message belongs to exactly one conversation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversationId"`
	OrganizationID string         `json:"organizationId"`
	Type           MessageType    `json:"type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AuthorID       string         `json:"authorId,omitempty"`

	Status          MessageStatus `json:"status"`
	DeliveryState   DeliveryState `json:"deliveryState"`
	ApprovedBy      string        `json:"approvedBy,omitempty"`
	ApprovedAt      *time.Time    `json:"approvedAt,omitempty"`
	OriginalContent string        `json:"originalContent,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Delivered reports whether the message has been sent.
func (m *Message) Delivered() bool {
	return m.DeliveryState == DeliverySent
}

// Clone returns a deep copy.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.ApprovedAt = cloneTime(m.ApprovedAt)
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// MessageInput is a message to be added to a conversation.
type MessageInput struct {
	Type     MessageType
	Content  string
	Metadata map[string]any
	AuthorID string
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
