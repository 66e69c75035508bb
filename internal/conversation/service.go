package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"switchboard/internal/clock"
	"switchboard/internal/eventbus"
	"switchboard/internal/metrics"
	"switchboard/pkg/logging"
)

const (
	// DefaultCooldown is the wait after a customer message before the agent replies.
	DefaultCooldown = 5 * time.Second
	// DefaultLockDuration is how long a processing claim lasts.
	DefaultLockDuration = 2 * time.Minute
)

// TestModeFunc reports whether an agent runs with the review gate enabled.
type TestModeFunc func(ctx context.Context, orgID, agentID string) bool

// Options configures a Service.
type Options struct {
	Repository   Repository
	Bus          eventbus.Bus
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Cooldown     time.Duration
	LockDuration time.Duration
	TestMode     TestModeFunc
	// Origin is stamped on published events.
	Origin string
}

// Service applies conversation transitions against storage and publishes events.
type Service struct {
	repo         Repository
	bus          eventbus.Bus
	clock        clock.Clock
	metrics      *metrics.Metrics
	cooldown     time.Duration
	lockDuration time.Duration
	testMode     TestModeFunc
	origin       string
}

// NewService creates a conversation service.
func NewService(opts Options) *Service {
	s := &Service{
		repo:         opts.Repository,
		bus:          opts.Bus,
		clock:        clock.OrReal(opts.Clock),
		metrics:      opts.Metrics,
		cooldown:     opts.Cooldown,
		lockDuration: opts.LockDuration,
		testMode:     opts.TestMode,
		origin:       opts.Origin,
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}
	if s.lockDuration <= 0 {
		s.lockDuration = DefaultLockDuration
	}
	return s
}

// CreateConversation stores a new open conversation.
func (s *Service) CreateConversation(ctx context.Context, c *Conversation) (*Conversation, error) {
	now := s.clock.Now()
	c = c.Clone()
	if c.Status == "" {
		c.Status = StatusOpen
	}
	c.CreatedAt, c.UpdatedAt = now, now
	if err := s.repo.CreateConversation(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.publish(ctx, eventbus.EventConversationCreated, c, c)
	return c, nil
}

// GetConversation returns a conversation.
func (s *Service) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return s.repo.GetConversation(ctx, id)
}

// ListMessages returns the messages of a conversation in order.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	return s.repo.ListMessages(ctx, conversationID)
}

// AddMessage appends a message to a conversation.
//
// A message repeating the previous one (same type and content) is not stored
// again: the existing message is returned with created=false and nothing is
// published. Otherwise the message and the conversation transition are
// persisted together, then message.created and conversation.updated are
// published. Publish failures are logged, not returned.
func (s *Service) AddMessage(ctx context.Context, conversationID string, in MessageInput) (msg *Message, created bool, err error) {
	if strings.TrimSpace(in.Content) == "" && in.Type != MessageDocument && in.Type != MessageTool {
		return nil, false, ErrContentRequired
	}

	conv, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}

	hasHumanReply := false
	if in.Type == MessageCustomer && conv.Status == StatusHumanTookOver && conv.AssignedAt != nil {
		n, err := s.repo.CountMessages(ctx, conversationID, MessageHumanAgent, *conv.AssignedAt)
		if err != nil {
			return nil, false, fmt.Errorf("failed to count human replies: %w", err)
		}
		hasHumanReply = n > 0
	}

	now := s.clock.Now()
	msg = &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		OrganizationID: conv.OrganizationID,
		Type:           in.Type,
		Content:        in.Content,
		Metadata:       in.Metadata,
		AuthorID:       in.AuthorID,
		Status:         MessageApproved,
		DeliveryState:  DeliverySent,
		CreatedAt:      now,
	}
	if in.Type == MessageBotAgent && s.testMode != nil && s.testMode(ctx, conv.OrganizationID, conv.AgentID) {
		msg.Status = MessagePending
		msg.DeliveryState = DeliveryQueued
	}

	isDuplicate := func(last *Message) bool { return IsDuplicate(last, in) }
	updated, existing, err := s.repo.AppendMessage(ctx, msg, isDuplicate, func(c *Conversation) error {
		if in.Type == MessageCustomer {
			if err := ApplyCustomerMessage(c, now, s.cooldown, hasHumanReply); err != nil {
				return err
			}
		} else if c.Status == StatusClosed {
			return ErrConversationClosed
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.metrics.ObserveMessage(string(in.Type), "error")
		return nil, false, fmt.Errorf("failed to store message: %w", err)
	}
	if existing != nil {
		logging.Debug("Conversation", "Suppressed duplicate %s message in conversation=%s", in.Type, conversationID)
		s.metrics.ObserveMessage(string(in.Type), "duplicate")
		return existing, false, nil
	}

	s.metrics.ObserveMessage(string(in.Type), "created")
	s.publish(ctx, eventbus.EventMessageCreated, updated, msg)
	s.publish(ctx, eventbus.EventConversationUpdated, updated, updated)
	return msg, true, nil
}

// AssignToUser starts a human takeover.
func (s *Service) AssignToUser(ctx context.Context, conversationID, userID string) (*Conversation, error) {
	now := s.clock.Now()
	return s.update(ctx, conversationID, func(c *Conversation) error {
		return AssignToUser(c, userID, now)
	})
}

// ReleaseFromUser ends a human takeover.
func (s *Service) ReleaseFromUser(ctx context.Context, conversationID string, mode ReleaseMode) (*Conversation, error) {
	return s.update(ctx, conversationID, func(c *Conversation) error {
		return ReleaseFromUser(c, mode)
	})
}

// EscalateToHuman moves the conversation to the human queue.
func (s *Service) EscalateToHuman(ctx context.Context, conversationID string) (*Conversation, error) {
	return s.update(ctx, conversationID, EscalateToHuman)
}

// CloseConversation ends the conversation.
func (s *Service) CloseConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	now := s.clock.Now()
	return s.update(ctx, conversationID, func(c *Conversation) error {
		Close(c, now)
		return nil
	})
}

// ResolveConversation marks the conversation resolved.
func (s *Service) ResolveConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	now := s.clock.Now()
	return s.update(ctx, conversationID, func(c *Conversation) error {
		return Resolve(c, now)
	})
}

// ClearCooldown lets the agent reply without waiting for the window to elapse.
func (s *Service) ClearCooldown(ctx context.Context, conversationID string) (*Conversation, error) {
	return s.update(ctx, conversationID, func(c *Conversation) error {
		ClearCooldown(c)
		return nil
	})
}

// errSkip aborts an update without error.
var errSkip = errors.New("skip")

// ClaimForProcessing takes the processing lock for workerID. It returns false
// when the conversation is not ready or another worker holds the lock.
func (s *Service) ClaimForProcessing(ctx context.Context, conversationID, workerID string) (bool, error) {
	now := s.clock.Now()
	_, err := s.update(ctx, conversationID, func(c *Conversation) error {
		if !awaitingAgent(c, now) || !TryAcquireLock(c, workerID, now, s.lockDuration) {
			return errSkip
		}
		if c.Status == StatusOpen {
			c.Status = StatusProcessing
		}
		return nil
	})
	if errors.Is(err, errSkip) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logging.Debug("Conversation", "Worker %s claimed conversation=%s", workerID, conversationID)
	return true, nil
}

// CompleteProcessing records that workerID has replied.
//
// NeedsProcessing is cleared unless a customer message arrived after the
// claim. The lock is left to lapse.
func (s *Service) CompleteProcessing(ctx context.Context, conversationID, workerID string) (*Conversation, error) {
	return s.update(ctx, conversationID, func(c *Conversation) error {
		if c.ProcessingLockedBy != workerID {
			logging.Warn("Conversation", "Worker %s completing conversation=%s locked by %q",
				workerID, conversationID, c.ProcessingLockedBy)
		}
		if c.ProcessingStartedAt == nil || c.LastCustomerMessageAt == nil ||
			!c.LastCustomerMessageAt.After(*c.ProcessingStartedAt) {
			c.NeedsProcessing = false
		}
		if c.Status == StatusProcessing {
			c.Status = StatusOpen
		}
		return nil
	})
}

// FailProcessing releases the lock so another worker can retry.
func (s *Service) FailProcessing(ctx context.Context, conversationID, workerID string) (*Conversation, error) {
	return s.update(ctx, conversationID, func(c *Conversation) error {
		ReleaseLock(c, workerID)
		if c.Status == StatusProcessing {
			c.Status = StatusOpen
		}
		return nil
	})
}

// ListDueForProcessing returns the conversations of an organization an agent
// worker should pick up now.
func (s *Service) ListDueForProcessing(ctx context.Context, orgID string) ([]*Conversation, error) {
	all, err := s.repo.ListConversations(ctx, orgID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	var due []*Conversation
	for _, c := range all {
		if ReadyForProcessing(c, now) {
			due = append(due, c)
		}
	}
	return due, nil
}

// ApproveMessage releases a pending bot message for delivery.
func (s *Service) ApproveMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	now := s.clock.Now()
	return s.moderate(ctx, messageID, func(m *Message) error {
		if m.Status != MessagePending {
			return ErrNotPendingReview
		}
		m.Status = MessageApproved
		m.ApprovedBy = userID
		m.ApprovedAt = &now
		m.DeliveryState = DeliverySent
		return nil
	})
}

// RejectMessage discards a pending bot message. It is never delivered.
func (s *Service) RejectMessage(ctx context.Context, messageID, userID string) (*Message, error) {
	now := s.clock.Now()
	return s.moderate(ctx, messageID, func(m *Message) error {
		if m.Status != MessagePending {
			return ErrNotPendingReview
		}
		m.Status = MessageRejected
		m.ApprovedBy = userID
		m.ApprovedAt = &now
		return nil
	})
}

// EditMessage replaces the content of an undelivered message and releases it.
func (s *Service) EditMessage(ctx context.Context, messageID, userID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrContentRequired
	}
	now := s.clock.Now()
	return s.moderate(ctx, messageID, func(m *Message) error {
		if m.Delivered() {
			return ErrMessageDelivered
		}
		if m.Status != MessagePending {
			return ErrNotPendingReview
		}
		if m.OriginalContent == "" {
			m.OriginalContent = m.Content
		}
		m.Content = content
		m.Status = MessageEdited
		m.ApprovedBy = userID
		m.ApprovedAt = &now
		m.DeliveryState = DeliverySent
		return nil
	})
}

func (s *Service) moderate(ctx context.Context, messageID string, fn func(*Message) error) (*Message, error) {
	msg, err := s.repo.UpdateMessage(ctx, messageID, fn)
	if err != nil {
		return nil, err
	}
	conv, err := s.repo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		logging.Warn("Conversation", "Moderated message %s of unknown conversation: %v", messageID, err)
		return msg, nil
	}
	s.metrics.ObserveMessage(string(msg.Type), string(msg.Status))
	s.publish(ctx, eventbus.EventMessageUpdated, conv, msg)
	return msg, nil
}

// update applies fn, stamps UpdatedAt and publishes conversation.updated.
func (s *Service) update(ctx context.Context, conversationID string, fn func(*Conversation) error) (*Conversation, error) {
	now := s.clock.Now()
	conv, err := s.repo.UpdateConversation(ctx, conversationID, func(c *Conversation) error {
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, eventbus.EventConversationUpdated, conv, conv)
	return conv, nil
}

// publish sends an event to the conversation channel and the organization
// channel. It runs after the write and never fails the operation.
func (s *Service) publish(ctx context.Context, eventType string, conv *Conversation, data any) {
	if s.bus == nil {
		return
	}
	env, err := eventbus.NewEnvelope(eventType, conv.OrganizationID, conv.ID, data)
	if err != nil {
		logging.Error("Conversation", err, "Cannot encode %s event", eventType)
		return
	}
	env.Origin = s.origin
	for _, ch := range []string{eventbus.ConversationChannel(conv.ID), eventbus.OrgConversationsChannel(conv.OrganizationID)} {
		err := s.bus.Publish(ctx, ch, env)
		s.metrics.ObservePublish(eventType, err)
		if err != nil {
			logging.Warn("Conversation", "Publishing %s to %s failed: %v", eventType, ch, err)
		}
	}
}
