package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists conversations and messages.
//
// Update functions receive a freshly read copy and their result is written
// back atomically. Implementations return ErrNotFound for unknown ids.
type Repository interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, orgID string) ([]*Conversation, error)
	UpdateConversation(ctx context.Context, id string, fn func(*Conversation) error) (*Conversation, error)

	// AppendMessage stores msg and applies fn to its conversation in one unit.
	// When duplicate is non-nil and reports true for the conversation's last
	// message, nothing is written and that message is returned as existing.
	AppendMessage(ctx context.Context, msg *Message, duplicate func(last *Message) bool, fn func(*Conversation) error) (conv *Conversation, existing *Message, err error)
	// LastMessage returns the most recent message, or nil when there is none.
	LastMessage(ctx context.Context, conversationID string) (*Message, error)
	// CountMessages counts messages of type t created at or after since.
	CountMessages(ctx context.Context, conversationID string, t MessageType, since time.Time) (int, error)
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	UpdateMessage(ctx context.Context, id string, fn func(*Message) error) (*Message, error)
}

// MemoryRepository is a Repository for tests and single-process deployments.
type MemoryRepository struct {
	mu            sync.Mutex
	conversations map[string]*Conversation
	messages      map[string]*Message
	// byConversation holds message ids in insertion order
	byConversation map[string][]string
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations:  make(map[string]*Conversation),
		messages:       make(map[string]*Message),
		byConversation: make(map[string][]string),
	}
}

// CreateConversation implements Repository. An empty ID is generated.
func (r *MemoryRepository) CreateConversation(_ context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[c.ID] = c.Clone()
	return nil
}

// GetConversation implements Repository.
func (r *MemoryRepository) GetConversation(_ context.Context, id string) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// ListConversations implements Repository, oldest first.
func (r *MemoryRepository) ListConversations(_ context.Context, orgID string) ([]*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Conversation
	for _, c := range r.conversations {
		if c.OrganizationID == orgID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateConversation implements Repository.
func (r *MemoryRepository) UpdateConversation(_ context.Context, id string, fn func(*Conversation) error) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(id, fn)
}

func (r *MemoryRepository) updateLocked(id string, fn func(*Conversation) error) (*Conversation, error) {
	current, ok := r.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID, next.OrganizationID, next.CreatedAt = current.ID, current.OrganizationID, current.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}
	r.conversations[id] = next
	return next.Clone(), nil
}

// AppendMessage implements Repository.
func (r *MemoryRepository) AppendMessage(_ context.Context, msg *Message, duplicate func(*Message) bool, fn func(*Conversation) error) (*Conversation, *Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conversations[msg.ConversationID]; !ok {
		return nil, nil, ErrNotFound
	}
	if duplicate != nil {
		if last := r.lastLocked(msg.ConversationID); last != nil && duplicate(last) {
			return r.conversations[msg.ConversationID].Clone(), last.Clone(), nil
		}
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	conv, err := r.updateLocked(msg.ConversationID, fn)
	if err != nil {
		return nil, nil, err
	}
	r.messages[msg.ID] = msg.Clone()
	r.byConversation[msg.ConversationID] = append(r.byConversation[msg.ConversationID], msg.ID)
	return conv, nil, nil
}

func (r *MemoryRepository) lastLocked(conversationID string) *Message {
	ids := r.byConversation[conversationID]
	if len(ids) == 0 {
		return nil
	}
	return r.messages[ids[len(ids)-1]]
}

// LastMessage implements Repository.
func (r *MemoryRepository) LastMessage(_ context.Context, conversationID string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLocked(conversationID).Clone(), nil
}

// CountMessages implements Repository.
func (r *MemoryRepository) CountMessages(_ context.Context, conversationID string, t MessageType, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range r.byConversation[conversationID] {
		m := r.messages[id]
		if m.Type == t && !m.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// GetMessage implements Repository.
func (r *MemoryRepository) GetMessage(_ context.Context, id string) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.Clone(), nil
}

// ListMessages implements Repository, in insertion order.
func (r *MemoryRepository) ListMessages(_ context.Context, conversationID string) ([]*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byConversation[conversationID]
	out := make([]*Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.messages[id].Clone())
	}
	return out, nil
}

// UpdateMessage implements Repository.
func (r *MemoryRepository) UpdateMessage(_ context.Context, id string, fn func(*Message) error) (*Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID, next.ConversationID, next.OrganizationID, next.CreatedAt = current.ID, current.ConversationID, current.OrganizationID, current.CreatedAt
	r.messages[id] = next
	return next.Clone(), nil
}
