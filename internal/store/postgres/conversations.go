package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"switchboard/internal/conversation"
)

// ConversationRepository is a conversation.Repository. Conversations and
// messages are stored as JSONB records next to the columns they are queried by.
type ConversationRepository struct {
	db DB
}

var _ conversation.Repository = (*ConversationRepository)(nil)

// NewConversationRepository creates a repository on db.
func NewConversationRepository(db DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// CreateConversation implements conversation.Repository.
func (r *ConversationRepository) CreateConversation(ctx context.Context, c *conversation.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		return err
	}
	record, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	_, err = r.db.Exec(ctx, `INSERT INTO conversations
(id, organization_id, status, needs_processing, record, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.OrganizationID, string(c.Status), c.NeedsProcessing, record, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

// GetConversation implements conversation.Repository.
func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	return scanConversation(r.db.QueryRow(ctx, `SELECT record FROM conversations WHERE id = $1`, id))
}

// ListConversations implements conversation.Repository, oldest first.
func (r *ConversationRepository) ListConversations(ctx context.Context, orgID string) ([]*conversation.Conversation, error) {
	rows, err := r.db.Query(ctx, `SELECT record FROM conversations
WHERE organization_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*conversation.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// UpdateConversation implements conversation.Repository.
func (r *ConversationRepository) UpdateConversation(ctx context.Context, id string, fn func(*conversation.Conversation) error) (*conversation.Conversation, error) {
	var out *conversation.Conversation
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		c, err := updateConversationTx(ctx, tx, id, fn)
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendMessage implements conversation.Repository. The message insert and
// the conversation update commit together. The duplicate check reads the last
// message after the conversation row is locked, so concurrent appends to one
// conversation see each other.
func (r *ConversationRepository) AppendMessage(ctx context.Context, msg *conversation.Message, duplicate func(*conversation.Message) bool, fn func(*conversation.Conversation) error) (*conversation.Conversation, *conversation.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	record, err := json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("encode message: %w", err)
	}

	var (
		out      *conversation.Conversation
		existing *conversation.Message
	)
	err = pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := scanConversation(tx.QueryRow(ctx, `SELECT record FROM conversations WHERE id = $1 FOR UPDATE`, msg.ConversationID))
		if err != nil {
			return err
		}
		if duplicate != nil {
			last, err := lastMessage(ctx, tx, msg.ConversationID)
			if err != nil {
				return err
			}
			if last != nil && duplicate(last) {
				out, existing = current, last
				return nil
			}
		}

		c, err := updateConversationTx(ctx, tx, msg.ConversationID, fn)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO conversation_messages
(id, conversation_id, organization_id, type, record, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			msg.ID, msg.ConversationID, msg.OrganizationID, string(msg.Type), record, msg.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, existing, nil
}

func updateConversationTx(ctx context.Context, tx pgx.Tx, id string, fn func(*conversation.Conversation) error) (*conversation.Conversation, error) {
	current, err := scanConversation(tx.QueryRow(ctx, `SELECT record FROM conversations WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID, next.OrganizationID, next.CreatedAt = current.ID, current.OrganizationID, current.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}
	record, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode conversation: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE conversations
SET status = $2, needs_processing = $3, record = $4, updated_at = $5 WHERE id = $1`,
		id, string(next.Status), next.NeedsProcessing, record, next.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return next, nil
}

// LastMessage implements conversation.Repository.
func (r *ConversationRepository) LastMessage(ctx context.Context, conversationID string) (*conversation.Message, error) {
	return lastMessage(ctx, r.db, conversationID)
}

// rowQuerier is satisfied by DB and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lastMessage(ctx context.Context, q rowQuerier, conversationID string) (*conversation.Message, error) {
	msg, err := scanMessage(q.QueryRow(ctx, `SELECT record FROM conversation_messages
WHERE conversation_id = $1 ORDER BY seq DESC LIMIT 1`, conversationID))
	if errors.Is(err, conversation.ErrNotFound) {
		return nil, nil
	}
	return msg, err
}

// CountMessages implements conversation.Repository.
func (r *ConversationRepository) CountMessages(ctx context.Context, conversationID string, t conversation.MessageType, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM conversation_messages
WHERE conversation_id = $1 AND type = $2 AND created_at >= $3`, conversationID, string(t), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// GetMessage implements conversation.Repository.
func (r *ConversationRepository) GetMessage(ctx context.Context, id string) (*conversation.Message, error) {
	return scanMessage(r.db.QueryRow(ctx, `SELECT record FROM conversation_messages WHERE id = $1`, id))
}

// ListMessages implements conversation.Repository, in insertion order.
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]*conversation.Message, error) {
	rows, err := r.db.Query(ctx, `SELECT record FROM conversation_messages
WHERE conversation_id = $1 ORDER BY seq`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := []*conversation.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

// UpdateMessage implements conversation.Repository.
func (r *ConversationRepository) UpdateMessage(ctx context.Context, id string, fn func(*conversation.Message) error) (*conversation.Message, error) {
	var out *conversation.Message
	err := pgx.BeginTxFunc(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		current, err := scanMessage(tx.QueryRow(ctx, `SELECT record FROM conversation_messages WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID, next.ConversationID, next.OrganizationID, next.CreatedAt = current.ID, current.ConversationID, current.OrganizationID, current.CreatedAt
		record, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode message: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE conversation_messages SET record = $2 WHERE id = $1`, id, record); err != nil {
			return fmt.Errorf("update message: %w", err)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanConversation(row pgx.Row) (*conversation.Conversation, error) {
	var record []byte
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, conversation.ErrNotFound
		}
		return nil, fmt.Errorf("read conversation: %w", err)
	}
	var c conversation.Conversation
	if err := json.Unmarshal(record, &c); err != nil {
		return nil, fmt.Errorf("decode conversation: %w", err)
	}
	return &c, nil
}

func scanMessage(row pgx.Row) (*conversation.Message, error) {
	var record []byte
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, conversation.ErrNotFound
		}
		return nil, fmt.Errorf("read message: %w", err)
	}
	var m conversation.Message
	if err := json.Unmarshal(record, &m); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &m, nil
}
