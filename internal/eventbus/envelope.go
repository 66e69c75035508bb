package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types published by switchboard.
const (
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventMessageCreated      = "message.created"
	EventMessageUpdated      = "message.updated"
	EventPluginStatus        = "plugin.status"
)

// Envelope is the payload format on every channel.
type Envelope struct {
	Type           string          `json:"type"`
	OrganizationID string          `json:"organizationId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
	// Origin identifies the publishing process.
	Origin    string    `json:"origin,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope wraps data, which is encoded as JSON.
func NewEnvelope(eventType, orgID, conversationID string, data any) (*Envelope, error) {
	env := &Envelope{
		Type:           eventType,
		OrganizationID: orgID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s event: %w", eventType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// DecodeEnvelope parses a channel payload.
func DecodeEnvelope(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("invalid event envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("invalid event envelope: missing type")
	}
	return &env, nil
}

// ConversationChannel is the channel carrying events of one conversation.
func ConversationChannel(conversationID string) string {
	return "conversation:" + conversationID
}

// OrgConversationsChannel is the channel carrying conversation events of an organization.
func OrgConversationsChannel(orgID string) string {
	return "org:" + orgID + ":conversations"
}

// OrgPluginsChannel is the channel carrying plugin status events of an organization.
func OrgPluginsChannel(orgID string) string {
	return "org:" + orgID + ":plugins"
}

// encodePayload turns a Publish payload into bytes. Byte slices and strings
// are sent as-is, anything else as JSON.
func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case []byte:
		return p, nil
	case string:
		return []byte(p), nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}
