package platform

import (
	"encoding/json"
	"time"
)

type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
)

type Agent struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Status         AgentStatus    `json:"status"`
	TenantID       string         `json:"tenant_id"`
	OrganizationID string         `json:"organization_id"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type Webhook struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	AgentID     string `json:"agent_id,omitempty"`
	CallbackURL string `json:"webhook_url,omitempty"`
	WorkflowID  string `json:"workflow_id,omitempty"`
}

type QueueMessage struct {
	ID            int64        `json:"id"`
	CorrelationID string       `json:"correlation_id"`
	QueueName     string       `json:"queue_name"`
	Payload       QueuePayload `json:"payload"`
	InsertedAt    time.Time    `json:"inserted_at"`
}

type QueuePayload struct {
	Data    string            `json:"data"`
	Params  map[string]any    `json:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type MessageRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type LinkRequest struct {
	WorkflowID     string `json:"workflow_id"`
	WebhookURL     string `json:"webhook_url"`
	TestWebhookURL string `json:"test_webhook_url,omitempty"`
	WorkflowName   string `json:"workflow_name,omitempty"`
}

type CallbackReply struct {
	ConversationID string
	Content        string
	MessageID      string
	Timestamp      time.Time
	UserID         string
	OrganizationID string
}

func decodeList(raw json.RawMessage, keys []string, out any) error {
	trimmed := firstNonSpace(raw)
	if trimmed == '[' {
		return json.Unmarshal(raw, out)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return err
	}
	for _, key := range keys {
		inner, ok := wrapper[key]
		if !ok {
			continue
		}
		return json.Unmarshal(inner, out)
	}
	return nil
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
