package event

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/ids"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
)

type Source string

const (
	SourceWebhook Source = "webhook"
	SourceQueue   Source = "queue"
)

// CanonicalEvent is the normalized record handed to the workflow host,
// regardless of whether it arrived by webhook push or queue poll.
type CanonicalEvent struct {
	EventID         string            `json:"event_id"`
	Source          Source            `json:"source"`
	EventType       string            `json:"event_type,omitempty"`
	WebhookID       string            `json:"webhook_id,omitempty"`
	Message         string            `json:"message,omitempty"`
	ConversationID  string            `json:"conversation_id,omitempty"`
	UserID          string            `json:"user_id,omitempty"`
	AgentID         string            `json:"agent_id,omitempty"`
	OrganizationID  string            `json:"organization_id,omitempty"`
	TenantID        string            `json:"tenant_id,omitempty"`
	ResponseWebhook string            `json:"response_webhook,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
	Attachments     []any             `json:"attachments,omitempty"`
	Timestamp       string            `json:"timestamp,omitempty"`
	RawHeaders      map[string]string `json:"raw_headers,omitempty"`

	MessageID     int64             `json:"message_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	QueueName     string            `json:"queue_name,omitempty"`
	Params        map[string]any    `json:"params,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	InsertedAt    string            `json:"inserted_at,omitempty"`
	Payload       any               `json:"payload,omitempty"`
}

// Alias chains are evaluated first-present-wins; absence yields the
// zero value, never an error.
var (
	eventTypeKeys       = []string{"event_type", "eventType", "type", "event"}
	webhookIDKeys       = []string{"webhook_id", "webhookId", "id"}
	messageKeys         = []string{"message", "content", "text", "body"}
	conversationIDKeys  = []string{"conversation_id", "conversationId", "thread_id", "threadId", "session_id"}
	userIDKeys          = []string{"user_id", "userId", "sender_id", "senderId", "from"}
	agentIDKeys         = []string{"agent_id", "agentId", "assistant_id"}
	organizationIDKeys  = []string{"organization_id", "organizationId", "org_id"}
	responseWebhookKeys = []string{"response_webhook", "responseWebhook", "callback_url", "callbackUrl", "reply_to_url"}
	timestampKeys       = []string{"timestamp", "created_at", "createdAt", "inserted_at"}
)

func FromWebhookPayload(payload map[string]any) CanonicalEvent {
	ev := CanonicalEvent{
		EventID:         ids.New(),
		Source:          SourceWebhook,
		EventType:       firstString(payload, eventTypeKeys...),
		WebhookID:       firstString(payload, webhookIDKeys...),
		Message:         firstString(payload, messageKeys...),
		ConversationID:  firstString(payload, conversationIDKeys...),
		UserID:          firstString(payload, userIDKeys...),
		AgentID:         firstString(payload, agentIDKeys...),
		OrganizationID:  firstString(payload, organizationIDKeys...),
		ResponseWebhook: firstString(payload, responseWebhookKeys...),
		Timestamp:       firstString(payload, timestampKeys...),
		Metadata:        mapValue(payload, "metadata"),
		Attachments:     sliceValue(payload, "attachments"),
	}
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return ev
}

func FromQueueMessage(msg platform.QueueMessage, tenantID string) CanonicalEvent {
	payload := parsePayloadData(msg.Payload.Data)

	ev := CanonicalEvent{
		EventID:       ids.New(),
		Source:        SourceQueue,
		MessageID:     msg.ID,
		CorrelationID: msg.CorrelationID,
		QueueName:     msg.QueueName,
		Params:        msg.Payload.Params,
		Headers:       msg.Payload.Headers,
		Payload:       payload,
		TenantID:      tenantFromHeaders(msg.Payload.Headers, tenantID),
	}
	if !msg.InsertedAt.IsZero() {
		ev.InsertedAt = msg.InsertedAt.UTC().Format(time.RFC3339)
		ev.Timestamp = ev.InsertedAt
	}

	if body, ok := payload.(map[string]any); ok {
		ev.EventType = firstString(body, eventTypeKeys...)
		ev.Message = firstString(body, messageKeys...)
		ev.ConversationID = firstString(body, conversationIDKeys...)
		ev.UserID = firstString(body, userIDKeys...)
		ev.AgentID = firstString(body, agentIDKeys...)
		ev.OrganizationID = firstString(body, organizationIDKeys...)
		ev.ResponseWebhook = firstString(body, responseWebhookKeys...)
		ev.Metadata = mapValue(body, "metadata")
		ev.Attachments = sliceValue(body, "attachments")
	}
	return ev
}

// parsePayloadData attempts to decode a queue payload body as JSON and
// keeps the raw string when it is not valid JSON.
func parsePayloadData(data string) any {
	trimmed := strings.TrimSpace(data)
	if trimmed == "" {
		return ""
	}
	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return data
	}
	return decoded
}

func tenantFromHeaders(headers map[string]string, fallback string) string {
	for key, value := range headers {
		if strings.EqualFold(key, "x-tenant-id") {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return strings.TrimSpace(fallback)
}

func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		value, ok := payload[key]
		if !ok {
			continue
		}
		text, ok := value.(string)
		if !ok {
			continue
		}
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func mapValue(payload map[string]any, key string) map[string]any {
	value, ok := payload[key]
	if !ok {
		return nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return m
}

func sliceValue(payload map[string]any, key string) []any {
	value, ok := payload[key]
	if !ok {
		return nil
	}
	s, ok := value.([]any)
	if !ok {
		return nil
	}
	return s
}
