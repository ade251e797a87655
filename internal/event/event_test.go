package event

import (
	"testing"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
)

func TestFromWebhookPayloadAliasEquivalence(t *testing.T) {
	snake := FromWebhookPayload(map[string]any{
		"content":   "hi",
		"thread_id": "c1",
	})
	canonical := FromWebhookPayload(map[string]any{
		"message":         "hi",
		"conversation_id": "c1",
	})

	if snake.Message != "hi" || canonical.Message != "hi" {
		t.Fatalf("message got snake=%q canonical=%q want %q", snake.Message, canonical.Message, "hi")
	}
	if snake.ConversationID != "c1" || canonical.ConversationID != "c1" {
		t.Fatalf("conversation id got snake=%q canonical=%q want %q", snake.ConversationID, canonical.ConversationID, "c1")
	}
}

func TestFromWebhookPayloadFirstPresentWins(t *testing.T) {
	ev := FromWebhookPayload(map[string]any{
		"message": "primary",
		"content": "secondary",
	})
	if ev.Message != "primary" {
		t.Fatalf("message got=%q want=%q", ev.Message, "primary")
	}
}

func TestFromWebhookPayloadTotalOnEmptyPayload(t *testing.T) {
	ev := FromWebhookPayload(map[string]any{})
	if ev.Message != "" || ev.ConversationID != "" || ev.EventType != "" {
		t.Fatalf("expected empty canonical fields, got %+v", ev)
	}
	if ev.EventID == "" {
		t.Fatalf("expected event id to be assigned")
	}
	if ev.Timestamp == "" {
		t.Fatalf("expected fallback timestamp")
	}
}

func TestFromWebhookPayloadIgnoresNonStringValues(t *testing.T) {
	ev := FromWebhookPayload(map[string]any{
		"message":         float64(42),
		"content":         "fallback",
		"conversation_id": nil,
		"metadata":        map[string]any{"k": "v"},
		"attachments":     []any{map[string]any{"url": "https://example.com/a.png"}},
	})
	if ev.Message != "fallback" {
		t.Fatalf("message got=%q want=%q", ev.Message, "fallback")
	}
	if ev.ConversationID != "" {
		t.Fatalf("conversation id got=%q want empty", ev.ConversationID)
	}
	if ev.Metadata["k"] != "v" {
		t.Fatalf("metadata not carried: %+v", ev.Metadata)
	}
	if len(ev.Attachments) != 1 {
		t.Fatalf("attachments got=%d want=1", len(ev.Attachments))
	}
}

func TestFromWebhookPayloadResponseWebhookAliases(t *testing.T) {
	for _, key := range []string{"response_webhook", "responseWebhook", "callback_url"} {
		ev := FromWebhookPayload(map[string]any{key: "https://callback.example/hook"})
		if ev.ResponseWebhook != "https://callback.example/hook" {
			t.Fatalf("key %q: response webhook got=%q", key, ev.ResponseWebhook)
		}
	}
}

func TestFromQueueMessageParsesJSONData(t *testing.T) {
	msg := platform.QueueMessage{
		ID:            10,
		CorrelationID: "corr-1",
		QueueName:     "inbound",
		Payload: platform.QueuePayload{
			Data:    `{"content":"hello","thread_id":"c9","agent_id":"agent-1"}`,
			Params:  map[string]any{"p": "v"},
			Headers: map[string]string{"content-type": "application/json"},
		},
		InsertedAt: time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC),
	}

	ev := FromQueueMessage(msg, "tenant-1")
	if ev.MessageID != 10 {
		t.Fatalf("message id got=%d want=10", ev.MessageID)
	}
	if ev.CorrelationID != "corr-1" {
		t.Fatalf("correlation id got=%q", ev.CorrelationID)
	}
	if ev.QueueName != "inbound" {
		t.Fatalf("queue name got=%q", ev.QueueName)
	}
	if ev.Message != "hello" {
		t.Fatalf("message got=%q want=%q", ev.Message, "hello")
	}
	if ev.ConversationID != "c9" {
		t.Fatalf("conversation id got=%q want=%q", ev.ConversationID, "c9")
	}
	if ev.AgentID != "agent-1" {
		t.Fatalf("agent id got=%q", ev.AgentID)
	}
	if ev.TenantID != "tenant-1" {
		t.Fatalf("tenant id got=%q", ev.TenantID)
	}
	if ev.InsertedAt != "2026-03-02T09:30:00Z" {
		t.Fatalf("inserted at got=%q", ev.InsertedAt)
	}
}

func TestFromQueueMessageKeepsRawStringOnParseFailure(t *testing.T) {
	msg := platform.QueueMessage{
		ID: 11,
		Payload: platform.QueuePayload{
			Data: "not json at all",
		},
	}

	ev := FromQueueMessage(msg, "tenant-1")
	raw, ok := ev.Payload.(string)
	if !ok {
		t.Fatalf("expected raw string payload, got %T", ev.Payload)
	}
	if raw != "not json at all" {
		t.Fatalf("payload got=%q", raw)
	}
}

func TestFromQueueMessageTenantHeaderOverride(t *testing.T) {
	msg := platform.QueueMessage{
		ID: 12,
		Payload: platform.QueuePayload{
			Data:    `{}`,
			Headers: map[string]string{"X-Tenant-Id": "tenant-override"},
		},
	}

	ev := FromQueueMessage(msg, "tenant-config")
	if ev.TenantID != "tenant-override" {
		t.Fatalf("tenant id got=%q want=%q", ev.TenantID, "tenant-override")
	}
}
