package reply

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/replyctx"
)

type callbackCall struct {
	url   string
	reply platform.CallbackReply
}

type agentCall struct {
	agentID string
	req     platform.MessageRequest
}

type fakeDispatcher struct {
	mu            sync.Mutex
	callbackCalls []callbackCall
	agentCalls    []agentCall
	callbackErr   error
	agentErr      error
}

func (d *fakeDispatcher) SendCallbackReply(_ context.Context, callbackURL string, reply platform.CallbackReply) error {
	d.mu.Lock()
	d.callbackCalls = append(d.callbackCalls, callbackCall{url: callbackURL, reply: reply})
	d.mu.Unlock()
	return d.callbackErr
}

func (d *fakeDispatcher) SendAgentMessage(_ context.Context, agentID string, req platform.MessageRequest) (json.RawMessage, error) {
	d.mu.Lock()
	d.agentCalls = append(d.agentCalls, agentCall{agentID: agentID, req: req})
	d.mu.Unlock()
	if d.agentErr != nil {
		return nil, d.agentErr
	}
	return json.RawMessage(`{"status":"queued"}`), nil
}

func (d *fakeDispatcher) totalCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.callbackCalls) + len(d.agentCalls)
}

func newTestRouter(dispatcher *fakeDispatcher, registry *replyctx.Registry) *Router {
	return NewRouter(dispatcher, registry, log.New(io.Discard, "", 0))
}

func TestSendUsesItemResponseWebhookFirst(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	registry := replyctx.NewRegistry()
	registry.Record("c1", replyctx.Context{ResponseWebhook: "https://registry.example/hook"})
	router := newTestRouter(dispatcher, registry)

	result, err := router.Send(context.Background(), Request{
		ConversationID:  "c1",
		Message:         "hello",
		ResponseWebhook: "https://item.example/hook",
		Passthrough:     map[string]any{"response_webhook": "https://bag.example/hook"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Target.Kind != TargetKindCallback {
		t.Fatalf("target kind got=%q", result.Target.Kind)
	}
	if len(dispatcher.callbackCalls) != 1 || dispatcher.callbackCalls[0].url != "https://item.example/hook" {
		t.Fatalf("callback calls got=%+v", dispatcher.callbackCalls)
	}
}

func TestSendFallsBackToPassthroughBag(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router := newTestRouter(dispatcher, replyctx.NewRegistry())

	_, err := router.Send(context.Background(), Request{
		ConversationID: "c1",
		Message:        "hello",
		Passthrough: map[string]any{
			"cribops": map[string]any{"response_webhook": "https://nested.example/hook"},
		},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(dispatcher.callbackCalls) != 1 || dispatcher.callbackCalls[0].url != "https://nested.example/hook" {
		t.Fatalf("callback calls got=%+v", dispatcher.callbackCalls)
	}
}

func TestSendFallsBackToRegistry(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	registry := replyctx.NewRegistry()
	registry.Record("c1", replyctx.Context{ResponseWebhook: "https://registry.example/hook"})
	router := newTestRouter(dispatcher, registry)

	_, err := router.Send(context.Background(), Request{
		ConversationID: "c1",
		Message:        "hello",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(dispatcher.callbackCalls) != 1 || dispatcher.callbackCalls[0].url != "https://registry.example/hook" {
		t.Fatalf("callback calls got=%+v", dispatcher.callbackCalls)
	}
}

func TestSendFallsBackToDirectAgentDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router := newTestRouter(dispatcher, replyctx.NewRegistry())

	result, err := router.Send(context.Background(), Request{
		ConversationID: "c1",
		Message:        "hello",
		AgentID:        "agent-1",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.Target.Kind != TargetKindAgent || result.Target.AgentID != "agent-1" {
		t.Fatalf("target got=%+v", result.Target)
	}
	if len(dispatcher.agentCalls) != 1 {
		t.Fatalf("agent calls got=%d", len(dispatcher.agentCalls))
	}
	if dispatcher.agentCalls[0].req.Message != "hello" || dispatcher.agentCalls[0].req.ConversationID != "c1" {
		t.Fatalf("agent request got=%+v", dispatcher.agentCalls[0].req)
	}
	if string(result.Response) != `{"status":"queued"}` {
		t.Fatalf("response got=%s", result.Response)
	}
}

func TestSendRejectsTemplateSyntaxBeforeDispatch(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router := newTestRouter(dispatcher, replyctx.NewRegistry())

	_, err := router.Send(context.Background(), Request{
		ConversationID: "{{ $json.conversation_id }}",
		Message:        "hello",
	})
	var validationErr *platform.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if !strings.Contains(err.Error(), "{{ $json.conversation_id }}") {
		t.Fatalf("expected offending value in error, got %q", err.Error())
	}
	if dispatcher.totalCalls() != 0 {
		t.Fatalf("expected no dispatch calls")
	}
}

func TestSendRejectsEmptyConversationID(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router := newTestRouter(dispatcher, replyctx.NewRegistry())

	_, err := router.Send(context.Background(), Request{Message: "hello"})
	var validationErr *platform.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if dispatcher.totalCalls() != 0 {
		t.Fatalf("expected no dispatch calls")
	}
}

func TestSendSurfaces422Detail(t *testing.T) {
	dispatcher := &fakeDispatcher{
		callbackErr: &platform.TransportError{Status: 422, Detail: "conversation_id is malformed"},
	}
	router := newTestRouter(dispatcher, replyctx.NewRegistry())

	_, err := router.Send(context.Background(), Request{
		ConversationID:  "c1",
		Message:         "hello",
		ResponseWebhook: "https://item.example/hook",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "conversation_id is malformed") {
		t.Fatalf("expected remote detail in error, got %q", err.Error())
	}
	var transportErr *platform.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected wrapped TransportError, got %v", err)
	}
}

func TestSendAssignsMessageIDWhenMissing(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	router := newTestRouter(dispatcher, replyctx.NewRegistry())

	_, err := router.Send(context.Background(), Request{
		ConversationID:  "c1",
		Message:         "hello",
		ResponseWebhook: "https://item.example/hook",
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if dispatcher.callbackCalls[0].reply.MessageID == "" {
		t.Fatalf("expected generated message id")
	}
}
