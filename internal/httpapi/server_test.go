package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/binding"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/reply"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/replyctx"
)

type fakeAgentClient struct {
	agents      []platform.Agent
	typingCalls int
	callbackURL string
	agentCalls  []string
}

func (c *fakeAgentClient) ListAgents(_ context.Context) ([]platform.Agent, error) {
	return c.agents, nil
}

func (c *fakeAgentClient) GetAgent(_ context.Context, agentID string) (platform.Agent, error) {
	for _, agent := range c.agents {
		if agent.ID == agentID {
			return agent, nil
		}
	}
	return platform.Agent{}, &platform.TransportError{Status: http.StatusNotFound, Detail: "agent not found"}
}

func (c *fakeAgentClient) SendTyping(_ context.Context, agentID, conversationID string, typing bool) error {
	c.typingCalls++
	return nil
}

func (c *fakeAgentClient) SendCallbackReply(_ context.Context, callbackURL string, _ platform.CallbackReply) error {
	c.callbackURL = callbackURL
	return nil
}

func (c *fakeAgentClient) SendAgentMessage(_ context.Context, agentID string, _ platform.MessageRequest) (json.RawMessage, error) {
	c.agentCalls = append(c.agentCalls, agentID)
	return json.RawMessage(`{"status":"queued"}`), nil
}

func (c *fakeAgentClient) ListWebhooks(_ context.Context) ([]platform.Webhook, error) {
	return nil, nil
}

func (c *fakeAgentClient) LinkWebhook(_ context.Context, webhookID string, _ platform.LinkRequest) error {
	return nil
}

func (c *fakeAgentClient) UnlinkWebhook(_ context.Context, webhookID string) error {
	return nil
}

type fakePollRunner struct {
	calls int
	err   error
}

func (p *fakePollRunner) RunOnce(_ context.Context) error {
	p.calls++
	return p.err
}

func newTestServer(t *testing.T, client *fakeAgentClient, poller PollRunner) *httptest.Server {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	registry := replyctx.NewRegistry()
	router := reply.NewRouter(client, registry, logger)
	bindings := binding.NewManager(client, binding.NewMemoryStore(), logger)

	server := NewServer(logger, "127.0.0.1:0", client, router, registry, bindings, poller, Options{})
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &fakeAgentClient{}, nil)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got=%d", resp.StatusCode)
	}
}

func TestReplyEndpointDirectAgentFallback(t *testing.T) {
	client := &fakeAgentClient{}
	ts := newTestServer(t, client, nil)

	resp := postJSON(t, ts.URL+"/v1/reply", map[string]any{
		"conversation_id": "c1",
		"message":         "hello",
		"agent_id":        "agent-1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got=%d", resp.StatusCode)
	}
	out := decodeJSON(t, resp)
	if out["target"] != "agent" {
		t.Fatalf("target got=%v", out["target"])
	}
	if len(client.agentCalls) != 1 || client.agentCalls[0] != "agent-1" {
		t.Fatalf("agent calls got=%v", client.agentCalls)
	}
}

func TestReplyEndpointValidationFailure(t *testing.T) {
	ts := newTestServer(t, &fakeAgentClient{}, nil)

	resp := postJSON(t, ts.URL+"/v1/reply", map[string]any{
		"conversation_id": "{{ $json.id }}",
		"message":         "hello",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status got=%d want=400", resp.StatusCode)
	}
}

func TestTypingEndpointRecordsReplyContext(t *testing.T) {
	client := &fakeAgentClient{}
	logger := log.New(io.Discard, "", 0)
	registry := replyctx.NewRegistry()
	router := reply.NewRouter(client, registry, logger)
	bindings := binding.NewManager(client, binding.NewMemoryStore(), logger)
	server := NewServer(logger, "127.0.0.1:0", client, router, registry, bindings, nil, Options{})
	ts := httptest.NewServer(server.Handler)
	defer ts.Close()

	resp := postJSON(t, ts.URL+"/v1/typing", map[string]any{
		"agent_id":         "agent-1",
		"conversation_id":  "c1",
		"typing":           true,
		"response_webhook": "https://callback.example/hook",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got=%d", resp.StatusCode)
	}
	if client.typingCalls != 1 {
		t.Fatalf("typing calls got=%d", client.typingCalls)
	}
	if recorded, ok := registry.Lookup("c1"); !ok || recorded.ResponseWebhook != "https://callback.example/hook" {
		t.Fatalf("reply context got=%+v ok=%v", recorded, ok)
	}
}

func TestAgentsEndpoints(t *testing.T) {
	client := &fakeAgentClient{agents: []platform.Agent{{ID: "agent-1", Name: "Support", Status: platform.AgentStatusActive}}}
	ts := newTestServer(t, client, nil)

	resp, err := http.Get(ts.URL + "/v1/agents")
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got=%d", resp.StatusCode)
	}

	resp2, err := http.Get(ts.URL + "/v1/agents/agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	defer resp2.Body.Close()
	var agent platform.Agent
	if err := json.NewDecoder(resp2.Body).Decode(&agent); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if agent.ID != "agent-1" || agent.Name != "Support" {
		t.Fatalf("agent got=%+v", agent)
	}
}

func TestPollRunEndpoint(t *testing.T) {
	runner := &fakePollRunner{}
	ts := newTestServer(t, &fakeAgentClient{}, runner)

	resp := postJSON(t, ts.URL+"/v1/poll/run", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status got=%d", resp.StatusCode)
	}
	if runner.calls != 1 {
		t.Fatalf("poll runs got=%d", runner.calls)
	}
}

func TestPollRunEndpointSurfacesErrors(t *testing.T) {
	runner := &fakePollRunner{err: errors.New("queue unreachable")}
	ts := newTestServer(t, &fakeAgentClient{}, runner)

	resp := postJSON(t, ts.URL+"/v1/poll/run", map[string]any{})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status got=%d want=502", resp.StatusCode)
	}
}

func TestBindingLifecycleEndpoints(t *testing.T) {
	client := &fakeAgentClient{}
	ts := newTestServer(t, client, nil)

	resp := postJSON(t, ts.URL+"/v1/bindings", map[string]any{
		"node_id":      "node-1",
		"webhook_id":   "wh-1",
		"workflow_id":  "wf-1",
		"callback_url": "https://host.example/webhook/node-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("activate status got=%d", resp.StatusCode)
	}

	listResp, err := http.Get(ts.URL + "/v1/bindings")
	if err != nil {
		t.Fatalf("list bindings: %v", err)
	}
	defer listResp.Body.Close()
	out := decodeJSON(t, listResp)
	bindingsList, ok := out["bindings"].([]any)
	if !ok || len(bindingsList) != 1 {
		t.Fatalf("bindings got=%v", out["bindings"])
	}

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/v1/bindings/node-1", nil)
	if err != nil {
		t.Fatalf("build delete: %v", err)
	}
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete binding: %v", err)
	}
	defer delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status got=%d", delResp.StatusCode)
	}
}
