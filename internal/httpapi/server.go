package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/binding"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/reply"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/replyctx"
)

const maxRequestBodyBytes = 1 << 20

type AgentClient interface {
	ListAgents(ctx context.Context) ([]platform.Agent, error)
	GetAgent(ctx context.Context, agentID string) (platform.Agent, error)
	SendTyping(ctx context.Context, agentID, conversationID string, typing bool) error
}

type PollRunner interface {
	RunOnce(ctx context.Context) error
}

type server struct {
	logger   *log.Logger
	client   AgentClient
	router   *reply.Router
	registry *replyctx.Registry
	bindings *binding.Manager
	poller   PollRunner
}

type Options struct {
	WebhookPath    string
	WebhookHandler http.Handler
	StreamHandler  http.Handler
}

func NewServer(logger *log.Logger, addr string, client AgentClient, router *reply.Router, registry *replyctx.Registry, bindings *binding.Manager, poller PollRunner, opts Options) *http.Server {
	h := &server{
		logger:   logger,
		client:   client,
		router:   router,
		registry: registry,
		bindings: bindings,
		poller:   poller,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/v1/reply", h.handleReply)
	mux.HandleFunc("/v1/typing", h.handleTyping)
	mux.HandleFunc("/v1/agents", h.handleAgents)
	mux.HandleFunc("/v1/agents/", h.handleAgent)
	mux.HandleFunc("/v1/poll/run", h.handlePollRun)
	mux.HandleFunc("/v1/bindings", h.handleBindings)
	mux.HandleFunc("/v1/bindings/", h.handleBinding)
	if opts.WebhookHandler != nil {
		path := strings.TrimSpace(opts.WebhookPath)
		if path == "" {
			path = "/webhook"
		}
		mux.Handle(path, opts.WebhookHandler)
	}
	if opts.StreamHandler != nil {
		mux.Handle("/ws/events", opts.StreamHandler)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type replyRequestBody struct {
	ConversationID  string         `json:"conversation_id"`
	Message         string         `json:"message"`
	AgentID         string         `json:"agent_id,omitempty"`
	MessageID       string         `json:"message_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	OrganizationID  string         `json:"organization_id,omitempty"`
	ResponseWebhook string         `json:"response_webhook,omitempty"`
	Passthrough     map[string]any `json:"passthrough,omitempty"`
}

func (s *server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body replyRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	result, err := s.router.Send(r.Context(), reply.Request{
		ConversationID:  body.ConversationID,
		Message:         body.Message,
		AgentID:         body.AgentID,
		MessageID:       body.MessageID,
		UserID:          body.UserID,
		OrganizationID:  body.OrganizationID,
		ResponseWebhook: body.ResponseWebhook,
		Passthrough:     body.Passthrough,
	})
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	out := map[string]any{
		"sent":   true,
		"target": string(result.Target.Kind),
	}
	if result.Target.CallbackURL != "" {
		out["callback_url"] = result.Target.CallbackURL
	}
	if result.Target.AgentID != "" {
		out["agent_id"] = result.Target.AgentID
	}
	if len(result.Response) > 0 {
		out["response"] = json.RawMessage(result.Response)
	}
	writeJSON(w, http.StatusOK, out)
}

type typingRequestBody struct {
	AgentID         string `json:"agent_id"`
	ConversationID  string `json:"conversation_id"`
	Typing          bool   `json:"typing"`
	ResponseWebhook string `json:"response_webhook,omitempty"`
}

func (s *server) handleTyping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body typingRequestBody
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.client.SendTyping(r.Context(), body.AgentID, body.ConversationID, body.Typing); err != nil {
		writeDispatchError(w, err)
		return
	}

	// A typing call that carries a response webhook threads it forward
	// for later reply resolution.
	if body.ResponseWebhook != "" {
		s.registry.Record(body.ConversationID, replyctx.Context{
			ResponseWebhook: body.ResponseWebhook,
			AgentID:         body.AgentID,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (s *server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agents, err := s.client.ListAgents(r.Context())
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *server) handleAgent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	agentID := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
	agent, err := s.client.GetAgent(r.Context(), agentID)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *server) handlePollRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.poller == nil {
		http.Error(w, "polling not configured", http.StatusNotImplemented)
		return
	}
	if err := s.poller.RunOnce(r.Context()); err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"polled": true})
}

type bindingRequestBody struct {
	NodeID          string `json:"node_id"`
	WebhookID       string `json:"webhook_id"`
	WorkflowID      string `json:"workflow_id"`
	WorkflowName    string `json:"workflow_name,omitempty"`
	CallbackURL     string `json:"callback_url"`
	TestCallbackURL string `json:"test_callback_url,omitempty"`
}

func (s *server) handleBindings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		regs, err := s.bindings.List(r.Context())
		if err != nil {
			writeDispatchError(w, err)
			return
		}
		out := make([]map[string]any, 0, len(regs))
		for _, reg := range regs {
			out = append(out, bindingResponse(reg))
		}
		writeJSON(w, http.StatusOK, map[string]any{"bindings": out})

	case http.MethodPost:
		var body bindingRequestBody
		if !decodeBody(w, r, &body) {
			return
		}
		err := s.bindings.Activate(r.Context(), binding.Registration{
			NodeID:          body.NodeID,
			RemoteWebhookID: body.WebhookID,
			WorkflowID:      body.WorkflowID,
			WorkflowName:    body.WorkflowName,
			CallbackURL:     body.CallbackURL,
			TestCallbackURL: body.TestCallbackURL,
		})
		if err != nil {
			writeDispatchError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"linked": true, "node_id": body.NodeID})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *server) handleBinding(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	nodeID := strings.TrimPrefix(r.URL.Path, "/v1/bindings/")
	if err := s.bindings.Deactivate(r.Context(), nodeID); err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unlinked": true, "node_id": nodeID})
}

func bindingResponse(reg binding.Registration) map[string]any {
	return map[string]any{
		"node_id":       reg.NodeID,
		"webhook_id":    reg.RemoteWebhookID,
		"workflow_id":   reg.WorkflowID,
		"workflow_name": reg.WorkflowName,
		"callback_url":  reg.CallbackURL,
		"created_at":    reg.CreatedAt,
		"updated_at":    reg.UpdatedAt,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := dec.Decode(out); err != nil {
		http.Error(w, fmt.Sprintf("invalid json: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeDispatchError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway

	var validationErr *platform.ValidationError
	var transportErr *platform.TransportError
	var registrationErr *platform.RegistrationError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.As(err, &transportErr):
		if transportErr.Status == http.StatusUnprocessableEntity {
			status = http.StatusUnprocessableEntity
		}
	case errors.As(err, &registrationErr):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
