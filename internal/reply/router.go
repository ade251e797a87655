package reply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/ids"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/replyctx"
)

type TargetKind string

const (
	TargetKindCallback TargetKind = "callback"
	TargetKindAgent    TargetKind = "agent"
)

// Target is the resolved destination for one outbound reply.
type Target struct {
	Kind        TargetKind
	CallbackURL string
	AgentID     string
}

type Request struct {
	ConversationID  string
	Message         string
	AgentID         string
	MessageID       string
	UserID          string
	OrganizationID  string
	ResponseWebhook string
	Passthrough     map[string]any
}

type Result struct {
	Target   Target
	Response json.RawMessage
}

type Dispatcher interface {
	SendCallbackReply(ctx context.Context, callbackURL string, reply platform.CallbackReply) error
	SendAgentMessage(ctx context.Context, agentID string, req platform.MessageRequest) (json.RawMessage, error)
}

type Router struct {
	client   Dispatcher
	registry *replyctx.Registry
	logger   *log.Logger
	now      func() time.Time
}

func NewRouter(client Dispatcher, registry *replyctx.Registry, logger *log.Logger) *Router {
	if client == nil {
		panic("reply: client is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Router{
		client:   client,
		registry: registry,
		logger:   logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *Router) Send(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	target := r.Resolve(req)

	switch target.Kind {
	case TargetKindCallback:
		messageID := strings.TrimSpace(req.MessageID)
		if messageID == "" {
			messageID = ids.New()
		}
		err := r.client.SendCallbackReply(ctx, target.CallbackURL, platform.CallbackReply{
			ConversationID: req.ConversationID,
			Content:        req.Message,
			MessageID:      messageID,
			Timestamp:      r.now(),
			UserID:         req.UserID,
			OrganizationID: req.OrganizationID,
		})
		if err != nil {
			return Result{}, describeDispatchError(err, target)
		}
		return Result{Target: target}, nil

	case TargetKindAgent:
		resp, err := r.client.SendAgentMessage(ctx, target.AgentID, platform.MessageRequest{
			Message:        req.Message,
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
			Metadata:       req.Passthrough,
		})
		if err != nil {
			return Result{}, describeDispatchError(err, target)
		}
		return Result{Target: target, Response: resp}, nil

	default:
		return Result{}, fmt.Errorf("unsupported reply target kind %q", target.Kind)
	}
}

// Resolve walks the destination chain in priority order: the reply
// request's own response webhook, the pass-through bag forwarded from
// an earlier call, then the registry of trigger emissions. When none
// resolve, the reply goes straight to the agent endpoint.
func (r *Router) Resolve(req Request) Target {
	if url := strings.TrimSpace(req.ResponseWebhook); url != "" {
		return Target{Kind: TargetKindCallback, CallbackURL: url}
	}

	if url := callbackFromPassthrough(req.Passthrough); url != "" {
		return Target{Kind: TargetKindCallback, CallbackURL: url}
	}

	if r.registry != nil {
		if recorded, ok := r.registry.Lookup(req.ConversationID); ok {
			if url := strings.TrimSpace(recorded.ResponseWebhook); url != "" {
				return Target{Kind: TargetKindCallback, CallbackURL: url}
			}
		}
	}

	return Target{Kind: TargetKindAgent, AgentID: strings.TrimSpace(req.AgentID)}
}

var passthroughKeys = []string{"response_webhook", "responseWebhook", "callback_url", "callbackUrl"}

func callbackFromPassthrough(bag map[string]any) string {
	if len(bag) == 0 {
		return ""
	}
	for _, key := range passthroughKeys {
		if text, ok := bag[key].(string); ok {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				return trimmed
			}
		}
	}
	for _, key := range []string{"cribops", "metadata"} {
		if nested, ok := bag[key].(map[string]any); ok {
			if url := callbackFromPassthrough(nested); url != "" {
				return url
			}
		}
	}
	return ""
}

func validateRequest(req Request) error {
	conversationID := strings.TrimSpace(req.ConversationID)
	if conversationID == "" {
		return &platform.ValidationError{Field: "conversation id", Value: req.ConversationID, Reason: "must not be empty"}
	}
	if containsTemplateSyntax(conversationID) {
		return &platform.ValidationError{Field: "conversation id", Value: req.ConversationID, Reason: "contains unresolved template syntax"}
	}
	if agentID := strings.TrimSpace(req.AgentID); agentID != "" && containsTemplateSyntax(agentID) {
		return &platform.ValidationError{Field: "agent id", Value: req.AgentID, Reason: "contains unresolved template syntax"}
	}
	if strings.TrimSpace(req.Message) == "" {
		return &platform.ValidationError{Field: "message", Value: req.Message, Reason: "must not be empty"}
	}
	return nil
}

func containsTemplateSyntax(value string) bool {
	return strings.Contains(value, "{{") || strings.Contains(value, "}}")
}

func describeDispatchError(err error, target Target) error {
	var transportErr *platform.TransportError
	if errors.As(err, &transportErr) && transportErr.Status == 422 {
		return fmt.Errorf("reply rejected by platform (check conversation and agent identifiers): %w", err)
	}
	if target.Kind == TargetKindCallback {
		return fmt.Errorf("dispatch reply to callback %s: %w", target.CallbackURL, err)
	}
	return fmt.Errorf("dispatch reply to agent %s: %w", target.AgentID, err)
}
