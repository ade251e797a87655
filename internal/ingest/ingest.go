package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/event"
	"github.com/CloudBedrock/cribops-agent-bridge/internal/replyctx"
)

const maxRequestBodyBytes = 2 << 20

var signatureHeaders = []string{"x-cribops-signature", "x-webhook-signature"}

type EventEmitter interface {
	EmitEvent(ctx context.Context, ev event.CanonicalEvent) error
}

type Config struct {
	Secret         string
	AllowedEvents  []string
	IncludeHeaders bool
}

type Ingestor struct {
	cfg      Config
	emitter  EventEmitter
	registry *replyctx.Registry
	logger   *log.Logger
	allowed  map[string]struct{}
}

func New(cfg Config, emitter EventEmitter, registry *replyctx.Registry, logger *log.Logger) *Ingestor {
	if emitter == nil {
		panic("ingest: emitter is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var allowed map[string]struct{}
	if len(cfg.AllowedEvents) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedEvents))
		for _, name := range cfg.AllowedEvents {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			allowed[name] = struct{}{}
		}
		if len(allowed) == 0 {
			allowed = nil
		}
	}

	return &Ingestor{
		cfg:      cfg,
		emitter:  emitter,
		registry: registry,
		logger:   logger,
		allowed:  allowed,
	}
}

func (i *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()

	if !i.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
		return
	}

	var payload map[string]any
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(&payload); err != nil {
		// Vendor payloads are not guaranteed to be objects; a body we
		// cannot decode still gets accepted with empty canonical fields.
		payload = map[string]any{}
	}

	ev := event.FromWebhookPayload(payload)

	if i.allowed != nil && ev.EventType != "" {
		if _, ok := i.allowed[ev.EventType]; !ok {
			writeJSON(w, http.StatusOK, map[string]any{"received": true, "filtered": true})
			return
		}
	}

	if i.cfg.IncludeHeaders {
		ev.RawHeaders = flattenHeaders(r.Header)
	}

	if ev.ResponseWebhook != "" && ev.ConversationID != "" {
		i.registry.Record(ev.ConversationID, replyctx.Context{
			ResponseWebhook: ev.ResponseWebhook,
			AgentID:         ev.AgentID,
			UserID:          ev.UserID,
			OrganizationID:  ev.OrganizationID,
		})
	}

	if err := i.emitter.EmitEvent(r.Context(), ev); err != nil {
		i.logger.Printf("emit webhook event failed event_id=%s err=%v", ev.EventID, err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

// authorized accepts the request when no secret is configured, when a
// signature header equals the secret, or when the Authorization header
// carries the secret as a bearer token.
func (i *Ingestor) authorized(r *http.Request) bool {
	secret := strings.TrimSpace(i.cfg.Secret)
	if secret == "" {
		return true
	}

	for _, name := range signatureHeaders {
		if strings.TrimSpace(r.Header.Get(name)) == secret {
			return true
		}
	}

	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return false
	}
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):]) == secret
	}
	return auth == secret
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	flat := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		flat[strings.ToLower(name)] = values[0]
	}
	return flat
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
