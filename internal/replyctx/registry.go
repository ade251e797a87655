package replyctx

import (
	"strings"
	"sync"
	"time"
)

// Context records where replies for a conversation should go, captured
// from the most recent trigger emission or typing call.
type Context struct {
	ResponseWebhook string
	AgentID         string
	UserID          string
	OrganizationID  string
	RecordedAt      time.Time
}

type Registry struct {
	mu    sync.RWMutex
	store map[string]Context
}

func NewRegistry() *Registry {
	return &Registry{
		store: make(map[string]Context),
	}
}

func (r *Registry) Record(conversationID string, ctx Context) {
	if r == nil {
		return
	}

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || strings.TrimSpace(ctx.ResponseWebhook) == "" {
		return
	}
	if ctx.RecordedAt.IsZero() {
		ctx.RecordedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if r.store == nil {
		r.store = make(map[string]Context)
	}
	r.store[conversationID] = ctx
	r.mu.Unlock()
}

func (r *Registry) Lookup(conversationID string) (Context, bool) {
	if r == nil {
		return Context{}, false
	}

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Context{}, false
	}

	r.mu.RLock()
	ctx, ok := r.store[conversationID]
	r.mu.RUnlock()
	return ctx, ok
}

func (r *Registry) Forget(conversationID string) {
	if r == nil {
		return
	}

	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return
	}

	r.mu.Lock()
	delete(r.store, conversationID)
	r.mu.Unlock()
}
