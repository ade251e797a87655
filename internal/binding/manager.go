package binding

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"

	"github.com/CloudBedrock/cribops-agent-bridge/internal/platform"
)

type RegistrationClient interface {
	ListWebhooks(ctx context.Context) ([]platform.Webhook, error)
	LinkWebhook(ctx context.Context, webhookID string, req platform.LinkRequest) error
	UnlinkWebhook(ctx context.Context, webhookID string) error
}

type Manager struct {
	client RegistrationClient
	store  Store
	logger *log.Logger
}

func NewManager(client RegistrationClient, store Store, logger *log.Logger) *Manager {
	if client == nil {
		panic("binding: client is required")
	}
	if store == nil {
		panic("binding: store is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Manager{
		client: client,
		store:  store,
		logger: logger,
	}
}

// CheckExists reports whether the node already has a live registration
// matching the callback URL. Any remote listing failure conservatively
// reports absent; Activate tolerates re-linking an existing binding.
func (m *Manager) CheckExists(ctx context.Context, nodeID, callbackURL string) (bool, error) {
	reg, err := m.store.Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if strings.TrimSpace(reg.RemoteWebhookID) == "" {
		return false, nil
	}

	webhooks, err := m.client.ListWebhooks(ctx)
	if err != nil {
		m.logger.Printf("webhook existence check degraded node_id=%s err=%v", nodeID, err)
		return false, nil
	}
	for _, hook := range webhooks {
		if hook.ID != reg.RemoteWebhookID {
			continue
		}
		if strings.TrimSpace(callbackURL) == "" || hook.CallbackURL == callbackURL {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) Activate(ctx context.Context, reg Registration) error {
	if strings.TrimSpace(reg.NodeID) == "" {
		return errors.New("node id is required")
	}
	if strings.TrimSpace(reg.RemoteWebhookID) == "" {
		return errors.New("remote webhook id is required")
	}
	if strings.TrimSpace(reg.CallbackURL) == "" {
		return errors.New("callback url is required")
	}

	err := m.client.LinkWebhook(ctx, reg.RemoteWebhookID, platform.LinkRequest{
		WorkflowID:     reg.WorkflowID,
		WebhookURL:     reg.CallbackURL,
		TestWebhookURL: reg.TestCallbackURL,
		WorkflowName:   reg.WorkflowName,
	})
	if err != nil {
		return &platform.RegistrationError{Op: "link", Err: err}
	}

	if err := m.store.Put(ctx, reg); err != nil {
		return &platform.RegistrationError{Op: "persist", Err: err}
	}
	m.logger.Printf("webhook linked node_id=%s webhook_id=%s workflow_id=%s", reg.NodeID, reg.RemoteWebhookID, reg.WorkflowID)
	return nil
}

// Deactivate unlinks and clears the stored binding. A remote failure is
// logged and swallowed so workflow deactivation always proceeds.
func (m *Manager) Deactivate(ctx context.Context, nodeID string) error {
	reg, err := m.store.Get(ctx, nodeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if strings.TrimSpace(reg.RemoteWebhookID) != "" {
		if err := m.client.UnlinkWebhook(ctx, reg.RemoteWebhookID); err != nil {
			m.logger.Printf("webhook unlink failed node_id=%s webhook_id=%s err=%v", nodeID, reg.RemoteWebhookID, err)
		}
	}

	if err := m.store.Delete(ctx, nodeID); err != nil {
		return &platform.RegistrationError{Op: "clear", Err: err}
	}
	m.logger.Printf("webhook unlinked node_id=%s webhook_id=%s", nodeID, reg.RemoteWebhookID)
	return nil
}

func (m *Manager) List(ctx context.Context) ([]Registration, error) {
	return m.store.List(ctx)
}
