package binding

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("binding not found")

// Registration ties one trigger-node instance to a remote webhook so
// the link survives process restarts alongside workflow activation.
type Registration struct {
	NodeID          string
	RemoteWebhookID string
	WorkflowID      string
	WorkflowName    string
	CallbackURL     string
	TestCallbackURL string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Store interface {
	Get(ctx context.Context, nodeID string) (Registration, error)
	Put(ctx context.Context, reg Registration) error
	Delete(ctx context.Context, nodeID string) error
	List(ctx context.Context) ([]Registration, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	store map[string]Registration
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{store: make(map[string]Registration)}
}

func (s *MemoryStore) Get(_ context.Context, nodeID string) (Registration, error) {
	nodeID = strings.TrimSpace(nodeID)
	s.mu.RLock()
	reg, ok := s.store[nodeID]
	s.mu.RUnlock()
	if !ok {
		return Registration{}, ErrNotFound
	}
	return reg, nil
}

func (s *MemoryStore) Put(_ context.Context, reg Registration) error {
	reg.NodeID = strings.TrimSpace(reg.NodeID)
	if reg.NodeID == "" {
		return errors.New("node id is required")
	}
	s.mu.Lock()
	s.store[reg.NodeID] = reg
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, nodeID string) error {
	nodeID = strings.TrimSpace(nodeID)
	s.mu.Lock()
	delete(s.store, nodeID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Registration, error) {
	s.mu.RLock()
	out := make([]Registration, 0, len(s.store))
	for _, reg := range s.store {
		out = append(out, reg)
	}
	s.mu.RUnlock()
	return out, nil
}
