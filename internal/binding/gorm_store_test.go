package binding

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestGormStoreSQLiteRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.db")
	store, err := NewGormStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}

	reg := testRegistration()
	if err := store.Put(context.Background(), reg); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := store.Get(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.RemoteWebhookID != "wh-1" || loaded.WorkflowID != "wf-1" {
		t.Fatalf("loaded registration got=%+v", loaded)
	}
	if loaded.CreatedAt.IsZero() || loaded.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set, got %+v", loaded)
	}

	reg.WorkflowName = "Renamed Workflow"
	if err := store.Put(context.Background(), reg); err != nil {
		t.Fatalf("update: %v", err)
	}
	loaded, err = store.Get(context.Background(), "node-1")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if loaded.WorkflowName != "Renamed Workflow" {
		t.Fatalf("workflow name got=%q", loaded.WorkflowName)
	}

	all, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected one registration, got %d", len(all))
	}

	if err := store.Delete(context.Background(), "node-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Get(context.Background(), "node-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestGormStoreGetMissing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bridge.db")
	store, err := NewGormStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
