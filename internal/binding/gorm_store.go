package binding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/CloudBedrock/cribops-agent-bridge/internal/db"
)

type registrationRow struct {
	NodeID          string `gorm:"primaryKey;column:node_id"`
	RemoteWebhookID string `gorm:"column:remote_webhook_id"`
	WorkflowID      string `gorm:"column:workflow_id"`
	WorkflowName    string `gorm:"column:workflow_name"`
	CallbackURL     string `gorm:"column:callback_url"`
	TestCallbackURL string `gorm:"column:test_callback_url"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (registrationRow) TableName() string {
	return "webhook_registrations"
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	gormDB, err := dbpkg.OpenGorm(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open binding store: %w", err)
	}

	store := &GormStore{db: gormDB}
	if err := store.db.AutoMigrate(&registrationRow{}); err != nil {
		return nil, fmt.Errorf("migrate binding store: %w", err)
	}
	return store, nil
}

func (s *GormStore) Get(ctx context.Context, nodeID string) (Registration, error) {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return Registration{}, ErrNotFound
	}

	var row registrationRow
	err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Registration{}, ErrNotFound
		}
		return Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return row.toRecord(), nil
}

func (s *GormStore) Put(ctx context.Context, reg Registration) error {
	reg.NodeID = strings.TrimSpace(reg.NodeID)
	if reg.NodeID == "" {
		return errors.New("node id is required")
	}

	now := time.Now().UTC()
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now

	row := rowFromRecord(reg)
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("save registration: %w", err)
	}
	return nil
}

func (s *GormStore) Delete(ctx context.Context, nodeID string) error {
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("node_id = ?", nodeID).Delete(&registrationRow{}).Error; err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]Registration, error) {
	var rows []registrationRow
	if err := s.db.WithContext(ctx).Order("node_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	out := make([]Registration, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toRecord())
	}
	return out, nil
}

func (r registrationRow) toRecord() Registration {
	return Registration{
		NodeID:          r.NodeID,
		RemoteWebhookID: r.RemoteWebhookID,
		WorkflowID:      r.WorkflowID,
		WorkflowName:    r.WorkflowName,
		CallbackURL:     r.CallbackURL,
		TestCallbackURL: r.TestCallbackURL,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func rowFromRecord(reg Registration) registrationRow {
	return registrationRow{
		NodeID:          reg.NodeID,
		RemoteWebhookID: reg.RemoteWebhookID,
		WorkflowID:      reg.WorkflowID,
		WorkflowName:    reg.WorkflowName,
		CallbackURL:     reg.CallbackURL,
		TestCallbackURL: reg.TestCallbackURL,
		CreatedAt:       reg.CreatedAt,
		UpdatedAt:       reg.UpdatedAt,
	}
}
