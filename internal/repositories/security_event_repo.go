package repositories

import (
	"context"
	"encoding/json"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

const securityEventPrefix = "security_event:"

// keyTimeLayout is fixed width so lexical key order is chronological order
const keyTimeLayout = "20060102T150405.000000000Z"

// SecurityEventRepository is the append-only event log in the record store
type SecurityEventRepository struct {
	store store.Store
}

func NewSecurityEventRepository(s store.Store) *SecurityEventRepository {
	return &SecurityEventRepository{store: s}
}

// EventKey returns the store key for an event
func EventKey(e *models.SecurityEvent) string {
	return securityEventPrefix + e.Timestamp.UTC().Format(keyTimeLayout) + ":" + e.ID
}

func (r *SecurityEventRepository) Append(ctx context.Context, event *models.SecurityEvent) error {
	return store.SetJSON(ctx, r.store, EventKey(event), event)
}

// List returns every stored event, oldest first
func (r *SecurityEventRepository) List(ctx context.Context) ([]*models.SecurityEvent, error) {
	entries, err := r.store.Scan(ctx, securityEventPrefix)
	if err != nil {
		return nil, err
	}
	events := make([]*models.SecurityEvent, 0, len(entries))
	for _, e := range entries {
		var event models.SecurityEvent
		if err := jsonUnmarshal(e.Value, &event); err != nil {
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

func (r *SecurityEventRepository) Delete(ctx context.Context, event *models.SecurityEvent) error {
	return r.store.Delete(ctx, EventKey(event))
}

func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
