package repositories

import (
	"context"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

const attemptPrefix = "abuse:"

// AttemptRepository persists abuse limiter records for one namespace
type AttemptRepository struct {
	store     store.Store
	namespace string
}

func NewAttemptRepository(s store.Store, namespace string) *AttemptRepository {
	return &AttemptRepository{store: s, namespace: namespace}
}

func (r *AttemptRepository) key(identity string) string {
	return attemptPrefix + r.namespace + ":" + identity
}

// Get returns the record for identity or models.ErrNotFound
func (r *AttemptRepository) Get(ctx context.Context, identity string) (*models.AttemptRecord, error) {
	return store.GetJSON[models.AttemptRecord](ctx, r.store, r.key(identity))
}

func (r *AttemptRepository) Put(ctx context.Context, rec *models.AttemptRecord) error {
	return store.SetJSON(ctx, r.store, r.key(rec.Key), rec)
}

func (r *AttemptRepository) Delete(ctx context.Context, identity string) error {
	return r.store.Delete(ctx, r.key(identity))
}

// List returns every record in the namespace. Undecodable records are skipped.
func (r *AttemptRepository) List(ctx context.Context) ([]*models.AttemptRecord, error) {
	entries, err := r.store.Scan(ctx, attemptPrefix+r.namespace+":")
	if err != nil {
		return nil, err
	}
	records := make([]*models.AttemptRecord, 0, len(entries))
	for _, e := range entries {
		var rec models.AttemptRecord
		if err := jsonUnmarshal(e.Value, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}
