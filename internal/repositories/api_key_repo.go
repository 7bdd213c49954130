package repositories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

const (
	apiKeyPrefix     = "apikey:"
	apiKeyHashPrefix = "apikey_hash:"
)

// APIKeyRepository defines the interface for API key data access operations
type APIKeyRepository interface {
	// Create stores a new API key and its hash index
	Create(ctx context.Context, apiKey *models.APIKey) error

	// GetByHash resolves a key through the hash index (no scans)
	GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error)

	// GetByID retrieves an API key by its ID, possibly from cache
	GetByID(ctx context.Context, id string) (*models.APIKey, error)

	// LoadByID reads the key from the store itself; use before any update
	LoadByID(ctx context.Context, id string) (*models.APIKey, error)

	// Update writes the key through to the store
	Update(ctx context.Context, apiKey *models.APIKey) error

	// ListByOwner returns every key owned by a user (active and inactive), newest first
	ListByOwner(ctx context.Context, ownerID string) ([]*models.APIKey, error)

	// ListAll returns every key, newest first
	ListAll(ctx context.Context) ([]*models.APIKey, error)

	// Refresh reloads the in-process cache from the store
	Refresh(ctx context.Context) (int, error)
}

// apiKeyRecord is the persisted form; unlike models.APIKey it serializes the hash.
type apiKeyRecord struct {
	models.APIKey
	KeyHash string `json:"key_hash"`
}

func toRecord(k *models.APIKey) apiKeyRecord {
	return apiKeyRecord{APIKey: *k, KeyHash: k.KeyHash}
}

func (r apiKeyRecord) model() *models.APIKey {
	k := r.APIKey
	k.KeyHash = r.KeyHash
	k.Permissions = append([]string(nil), r.Permissions...)
	return &k
}

// StoreAPIKeyRepository keeps API keys in the record store behind a cache-aside layer
type StoreAPIKeyRepository struct {
	keys  *store.Cached[apiKeyRecord]
	index *store.Cached[string]
}

// NewAPIKeyRepository creates a store-backed API key repository
func NewAPIKeyRepository(s store.Store, cacheSize int, cacheTTL time.Duration) *StoreAPIKeyRepository {
	return &StoreAPIKeyRepository{
		keys:  store.NewCached[apiKeyRecord](s, apiKeyPrefix, cacheSize, cacheTTL),
		index: store.NewCached[string](s, apiKeyHashPrefix, cacheSize, cacheTTL),
	}
}

func (r *StoreAPIKeyRepository) Create(ctx context.Context, apiKey *models.APIKey) error {
	if apiKey.ID == "" || apiKey.KeyHash == "" {
		return fmt.Errorf("api key requires id and hash: %w", models.ErrBadRequest)
	}
	// Record before index: an index entry must never point at nothing
	if err := r.keys.Put(ctx, apiKey.ID, toRecord(apiKey)); err != nil {
		return err
	}
	return r.index.Put(ctx, apiKey.KeyHash, apiKey.ID)
}

func (r *StoreAPIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	id, err := r.index.Get(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *StoreAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	rec, err := r.keys.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.model(), nil
}

func (r *StoreAPIKeyRepository) LoadByID(ctx context.Context, id string) (*models.APIKey, error) {
	rec, err := r.keys.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.model(), nil
}

func (r *StoreAPIKeyRepository) Update(ctx context.Context, apiKey *models.APIKey) error {
	return r.keys.Put(ctx, apiKey.ID, toRecord(apiKey))
}

func (r *StoreAPIKeyRepository) ListByOwner(ctx context.Context, ownerID string) ([]*models.APIKey, error) {
	all, err := r.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]*models.APIKey, 0)
	for _, k := range all {
		if k.OwnerID == ownerID {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (r *StoreAPIKeyRepository) ListAll(ctx context.Context) ([]*models.APIKey, error) {
	records, _, err := r.keys.All(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]*models.APIKey, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.model())
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.After(keys[j].CreatedAt) })
	return keys, nil
}

func (r *StoreAPIKeyRepository) Refresh(ctx context.Context) (int, error) {
	if _, err := r.index.Refresh(ctx); err != nil {
		return 0, err
	}
	return r.keys.Refresh(ctx)
}
