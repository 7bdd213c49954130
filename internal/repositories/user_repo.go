package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/store"
)

const (
	userPrefix       = "user:"
	userEmailPrefix  = "user_email:"
	resetTokenPrefix = "reset_token:"
)

// UserRepository stores the minimal account records and their indexes
type UserRepository struct {
	users  *store.Cached[models.User]
	emails *store.Cached[string]
	resets *store.Cached[string]
}

func NewUserRepository(s store.Store, cacheSize int, cacheTTL time.Duration) *UserRepository {
	return &UserRepository{
		users:  store.NewCached[models.User](s, userPrefix, cacheSize, cacheTTL),
		emails: store.NewCached[string](s, userEmailPrefix, cacheSize, cacheTTL),
		resets: store.NewCached[string](s, resetTokenPrefix, cacheSize, cacheTTL),
	}
}

// NormalizeEmail lowercases and trims an address for indexing
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create stores a new user. Fails with ErrConflict when the email is taken.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	email := NormalizeEmail(user.Email)
	if _, err := r.emails.Get(ctx, email); err == nil {
		return models.ErrConflict
	} else if !store.IsNotFound(err) {
		return err
	}

	user.Email = email
	if err := r.users.Put(ctx, user.ID, *user); err != nil {
		return err
	}
	return r.emails.Put(ctx, email, user.ID)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	u, err := r.users.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// LoadByID reads the user from the store itself, refreshing the cached copy.
// Credential checks and every read-modify-write go through here.
func (r *UserRepository) LoadByID(ctx context.Context, id string) (*models.User, error) {
	u, err := r.users.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Fresh is a view of the repository whose GetByID always reads the store.
func (r *UserRepository) Fresh() FreshUsers {
	return FreshUsers{r}
}

// FreshUsers serves authorization lookups that must see role changes
// made by other processes immediately.
type FreshUsers struct {
	repo *UserRepository
}

func (f FreshUsers) GetByID(ctx context.Context, id string) (*models.User, error) {
	return f.repo.LoadByID(ctx, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	id, err := r.emails.Get(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, err
	}
	user, err := r.GetByID(ctx, id)
	if store.IsNotFound(err) {
		// Dangling index from a partial write
		return nil, fmt.Errorf("email index points at missing user: %w", models.ErrNotFound)
	}
	return user, err
}

// Update writes the user record through. Email changes are not supported here.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	return r.users.Put(ctx, user.ID, *user)
}

// List returns every user record
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	records, _, err := r.users.All(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]*models.User, 0, len(records))
	for _, u := range records {
		u := u
		users = append(users, &u)
	}
	return users, nil
}

// PutResetIndex maps a reset token hash to its user
func (r *UserRepository) PutResetIndex(ctx context.Context, tokenHash, userID string) error {
	return r.resets.Put(ctx, tokenHash, userID)
}

// GetResetIndex resolves a reset token hash to a user ID
func (r *UserRepository) GetResetIndex(ctx context.Context, tokenHash string) (string, error) {
	return r.resets.Get(ctx, tokenHash)
}

// DeleteResetIndex removes a reset token index entry
func (r *UserRepository) DeleteResetIndex(ctx context.Context, tokenHash string) error {
	return r.resets.Delete(ctx, tokenHash)
}

// ListResetIndexes returns every reset index entry as hash -> user ID
func (r *UserRepository) ListResetIndexes(ctx context.Context) (map[string]string, error) {
	records, _, err := r.resets.All(ctx)
	return records, err
}

// Refresh reloads the in-process caches from the store
func (r *UserRepository) Refresh(ctx context.Context) (int, error) {
	if _, err := r.emails.Refresh(ctx); err != nil {
		return 0, err
	}
	if _, err := r.resets.Refresh(ctx); err != nil {
		return 0, err
	}
	return r.users.Refresh(ctx)
}
