package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/bastion/internal/models"
)

// runStoreContract exercises the behavior every backend must share.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("missing key", func(t *testing.T) {
		_, err := s.Get(ctx, "contract:missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.True(t, IsNotFound(err))
	})

	t.Run("set get overwrite delete", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "contract:a", []byte(`{"v":1}`)))
		got, err := s.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":1}`, string(got))

		require.NoError(t, s.Set(ctx, "contract:a", []byte(`{"v":2}`)))
		got, err = s.Get(ctx, "contract:a")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))

		require.NoError(t, s.Delete(ctx, "contract:a"))
		_, err = s.Get(ctx, "contract:a")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("delete missing key is not an error", func(t *testing.T) {
		assert.NoError(t, s.Delete(ctx, "contract:never-written"))
	})

	t.Run("scan by prefix in key order", func(t *testing.T) {
		require.NoError(t, s.Set(ctx, "scan:b", []byte(`"b"`)))
		require.NoError(t, s.Set(ctx, "scan:a", []byte(`"a"`)))
		require.NoError(t, s.Set(ctx, "scan_other:c", []byte(`"c"`)))
		require.NoError(t, s.Set(ctx, "scanx", []byte(`"x"`)))

		entries, err := s.Scan(ctx, "scan:")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "scan:a", entries[0].Key)
		assert.Equal(t, "scan:b", entries[1].Key)
		assert.JSONEq(t, `"a"`, string(entries[0].Value))
	})

	t.Run("json helpers", func(t *testing.T) {
		type rec struct {
			Name string `json:"name"`
		}
		require.NoError(t, SetJSON(ctx, s, "contract:json", rec{Name: "x"}))
		got, err := GetJSON[rec](ctx, s, "contract:json")
		require.NoError(t, err)
		assert.Equal(t, "x", got.Name)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
