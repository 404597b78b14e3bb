package credentials

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

func TestIssueAPIKey(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	key, plaintext, err := mgr.IssueAPIKey(ctx, "org-1", "ci", nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, APIKeyTag))
	assert.Equal(t, "org-1", key.OrganizationID)
	assert.Len(t, key.KeyPrefix, prefixLen)
	assert.Equal(t, strings.TrimPrefix(plaintext, APIKeyTag)[:prefixLen], key.KeyPrefix)
	assert.NotContains(t, string(key.KeyHash), strings.TrimPrefix(plaintext, APIKeyTag))
}

func TestVerifyAPIKey(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	key, plaintext, err := mgr.IssueAPIKey(ctx, "org-1", "ci", nil)
	require.NoError(t, err)

	t.Run("valid key resolves identity", func(t *testing.T) {
		id, err := mgr.VerifyAPIKey(ctx, plaintext)
		require.NoError(t, err)
		assert.Equal(t, "org-1", id.OrganizationID)
		assert.Equal(t, key.ID, id.KeyID)
	})

	t.Run("wrong key fails closed", func(t *testing.T) {
		_, err := mgr.VerifyAPIKey(ctx, APIKeyTag+strings.Repeat("x", 43))
		assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	})

	t.Run("missing tag fails closed", func(t *testing.T) {
		_, err := mgr.VerifyAPIKey(ctx, strings.TrimPrefix(plaintext, APIKeyTag))
		assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	})

	t.Run("revoked key fails closed", func(t *testing.T) {
		require.NoError(t, store.RevokeAPIKey(ctx, key.ID, time.Now()))
		_, err := mgr.VerifyAPIKey(ctx, plaintext)
		assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	})
}

func TestVerifyAPIKeyExpired(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	_, plaintext, err := mgr.IssueAPIKey(ctx, "org-1", "short-lived", &past)
	require.NoError(t, err)

	_, err = mgr.VerifyAPIKey(ctx, plaintext)
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)
}

func TestVerifyClusterSecret(t *testing.T) {
	store := storage.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	plaintext, hash, err := mgr.IssueClusterSecret()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plaintext, ClusterSecretTag))

	require.NoError(t, store.CreateCluster(ctx, &types.Cluster{
		ID:             "cl-1",
		OrganizationID: "org-1",
		Name:           "prod",
		Status:         types.ClusterStatusPending,
		SecretHash:     hash,
	}))

	t.Run("valid secret resolves org", func(t *testing.T) {
		orgID, err := mgr.VerifyClusterSecret(ctx, "cl-1", plaintext)
		require.NoError(t, err)
		assert.Equal(t, "org-1", orgID)
	})

	t.Run("wrong secret fails closed", func(t *testing.T) {
		_, err := mgr.VerifyClusterSecret(ctx, "cl-1", ClusterSecretTag+"nope")
		assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	})

	t.Run("unknown cluster fails closed", func(t *testing.T) {
		_, err := mgr.VerifyClusterSecret(ctx, "cl-missing", plaintext)
		assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	})
}
