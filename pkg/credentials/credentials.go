package credentials

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/ferrydock/ferry/pkg/storage"
	"github.com/ferrydock/ferry/pkg/types"
)

const (
	// APIKeyTag prefixes every organization API key.
	APIKeyTag = "ck_live_"
	// ClusterSecretTag prefixes every cluster secret.
	ClusterSecretTag = "cs_"

	// prefixLen is the number of key-body chars used for indexed lookup.
	prefixLen = 8

	// hashCost is the bcrypt work factor for secrets at rest.
	hashCost = 12

	secretBytes = 32
)

// Identity is the result of a successful API key verification.
type Identity struct {
	OrganizationID string
	KeyID          string
}

// Manager implements the credential store against persistent storage.
type Manager struct {
	store storage.Store

	// dummyHash absorbs verification work for unknown clusters so a
	// miss takes the same time as a mismatch.
	dummyHash []byte
}

// NewManager creates a credential manager backed by the given store.
func NewManager(store storage.Store) *Manager {
	dummy, _ := bcrypt.GenerateFromPassword([]byte("ferry-dummy-compare"), hashCost)
	return &Manager{store: store, dummyHash: dummy}
}

// IssueAPIKey mints a new API key for an organization. The returned
// plaintext is shown exactly once; only its hash is persisted.
func (m *Manager) IssueAPIKey(ctx context.Context, orgID, name string, expiresAt *time.Time) (*types.APIKey, string, error) {
	body, err := randomSecret()
	if err != nil {
		return nil, "", err
	}
	plaintext := APIKeyTag + body

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), hashCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	key := &types.APIKey{
		ID:             types.NewID("key"),
		OrganizationID: orgID,
		Name:           name,
		KeyPrefix:      body[:prefixLen],
		KeyHash:        hash,
		ExpiresAt:      expiresAt,
		CreatedAt:      time.Now(),
	}
	if err := m.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", fmt.Errorf("failed to persist api key: %w", err)
	}
	return key, plaintext, nil
}

// VerifyAPIKey resolves a plaintext API key to its organization. The key
// prefix shortlists candidates; each candidate is confirmed with a
// constant-time hash compare. Fails closed with ErrNotAuthenticated.
func (m *Manager) VerifyAPIKey(ctx context.Context, plaintext string) (*Identity, error) {
	body, ok := strings.CutPrefix(plaintext, APIKeyTag)
	if !ok || len(body) < prefixLen {
		return nil, types.ErrNotAuthenticated
	}

	candidates, err := m.store.ListAPIKeysByPrefix(ctx, body[:prefixLen])
	if err != nil {
		return nil, fmt.Errorf("failed to look up api keys: %w", err)
	}

	now := time.Now()
	for _, key := range candidates {
		if !key.Valid(now) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, types.ErrNotAuthenticated
		}
		if bcrypt.CompareHashAndPassword(key.KeyHash, []byte(plaintext)) == nil {
			return &Identity{OrganizationID: key.OrganizationID, KeyID: key.ID}, nil
		}
	}
	return nil, types.ErrNotAuthenticated
}

// IssueClusterSecret generates a fresh cluster secret. The plaintext is
// returned once to be handed to the relayer; the hash is what callers
// store on the cluster row.
func (m *Manager) IssueClusterSecret() (plaintext string, hash []byte, err error) {
	body, err := randomSecret()
	if err != nil {
		return "", nil, err
	}
	plaintext = ClusterSecretTag + body
	hash, err = bcrypt.GenerateFromPassword([]byte(plaintext), hashCost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash cluster secret: %w", err)
	}
	return plaintext, hash, nil
}

// VerifyClusterSecret checks a cluster's presented secret and returns the
// owning organization id. A lookup miss burns the same hash-compare work
// as a mismatch so wall time does not reveal cluster existence.
func (m *Manager) VerifyClusterSecret(ctx context.Context, clusterID, plaintext string) (string, error) {
	cluster, err := m.store.GetCluster(ctx, clusterID)
	if err != nil {
		bcrypt.CompareHashAndPassword(m.dummyHash, []byte(plaintext))
		return "", types.ErrNotAuthenticated
	}
	if bcrypt.CompareHashAndPassword(cluster.SecretHash, []byte(plaintext)) != nil {
		return "", types.ErrNotAuthenticated
	}
	return cluster.OrganizationID, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
