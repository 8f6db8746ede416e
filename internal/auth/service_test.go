package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type memKeyRepo struct {
	keys   map[string]APIKey
	nextID int64
}

func newMemKeyRepo() *memKeyRepo {
	return &memKeyRepo{keys: map[string]APIKey{}}
}

func (m *memKeyRepo) FindByPrefix(_ context.Context, prefix string) (APIKey, error) {
	key, ok := m.keys[prefix]
	if !ok {
		return APIKey{}, shared.ErrNotFound
	}
	return key, nil
}

func (m *memKeyRepo) Insert(_ context.Context, key APIKey) (int64, error) {
	m.nextID++
	key.ID = m.nextID
	m.keys[key.Prefix] = key
	return key.ID, nil
}

func (m *memKeyRepo) TouchLastUsed(context.Context, int64) {}

func (m *memKeyRepo) Deactivate(_ context.Context, id, companyID int64) error {
	for prefix, key := range m.keys {
		if key.ID == id && key.CompanyID == companyID {
			key.IsActive = false
			m.keys[prefix] = key
			return nil
		}
	}
	return shared.ErrNotFound
}

var testIdentity = shared.Identity{ActorID: 7, CompanyID: 10}

func TestIssueAndAuthenticate(t *testing.T) {
	repo := newMemKeyRepo()
	svc := NewService(repo)
	ctx := context.Background()

	key, raw, err := svc.Issue(ctx, testIdentity, "ci")
	require.NoError(t, err)
	require.NotZero(t, key.ID)
	require.NotContains(t, raw, key.SecretHash)

	identity, err := svc.Authenticate(ctx, raw)
	require.NoError(t, err)
	require.Equal(t, testIdentity, identity)
}

func TestAuthenticateRejectsBadKeys(t *testing.T) {
	repo := newMemKeyRepo()
	svc := NewService(repo)
	ctx := context.Background()

	_, raw, err := svc.Issue(ctx, testIdentity, "ci")
	require.NoError(t, err)

	for _, bad := range []string{
		"",
		"not-a-key",
		"mk_short_x",
		raw + "tampered",
		raw[:len(raw)-1],
	} {
		_, err := svc.Authenticate(ctx, bad)
		require.ErrorIs(t, err, ErrInvalidAPIKey, "key %q", bad)
	}
}

func TestAuthenticateRevokedKey(t *testing.T) {
	repo := newMemKeyRepo()
	svc := NewService(repo)
	ctx := context.Background()

	key, raw, err := svc.Issue(ctx, testIdentity, "ci")
	require.NoError(t, err)

	// Revocation is scoped to the issuing company.
	other := shared.Identity{ActorID: 1, CompanyID: 99}
	require.ErrorIs(t, svc.Revoke(ctx, other, key.ID), shared.ErrNotFound)

	require.NoError(t, svc.Revoke(ctx, testIdentity, key.ID))
	_, err = svc.Authenticate(ctx, raw)
	require.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestIssueRequiresName(t *testing.T) {
	svc := NewService(newMemKeyRepo())
	_, _, err := svc.Issue(context.Background(), testIdentity, "")
	require.ErrorIs(t, err, shared.ErrInvalidOperation)
}
