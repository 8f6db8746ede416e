package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort describes the key storage used by Service.
type RepositoryPort interface {
	FindByPrefix(ctx context.Context, prefix string) (APIKey, error)
	Insert(ctx context.Context, key APIKey) (int64, error)
	TouchLastUsed(ctx context.Context, id int64)
	Deactivate(ctx context.Context, id, companyID int64) error
}

// Service validates API keys and resolves them to identities.
type Service struct {
	repo RepositoryPort
}

// NewService constructs auth service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

const (
	keyScheme    = "mk"
	prefixLength = 8
)

// Authenticate resolves a raw API key to the identity it was issued for.
// Every failure mode returns the same error.
func (s *Service) Authenticate(ctx context.Context, rawKey string) (shared.Identity, error) {
	prefix, secret, ok := splitKey(rawKey)
	if !ok {
		return shared.Identity{}, ErrInvalidAPIKey
	}
	key, err := s.repo.FindByPrefix(ctx, prefix)
	if err != nil {
		return shared.Identity{}, ErrInvalidAPIKey
	}
	if !key.IsActive {
		return shared.Identity{}, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.SecretHash), []byte(secret)); err != nil {
		return shared.Identity{}, ErrInvalidAPIKey
	}
	s.repo.TouchLastUsed(ctx, key.ID)
	return shared.Identity{ActorID: key.UserID, CompanyID: key.CompanyID}, nil
}

// Issue mints a new key for a user. The raw key is returned exactly once and
// cannot be recovered later.
func (s *Service) Issue(ctx context.Context, id shared.Identity, name string) (APIKey, string, error) {
	if name == "" {
		return APIKey{}, "", fmt.Errorf("auth: key name required: %w", shared.ErrInvalidOperation)
	}
	prefix, err := randomHex(prefixLength / 2)
	if err != nil {
		return APIKey{}, "", err
	}
	secret, err := randomHex(24)
	if err != nil {
		return APIKey{}, "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return APIKey{}, "", err
	}
	key := APIKey{
		CompanyID:  id.CompanyID,
		UserID:     id.ActorID,
		Name:       name,
		Prefix:     prefix,
		SecretHash: string(hash),
		IsActive:   true,
	}
	key.ID, err = s.repo.Insert(ctx, key)
	if err != nil {
		return APIKey{}, "", err
	}
	return key, fmt.Sprintf("%s_%s_%s", keyScheme, prefix, secret), nil
}

// Revoke deactivates a key belonging to the caller's company.
func (s *Service) Revoke(ctx context.Context, id shared.Identity, keyID int64) error {
	return s.repo.Deactivate(ctx, keyID, id.CompanyID)
}

func splitKey(raw string) (prefix, secret string, ok bool) {
	parts := strings.SplitN(raw, "_", 3)
	if len(parts) != 3 || parts[0] != keyScheme || len(parts[1]) != prefixLength || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
