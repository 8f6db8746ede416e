package auth

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository persists API keys in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByPrefix returns the key with the given clear prefix.
func (r *Repository) FindByPrefix(ctx context.Context, prefix string) (APIKey, error) {
	var key APIKey
	var lastUsed *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, user_id, name, prefix, secret_hash, is_active, created_at, last_used_at FROM api_keys WHERE prefix=$1`, prefix).
		Scan(&key.ID, &key.CompanyID, &key.UserID, &key.Name, &key.Prefix, &key.SecretHash, &key.IsActive, &key.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return APIKey{}, shared.ErrNotFound
		}
		return APIKey{}, err
	}
	if lastUsed != nil {
		key.LastUsedAt = *lastUsed
	}
	return key, nil
}

// Insert stores a new key.
func (r *Repository) Insert(ctx context.Context, key APIKey) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (company_id, user_id, name, prefix, secret_hash, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())
		RETURNING id`,
		key.CompanyID, key.UserID, key.Name, key.Prefix, key.SecretHash, key.IsActive,
	).Scan(&id)
	return id, err
}

// TouchLastUsed stamps the key's last use. Failures are ignored; the stamp is
// informational.
func (r *Repository) TouchLastUsed(ctx context.Context, id int64) {
	_, _ = r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at=NOW() WHERE id=$1`, id)
}

// Deactivate revokes a key within its company.
func (r *Repository) Deactivate(ctx context.Context, id, companyID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE api_keys SET is_active=FALSE WHERE id=$1 AND company_id=$2`, id, companyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
