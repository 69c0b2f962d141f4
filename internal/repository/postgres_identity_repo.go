package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/blogman/internal/model"
)

// PostgresIdentityRepo はIdPとユーザーの紐付けを扱う。
// 作成はユーザーと同時に行うため、PostgresUserRepo.CreateWithIdentityが担う。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByProviderAndProviderUserID はIdPの識別子から紐付けを取得する。なければnil, nil。
func (r *PostgresIdentityRepo) FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error) {
	var i model.Identity
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_user_id, created_at
		 FROM identities WHERE provider = $1 AND provider_user_id = $2`,
		provider, providerUserID,
	).Scan(&i.ID, &i.UserID, &i.Provider, &i.ProviderUserID, &i.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("IdP紐付けの取得に失敗しました（%s）: %w", provider, err)
	}
	return &i, nil
}

var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
