package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/blogman/internal/model"
)

// ErrUserNotFound はDeleteByIDの対象ユーザーが存在しない場合に返す。
var ErrUserNotFound = errors.New("user not found")

const (
	insertUserSQL = `INSERT INTO users (id, email, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`
	insertIdentitySQL = `INSERT INTO identities (id, user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`
)

// PostgresUserRepo はusersテーブルを扱う。
type PostgresUserRepo struct {
	db *sql.DB
}

func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, email, name, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.UpdatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("ユーザーの取得に失敗しました（%s）: %w", id, err)
	}
	return &u, nil
}

// CreateWithIdentity は初回ログインのユーザーとIdP紐付けを原子的に作成する。
// ctxのトランザクションがあればそれに参加する。
func (r *PostgresUserRepo) CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error {
	return withinTx(ctx, r.db, func(ctx context.Context, q DBTX) error {
		if _, err := q.ExecContext(ctx, insertUserSQL,
			user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt,
		); err != nil {
			return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
		}
		if _, err := q.ExecContext(ctx, insertIdentitySQL,
			identity.ID, identity.UserID, identity.Provider, identity.ProviderUserID, identity.CreatedAt,
		); err != nil {
			return fmt.Errorf("IdP紐付けの作成に失敗しました: %w", err)
		}
		return nil
	})
}

// DeleteByID はユーザーを削除する。identitiesとsessionsは外部キーでCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました（%s）: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("ユーザーの削除件数を取得できません: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return nil
}

var _ UserRepository = (*PostgresUserRepo)(nil)
