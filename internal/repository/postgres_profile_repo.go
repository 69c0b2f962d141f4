package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByUserID はユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at, updated_at FROM profiles WHERE user_id = $1`,
		userID,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの取得に失敗しました: %w", err)
	}
	return profile, nil
}

// Upsert はプロフィールを作成または更新する。
// UNIQUE(user_id)制約を利用したINSERT ON CONFLICTで実装し、
// nameが未指定の場合は既存の名前を維持する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, userID string, name model.Optional[string]) (*model.Profile, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO profiles (id, user_id, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE
		 SET name = CASE WHEN $4 THEN EXCLUDED.name ELSE profiles.name END,
		     updated_at = now()
		 RETURNING id, user_id, name, created_at, updated_at`,
		uuid.New().String(), userID, nullString(name.Ptr()), name.Set,
	)
	profile, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("プロフィールの保存に失敗しました: %w", err)
	}
	return profile, nil
}

// InsertIfAbsent はプロフィールが存在しない場合のみ作成する。
// 既に存在する場合は既存の行を変更せずに返す。
func (r *PostgresProfileRepo) InsertIfAbsent(ctx context.Context, userID, name string) (*model.Profile, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO profiles (id, user_id, name)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING
		 RETURNING id, user_id, name, created_at, updated_at`,
		uuid.New().String(), userID, name,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return r.FindByUserID(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィールの作成に失敗しました: %w", err)
	}
	return profile, nil
}

// DeleteByUserID はユーザーのプロフィールを削除する。
func (r *PostgresProfileRepo) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM profiles WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("プロフィールの削除に失敗しました: %w", err)
	}
	return nil
}

func scanProfile(s rowScanner) (*model.Profile, error) {
	profile := &model.Profile{}
	var name sql.NullString
	if err := s.Scan(&profile.ID, &profile.UserID, &name, &profile.CreatedAt, &profile.UpdatedAt); err != nil {
		return nil, err
	}
	profile.Name = ptrString(name)
	return profile, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
