package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/blogman/internal/model"
	"github.com/lib/pq"
)

// PostgresPostTagRepo はPostgreSQLを使用した投稿・タグ関連付けリポジトリ。
type PostgresPostTagRepo struct {
	db *sql.DB
}

// NewPostgresPostTagRepo はPostgresPostTagRepoを生成する。
func NewPostgresPostTagRepo(db *sql.DB) *PostgresPostTagRepo {
	return &PostgresPostTagRepo{db: db}
}

// DeleteByPostID は投稿の関連付けをすべて削除する。
func (r *PostgresPostTagRepo) DeleteByPostID(ctx context.Context, postID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM posts_tags WHERE post_id = $1`,
		postID,
	)
	if err != nil {
		return fmt.Errorf("関連付けの削除に失敗しました: %w", err)
	}
	return nil
}

// Insert は投稿にタグを一括で関連付ける。
func (r *PostgresPostTagRepo) Insert(ctx context.Context, postID string, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}

	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO posts_tags (post_id, tag_id)
		 SELECT $1, t.id FROM unnest($2::uuid[]) AS t(id)
		 ON CONFLICT (post_id, tag_id) DO NOTHING`,
		postID, pq.Array(tagIDs),
	)
	if err != nil {
		return fmt.Errorf("関連付けの作成に失敗しました: %w", err)
	}
	return nil
}

// ListTagsByPostID は投稿に関連付けられたタグを名前の昇順で返す。
func (r *PostgresPostTagRepo) ListTagsByPostID(ctx context.Context, postID string) ([]model.Tag, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT t.id, t.name, t.slug, t.created_at, t.updated_at
		 FROM posts_tags pt
		 JOIN tags t ON t.id = pt.tag_id
		 WHERE pt.post_id = $1
		 ORDER BY t.name COLLATE "C"`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("投稿のタグ取得に失敗しました: %w", err)
	}
	defer rows.Close()

	tags := []model.Tag{}
	for rows.Next() {
		var tag model.Tag
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("タグのスキャンに失敗しました: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タグの走査に失敗しました: %w", err)
	}
	return tags, nil
}

// ListTagsByPostIDs は複数投稿のタグを1クエリで取得し、投稿IDごとにまとめて返す。
// 各投稿のタグは名前の昇順。
func (r *PostgresPostTagRepo) ListTagsByPostIDs(ctx context.Context, postIDs []string) (map[string][]model.Tag, error) {
	result := make(map[string][]model.Tag, len(postIDs))
	if len(postIDs) == 0 {
		return result, nil
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT pt.post_id, t.id, t.name, t.slug, t.created_at, t.updated_at
		 FROM posts_tags pt
		 JOIN tags t ON t.id = pt.tag_id
		 WHERE pt.post_id = ANY($1::uuid[])
		 ORDER BY pt.post_id, t.name COLLATE "C"`,
		pq.Array(postIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("投稿のタグ一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID string
		var tag model.Tag
		if err := rows.Scan(&postID, &tag.ID, &tag.Name, &tag.Slug, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("タグのスキャンに失敗しました: %w", err)
		}
		result[postID] = append(result[postID], tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タグの走査に失敗しました: %w", err)
	}
	return result, nil
}

// compile-time interface check
var _ PostTagRepository = (*PostgresPostTagRepo)(nil)
