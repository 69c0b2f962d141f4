package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/model"
)

const postColumns = `id, title, body, user_id, status, featured_image, created_at, updated_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// FindVisible は閲覧者から見える投稿を取得する。
// 公開済み、または閲覧者が所有者の場合のみ返し、それ以外はnilを返す。
func (r *PostgresPostRepo) FindVisible(ctx context.Context, id, viewerID string) (*model.Post, error) {
	var viewer sql.NullString
	if viewerID != "" {
		viewer = sql.NullString{String: viewerID, Valid: true}
	}

	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+postColumns+`
		 FROM posts
		 WHERE id = $1
		   AND (status = 'published' OR ($2::uuid IS NOT NULL AND user_id = $2::uuid))`,
		id, viewer,
	)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return post, nil
}

// FindForUpdate は指定IDの投稿をSELECT ... FOR UPDATEで取得する。
func (r *PostgresPostRepo) FindForUpdate(ctx context.Context, id string) (*model.Post, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = $1 FOR UPDATE`,
		id,
	)

	post, err := scanPost(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿のロック取得に失敗しました: %w", err)
	}
	return post, nil
}

// ListPublished は公開済みの投稿を作成日時の降順で返す。
func (r *PostgresPostRepo) ListPublished(ctx context.Context, limit int) ([]*model.Post, error) {
	return r.list(ctx,
		`SELECT `+postColumns+`
		 FROM posts
		 WHERE status = 'published'
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
}

// ListByUserID はユーザーの投稿を作成日時の降順で返す。
func (r *PostgresPostRepo) ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Post, error) {
	return r.list(ctx,
		`SELECT `+postColumns+`
		 FROM posts
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
}

func (r *PostgresPostRepo) list(ctx context.Context, query string, args ...any) ([]*model.Post, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("投稿一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("投稿のスキャンに失敗しました: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿一覧の走査に失敗しました: %w", err)
	}
	return posts, nil
}

// CountByUserID はユーザーの投稿数を返す。
func (r *PostgresPostRepo) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT count(*) FROM posts WHERE user_id = $1`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("投稿数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create は投稿を作成する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.Status == "" {
		post.Status = model.PostStatusDraft
	}

	err := conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO posts (id, title, body, user_id, status, featured_image)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		post.ID, post.Title, nullString(post.Body), post.UserID, string(post.Status), nullString(post.FeaturedImage),
	).Scan(&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は投稿を更新する。updated_atは常に進める。
// 所有者（user_id）と作成日時は変更しない。
func (r *PostgresPostRepo) Update(ctx context.Context, post *model.Post) error {
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`UPDATE posts
		 SET title = $2, body = $3, status = $4, featured_image = $5,
		     updated_at = GREATEST(now(), updated_at + interval '1 microsecond')
		 WHERE id = $1
		 RETURNING updated_at`,
		post.ID, post.Title, nullString(post.Body), string(post.Status), nullString(post.FeaturedImage),
	).Scan(&post.UpdatedAt)
	if err == sql.ErrNoRows {
		return fmt.Errorf("post not found: %s", post.ID)
	}
	if err != nil {
		return fmt.Errorf("投稿の更新に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDの投稿を削除する。
func (r *PostgresPostRepo) Delete(ctx context.Context, id string) error {
	result, err := conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM posts WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("投稿の削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("post not found: %s", id)
	}
	return nil
}

// DeleteByUserID はユーザーの全投稿を削除し、アイキャッチ画像の一覧を返す。
func (r *PostgresPostRepo) DeleteByUserID(ctx context.Context, userID string) ([]string, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`DELETE FROM posts WHERE user_id = $1 RETURNING featured_image`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの投稿削除に失敗しました: %w", err)
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var image sql.NullString
		if err := rows.Scan(&image); err != nil {
			return nil, fmt.Errorf("削除した投稿のスキャンに失敗しました: %w", err)
		}
		if image.Valid && image.String != "" {
			images = append(images, image.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除した投稿の走査に失敗しました: %w", err)
	}
	return images, nil
}

// CountByFeaturedImage はurlをアイキャッチ画像に持つ投稿の数を返す。
// 呼び出し元のトランザクション内では、削除・更新済みの行は数えない。
func (r *PostgresPostRepo) CountByFeaturedImage(ctx context.Context, url string) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE featured_image = $1`,
		url,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("アイキャッチ画像の参照数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// ListFeaturedImages は参照中のアイキャッチ画像を重複なしで返す。
func (r *PostgresPostRepo) ListFeaturedImages(ctx context.Context) ([]string, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT DISTINCT featured_image FROM posts WHERE featured_image IS NOT NULL AND featured_image <> ''`,
	)
	if err != nil {
		return nil, fmt.Errorf("アイキャッチ画像一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var images []string
	for rows.Next() {
		var image string
		if err := rows.Scan(&image); err != nil {
			return nil, fmt.Errorf("アイキャッチ画像のスキャンに失敗しました: %w", err)
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

// rowScanner は*sql.Rowと*sql.Rowsに共通するScanメソッド。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(s rowScanner) (*model.Post, error) {
	post := &model.Post{}
	var body, userID, featuredImage sql.NullString
	var status string
	var createdAt, updatedAt time.Time

	if err := s.Scan(
		&post.ID, &post.Title, &body, &userID, &status, &featuredImage,
		&createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	post.Body = ptrString(body)
	post.UserID = userID.String
	post.Status = model.PostStatus(status)
	post.FeaturedImage = ptrString(featuredImage)
	post.CreatedAt = createdAt
	post.UpdatedAt = updatedAt
	return post, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
