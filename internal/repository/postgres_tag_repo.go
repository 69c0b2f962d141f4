package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/blogman/internal/model"
	"github.com/lib/pq"
)

const (
	tagColumns = `id, name, slug, created_at, updated_at`

	// PostgreSQLが自動命名するtagsのユニーク制約名。
	tagsNameKey = "tags_name_key"
	tagsSlugKey = "tags_slug_key"

	pqUniqueViolation = "23505"
)

// PostgresTagRepo はPostgreSQLを使用したタグリポジトリ。
type PostgresTagRepo struct {
	db *sql.DB
}

// NewPostgresTagRepo はPostgresTagRepoを生成する。
func NewPostgresTagRepo(db *sql.DB) *PostgresTagRepo {
	return &PostgresTagRepo{db: db}
}

// FindByID は指定IDのタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByID(ctx context.Context, id string) (*model.Tag, error) {
	return r.findOne(ctx, `SELECT `+tagColumns+` FROM tags WHERE id = $1`, id)
}

// FindByName は名前が完全一致するタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindByName(ctx context.Context, name string) (*model.Tag, error) {
	return r.findOne(ctx, `SELECT `+tagColumns+` FROM tags WHERE name = $1`, name)
}

// FindBySlug はスラッグが一致するタグを取得する。見つからない場合はnilを返す。
func (r *PostgresTagRepo) FindBySlug(ctx context.Context, slug string) (*model.Tag, error) {
	return r.findOne(ctx, `SELECT `+tagColumns+` FROM tags WHERE slug = $1`, slug)
}

func (r *PostgresTagRepo) findOne(ctx context.Context, query string, arg string) (*model.Tag, error) {
	tag := &model.Tag{}
	err := conn(ctx, r.db).QueryRowContext(ctx, query, arg).
		Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.CreatedAt, &tag.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("タグの取得に失敗しました: %w", err)
	}
	return tag, nil
}

// Search は名前にtermを含むタグを名前の昇順で返す。
// ILIKEのワイルドカード文字はエスケープして部分一致として扱う。
func (r *PostgresTagRepo) Search(ctx context.Context, term string, limit int) ([]*model.Tag, error) {
	if term == "" {
		return r.list(ctx,
			`SELECT `+tagColumns+` FROM tags ORDER BY name COLLATE "C" LIMIT $1`,
			limit,
		)
	}
	return r.list(ctx,
		`SELECT `+tagColumns+`
		 FROM tags
		 WHERE name ILIKE $1 ESCAPE '\'
		 ORDER BY name COLLATE "C"
		 LIMIT $2`,
		"%"+escapeLike(term)+"%", limit,
	)
}

// ListAll は全タグを名前の昇順で返す。
func (r *PostgresTagRepo) ListAll(ctx context.Context) ([]*model.Tag, error) {
	return r.list(ctx, `SELECT `+tagColumns+` FROM tags ORDER BY name COLLATE "C"`)
}

func (r *PostgresTagRepo) list(ctx context.Context, query string, args ...any) ([]*model.Tag, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("タグ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	tags := []*model.Tag{}
	for rows.Next() {
		tag := &model.Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Slug, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("タグのスキャンに失敗しました: %w", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タグ一覧の走査に失敗しました: %w", err)
	}
	return tags, nil
}

// Create はタグを作成する。ユニーク制約違反は制約に応じたエラーに変換する。
func (r *PostgresTagRepo) Create(ctx context.Context, tag *model.Tag) error {
	if tag.ID == "" {
		tag.ID = uuid.New().String()
	}

	err := conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO tags (id, name, slug) VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		tag.ID, tag.Name, tag.Slug,
	).Scan(&tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		if dupErr := uniqueViolation(err); dupErr != nil {
			return dupErr
		}
		return fmt.Errorf("タグの作成に失敗しました: %w", err)
	}
	return nil
}

// InsertIfAbsent はON CONFLICT DO NOTHINGでタグを作成する。
// 競合した場合はトランザクションを中断させずにfalseを返す。
func (r *PostgresTagRepo) InsertIfAbsent(ctx context.Context, tag *model.Tag) (bool, error) {
	if tag.ID == "" {
		tag.ID = uuid.New().String()
	}

	err := conn(ctx, r.db).QueryRowContext(ctx,
		`INSERT INTO tags (id, name, slug) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING
		 RETURNING created_at, updated_at`,
		tag.ID, tag.Name, tag.Slug,
	).Scan(&tag.CreatedAt, &tag.UpdatedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		if uniqueViolation(err) != nil {
			return false, nil
		}
		return false, fmt.Errorf("タグの作成に失敗しました: %w", err)
	}
	return true, nil
}

// Delete は指定IDのタグを削除する。関連付けはCASCADE削除される。
func (r *PostgresTagRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, `DELETE FROM tags WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("タグの削除に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// uniqueViolation はpq.Errorの23505を制約名に応じたエラーに変換する。
// ユニーク制約違反でない場合はnilを返す。
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != pqUniqueViolation {
		return nil
	}
	switch pqErr.Constraint {
	case tagsSlugKey:
		return fmt.Errorf("%w: %s", ErrDuplicateTagSlug, pqErr.Detail)
	case tagsNameKey:
		return fmt.Errorf("%w: %s", ErrDuplicateTagName, pqErr.Detail)
	default:
		return fmt.Errorf("%w: %s", ErrDuplicateTagName, pqErr.Message)
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// compile-time interface check
var _ TagRepository = (*PostgresTagRepo)(nil)
