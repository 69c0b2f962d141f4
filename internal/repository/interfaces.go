// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/blogman/internal/model"
)

// タグのユニーク制約違反を表すエラー。
var (
	ErrDuplicateTagName = errors.New("duplicate tag name")
	ErrDuplicateTagSlug = errors.New("duplicate tag slug")
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// PostRepository は投稿データの永続化インターフェース。
// 可視性の判定はクエリ条件で行う。
type PostRepository interface {
	// FindVisible は閲覧者から見える投稿を取得する。
	// 存在しない場合、または非公開かつ閲覧者が所有者でない場合はnilを返す。
	// viewerIDが空の場合は匿名として扱う。
	FindVisible(ctx context.Context, id, viewerID string) (*model.Post, error)

	// FindForUpdate は指定IDの投稿を行ロック付きで取得する。見つからない場合はnilを返す。
	// トランザクション内で呼び出すこと。
	FindForUpdate(ctx context.Context, id string) (*model.Post, error)

	// ListPublished は公開済みの投稿を作成日時の降順で最大limit件返す。
	ListPublished(ctx context.Context, limit int) ([]*model.Post, error)

	// ListByUserID はユーザーの投稿をステータスに関わらず作成日時の降順で最大limit件返す。
	ListByUserID(ctx context.Context, userID string, limit int) ([]*model.Post, error)

	// CountByUserID はユーザーの投稿数を返す。
	CountByUserID(ctx context.Context, userID string) (int, error)

	// Create は投稿を作成する。ID、CreatedAt、UpdatedAtはDBが採番した値で上書きされる。
	Create(ctx context.Context, post *model.Post) error

	// Update は投稿の本文系カラムを更新し、updated_atを進める。
	Update(ctx context.Context, post *model.Post) error

	// Delete は指定IDの投稿を削除する。関連付けはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// DeleteByUserID はユーザーの全投稿を削除し、削除した投稿のアイキャッチ画像を返す。
	DeleteByUserID(ctx context.Context, userID string) ([]string, error)

	// ListFeaturedImages は参照中のアイキャッチ画像をすべて返す。
	ListFeaturedImages(ctx context.Context) ([]string, error)

	// CountByFeaturedImage はurlをアイキャッチ画像に持つ投稿の数を返す。
	CountByFeaturedImage(ctx context.Context, url string) (int, error)
}

// TagRepository はタグデータの永続化インターフェース。
type TagRepository interface {
	// FindByID は指定IDのタグを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Tag, error)

	// FindByName は名前が完全一致するタグを取得する。見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.Tag, error)

	// FindBySlug はスラッグが一致するタグを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Tag, error)

	// Search は名前にtermを含むタグ（大文字小文字を区別しない）を名前の昇順で最大limit件返す。
	// termが空の場合は全タグが対象。
	Search(ctx context.Context, term string, limit int) ([]*model.Tag, error)

	// ListAll は全タグを名前の昇順で返す。
	ListAll(ctx context.Context) ([]*model.Tag, error)

	// Create はタグを作成する。
	// 名前またはスラッグが重複する場合はErrDuplicateTagName/ErrDuplicateTagSlugを返す。
	Create(ctx context.Context, tag *model.Tag) error

	// InsertIfAbsent はタグの作成を試み、作成できた場合にtrueを返す。
	// 名前またはスラッグが既存のタグと重複する場合は何もせずfalseを返す。
	InsertIfAbsent(ctx context.Context, tag *model.Tag) (bool, error)

	// Delete は指定IDのタグを削除する。存在しなかった場合はfalseを返す。
	Delete(ctx context.Context, id string) (bool, error)
}

// PostTagRepository は投稿とタグの関連付けの永続化インターフェース。
type PostTagRepository interface {
	// DeleteByPostID は投稿の関連付けをすべて削除する。
	DeleteByPostID(ctx context.Context, postID string) error

	// Insert は投稿にタグを関連付ける。既存の関連付けは無視する。
	Insert(ctx context.Context, postID string, tagIDs []string) error

	// ListTagsByPostID は投稿に関連付けられたタグを名前の昇順で返す。
	ListTagsByPostID(ctx context.Context, postID string) ([]model.Tag, error)

	// ListTagsByPostIDs は複数投稿のタグを投稿IDごとにまとめて返す。
	ListTagsByPostIDs(ctx context.Context, postIDs []string) (map[string][]model.Tag, error)
}

// ProfileRepository はプロフィールデータの永続化インターフェース。
type ProfileRepository interface {
	// FindByUserID はユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	FindByUserID(ctx context.Context, userID string) (*model.Profile, error)

	// Upsert はプロフィールを作成または更新する。
	// nameが未指定の場合、既存の名前は維持する（新規作成時はNULL）。
	Upsert(ctx context.Context, userID string, name model.Optional[string]) (*model.Profile, error)

	// InsertIfAbsent はプロフィールが存在しない場合のみ作成し、現在のプロフィールを返す。
	InsertIfAbsent(ctx context.Context, userID, name string) (*model.Profile, error)

	// DeleteByUserID はユーザーのプロフィールを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
