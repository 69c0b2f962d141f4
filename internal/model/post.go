// Package model はドメインモデルを定義する。
package model

import "time"

// Post はユーザーが執筆するブログ投稿を表す。
type Post struct {
	ID            string
	Title         string
	Body          *string
	UserID        string
	Status        PostStatus
	FeaturedImage *string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Tags は関連付けられたタグ。名前の昇順。
	Tags []Tag
}

// PostStatus は投稿の公開状態を表す。
// 遷移に制約はなく、可視性に影響するのはpublishedのみ。
type PostStatus string

const (
	// PostStatusDraft は下書き状態。所有者のみ閲覧できる。
	PostStatusDraft PostStatus = "draft"
	// PostStatusPublished は公開状態。全員が閲覧できる。
	PostStatusPublished PostStatus = "published"
	// PostStatusArchived はアーカイブ状態。所有者のみ閲覧できる。
	PostStatusArchived PostStatus = "archived"
)

// Valid は定義済みのステータスかどうかを返す。
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusDraft, PostStatusPublished, PostStatusArchived:
		return true
	default:
		return false
	}
}

// VisibleTo は指定した呼び出し元がこの投稿を閲覧できるかを返す。
// 公開済みなら誰でも、それ以外は所有者のみ。
func (p *Post) VisibleTo(caller Caller) bool {
	if p.Status == PostStatusPublished {
		return true
	}
	return caller.Authenticated() && caller.UserID == p.UserID
}

// NewPost は投稿作成時の入力を表す。
type NewPost struct {
	Title         string
	Body          *string
	Status        PostStatus // 空の場合はdraft
	FeaturedImage *string
	TagNames      []string
}

// PostPatch は投稿の部分更新を表す。
// 未指定のフィールドは変更しない。
type PostPatch struct {
	Title         Optional[string]
	Body          Optional[string]
	Status        Optional[PostStatus]
	FeaturedImage Optional[string]
	TagNames      Optional[[]string]
}
