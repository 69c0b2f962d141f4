// Package model はドメインモデルを定義する。
package model

import "time"

// Tag は投稿に付与するタグを表す。
// 特定の投稿に所有されず、関連付けがなくなっても削除されない。
type Tag struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostTag は投稿とタグの関連付けを表す。
type PostTag struct {
	PostID    string
	TagID     string
	CreatedAt time.Time
}
