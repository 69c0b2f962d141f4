// Package model はドメインモデルを定義する。
package model

import "time"

// User はGoogleログインで登録されたブログの書き手。
// 投稿・プロフィールはUser.IDを所有者として参照する。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はIdPのアカウント（Provider, ProviderUserID）とUserの対応。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はCookieで持ち回るログインセッション。IDは推測不能な乱数。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Profile はユーザーの公開プロフィールを表す。
// 表示名が判明した時点で遅延作成される。
type Profile struct {
	ID        string
	UserID    string
	Name      *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Caller はリクエストの呼び出し元を表す。
// UserIDが空の場合は匿名。
type Caller struct {
	UserID string
}

// Anonymous は未認証の呼び出し元を返す。
func Anonymous() Caller {
	return Caller{}
}

// AsUser は認証済みユーザーの呼び出し元を返す。
func AsUser(userID string) Caller {
	return Caller{UserID: userID}
}

// Authenticated は認証済みかどうかを返す。
func (c Caller) Authenticated() bool {
	return c.UserID != ""
}
