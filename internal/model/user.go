// Package model はドメインモデルを定義する。
package model

import "time"

// User はプラットフォームの利用者を表す。
// 初回ログイン時に暗黙的に、または管理操作で明示的に作成される。
type User struct {
	ID           int64
	GivenName    string
	FamilyName   string
	PrimaryEmail string
	IsAdmin      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は外部プロバイダーのアカウントと内部ユーザーの紐付けを表す。
// (Provider, UserID) と (Provider, RemoteID) がそれぞれ一意となる。
type Identity struct {
	Provider  string
	UserID    int64
	RemoteID  string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Assertion は外部プロバイダーが認証後に返したユーザー情報。
// EmailVerifiedはプロバイダーの主張であり、信頼するかはプロバイダーごとのポリシーで決まる。
type Assertion struct {
	RemoteID      string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
}
