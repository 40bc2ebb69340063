package model

import (
	"fmt"
	"time"
)

// Role は組織内の運営者ロールを表す。director > manager > organizer の順に強い。
type Role string

const (
	RoleDirector  Role = "director"
	RoleManager   Role = "manager"
	RoleOrganizer Role = "organizer"
)

// rank はロールの強さを数値で返す。未知のロールは0。
func (r Role) rank() int {
	switch r {
	case RoleDirector:
		return 3
	case RoleManager:
		return 2
	case RoleOrganizer:
		return 1
	default:
		return 0
	}
}

// Valid はロールが定義済みかどうかを返す。
func (r Role) Valid() bool {
	return r.rank() > 0
}

// AtLeast はrがmin以上の権限を持つかどうかを返す。
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r.rank() >= min.rank()
}

// ParseRole は文字列をRoleに変換する。
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role: %q", s)
	}
	return r, nil
}

// Organization はイベントを主催する組織を表す。
type Organization struct {
	ID        int64
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Organizer はユーザーと組織の運営者としての関係を表す。
type Organizer struct {
	OrganizationID int64
	UserID         int64
	Role           Role
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Event は組織に属するイベントを表す。
type Event struct {
	Slug           string
	Name           string
	OrganizationID int64
	ExpiresOn      time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CustomDomain はイベントに1対1で紐づく独自ドメインを表す。
// Nameは全イベントを通して一意。
type CustomDomain struct {
	Event string
	Name  string
}
