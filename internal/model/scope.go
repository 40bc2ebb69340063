package model

// ScopeKind はリクエストの到着ドメインから決まる認可スコープの種別。
type ScopeKind string

const (
	ScopeAdmin        ScopeKind = "admin"
	ScopeUser         ScopeKind = "user"
	ScopeEventCustom  ScopeKind = "event-custom"
	ScopeEventDefault ScopeKind = "event-default"
	ScopeUnknown      ScopeKind = "unknown"
)

// Scope はドメイン分類の結果。
// イベントスコープの場合のみEventとOrganizationIDが設定される。
type Scope struct {
	Kind           ScopeKind
	Event          string
	OrganizationID int64
}

// IsEvent はイベントスコープかどうかを返す。
func (s Scope) IsEvent() bool {
	return s.Kind == ScopeEventCustom || s.Kind == ScopeEventDefault
}

// EffectiveRole はスコープ内でのユーザーの役割を表す。
// 空文字列は役割なし。
type EffectiveRole string

const (
	EffectiveRoleNone        EffectiveRole = ""
	EffectiveRoleParticipant EffectiveRole = "participant"
	EffectiveRoleOrganizer   EffectiveRole = "organizer"
	EffectiveRoleManager     EffectiveRole = "manager"
	EffectiveRoleDirector    EffectiveRole = "director"
)

// EffectiveRoleFromRole は運営者ロールをEffectiveRoleに変換する。
func EffectiveRoleFromRole(r Role) EffectiveRole {
	return EffectiveRole(r)
}
