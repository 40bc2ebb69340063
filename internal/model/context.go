package model

// UserContextState は連携サービスに伝えるユーザーの認証状態。
type UserContextState string

const (
	UserContextUnauthenticated UserContextState = "unauthenticated"
	UserContextOAuth           UserContextState = "oauth"
	UserContextAuthenticated   UserContextState = "authenticated"
)

// UserContext はセッショントークンから決まるユーザーの状態。
// 認証済みの場合のみUserが設定され、イベントスコープではRoleも設定される。
type UserContext struct {
	State UserContextState
	User  *User
	Role  EffectiveRole
}

// RequestContext はスコープとユーザーの組。
type RequestContext struct {
	Scope Scope
	User  UserContext
}
