// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証・認可の失敗分類。呼び出し側はerrors.Isで判定する。
var (
	// ErrUnauthenticated はセッションが無い・不正・期限切れのいずれかを表す。
	// 理由は区別しない。
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden は認証済みだがロールまたはスコープが不足していることを表す。
	ErrForbidden = errors.New("forbidden")
	// ErrUnknownDomain はリクエストのホストがどのスコープにも該当しないことを表す。
	ErrUnknownDomain = errors.New("unknown domain")
	// ErrProviderUnavailable はプロバイダーが存在しないか無効化されていることを表す。
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrTransientStore はキャッシュやデータベースの一時的な障害を表す。再試行可能。
	ErrTransientStore = errors.New("transient store failure")
	// ErrInvariantViolation はスキーマやデプロイの欠陥を示す不整合を表す。
	ErrInvariantViolation = errors.New("invariant violation")
)

// ドメイン固有のエラー。
var (
	// ErrConflict はストレージ層の一意制約違反を表す。
	ErrConflict = errors.New("uniqueness conflict")
	// ErrNotFound は参照先のレコードが存在しないことを表す。
	ErrNotFound = errors.New("not found")
	// ErrIdentityConflict は外部アカウントを既存ユーザーに紐付けられないことを表す。
	ErrIdentityConflict = errors.New("identity conflict")
	// ErrLastIdentity は最後に残ったidentityの解除を拒否したことを表す。
	ErrLastIdentity = errors.New("cannot unlink the last identity")
	// ErrMalformedRedirect はリダイレクト先URLが不正な形式であることを表す。
	ErrMalformedRedirect = errors.New("malformed redirect url")
	// ErrRedirectNotAllowed はリダイレクト先が許可リストに含まれないことを表す。
	ErrRedirectNotAllowed = errors.New("redirect url not allowed")
	// ErrInvalidState はOAuthのstateが欠落または一致しないことを表す。
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrEventNotFound は指定されたイベントが存在しないことを表す。
	ErrEventNotFound = errors.New("event not found")
	// ErrMissingEmail はプロバイダーがメールアドレスを返さず、ユーザーを作成できないことを表す。
	ErrMissingEmail = errors.New("provider returned no email")
)

// ValidationError は入力値が不正であることを表す。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Transient はストア障害をErrTransientStoreとしてラップする。
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, domain, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeUnknownDomain       = "UNKNOWN_DOMAIN"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeTemporarilyDown     = "TEMPORARILY_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
	ErrCodeIdentityConflict    = "IDENTITY_CONFLICT"
	ErrCodeLastIdentity        = "LAST_IDENTITY"
	ErrCodeInvalidRedirect     = "INVALID_REDIRECT"
	ErrCodeInvalidRequest      = "INVALID_REQUEST"
	ErrCodeEventNotFound       = "EVENT_NOT_FOUND"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeMissingEmail        = "MISSING_EMAIL"
)

// NewUnauthenticatedError は未認証エラーを生成する。
// 期限切れと改ざんを区別しない。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限不足エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "必要な権限を持つアカウントでログインしてください。",
	}
}

// NewUnknownDomainError は未登録ドメインエラーを生成する。
func NewUnknownDomainError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownDomain,
		Message:  "このドメインは登録されていません。",
		Category: "domain",
		Action:   "URLを確認してください。",
	}
}

// NewProviderUnavailableError はプロバイダー利用不可エラーを生成する。
func NewProviderUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  "指定されたログイン方法は利用できません。",
		Category: "auth",
		Action:   "別のログイン方法を選択してください。",
	}
}

// NewTemporarilyUnavailableError は一時的な障害エラーを生成する。
func NewTemporarilyUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeTemporarilyDown,
		Message:  "一時的にサービスを利用できません。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewIdentityConflictError はアカウント紐付け不可エラーを生成する。
func NewIdentityConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityConflict,
		Message:  "このアカウントは既存のユーザーに紐付けられません。",
		Category: "auth",
		Action:   "既存のログイン方法でログインしてから連携してください。",
	}
}

// NewLastIdentityError は最後のidentity解除拒否エラーを生成する。
func NewLastIdentityError() *APIError {
	return &APIError{
		Code:     ErrCodeLastIdentity,
		Message:  "最後のログイン方法は解除できません。",
		Category: "validation",
		Action:   "別のログイン方法を連携してから解除してください。",
	}
}

// NewInvalidRedirectError は不正なリダイレクト先エラーを生成する。
func NewInvalidRedirectError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRedirect,
		Message:  "リダイレクト先が許可されていません。",
		Category: "validation",
		Action:   "正しいURLからログインをやり直してください。",
	}
}

// NewInvalidRequestError はリクエスト不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  "unknown event",
		Category: "domain",
		Action:   "イベントのURLを確認してください。",
	}
}

// NewNotFoundError はリソース未検出エラーを生成する。
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("%sが見つかりません。", resource),
		Category: "validation",
		Action:   "指定したIDを確認してください。",
	}
}

// NewConflictError は重複エラーを生成する。
func NewConflictError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  reason,
		Category: "validation",
		Action:   "別の値を指定してください。",
	}
}

// NewMissingEmailError はプロバイダーがメールアドレスを返さなかったエラーを生成する。
func NewMissingEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingEmail,
		Message:  "ログイン方法からメールアドレスを取得できませんでした。",
		Category: "auth",
		Action:   "メールアドレスを公開設定にするか、別のログイン方法を選択してください。",
	}
}
