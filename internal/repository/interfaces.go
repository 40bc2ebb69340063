// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
//
// 見つからない場合はnil（または空値）を返し、エラーにはしない。
// 一意制約違反はmodel.ErrConflict、接続障害などはmodel.ErrTransientStoreでラップして返す。
package repository

import (
	"context"

	"github.com/hitoshi/identity/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id int64) (*model.User, error)

	// FindByPrimaryEmail はprimary_emailの完全一致でユーザーを取得する。見つからない場合はnilを返す。
	FindByPrimaryEmail(ctx context.Context, email string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	// 採番されたIDはuser.IDとidentity.UserIDに設定される。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、organizers、participantsはCASCADE削除される。
	DeleteByID(ctx context.Context, id int64) (bool, error)
}

// IdentityRepository は外部プロバイダー紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByRemoteID はproviderとremote_idでidentityを検索する。見つからない場合はnilを返す。
	FindByRemoteID(ctx context.Context, provider, remoteID string) (*model.Identity, error)

	// FindByUserAndProvider はユーザーがproviderに持つidentityを返す。見つからない場合はnilを返す。
	FindByUserAndProvider(ctx context.Context, userID int64, provider string) (*model.Identity, error)

	// ListByUserID はユーザーの全identityを返す。
	ListByUserID(ctx context.Context, userID int64) ([]*model.Identity, error)

	// Create はidentityを作成する。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateEmail はidentityに保存されたメールアドレスを更新する。
	UpdateEmail(ctx context.Context, provider, remoteID, email string) error

	// Delete はユーザーのproviderに対するidentityを削除する。
	// keepLastがtrueの場合、最後の1件は削除せずmodel.ErrLastIdentityを返す。
	Delete(ctx context.Context, userID int64, provider string, keepLast bool) (bool, error)
}

// ProviderRepository はプロバイダー設定の永続化インターフェース。
type ProviderRepository interface {
	// FindBySlug は指定slugのプロバイダーを無効なものも含めて取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Provider, error)

	// List は全プロバイダーをslug順に返す。
	List(ctx context.Context) ([]*model.Provider, error)

	// Upsert はプロバイダーを作成または更新する。
	Upsert(ctx context.Context, provider *model.Provider) error

	// Delete はプロバイダーを削除する。紐づくidentitiesはCASCADE削除される。
	Delete(ctx context.Context, slug string) (bool, error)
}

// OrganizerRepository は組織運営者の永続化インターフェース。
type OrganizerRepository interface {
	// FindRole はユーザーの組織内ロールを返す。運営者でない場合は空文字列を返す。
	FindRole(ctx context.Context, organizationID, userID int64) (model.Role, error)

	// Upsert はロールを挿入または上書きする。既存行のcreated_atは変更しない。
	Upsert(ctx context.Context, organizationID, userID int64, role model.Role) (*model.Organizer, error)

	// Delete は運営者を組織から外す。
	Delete(ctx context.Context, organizationID, userID int64) (bool, error)
}

// ParticipantRepository はイベント参加者の永続化インターフェース。
type ParticipantRepository interface {
	// IsParticipant はユーザーがイベントの参加者かどうかを返す。
	IsParticipant(ctx context.Context, event string, userID int64) (bool, error)

	// Add は参加者を追加する。既に参加している場合は何もしない。
	Add(ctx context.Context, event string, userID int64) error
}

// EventRepository はイベントと独自ドメインの永続化インターフェース。
type EventRepository interface {
	// FindBySlug は指定slugのイベントを取得する。見つからない場合はnilを返す。
	FindBySlug(ctx context.Context, slug string) (*model.Event, error)

	// FindByCustomDomain は独自ドメイン名からイベントを取得する。見つからない場合はnilを返す。
	FindByCustomDomain(ctx context.Context, name string) (*model.Event, error)

	// SetCustomDomain はイベントの独自ドメインを設定する。
	// 他のイベントが同じ名前を使っている場合はmodel.ErrConflictを返す。
	// 置き換えられた以前の名前を返す（無い場合は空文字列）。
	SetCustomDomain(ctx context.Context, event, name string) (string, error)

	// DeleteCustomDomain はイベントの独自ドメインを削除し、削除した名前を返す。
	DeleteCustomDomain(ctx context.Context, event string) (string, error)
}
