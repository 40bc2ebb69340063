// Package authz は組織ロールとドメインスコープに基づく認可を行う。
package authz

import (
	"context"
	"fmt"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
)

// Authorizer は認可判定を行う。
type Authorizer struct {
	organizers   repository.OrganizerRepository
	participants repository.ParticipantRepository
}

// NewAuthorizer はAuthorizerを生成する。
func NewAuthorizer(organizers repository.OrganizerRepository, participants repository.ParticipantRepository) *Authorizer {
	return &Authorizer{organizers: organizers, participants: participants}
}

// RequireRole はユーザーが組織でmin以上のロールを持つ場合にnilを返す。
// 運営者でない場合やロールが不足する場合はmodel.ErrForbiddenを返す。
func (a *Authorizer) RequireRole(ctx context.Context, userID, organizationID int64, min model.Role) error {
	role, err := a.organizers.FindRole(ctx, organizationID, userID)
	if err != nil {
		return fmt.Errorf("failed to find organizer role: %w", err)
	}
	if !role.AtLeast(min) {
		return model.ErrForbidden
	}
	return nil
}

// Authorize はスコープへのアクセスを判定し、スコープ内での役割を返す。
//
//   - 管理スコープは管理者のみ
//   - ユーザースコープは認証済みユーザー全員
//   - イベントスコープは管理者、参加者、主催組織の運営者
//
// イベントスコープで参加者かつ運営者の場合は参加者として扱う。
func (a *Authorizer) Authorize(ctx context.Context, scope model.Scope, user *model.User) (model.EffectiveRole, error) {
	if user == nil {
		return model.EffectiveRoleNone, model.ErrUnauthenticated
	}

	switch scope.Kind {
	case model.ScopeAdmin:
		if !user.IsAdmin {
			return model.EffectiveRoleNone, model.ErrForbidden
		}
		return model.EffectiveRoleNone, nil

	case model.ScopeUser:
		return model.EffectiveRoleNone, nil

	case model.ScopeEventCustom, model.ScopeEventDefault:
		return a.eventRole(ctx, scope, user)

	default:
		return model.EffectiveRoleNone, model.ErrUnknownDomain
	}
}

// EventRole はイベント内でのユーザーの役割を返す。役割がない場合はEffectiveRoleNone。
func (a *Authorizer) EventRole(ctx context.Context, event string, organizationID, userID int64) (model.EffectiveRole, error) {
	participant, err := a.participants.IsParticipant(ctx, event, userID)
	if err != nil {
		return model.EffectiveRoleNone, fmt.Errorf("failed to check participant: %w", err)
	}
	if participant {
		return model.EffectiveRoleParticipant, nil
	}

	role, err := a.organizers.FindRole(ctx, organizationID, userID)
	if err != nil {
		return model.EffectiveRoleNone, fmt.Errorf("failed to find organizer role: %w", err)
	}
	if role.Valid() {
		return model.EffectiveRoleFromRole(role), nil
	}
	return model.EffectiveRoleNone, nil
}

func (a *Authorizer) eventRole(ctx context.Context, scope model.Scope, user *model.User) (model.EffectiveRole, error) {
	role, err := a.EventRole(ctx, scope.Event, scope.OrganizationID, user.ID)
	if err != nil {
		return model.EffectiveRoleNone, err
	}
	if role == model.EffectiveRoleNone && !user.IsAdmin {
		return model.EffectiveRoleNone, model.ErrForbidden
	}
	return role, nil
}
