// Package organization は運営者ロール、独自ドメイン、参加者の管理操作を提供する。
package organization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/identity/internal/domain"
	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
)

// RoleChecker は組織ロールを検証する。
type RoleChecker interface {
	RequireRole(ctx context.Context, userID, organizationID int64, min model.Role) error
}

// DomainCache はドメイン分類のキャッシュを無効化する。
type DomainCache interface {
	InvalidateCustomDomain(name string)
	InvalidateEvent(slug string)
}

// ReservedDomains は独自ドメインとして登録できないホストを判定する。
type ReservedDomains interface {
	IsReserved(host string) bool
}

// Service は組織・イベントの管理操作を提供する。
type Service struct {
	users        repository.UserRepository
	organizers   repository.OrganizerRepository
	events       repository.EventRepository
	participants repository.ParticipantRepository
	roles        RoleChecker
	domains      DomainCache
	reserved     ReservedDomains
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	organizers repository.OrganizerRepository,
	events repository.EventRepository,
	participants repository.ParticipantRepository,
	roles RoleChecker,
	domains DomainCache,
	reserved ReservedDomains,
) *Service {
	return &Service{
		users:        users,
		organizers:   organizers,
		events:       events,
		participants: participants,
		roles:        roles,
		domains:      domains,
		reserved:     reserved,
	}
}

// require は操作者が組織でmin以上のロールを持つことを確認する。管理者は常に許可される。
func (s *Service) require(ctx context.Context, actor *model.User, organizationID int64, min model.Role) error {
	if actor == nil {
		return model.ErrUnauthenticated
	}
	if actor.IsAdmin {
		return nil
	}
	return s.roles.RequireRole(ctx, actor.ID, organizationID, min)
}

// requiredRole は対象ユーザーのロールを変更・削除するために必要なロールを返す。
// directorが関わる変更はdirectorのみ、それ以外はmanager以上が行える。
func (s *Service) requiredRole(ctx context.Context, organizationID, userID int64, newRole model.Role) (model.Role, error) {
	if newRole == model.RoleDirector {
		return model.RoleDirector, nil
	}
	current, err := s.organizers.FindRole(ctx, organizationID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to find organizer role: %w", err)
	}
	if current == model.RoleDirector {
		return model.RoleDirector, nil
	}
	return model.RoleManager, nil
}

// SetOrganizerRole はユーザーの組織内ロールを設定する。既存の場合はロールのみ更新する。
// manager以上が実行でき、directorの付与と降格はdirectorのみが行える。
func (s *Service) SetOrganizerRole(ctx context.Context, actor *model.User, organizationID, userID int64, role model.Role) (*model.Organizer, error) {
	if !role.Valid() {
		return nil, &model.ValidationError{Reason: fmt.Sprintf("unknown role: %q", role)}
	}
	if actor == nil {
		return nil, model.ErrUnauthenticated
	}

	min, err := s.requiredRole(ctx, organizationID, userID, role)
	if err != nil {
		return nil, err
	}
	if err := s.require(ctx, actor, organizationID, min); err != nil {
		return nil, err
	}

	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}

	organizer, err := s.organizers.Upsert(ctx, organizationID, userID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert organizer: %w", err)
	}

	slog.Info("organizer role set",
		slog.Int64("organization_id", organizationID),
		slog.Int64("user_id", userID),
		slog.String("role", string(role)),
		slog.Int64("actor_id", actor.ID),
	)
	return organizer, nil
}

// RemoveOrganizer はユーザーを組織の運営者から外す。削除した場合にtrueを返す。
// directorを外せるのはdirectorのみ。
func (s *Service) RemoveOrganizer(ctx context.Context, actor *model.User, organizationID, userID int64) (bool, error) {
	if actor == nil {
		return false, model.ErrUnauthenticated
	}
	min, err := s.requiredRole(ctx, organizationID, userID, "")
	if err != nil {
		return false, err
	}
	if err := s.require(ctx, actor, organizationID, min); err != nil {
		return false, err
	}
	removed, err := s.organizers.Delete(ctx, organizationID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete organizer: %w", err)
	}
	if removed {
		slog.Info("organizer removed",
			slog.Int64("organization_id", organizationID),
			slog.Int64("user_id", userID),
			slog.Int64("actor_id", actor.ID),
		)
	}
	return removed, nil
}

func (s *Service) event(ctx context.Context, slug string) (*model.Event, error) {
	event, err := s.events.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		return nil, model.ErrEventNotFound
	}
	return event, nil
}

// SetCustomDomain はイベントの独自ドメインを設定し、正規化したドメイン名を返す。
// 他のイベントが使用中の場合はmodel.ErrConflictを返す。
func (s *Service) SetCustomDomain(ctx context.Context, actor *model.User, slug, name string) (string, error) {
	event, err := s.event(ctx, slug)
	if err != nil {
		return "", err
	}
	if err := s.require(ctx, actor, event.OrganizationID, model.RoleManager); err != nil {
		return "", err
	}

	normalized, err := domain.NormalizeHost(name)
	if err != nil || normalized == "" {
		return "", &model.ValidationError{Reason: fmt.Sprintf("invalid domain name: %q", name)}
	}
	if s.reserved != nil && s.reserved.IsReserved(normalized) {
		return "", &model.ValidationError{Reason: fmt.Sprintf("domain %q is reserved", normalized)}
	}

	previous, err := s.events.SetCustomDomain(ctx, event.Slug, normalized)
	if err != nil {
		return "", fmt.Errorf("failed to set custom domain: %w", err)
	}

	if previous != "" {
		s.domains.InvalidateCustomDomain(previous)
	}
	s.domains.InvalidateCustomDomain(normalized)

	slog.Info("custom domain set",
		slog.String("event", event.Slug),
		slog.String("domain", normalized),
		slog.String("previous", previous),
	)
	return normalized, nil
}

// DeleteCustomDomain はイベントの独自ドメインを削除する。設定が無い場合はmodel.ErrNotFoundを返す。
func (s *Service) DeleteCustomDomain(ctx context.Context, actor *model.User, slug string) error {
	event, err := s.event(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.require(ctx, actor, event.OrganizationID, model.RoleManager); err != nil {
		return err
	}

	removed, err := s.events.DeleteCustomDomain(ctx, event.Slug)
	if err != nil {
		return fmt.Errorf("failed to delete custom domain: %w", err)
	}
	if removed == "" {
		return fmt.Errorf("custom domain for %q: %w", event.Slug, model.ErrNotFound)
	}
	s.domains.InvalidateCustomDomain(removed)

	slog.Info("custom domain removed",
		slog.String("event", event.Slug),
		slog.String("domain", removed),
	)
	return nil
}

// AddParticipant はユーザーをイベントの参加者に追加する。主催組織の運営者が実行できる。
func (s *Service) AddParticipant(ctx context.Context, actor *model.User, slug string, userID int64) error {
	event, err := s.event(ctx, slug)
	if err != nil {
		return err
	}
	if err := s.require(ctx, actor, event.OrganizationID, model.RoleOrganizer); err != nil {
		return err
	}

	target, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if target == nil {
		return fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}

	if err := s.participants.Add(ctx, event.Slug, userID); err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}
