package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
	"github.com/hitoshi/identity/internal/session"
)

// ScopeClassifier はホスト名をスコープに分類する。
type ScopeClassifier interface {
	Classify(ctx context.Context, host string) (model.Scope, error)
}

// SessionLoader はCookie値からセッションを読み込む。
type SessionLoader interface {
	Load(ctx context.Context, value string) (*session.Loaded, error)
}

// ContextParams は連携サービスからの問い合わせ内容。DomainとSlugはどちらか一方を指定する。
type ContextParams struct {
	Domain string
	Slug   string
	Token  string
}

// ContextResolver は連携サービス向けにスコープとユーザーの状態を解決する。
type ContextResolver struct {
	authorizer *Authorizer
	classifier ScopeClassifier
	events     repository.EventRepository
	users      repository.UserRepository
	sessions   SessionLoader
}

// NewContextResolver はContextResolverを生成する。
func NewContextResolver(
	authorizer *Authorizer,
	classifier ScopeClassifier,
	events repository.EventRepository,
	users repository.UserRepository,
	sessions SessionLoader,
) *ContextResolver {
	return &ContextResolver{
		authorizer: authorizer,
		classifier: classifier,
		events:     events,
		users:      users,
		sessions:   sessions,
	}
}

// Resolve はスコープとユーザーの状態を返す。
// スコープが特定できない場合はmodel.ErrEventNotFoundを返す。
func (c *ContextResolver) Resolve(ctx context.Context, params ContextParams) (*model.RequestContext, error) {
	scope, err := c.scope(ctx, params)
	if err != nil {
		return nil, err
	}

	user, err := c.user(ctx, scope, params.Token)
	if err != nil {
		return nil, err
	}

	return &model.RequestContext{Scope: scope, User: user}, nil
}

func (c *ContextResolver) scope(ctx context.Context, params ContextParams) (model.Scope, error) {
	if params.Slug != "" {
		event, err := c.events.FindBySlug(ctx, params.Slug)
		if err != nil {
			return model.Scope{}, fmt.Errorf("failed to find event: %w", err)
		}
		if event == nil {
			return model.Scope{}, model.ErrEventNotFound
		}
		return model.Scope{Kind: model.ScopeEventDefault, Event: event.Slug, OrganizationID: event.OrganizationID}, nil
	}

	scope, err := c.classifier.Classify(ctx, params.Domain)
	if err != nil {
		if errors.Is(err, model.ErrUnknownDomain) {
			return model.Scope{}, model.ErrEventNotFound
		}
		return model.Scope{}, err
	}
	return scope, nil
}

func (c *ContextResolver) user(ctx context.Context, scope model.Scope, token string) (model.UserContext, error) {
	unauthenticated := model.UserContext{State: model.UserContextUnauthenticated}
	if token == "" {
		return unauthenticated, nil
	}

	loaded, err := c.sessions.Load(ctx, token)
	if err != nil {
		if errors.Is(err, model.ErrUnauthenticated) {
			return unauthenticated, nil
		}
		return model.UserContext{}, err
	}
	if !loaded.Session.Authenticated() {
		return model.UserContext{State: model.UserContextOAuth}, nil
	}

	user, err := c.users.FindByID(ctx, loaded.Session.UserID)
	if err != nil {
		return model.UserContext{}, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		// 退会済みユーザーのセッションは未認証として扱う
		slog.Warn("session refers to missing user",
			slog.Int64("user_id", loaded.Session.UserID),
		)
		return unauthenticated, nil
	}

	role := model.EffectiveRoleNone
	if scope.IsEvent() {
		role, err = c.authorizer.EventRole(ctx, scope.Event, scope.OrganizationID, user.ID)
		if err != nil {
			return model.UserContext{}, err
		}
	}

	return model.UserContext{State: model.UserContextAuthenticated, User: user, Role: role}, nil
}
