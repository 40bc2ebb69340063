// Package identity は外部プロバイダーのアカウントを内部ユーザーに紐付ける。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
)

// maxAttempts は一意制約違反による再試行を含めた最大試行回数。
const maxAttempts = 3

// Outcome はLinkOrCreateがどの経路で完了したかを表す。
type Outcome string

const (
	OutcomeExisting Outcome = "existing"
	OutcomeLinked   Outcome = "linked"
	OutcomeCreated  Outcome = "created"
)

// Recorder は紐付け結果を記録する。メトリクス用。
type Recorder interface {
	RecordLink(provider string, outcome Outcome)
}

// Config はLinkerの設定。
type Config struct {
	// AllowUnlinkLastIdentity がtrueの場合、最後のidentityの解除を許可する。
	AllowUnlinkLastIdentity bool
}

// Linker は外部アカウントと内部ユーザーの対応を管理する。
type Linker struct {
	users      repository.UserRepository
	identities repository.IdentityRepository
	recorder   Recorder
	config     Config
}

// NewLinker はLinkerを生成する。recorderはnilでもよい。
func NewLinker(users repository.UserRepository, identities repository.IdentityRepository, recorder Recorder, config Config) *Linker {
	return &Linker{users: users, identities: identities, recorder: recorder, config: config}
}

// LinkOrCreate はアサーションに対応するユーザーを返す。
// 既存のidentity、メールアドレスによる既存ユーザーへの紐付け、新規作成の順に試みる。
// 2番目の戻り値は新規にユーザーを作成した場合にtrueとなる。
//
// 並行する初回ログインが一意制約で衝突した場合は最初から検索し直すため、
// 同じ(provider, remote_id)に対して作成されるユーザーは常に1人となる。
func (l *Linker) LinkOrCreate(ctx context.Context, provider *model.Provider, assertion model.Assertion) (*model.User, bool, error) {
	if assertion.RemoteID == "" {
		return nil, false, fmt.Errorf("empty remote id from provider %q", provider.Slug)
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		user, outcome, err := l.attempt(ctx, provider, assertion)
		if errors.Is(err, model.ErrConflict) {
			slog.Warn("identity link conflict, retrying",
				slog.String("provider", provider.Slug),
				slog.Int("attempts", attempt),
			)
			continue
		}
		if err != nil {
			return nil, false, err
		}

		if l.recorder != nil {
			l.recorder.RecordLink(provider.Slug, outcome)
		}
		if outcome != OutcomeExisting {
			slog.Info("identity linked",
				slog.Int64("user_id", user.ID),
				slog.String("provider", provider.Slug),
				slog.String("outcome", string(outcome)),
			)
		}
		return user, outcome == OutcomeCreated, nil
	}

	return nil, false, fmt.Errorf("%w: identity for provider %q still conflicting after %d attempts",
		model.ErrInvariantViolation, provider.Slug, maxAttempts)
}

func (l *Linker) attempt(ctx context.Context, provider *model.Provider, a model.Assertion) (*model.User, Outcome, error) {
	// 1. 既存のidentity
	existing, err := l.identities.FindByRemoteID(ctx, provider.Slug, a.RemoteID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to find identity: %w", err)
	}
	if existing != nil {
		user, err := l.users.FindByID(ctx, existing.UserID)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return nil, "", fmt.Errorf("%w: identity (%s, %s) references missing user %d",
				model.ErrInvariantViolation, provider.Slug, a.RemoteID, existing.UserID)
		}
		if a.Email != "" && a.Email != existing.Email {
			if err := l.identities.UpdateEmail(ctx, provider.Slug, a.RemoteID, a.Email); err != nil {
				return nil, "", fmt.Errorf("failed to update identity email: %w", err)
			}
		}
		return user, OutcomeExisting, nil
	}

	// 2. メールアドレスによる既存ユーザーへの紐付け
	var owner *model.User
	if a.Email != "" {
		owner, err = l.users.FindByPrimaryEmail(ctx, a.Email)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find user by email: %w", err)
		}
	}
	if owner != nil {
		if !provider.Config.TrustsEmail(a.EmailVerified) {
			return nil, "", fmt.Errorf("%w: email of untrusted assertion from %q is already registered",
				model.ErrIdentityConflict, provider.Slug)
		}

		held, err := l.identities.FindByUserAndProvider(ctx, owner.ID, provider.Slug)
		if err != nil {
			return nil, "", fmt.Errorf("failed to find identity of user: %w", err)
		}
		if held != nil {
			return nil, "", fmt.Errorf("%w: user %d already has another %q identity",
				model.ErrIdentityConflict, owner.ID, provider.Slug)
		}

		if err := l.identities.Create(ctx, &model.Identity{
			Provider: provider.Slug,
			UserID:   owner.ID,
			RemoteID: a.RemoteID,
			Email:    a.Email,
		}); err != nil {
			return nil, "", fmt.Errorf("failed to link identity: %w", err)
		}
		return owner, OutcomeLinked, nil
	}

	// 3. 新規作成
	if a.Email == "" {
		return nil, "", fmt.Errorf("%w: cannot create user from %q", model.ErrMissingEmail, provider.Slug)
	}
	user := &model.User{
		GivenName:    a.GivenName,
		FamilyName:   a.FamilyName,
		PrimaryEmail: a.Email,
	}
	identity := &model.Identity{
		Provider: provider.Slug,
		RemoteID: a.RemoteID,
		Email:    a.Email,
	}
	if err := l.users.CreateWithIdentity(ctx, user, identity); err != nil {
		return nil, "", fmt.Errorf("failed to create user: %w", err)
	}
	return user, OutcomeCreated, nil
}

// Unlink はユーザーのproviderに対する紐付けを解除する。
// 解除しなかった場合はfalseを返す。最後の1件はAllowUnlinkLastIdentityが有効な場合のみ解除できる。
func (l *Linker) Unlink(ctx context.Context, userID int64, provider string) (bool, error) {
	removed, err := l.identities.Delete(ctx, userID, provider, !l.config.AllowUnlinkLastIdentity)
	if err != nil {
		if errors.Is(err, model.ErrLastIdentity) {
			return false, err
		}
		return false, fmt.Errorf("failed to unlink identity: %w", err)
	}
	if removed {
		slog.Info("identity unlinked",
			slog.Int64("user_id", userID),
			slog.String("provider", provider),
		)
	}
	return removed, nil
}

// Identities はユーザーに紐付いた全identityを返す。
func (l *Linker) Identities(ctx context.Context, userID int64) ([]*model.Identity, error) {
	identities, err := l.identities.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}
