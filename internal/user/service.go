// Package user はログイン中ユーザー自身のアカウント操作を提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
)

// IdentityManager は外部アカウントの紐付け情報を扱う。
type IdentityManager interface {
	Identities(ctx context.Context, userID int64) ([]*model.Identity, error)
	Unlink(ctx context.Context, userID int64, provider string) (bool, error)
}

// SessionDestroyer はセッションを破棄する。
type SessionDestroyer interface {
	Destroy(ctx context.Context, value string) error
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo   repository.UserRepository
	identities IdentityManager
	sessions   SessionDestroyer
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, identities IdentityManager, sessions SessionDestroyer) *Service {
	return &Service{
		userRepo:   userRepo,
		identities: identities,
		sessions:   sessions,
	}
}

// Me はユーザーを取得する。存在しない場合はmodel.ErrUnauthenticatedを返す。
func (s *Service) Me(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.ErrUnauthenticated
	}
	return user, nil
}

// Identities はユーザーに紐付いた外部アカウントの一覧を返す。
func (s *Service) Identities(ctx context.Context, userID int64) ([]*model.Identity, error) {
	identities, err := s.identities.Identities(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	return identities, nil
}

// Unlink は外部アカウントの紐付けを解除する。紐付けが無い場合はmodel.ErrNotFoundを返す。
func (s *Service) Unlink(ctx context.Context, userID int64, provider string) error {
	removed, err := s.identities.Unlink(ctx, userID, provider)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("identity %q: %w", provider, model.ErrNotFound)
	}
	return nil
}

// Withdraw はユーザーの退会処理を実行する。
// ユーザーを削除し（identities, organizers, participantsはCASCADE削除）、現在のセッションを破棄する。
func (s *Service) Withdraw(ctx context.Context, userID int64, sessionValue string) error {
	slog.Info("退会処理を開始します",
		slog.Int64("user_id", userID),
	)

	deleted, err := s.userRepo.DeleteByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if !deleted {
		return fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
	}

	// 他の端末のセッションはユーザーが存在しないため次回のリクエストで無効になる
	if err := s.sessions.Destroy(ctx, sessionValue); err != nil {
		slog.Warn("failed to destroy session after withdrawal",
			slog.Int64("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("退会処理が完了しました",
		slog.Int64("user_id", userID),
	)
	return nil
}
