// Package provider は外部認証プロバイダーの設定管理とOAuth通信を提供する。
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
)

// EndpointValidator は管理者が登録するエンドポイントURLを検証する。
type EndpointValidator interface {
	ValidateEndpoint(rawURL string) error
}

// cacheEntry は存在しないプロバイダーも記録するためのラッパー。
type cacheEntry struct {
	provider *model.Provider
}

// Registry はプロバイダー設定を読み取りキャッシュ付きで提供する。
// キャッシュは短いTTLで失効し、書き込み時には即座に無効化する。
type Registry struct {
	repo      repository.ProviderRepository
	validator EndpointValidator
	cache     *gocache.Cache
	group     singleflight.Group
}

// defaultCacheTTL はttlが正でない場合に使う。
const defaultCacheTTL = 30 * time.Second

// NewRegistry はRegistryを生成する。validatorがnilの場合はエンドポイント検証を行わない。
func NewRegistry(repo repository.ProviderRepository, validator EndpointValidator, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Registry{
		repo:      repo,
		validator: validator,
		cache:     gocache.New(ttl, 2*ttl),
	}
}

// Get はプロバイダーを無効なものも含めて返す。存在しない場合はnilを返す。
func (r *Registry) Get(ctx context.Context, slug string) (*model.Provider, error) {
	if v, ok := r.cache.Get(slug); ok {
		return v.(cacheEntry).provider, nil
	}

	v, err, _ := r.group.Do(slug, func() (any, error) {
		p, err := r.repo.FindBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		entry := cacheEntry{provider: p}
		r.cache.SetDefault(slug, entry)
		return entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load provider %q: %w", slug, err)
	}
	return v.(cacheEntry).provider, nil
}

// Enabled はログインに使える有効なプロバイダーを返す。
// 存在しない場合と無効な場合はどちらもmodel.ErrProviderUnavailableを返す。
func (r *Registry) Enabled(ctx context.Context, slug string) (*model.Provider, error) {
	p, err := r.Get(ctx, slug)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Enabled {
		return nil, model.ErrProviderUnavailable
	}
	return p, nil
}

// List は全プロバイダーを返す。管理画面向けのためキャッシュしない。
func (r *Registry) List(ctx context.Context) ([]*model.Provider, error) {
	providers, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// ListEnabled はログイン画面に表示する有効なプロバイダーを返す。
func (r *Registry) ListEnabled(ctx context.Context) ([]*model.Provider, error) {
	providers, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make([]*model.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled, nil
}

// Upsert は設定を検証してプロバイダーを保存し、キャッシュを無効化する。
func (r *Registry) Upsert(ctx context.Context, p *model.Provider) error {
	if err := r.validate(p); err != nil {
		return err
	}
	if err := r.repo.Upsert(ctx, p); err != nil {
		return fmt.Errorf("failed to upsert provider: %w", err)
	}
	r.Invalidate(p.Slug)

	slog.Info("provider saved",
		slog.String("provider", p.Slug),
		slog.String("kind", string(p.Config.Kind)),
		slog.Bool("enabled", p.Enabled),
	)
	return nil
}

// Delete はプロバイダーを削除し、キャッシュを無効化する。
func (r *Registry) Delete(ctx context.Context, slug string) (bool, error) {
	deleted, err := r.repo.Delete(ctx, slug)
	if err != nil {
		return false, fmt.Errorf("failed to delete provider: %w", err)
	}
	r.Invalidate(slug)
	if deleted {
		slog.Info("provider deleted", slog.String("provider", slug))
	}
	return deleted, nil
}

// Invalidate は指定slugのキャッシュを破棄する。
func (r *Registry) Invalidate(slug string) {
	r.cache.Delete(slug)
}

func (r *Registry) validate(p *model.Provider) error {
	if !isSlug(p.Slug) {
		return &model.ValidationError{Reason: fmt.Sprintf("invalid slug %q", p.Slug)}
	}
	if p.Name == "" {
		return &model.ValidationError{Reason: "name is required"}
	}
	if err := p.Config.Validate(); err != nil {
		return &model.ValidationError{Reason: err.Error()}
	}
	if r.validator != nil && p.Config.Kind == model.ProviderKindOIDC {
		for _, endpoint := range []string{p.Config.AuthURL, p.Config.TokenURL, p.Config.UserInfoURL} {
			if err := r.validator.ValidateEndpoint(endpoint); err != nil {
				return &model.ValidationError{Reason: err.Error()}
			}
		}
	}
	return nil
}

// isSlug は英小文字・数字・ハイフンのみで構成されるかを判定する。
func isSlug(s string) bool {
	if s == "" || len(s) > 64 || s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}
