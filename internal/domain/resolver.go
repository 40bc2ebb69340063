// Package domain はリクエストの到着ホストから認可スコープを決定する。
package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/net/idna"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/identity/internal/model"
	"github.com/hitoshi/identity/internal/repository"
)

// Recorder は分類結果を記録する。メトリクス用。
type Recorder interface {
	RecordClassification(kind model.ScopeKind)
}

// Config はResolverの設定。
type Config struct {
	AdminDomains []string
	UserDomains  []string
	// EventSuffix は既定のイベントサブドメインの接尾辞。先頭のドットを含む（例: ".events.example.com"）。
	EventSuffix string
	CacheTTL    time.Duration
}

// Resolver はホスト名をスコープに分類する。
type Resolver struct {
	events   repository.EventRepository
	recorder Recorder
	admin    map[string]struct{}
	user     map[string]struct{}
	suffix   string

	customDomains *gocache.Cache
	eventSlugs    *gocache.Cache
	group         singleflight.Group
}

// defaultCacheTTL はCacheTTLが正でない場合に使う。
const defaultCacheTTL = 30 * time.Second

// NewResolver はResolverを生成する。recorderはnilでもよい。
func NewResolver(events repository.EventRepository, recorder Recorder, cfg Config) *Resolver {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	r := &Resolver{
		events:        events,
		recorder:      recorder,
		admin:         toSet(cfg.AdminDomains),
		user:          toSet(cfg.UserDomains),
		suffix:        strings.ToLower(cfg.EventSuffix),
		customDomains: gocache.New(ttl, 2*ttl),
		eventSlugs:    gocache.New(ttl, 2*ttl),
	}
	if r.suffix != "" && !strings.HasPrefix(r.suffix, ".") {
		r.suffix = "." + r.suffix
	}
	return r
}

func toSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		if normalized, err := NormalizeHost(d); err == nil && normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

// NormalizeHost はポートと末尾のドットを除き、小文字のASCII（Punycode）表記にする。
func NormalizeHost(host string) (string, error) {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", host, err)
	}
	return strings.ToLower(ascii), nil
}

// Classify はホストをスコープに分類する。
// 管理ドメイン、ユーザードメイン、独自ドメイン、既定のイベントサブドメインの順に判定し、
// どれにも該当しない場合はScopeUnknownとmodel.ErrUnknownDomainを返す。
func (r *Resolver) Classify(ctx context.Context, host string) (model.Scope, error) {
	scope, err := r.classify(ctx, host)
	if r.recorder != nil && (err == nil || errors.Is(err, model.ErrUnknownDomain)) {
		r.recorder.RecordClassification(scope.Kind)
	}
	return scope, err
}

func (r *Resolver) classify(ctx context.Context, host string) (model.Scope, error) {
	unknown := model.Scope{Kind: model.ScopeUnknown}

	normalized, err := NormalizeHost(host)
	if err != nil || normalized == "" {
		return unknown, model.ErrUnknownDomain
	}

	if _, ok := r.admin[normalized]; ok {
		return model.Scope{Kind: model.ScopeAdmin}, nil
	}
	if _, ok := r.user[normalized]; ok {
		return model.Scope{Kind: model.ScopeUser}, nil
	}

	event, err := r.lookup(ctx, r.customDomains, "custom:", normalized, r.events.FindByCustomDomain)
	if err != nil {
		return unknown, err
	}
	if event != nil {
		return model.Scope{Kind: model.ScopeEventCustom, Event: event.Slug, OrganizationID: event.OrganizationID}, nil
	}

	if r.suffix != "" && strings.HasSuffix(normalized, r.suffix) {
		slug := strings.TrimSuffix(normalized, r.suffix)
		if slug != "" && !strings.Contains(slug, ".") {
			event, err := r.lookup(ctx, r.eventSlugs, "event:", slug, r.events.FindBySlug)
			if err != nil {
				return unknown, err
			}
			if event != nil {
				return model.Scope{Kind: model.ScopeEventDefault, Event: event.Slug, OrganizationID: event.OrganizationID}, nil
			}
		}
	}

	return unknown, model.ErrUnknownDomain
}

// cachedEvent は存在しないことも記録するためのラッパー。
type cachedEvent struct {
	event *model.Event
}

func (r *Resolver) lookup(
	ctx context.Context,
	cache *gocache.Cache,
	prefix, key string,
	load func(context.Context, string) (*model.Event, error),
) (*model.Event, error) {
	if v, ok := cache.Get(key); ok {
		return v.(cachedEvent).event, nil
	}

	v, err, _ := r.group.Do(prefix+key, func() (any, error) {
		event, err := load(ctx, key)
		if err != nil {
			return nil, err
		}
		entry := cachedEvent{event: event}
		cache.SetDefault(key, entry)
		return entry, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s%s: %w", prefix, key, err)
	}
	return v.(cachedEvent).event, nil
}

// IsCustomDomain はホストが登録済みの独自ドメインかどうかを返す。
func (r *Resolver) IsCustomDomain(ctx context.Context, host string) (bool, error) {
	normalized, err := NormalizeHost(host)
	if err != nil || normalized == "" {
		return false, nil
	}
	event, err := r.lookup(ctx, r.customDomains, "custom:", normalized, r.events.FindByCustomDomain)
	if err != nil {
		return false, err
	}
	return event != nil, nil
}

// InvalidateCustomDomain は独自ドメインのキャッシュを破棄する。
func (r *Resolver) InvalidateCustomDomain(name string) {
	if normalized, err := NormalizeHost(name); err == nil {
		r.customDomains.Delete(normalized)
	}
}

// InvalidateEvent はイベントslugのキャッシュを破棄する。
func (r *Resolver) InvalidateEvent(slug string) {
	r.eventSlugs.Delete(strings.ToLower(slug))
}

// Flush は全キャッシュを破棄する。
func (r *Resolver) Flush() {
	r.customDomains.Flush()
	r.eventSlugs.Flush()
}

// IsReserved はホストが管理ドメイン、ユーザードメイン、または既定のイベントサブドメインの範囲に含まれるかを返す。
// これらは独自ドメインとして登録できない。
func (r *Resolver) IsReserved(host string) bool {
	normalized, err := NormalizeHost(host)
	if err != nil || normalized == "" {
		return false
	}
	if _, ok := r.admin[normalized]; ok {
		return true
	}
	if _, ok := r.user[normalized]; ok {
		return true
	}
	if r.suffix == "" {
		return false
	}
	return normalized == strings.TrimPrefix(r.suffix, ".") || strings.HasSuffix(normalized, r.suffix)
}
