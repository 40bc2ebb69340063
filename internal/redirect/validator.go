// Package redirect はログイン後のリダイレクト先URLを許可リストで検証する。
package redirect

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/hitoshi/identity/internal/domain"
	"github.com/hitoshi/identity/internal/model"
)

// CustomDomains は動的に登録された独自ドメインを判定する。
type CustomDomains interface {
	IsCustomDomain(ctx context.Context, host string) (bool, error)
}

// Config はValidatorの設定。
type Config struct {
	// Allowed は完全一致のホスト名、またはラベル単位のglobパターン（例: "*.example.com"）。
	Allowed      []string
	RequireHTTPS bool
}

// Validator はリダイレクト先を検証する。
type Validator struct {
	exact        map[string]struct{}
	patterns     [][]string
	custom       CustomDomains
	requireHTTPS bool
}

// NewValidator はValidatorを生成する。customがnilの場合は独自ドメインを許可しない。
func NewValidator(custom CustomDomains, cfg Config) *Validator {
	v := &Validator{
		exact:        map[string]struct{}{},
		custom:       custom,
		requireHTTPS: cfg.RequireHTTPS,
	}
	for _, entry := range cfg.Allowed {
		entry = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(entry)), ".")
		if entry == "" {
			continue
		}
		if strings.ContainsAny(entry, "*?[") {
			v.patterns = append(v.patterns, strings.Split(entry, "."))
			continue
		}
		if normalized, err := domain.NormalizeHost(entry); err == nil && normalized != "" {
			v.exact[normalized] = struct{}{}
		}
	}
	return v
}

// IsAllowed はリダイレクト先が許可されているかどうかを返す。
func (v *Validator) IsAllowed(ctx context.Context, raw string) bool {
	_, err := v.Validate(ctx, raw)
	return err == nil
}

// Validate はリダイレクト先を検証し、パース済みのURLを返す。
// 形式不正はmodel.ErrMalformedRedirect、許可されていない場合はmodel.ErrRedirectNotAllowedを返す。
func (v *Validator) Validate(ctx context.Context, raw string) (*url.URL, error) {
	target, host, err := parse(raw)
	if err != nil {
		return nil, err
	}

	switch target.Scheme {
	case "https":
	case "http":
		if v.requireHTTPS {
			return nil, fmt.Errorf("%w: scheme %q", model.ErrRedirectNotAllowed, target.Scheme)
		}
	default:
		return nil, fmt.Errorf("%w: scheme %q", model.ErrRedirectNotAllowed, target.Scheme)
	}

	if _, ok := v.exact[host]; ok {
		return target, nil
	}
	if v.matchesPattern(host) {
		return target, nil
	}
	if v.custom != nil {
		ok, err := v.custom.IsCustomDomain(ctx, host)
		if err != nil {
			// 判定できない場合は拒否する
			slog.Warn("failed to check custom domain for redirect",
				slog.String("host", host),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w", model.ErrRedirectNotAllowed, err)
		}
		if ok {
			return target, nil
		}
	}
	return nil, fmt.Errorf("%w: host %q", model.ErrRedirectNotAllowed, host)
}

func parse(raw string) (*url.URL, string, error) {
	if raw == "" || strings.ContainsAny(raw, "\\\x00\r\n\t ") {
		return nil, "", fmt.Errorf("%w: %q", model.ErrMalformedRedirect, raw)
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", model.ErrMalformedRedirect, err)
	}
	if target.Opaque != "" || target.User != nil || target.Host == "" {
		return nil, "", fmt.Errorf("%w: %q", model.ErrMalformedRedirect, raw)
	}
	target.Scheme = strings.ToLower(target.Scheme)

	host, err := domain.NormalizeHost(target.Host)
	if err != nil || host == "" {
		return nil, "", fmt.Errorf("%w: host %q", model.ErrMalformedRedirect, target.Host)
	}
	return target, host, nil
}

// matchesPattern はラベル数が一致し、各ラベルがパターンに一致するかを判定する。
// "*" は1つのラベル内でのみ一致するため、"*.example.com" は1段のサブドメインだけを許可する。
func (v *Validator) matchesPattern(host string) bool {
	labels := strings.Split(host, ".")
	for _, pattern := range v.patterns {
		if len(pattern) != len(labels) {
			continue
		}
		matched := true
		for n, p := range pattern {
			ok, err := path.Match(p, labels[n])
			if err != nil || !ok {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
