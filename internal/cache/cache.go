// Package cache はセッション保存に使うキー・バリューキャッシュを提供する。
//
// 本番ではRedis、開発とテストではプロセス内メモリを使う。
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound はキーが存在しないか期限切れであることを表す。
var ErrNotFound = errors.New("cache: key not found")

// Client はキャッシュ操作のインターフェース。
type Client interface {
	// Get は値を取得する。存在しない場合はErrNotFoundを返す。
	Get(ctx context.Context, key string) ([]byte, error)

	// Set は値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Replace は既存のキーの値だけをTTL付きで置き換える。
	// キーが存在しないか期限切れの場合は何も書き込まずにErrNotFoundを返す。
	Replace(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete はキーを削除する。存在しない場合もエラーにしない。
	Delete(ctx context.Context, key string) error

	// Ping は接続を確認する。
	Ping(ctx context.Context) error

	// Close は接続を閉じる。
	Close() error
}

// New はURLのスキームに応じたクライアントを生成する。
// memory:// はプロセス内メモリ、redis:// と rediss:// はRedisを使う。
func New(ctx context.Context, rawURL string) (Client, error) {
	switch {
	case strings.HasPrefix(rawURL, "memory://"):
		return NewMemory(), nil
	case strings.HasPrefix(rawURL, "redis://"), strings.HasPrefix(rawURL, "rediss://"):
		return NewRedis(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported cache url scheme: %q", rawURL)
	}
}
