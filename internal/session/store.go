package session

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/hitoshi/identity/internal/cache"
	"github.com/hitoshi/identity/internal/model"
)

const keyPrefix = "identity:session:"

// storageKey はトークンからキャッシュキーを導出する。
// キャッシュの内容が漏れてもCookieを復元できない。
func storageKey(t Token) string {
	sum := blake2b.Sum256(t[:])
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Store はセッションをキャッシュに保存する。
type Store struct {
	cache cache.Client
	now   func() time.Time
}

// NewStore はStoreを生成する。
func NewStore(c cache.Client) *Store {
	return &Store{cache: c, now: time.Now}
}

// Save はセッションをExpiresAtまでのTTLで保存する。
func (s *Store) Save(ctx context.Context, t Token, sess *model.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to save session: already expired at %s", sess.ExpiresAt.Format(time.RFC3339))
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.cache.Set(ctx, storageKey(t), data, ttl); err != nil {
		return model.Transient("save session", err)
	}
	return nil
}

// Load はセッションを取得する。存在しないか期限切れの場合はnilを返す。
func (s *Store) Load(ctx context.Context, t Token) (*model.Session, error) {
	data, err := s.cache.Get(ctx, storageKey(t))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, model.Transient("load session", err)
	}

	var sess model.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if !sess.ExpiresAt.After(s.now()) {
		return nil, nil
	}
	return &sess, nil
}

// Touch は有効期限をexpiresAtに更新して保存し直す。
// 既に削除されたセッションは再作成せず、model.ErrUnauthenticatedを返す。
func (s *Store) Touch(ctx context.Context, t Token, sess *model.Session, expiresAt time.Time) error {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("failed to touch session: already expired at %s", expiresAt.Format(time.RFC3339))
	}

	updated := *sess
	updated.ExpiresAt = expiresAt
	data, err := json.Marshal(&updated)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	err = s.cache.Replace(ctx, storageKey(t), data, ttl)
	if errors.Is(err, cache.ErrNotFound) {
		return model.ErrUnauthenticated
	}
	if err != nil {
		return model.Transient("touch session", err)
	}
	sess.ExpiresAt = expiresAt
	return nil
}

// Delete はセッションを削除する。
func (s *Store) Delete(ctx context.Context, t Token) error {
	if err := s.cache.Delete(ctx, storageKey(t)); err != nil {
		return model.Transient("delete session", err)
	}
	return nil
}
