package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryClient はプロセス内メモリを使用したClient実装。
// 複数インスタンス間で共有されないため開発とテスト用。
type MemoryClient struct {
	store *gocache.Cache
}

// NewMemory はメモリキャッシュを生成する。期限切れエントリは1分ごとに掃除される。
func NewMemory() *MemoryClient {
	return &MemoryClient{store: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (c *MemoryClient) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := c.store.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	b := v.([]byte)
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (c *MemoryClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	c.store.Set(key, stored, ttl)
	return nil
}

func (c *MemoryClient) Replace(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	if err := c.store.Replace(key, stored, ttl); err != nil {
		return ErrNotFound
	}
	return nil
}

func (c *MemoryClient) Delete(_ context.Context, key string) error {
	c.store.Delete(key)
	return nil
}

func (c *MemoryClient) Ping(context.Context) error {
	return nil
}

func (c *MemoryClient) Close() error {
	c.store.Flush()
	return nil
}

// Len は保持しているエントリ数を返す。期限切れで未掃除のものも含む。
func (c *MemoryClient) Len() int {
	return c.store.ItemCount()
}

// compile-time interface check
var _ Client = (*MemoryClient)(nil)
