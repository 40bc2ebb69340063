package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/identity/internal/cache"
	"github.com/hitoshi/identity/internal/model"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type failingCache struct {
	cache.Client
	err error
}

func (f *failingCache) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f *failingCache) Replace(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f *failingCache) Delete(context.Context, string) error { return f.err }

// deleteAfterGet は読み込み直後にキーを削除し、並行するログアウトを再現する。
type deleteAfterGet struct {
	cache.Client
}

func (d *deleteAfterGet) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := d.Client.Get(ctx, key)
	if err == nil {
		_ = d.Client.Delete(ctx, key)
	}
	return data, err
}

func newTestManager(t *testing.T, c cache.Client, now time.Time) *Manager {
	t.Helper()
	store := NewStore(c)
	store.now = func() time.Time { return now }
	m := NewManager(NewCodec(testKey), store, Config{
		TTL:              14 * 24 * time.Hour,
		RefreshWindow:    8 * time.Hour,
		RefreshExtension: 72 * time.Hour,
		StateTTL:         10 * time.Minute,
		CookieDomain:     "example.com",
		CookieSecure:     true,
	})
	m.now = func() time.Time { return now }
	return m
}

func TestCodec_SignVerify_RoundTrip(t *testing.T) {
	codec := NewCodec(testKey)
	token, err := NewToken()
	require.NoError(t, err)

	value := codec.Sign(token)
	assert.Equal(t, 1, strings.Count(value, "."))
	assert.NotContains(t, value, "=")

	got, err := codec.Verify(value)
	require.NoError(t, err)
	assert.Equal(t, token, got)
}

func TestCodec_Verify_RejectsEveryFlippedBit(t *testing.T) {
	codec := NewCodec(testKey)
	token, err := NewToken()
	require.NoError(t, err)
	value := codec.Sign(token)

	for i := 0; i < len(value); i++ {
		if value[i] == '.' {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			b := []byte(value)
			b[i] ^= 1 << bit
			_, err := codec.Verify(string(b))
			require.Error(t, err, "tampered value accepted at byte %d bit %d", i, bit)
			assert.True(t, errors.Is(err, model.ErrUnauthenticated))
		}
	}
}

func TestCodec_Verify_Malformed(t *testing.T) {
	codec := NewCodec(testKey)
	tests := []string{
		"",
		"no-separator",
		".",
		"abc.",
		".abc",
		"!!!.???",
		encoding.EncodeToString([]byte("short")) + "." + encoding.EncodeToString([]byte("sig")),
	}
	for _, value := range tests {
		_, err := codec.Verify(value)
		assert.True(t, errors.Is(err, model.ErrUnauthenticated), "value %q", value)
	}
}

func TestCodec_Verify_WrongKey(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)
	value := NewCodec(testKey).Sign(token)

	_, err = NewCodec([]byte("another-signing-key-of-32-bytes!")).Verify(value)
	assert.True(t, errors.Is(err, model.ErrUnauthenticated))
}

func TestStore_KeyDoesNotContainToken(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)

	key := storageKey(token)
	assert.True(t, strings.HasPrefix(key, "identity:session:"))
	assert.Len(t, key, len("identity:session:")+64)
	assert.NotContains(t, key, encoding.EncodeToString(token[:]))
}

func TestManager_IssueAndLoad(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, cache.NewMemory(), now)
	ctx := context.Background()

	value, sess, err := m.IssueAuthenticated(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, now.Add(14*24*time.Hour), sess.ExpiresAt)

	loaded, err := m.Load(ctx, value)
	require.NoError(t, err)
	assert.True(t, loaded.Session.Authenticated())
	assert.Equal(t, int64(42), loaded.Session.UserID)
	assert.False(t, loaded.Refreshed)
}

func TestManager_Load_DeletedSessionIsUnauthenticated(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, cache.NewMemory(), now)
	ctx := context.Background()

	value, _, err := m.IssueAuthenticated(ctx, 42)
	require.NoError(t, err)
	require.NoError(t, m.Destroy(ctx, value))

	_, err = m.Load(ctx, value)
	assert.True(t, errors.Is(err, model.ErrUnauthenticated))
}

func TestManager_Load_RefreshesNearExpiry(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := cache.NewMemory()
	m := newTestManager(t, c, issuedAt)
	ctx := context.Background()

	value, _, err := m.IssueAuthenticated(ctx, 7)
	require.NoError(t, err)

	// 残り4時間の時点で読み込む
	later := issuedAt.Add(14*24*time.Hour - 4*time.Hour)
	m.now = func() time.Time { return later }
	m.store.now = func() time.Time { return later }

	loaded, err := m.Load(ctx, value)
	require.NoError(t, err)
	assert.True(t, loaded.Refreshed)
	assert.Equal(t, later.Add(72*time.Hour), loaded.Session.ExpiresAt)

	cookie := m.RefreshedCookie(loaded)
	assert.Equal(t, value, cookie.Value)
	assert.Equal(t, later.Add(72*time.Hour), cookie.Expires)

	again, err := m.Load(ctx, value)
	require.NoError(t, err)
	assert.False(t, again.Refreshed)
	assert.Equal(t, later.Add(72*time.Hour), again.Session.ExpiresAt)
}

func TestManager_Load_RefreshDoesNotResurrectDestroyedSession(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := cache.NewMemory()
	m := newTestManager(t, mem, issuedAt)
	ctx := context.Background()

	value, _, err := m.IssueAuthenticated(ctx, 7)
	require.NoError(t, err)
	token, err := m.codec.Verify(value)
	require.NoError(t, err)

	later := issuedAt.Add(14*24*time.Hour - time.Hour)
	m.now = func() time.Time { return later }
	m.store.now = func() time.Time { return later }
	m.store.cache = &deleteAfterGet{Client: mem}

	_, err = m.Load(ctx, value)
	assert.True(t, errors.Is(err, model.ErrUnauthenticated), "got %v", err)

	_, err = mem.Get(ctx, storageKey(token))
	assert.True(t, errors.Is(err, cache.ErrNotFound), "destroyed session must stay deleted")
}

func TestManager_Load_ExpiredIsUnauthenticated(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, cache.NewMemory(), issuedAt)
	ctx := context.Background()

	value, _, err := m.IssueOAuth(ctx, "google", "nonce", "")
	require.NoError(t, err)

	later := issuedAt.Add(11 * time.Minute)
	m.now = func() time.Time { return later }
	m.store.now = func() time.Time { return later }

	_, err = m.Load(ctx, value)
	assert.True(t, errors.Is(err, model.ErrUnauthenticated))
}

func TestManager_Load_OAuthSessionNotRefreshed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, cache.NewMemory(), now)
	ctx := context.Background()

	value, _, err := m.IssueOAuth(ctx, "github", "n1", "https://app.example.com/")
	require.NoError(t, err)

	loaded, err := m.Load(ctx, value)
	require.NoError(t, err)
	assert.False(t, loaded.Refreshed)
	assert.Equal(t, model.SessionStateOAuth, loaded.Session.State)
	assert.Equal(t, "github", loaded.Session.Provider)
	assert.Equal(t, "n1", loaded.Session.Nonce)
	assert.False(t, loaded.Session.Authenticated())
}

func TestManager_Load_CacheFailureIsTransient(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &failingCache{err: errors.New("connection refused")}, now)

	token, err := NewToken()
	require.NoError(t, err)

	_, err = m.Load(context.Background(), m.codec.Sign(token))
	assert.True(t, errors.Is(err, model.ErrTransientStore))
	assert.False(t, errors.Is(err, model.ErrUnauthenticated))
}

func TestManager_Load_ForgedValueSkipsStore(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := newTestManager(t, &failingCache{err: errors.New("must not be called")}, now)

	_, err := m.Load(context.Background(), "forged.value")
	assert.True(t, errors.Is(err, model.ErrUnauthenticated))
}

func TestManager_Cookie_Attributes(t *testing.T) {
	m := newTestManager(t, cache.NewMemory(), time.Now())

	c := m.Cookie("v", time.Now().Add(time.Hour))
	assert.Equal(t, "session", c.Name)
	assert.Equal(t, "example.com", c.Domain)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	cleared := m.ClearCookie()
	assert.Equal(t, -1, cleared.MaxAge)
	assert.Empty(t, cleared.Value)
}
