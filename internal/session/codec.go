// Package session はCookieで運ぶ署名付きセッショントークンと、
// キャッシュ上のセッション状態を管理する。
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/hitoshi/identity/internal/model"
)

// TokenSize はセッショントークンのバイト長（256ビット）。
const TokenSize = 32

// Token はセッションを識別する秘密値。Cookieにのみ載り、キャッシュには保存しない。
type Token [TokenSize]byte

// NewToken は暗号論的乱数からトークンを生成する。
func NewToken() (Token, error) {
	var t Token
	if _, err := rand.Read(t[:]); err != nil {
		return Token{}, fmt.Errorf("failed to generate session token: %w", err)
	}
	return t, nil
}

// 末尾の未使用ビットが0でない値も拒否する。
var encoding = base64.RawURLEncoding.Strict()

// Codec はトークンとCookie値の相互変換を行う。
// Cookie値は base64url(token) "." base64url(HMAC-SHA256(key, token)) の形式。
type Codec struct {
	key []byte
}

// NewCodec は署名鍵からCodecを生成する。
func NewCodec(key []byte) *Codec {
	k := make([]byte, len(key))
	copy(k, key)
	return &Codec{key: k}
}

// Sign はトークンを署名付きのCookie値にする。
func (c *Codec) Sign(t Token) string {
	return encoding.EncodeToString(t[:]) + "." + encoding.EncodeToString(c.mac(t[:]))
}

// Verify はCookie値の署名を検証してトークンを取り出す。
// 形式不正や署名不一致はすべてmodel.ErrUnauthenticatedを返す。
func (c *Codec) Verify(value string) (Token, error) {
	encodedToken, encodedSig, ok := strings.Cut(value, ".")
	if !ok || encodedToken == "" || encodedSig == "" {
		return Token{}, model.ErrUnauthenticated
	}

	raw, err := encoding.DecodeString(encodedToken)
	if err != nil || len(raw) != TokenSize {
		return Token{}, model.ErrUnauthenticated
	}
	sig, err := encoding.DecodeString(encodedSig)
	if err != nil {
		return Token{}, model.ErrUnauthenticated
	}

	if !hmac.Equal(sig, c.mac(raw)) {
		return Token{}, model.ErrUnauthenticated
	}

	var t Token
	copy(t[:], raw)
	return t, nil
}

func (c *Codec) mac(data []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write(data)
	return h.Sum(nil)
}
