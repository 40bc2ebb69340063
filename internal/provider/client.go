package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/hitoshi/identity/internal/model"
)

// maxResponseSize はユーザー情報レスポンスの上限サイズ。
const maxResponseSize = 1 << 20

// Endpoints はプロバイダー種別ごとのURL。
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	// EmailsURL はGitHubのみ使用する。
	EmailsURL string
}

var defaultEndpoints = map[model.ProviderKind]Endpoints{
	model.ProviderKindGoogle: {
		AuthURL:     endpoints.Google.AuthURL,
		TokenURL:    endpoints.Google.TokenURL,
		UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	},
	model.ProviderKindGitHub: {
		AuthURL:     endpoints.GitHub.AuthURL,
		TokenURL:    endpoints.GitHub.TokenURL,
		UserInfoURL: "https://api.github.com/user",
		EmailsURL:   "https://api.github.com/user/emails",
	},
	model.ProviderKindDiscord: {
		AuthURL:     endpoints.Discord.AuthURL,
		TokenURL:    endpoints.Discord.TokenURL,
		UserInfoURL: "https://discord.com/api/users/@me",
	},
}

var defaultScopes = map[model.ProviderKind][]string{
	model.ProviderKindGoogle:  {"openid", "profile", "email"},
	model.ProviderKindGitHub:  {"read:user", "user:email"},
	model.ProviderKindDiscord: {"identify", "email"},
	model.ProviderKindOIDC:    {"openid", "profile", "email"},
}

// ErrExchange は認可コードの交換またはユーザー情報の取得に失敗したことを表す。
var ErrExchange = errors.New("provider exchange failed")

// NameSanitizer は表示名の無害化を行う。
type NameSanitizer interface {
	Sanitize(name string) string
}

// Client は外部プロバイダーとのOAuth通信を行う。
type Client struct {
	httpClient  *http.Client
	sanitizer   NameSanitizer
	callbackURL string
	overrides   map[model.ProviderKind]Endpoints
}

// NewClient はClientを生成する。
// httpClientはトークン交換とユーザー情報取得の両方に使われる。
func NewClient(httpClient *http.Client, sanitizer NameSanitizer, callbackURL string) *Client {
	return &Client{
		httpClient:  httpClient,
		sanitizer:   sanitizer,
		callbackURL: callbackURL,
		overrides:   map[model.ProviderKind]Endpoints{},
	}
}

// WithEndpoints は種別の既定URLを差し替える。テストで使用する。
func (c *Client) WithEndpoints(kind model.ProviderKind, e Endpoints) *Client {
	c.overrides[kind] = e
	return c
}

func (c *Client) endpoints(cfg model.ProviderConfig) (Endpoints, error) {
	if cfg.Kind == model.ProviderKindOIDC {
		return Endpoints{AuthURL: cfg.AuthURL, TokenURL: cfg.TokenURL, UserInfoURL: cfg.UserInfoURL}, nil
	}
	if e, ok := c.overrides[cfg.Kind]; ok {
		return e, nil
	}
	e, ok := defaultEndpoints[cfg.Kind]
	if !ok {
		return Endpoints{}, fmt.Errorf("unknown provider kind: %q", cfg.Kind)
	}
	return e, nil
}

func (c *Client) oauthConfig(p *model.Provider) (*oauth2.Config, Endpoints, error) {
	e, err := c.endpoints(p.Config)
	if err != nil {
		return nil, Endpoints{}, err
	}
	scopes := p.Config.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes[p.Config.Kind]
	}
	return &oauth2.Config{
		ClientID:     p.Config.ClientID,
		ClientSecret: p.Config.ClientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: e.AuthURL, TokenURL: e.TokenURL},
		RedirectURL:  c.callbackURL,
		Scopes:       scopes,
	}, e, nil
}

// AuthCodeURL は認可エンドポイントへのURLを生成する。
func (c *Client) AuthCodeURL(p *model.Provider, state string) (string, error) {
	cfg, _, err := c.oauthConfig(p)
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state), nil
}

// Exchange は認可コードをアクセストークンに交換し、ユーザー情報を取得する。
func (c *Client) Exchange(ctx context.Context, p *model.Provider, code string) (*model.Assertion, error) {
	cfg, e, err := c.oauthConfig(p)
	if err != nil {
		return nil, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange code: %w", ErrExchange, err)
	}
	api := cfg.Client(ctx, token)

	var assertion *model.Assertion
	switch p.Config.Kind {
	case model.ProviderKindGoogle, model.ProviderKindOIDC:
		assertion, err = fetchOpenID(ctx, api, e.UserInfoURL)
	case model.ProviderKindGitHub:
		assertion, err = fetchGitHub(ctx, api, e)
	case model.ProviderKindDiscord:
		assertion, err = fetchDiscord(ctx, api, e.UserInfoURL)
	default:
		err = fmt.Errorf("unknown provider kind: %q", p.Config.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch user info: %w", ErrExchange, err)
	}

	if assertion.RemoteID == "" {
		return nil, fmt.Errorf("%w: empty remote id in user info", ErrExchange)
	}
	assertion.Email = strings.TrimSpace(assertion.Email)
	assertion.GivenName = c.sanitizer.Sanitize(assertion.GivenName)
	assertion.FamilyName = c.sanitizer.Sanitize(assertion.FamilyName)
	return assertion, nil
}

type openIDUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

func fetchOpenID(ctx context.Context, api *http.Client, userInfoURL string) (*model.Assertion, error) {
	var info openIDUserInfo
	if err := getJSON(ctx, api, userInfoURL, &info); err != nil {
		return nil, err
	}
	return &model.Assertion{
		RemoteID:      info.Sub,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		GivenName:     info.GivenName,
		FamilyName:    info.FamilyName,
	}, nil
}

type githubUser struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func fetchGitHub(ctx context.Context, api *http.Client, e Endpoints) (*model.Assertion, error) {
	var user githubUser
	if err := getJSON(ctx, api, e.UserInfoURL, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("empty id in github user")
	}

	var emails []githubEmail
	if err := getJSON(ctx, api, e.EmailsURL, &emails); err != nil {
		return nil, err
	}

	assertion := &model.Assertion{RemoteID: strconv.FormatInt(user.ID, 10)}
	for _, email := range emails {
		if email.Primary {
			assertion.Email = email.Email
			assertion.EmailVerified = email.Verified
			break
		}
	}

	name := user.Name
	if name == "" {
		name = user.Login
	}
	assertion.GivenName, assertion.FamilyName = splitName(name)
	return assertion, nil
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
}

func fetchDiscord(ctx context.Context, api *http.Client, userInfoURL string) (*model.Assertion, error) {
	var user discordUser
	if err := getJSON(ctx, api, userInfoURL, &user); err != nil {
		return nil, err
	}
	name := user.GlobalName
	if name == "" {
		name = user.Username
	}
	return &model.Assertion{
		RemoteID:      user.ID,
		Email:         user.Email,
		EmailVerified: user.Verified,
		GivenName:     name,
	}, nil
}

// splitName は表示名を最初の語とそれ以降に分ける。
func splitName(name string) (given, family string) {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "", ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func getJSON(ctx context.Context, api *http.Client, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := api.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed with status %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
