// Package security は外部プロバイダーとの通信と、プロバイダーが返す値の取り扱いに関する
// 防御機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// EndpointGuard は管理者が登録したプロバイダーエンドポイントへの通信を保護する。
// OIDCのトークン・ユーザー情報エンドポイントは任意のURLを設定できるため、
// 内部ネットワークへのリクエストに悪用されないようにする。
type EndpointGuard interface {
	// NewClient はプライベートIP・ループバック・リンクローカル宛てを拒否するHTTPクライアントを返す。
	// 拒否はDNS解決後のIPアドレスで判定されるため、DNS再バインディングも防ぐ。
	NewClient(timeout time.Duration) *http.Client

	// ValidateEndpoint は登録時にURLを静的に検証する。
	ValidateEndpoint(rawURL string) error
}

// blockedNetworks はValidateEndpointで拒否するネットワーク範囲。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータ (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"100.64.0.0/10",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

type endpointGuard struct {
	requireHTTPS bool
}

// NewEndpointGuard はEndpointGuardを生成する。
// requireHTTPSがtrueの場合、httpsのエンドポイントのみ許可する。
func NewEndpointGuard(requireHTTPS bool) *endpointGuard {
	return &endpointGuard{requireHTTPS: requireHTTPS}
}

func (g *endpointGuard) schemes() []string {
	if g.requireHTTPS {
		return []string{"https"}
	}
	return []string{"http", "https"}
}

func (g *endpointGuard) NewClient(timeout time.Duration) *http.Client {
	ports := []int{443}
	if !g.requireHTTPS {
		ports = append(ports, 80)
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.schemes()...).
		SetAllowedPorts(ports...).
		Build()

	return safeurl.Client(config).Client
}

func (g *endpointGuard) ValidateEndpoint(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty endpoint url")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	allowed := false
	for _, s := range g.schemes() {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, g.schemes())
	}
	if parsed.User != nil {
		return fmt.Errorf("credentials in endpoint url are not allowed")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in endpoint url: %s", rawURL)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("blocked ip address: %s", ip.String())
			}
		}
		return nil
	}

	if lower := strings.ToLower(host); lower == "localhost" || strings.HasSuffix(lower, ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// compile-time interface check
var _ EndpointGuard = (*endpointGuard)(nil)
