package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// MediaGuard は公開APIに渡すメディアURLのSSRF防止機能のインターフェースを定義する。
// 公開ゲートウェイはURLからメディアを取得するため、内部ネットワークを指すURLを渡さない。
type MediaGuard interface {
	// ValidateRef はメディアURLを静的に検証する。
	// http/https以外のスキーム、空ホスト、プライベートIP、ループバック、
	// リンクローカル、localhost を拒否する。
	ValidateRef(ref string) error

	// Probe はSSRF防止付きクライアントでHEADリクエストを送り、メディアが取得可能かを確認する。
	// DNS解決後のIPアドレスもsafeurlが検証する。
	Probe(ctx context.Context, ref string) error
}

// allowedSchemes はメディアURLに許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はブロック対象のネットワーク範囲。パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
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

// mediaGuard はMediaGuardの実装。
type mediaGuard struct {
	client *http.Client
}

// NewMediaGuard はMediaGuardの新しいインスタンスを生成する。
// Probe用のHTTPクライアントはsafeurlで構築し、80/443番ポートのみ許可する。
func NewMediaGuard(probeTimeout time.Duration) *mediaGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(probeTimeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return &mediaGuard{client: safeurl.Client(config).Client}
}

// ValidateRef はメディアURLを静的に検証する。
func (g *mediaGuard) ValidateRef(ref string) error {
	if ref == "" {
		return fmt.Errorf("empty media reference")
	}

	parsed, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("invalid media URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %q (allowed: %v)", scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in media URL: %s", ref)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

// Probe はメディアURLにHEADリクエストを送り、2xx/3xx以外をエラーとする。
func (g *mediaGuard) Probe(ctx context.Context, ref string) error {
	if err := g.ValidateRef(ref); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, ref, nil)
	if err != nil {
		return fmt.Errorf("failed to build probe request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("media probe failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("media probe returned status %d: %s", resp.StatusCode, ref)
	}
	return nil
}

// ValidateRefs は全てのメディアURLを検証し、最初のエラーを返す。
func ValidateRefs(g MediaGuard, refs []string) error {
	for i, ref := range refs {
		if err := g.ValidateRef(ref); err != nil {
			return fmt.Errorf("media %d: %w", i+1, err)
		}
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
