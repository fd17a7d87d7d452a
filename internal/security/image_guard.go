// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ImageFetcher は外部画像の安全な取得機能のインターフェースを定義する。
// アイテム登録時の画像URL検証と、埋め込み生成時の画像ダウンロードの
// 両方で使用される。
type ImageFetcher interface {
	// ValidateImageURL は画像URLの安全性を事前に検証する。
	// スキーム、ホスト、IPアドレスの静的検証を行い、
	// 危険なURLの場合はエラーを返す。
	ValidateImageURL(rawURL string) error

	// FetchImage は画像をダウンロードしてバイト列とMIMEタイプを返す。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	// 最大サイズを超える画像はエラーになる。
	FetchImage(ctx context.Context, rawURL string) ([]byte, string, error)
}

// imageSchemes は画像ダウンロードで許可されるURLスキーム。
var imageSchemes = []string{"http", "https"}

// privateRanges は画像ダウンロードでブロックされるネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
// safeurlはnet.DialerレベルでDNS解決後のIPアドレスも検証するため、
// DNS再バインディング攻撃にも対応している。
var privateRanges []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in privateRanges: %s: %v", cidr, err))
		}
		privateRanges = append(privateRanges, *network)
	}
}

// imageGuard はImageFetcherの実装。
// SSRF防止付きのHTTPクライアントを1つ保持し、すべてのダウンロードに再利用する。
type imageGuard struct {
	client   *http.Client
	maxBytes int64
}

// NewImageGuard はImageFetcherの新しいインスタンスを生成する。
// 画像ホスティング（Cloudinary等）はHTTPSの標準ポートで提供されるため、
// 許可ポートは80と443に限定する。
func NewImageGuard(timeout time.Duration, maxBytes int64) *imageGuard {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(imageSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return &imageGuard{
		client:   wrappedClient.Client,
		maxBytes: maxBytes,
	}
}

// ValidateImageURL は画像URLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証のみを行う。
// アイテム登録リクエストを受け付ける前の事前チェックとして使用する。
// 注意: DNS再バインディング攻撃は、FetchImageが使用するHTTPクライアントの
// Dialer検証で防止される。
func (g *imageGuard) ValidateImageURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty image URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid image URL: %w", err)
	}

	// スキーム検証: http/httpsのみ許可
	scheme := strings.ToLower(parsed.Scheme)
	if !schemeAllowed(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, imageSchemes)
	}

	// ホスト検証: 空ホストを拒否
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in image URL: %s", rawURL)
	}

	// IPアドレスの場合: ブロック対象CIDRとの照合
	if ip := net.ParseIP(host); ip != nil {
		if ipBlocked(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	// ホスト名の場合: localhost等の危険なホスト名を拒否
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("blocked host: %s", host)
	}

	return nil
}

// FetchImage は画像をダウンロードしてバイト列とMIMEタイプを返す。
// maxBytesを超えるレスポンスはダウンロードを打ち切ってエラーを返す。
func (g *imageGuard) FetchImage(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := g.ValidateImageURL(rawURL); err != nil {
		return nil, "", fmt.Errorf("画像URLの検証に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("画像リクエストの作成に失敗しました: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("画像のダウンロードに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("画像のダウンロードに失敗しました: status %d", resp.StatusCode)
	}

	// maxBytes+1まで読み、超過を検出する
	data, err := io.ReadAll(io.LimitReader(resp.Body, g.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("画像の読み込みに失敗しました: %w", err)
	}
	if int64(len(data)) > g.maxBytes {
		return nil, "", fmt.Errorf("image exceeds maximum size of %d bytes", g.maxBytes)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	// Content-Typeのパラメータ部 (charset等) を除去する
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	return data, mimeType, nil
}

// schemeAllowed はURLスキームが許可リストに含まれるかを検証する。
func schemeAllowed(scheme string) bool {
	for _, allowed := range imageSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// ipBlocked はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func ipBlocked(ip net.IP) bool {
	for _, network := range privateRanges {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// 実装がインターフェースを満たすことをコンパイル時に確認する。
var _ ImageFetcher = (*imageGuard)(nil)
