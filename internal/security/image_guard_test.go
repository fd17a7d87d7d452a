package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewImageGuard はImageGuardの生成をテストする。
func TestNewImageGuard(t *testing.T) {
	guard := NewImageGuard(10*time.Second, 5*1024*1024)
	if guard == nil {
		t.Fatal("NewImageGuard() returned nil")
	}
}

// TestNewImageGuardHasTransport はSSRF防止付きクライアントにカスタムTransportが設定されていることをテストする。
// safeurlはnet.DialerのControlフックでIPアドレス検証を行うため、
// Transportが標準のhttp.DefaultTransportではないことを確認する。
func TestNewImageGuardHasTransport(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	if guard.client.Transport == nil {
		t.Fatal("expected custom Transport to be set, got nil")
	}
	if guard.client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport, got http.DefaultTransport")
	}
}

// TestFetchImageBlocksLoopback はループバックアドレスからのダウンロードをブロックすることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、事前検証でブロックされる。
func TestFetchImageBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	_, _, err := guard.FetchImage(context.Background(), ts.URL)
	if err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

// TestValidateImageURL_PublicURL は公開URLの検証が成功することをテストする。
func TestValidateImageURL_PublicURL(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	publicURLs := []string{
		"https://res.cloudinary.com/demo/image/upload/sample.jpg",
		"https://images.example.com/photo.png",
		"http://cdn.example.org/item.webp",
	}

	for _, u := range publicURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateImageURL(u)
			if err != nil {
				t.Errorf("ValidateImageURL(%q) returned error: %v", u, err)
			}
		})
	}
}

// TestValidateImageURL_PrivateIP はプライベートIPアドレスの拒否をテストする。
func TestValidateImageURL_PrivateIP(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	privateURLs := []string{
		"http://10.0.0.1/image.jpg",
		"http://10.255.255.255/image.jpg",
		"http://172.16.0.1/image.jpg",
		"http://172.31.255.255/image.jpg",
		"http://192.168.0.1/image.jpg",
		"http://192.168.1.100/image.jpg",
	}

	for _, u := range privateURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateImageURL(u)
			if err == nil {
				t.Errorf("ValidateImageURL(%q) should have returned error for private IP", u)
			}
		})
	}
}

// TestValidateImageURL_LoopbackAddress はループバックアドレスの拒否をテストする。
func TestValidateImageURL_LoopbackAddress(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	loopbackURLs := []string{
		"http://127.0.0.1/image.jpg",
		"http://127.0.0.2/image.jpg",
		"http://localhost/image.jpg",
	}

	for _, u := range loopbackURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateImageURL(u)
			if err == nil {
				t.Errorf("ValidateImageURL(%q) should have returned error for loopback address", u)
			}
		})
	}
}

// TestValidateImageURL_MetadataIP はクラウドメタデータIPアドレスの拒否をテストする。
func TestValidateImageURL_MetadataIP(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	metadataURLs := []string{
		"http://169.254.169.254/latest/meta-data/",                        // AWS
		"http://169.254.169.254/metadata/instance?api-version=2021-02-01", // Azure
		"http://169.254.169.254/computeMetadata/v1/",                      // GCP
	}

	for _, u := range metadataURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateImageURL(u)
			if err == nil {
				t.Errorf("ValidateImageURL(%q) should have returned error for metadata IP", u)
			}
		})
	}
}

// TestValidateImageURL_InvalidURL は無効なURLの検証が失敗することをテストする。
func TestValidateImageURL_InvalidURL(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	invalidURLs := []string{
		"",
		"not-a-url",
		"ftp://example.com/image.jpg",
		"file:///etc/passwd",
		"gopher://example.com",
	}

	for _, u := range invalidURLs {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateImageURL(u)
			if err == nil {
				t.Errorf("ValidateImageURL(%q) should have returned error for invalid URL", u)
			}
		})
	}
}

// TestValidateImageURL_IPv6Loopback はIPv6ループバックアドレスの拒否をテストする。
func TestValidateImageURL_IPv6Loopback(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	err := guard.ValidateImageURL("http://[::1]/image.jpg")
	if err == nil {
		t.Error("ValidateImageURL(\"http://[::1]/image.jpg\") should have returned error for IPv6 loopback")
	}
}

// TestValidateImageURL_ZeroAddress は0.0.0.0の拒否をテストする。
func TestValidateImageURL_ZeroAddress(t *testing.T) {
	guard := NewImageGuard(5*time.Second, 5*1024*1024)

	err := guard.ValidateImageURL("http://0.0.0.0/image.jpg")
	if err == nil {
		t.Error("ValidateImageURL(\"http://0.0.0.0/image.jpg\") should have returned error for zero address")
	}
}

// TestImageGuardInterface はImageGuardがインターフェースを正しく実装していることをテストする。
func TestImageGuardInterface(t *testing.T) {
	var _ ImageFetcher = NewImageGuard(5*time.Second, 5*1024*1024)
}
