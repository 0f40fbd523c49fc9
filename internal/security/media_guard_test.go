package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestValidateRef(t *testing.T) {
	guard := NewMediaGuard(5 * time.Second)

	tests := []struct {
		name    string
		ref     string
		wantErr bool
	}{
		{"https CDN URL", "https://cdn.example.com/memes/1.jpg", false},
		{"http URL", "http://media.example.com/reel.mp4", false},
		{"公開IP", "https://93.184.216.34/a.png", false},
		{"空文字列", "", true},
		{"s3スキーム", "s3://bucket/key.jpg", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"ホストなし", "https:///a.jpg", true},
		{"プライベートIP", "http://10.0.0.5/a.jpg", true},
		{"プライベートIP 192.168", "http://192.168.1.1/a.jpg", true},
		{"ループバック", "http://127.0.0.1:8080/a.jpg", true},
		{"メタデータIP", "http://169.254.169.254/latest/meta-data", true},
		{"IPv6ループバック", "http://[::1]/a.jpg", true},
		{"localhost", "http://localhost/a.jpg", true},
		{"localhostサブドメイン", "http://cdn.localhost/a.jpg", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := guard.ValidateRef(tt.ref)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRef(%q) error = %v, wantErr %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}

func TestValidateRefs_ReportsPosition(t *testing.T) {
	guard := NewMediaGuard(5 * time.Second)

	err := ValidateRefs(guard, []string{"https://cdn.example.com/1.jpg", "http://127.0.0.1/2.jpg"})
	if err == nil {
		t.Fatal("expected error for loopback ref")
	}
	if !strings.Contains(err.Error(), "media 2") {
		t.Errorf("error = %q, expected position of the bad ref", err.Error())
	}
	if err := ValidateRefs(guard, []string{"https://cdn.example.com/1.jpg"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestProbe_BlocksLoopback はhttptestサーバー（127.0.0.1）へのProbeがブロックされることを検証する。
func TestProbe_BlocksLoopback(t *testing.T) {
	called := false
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	guard := NewMediaGuard(5 * time.Second)
	if err := guard.Probe(context.Background(), ts.URL+"/a.jpg"); err == nil {
		t.Error("expected loopback probe to be blocked")
	}
	if called {
		t.Error("loopback server should not receive the request")
	}
}

func TestMediaGuardInterface(t *testing.T) {
	var _ MediaGuard = NewMediaGuard(time.Second)
}
