package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenAuth_ValidToken(t *testing.T) {
	var clientID string
	handler := NewTokenAuthMiddleware("s3cret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID = ClientIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if clientID == "" || clientID == "s3cret" {
		t.Errorf("clientID = %q, トークン由来の識別子であること", clientID)
	}
}

func TestTokenAuth_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"トークン不一致", "Bearer wrong"},
		{"Bearer以外", "Basic czNjcmV0"},
		{"トークン空", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewTokenAuthMiddleware("s3cret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestTokenAuth_DisabledWhenEmpty(t *testing.T) {
	called := false
	handler := NewTokenAuthMiddleware("", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if ClientIDFromContext(r.Context()) != "" {
			t.Error("認証無効時にクライアントIDが設定された")
		}
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Error("トークン未設定時にリクエストが拒否された")
	}
}

func TestTokenAuth_CaseInsensitiveScheme(t *testing.T) {
	handler := NewTokenAuthMiddleware("s3cret", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer s3cret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
