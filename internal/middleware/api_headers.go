package middleware

import "net/http"

// NewAPIHeadersMiddleware はJSON APIのレスポンスに共通ヘッダーを付与するミドルウェアを返す。
// 管理APIの応答はキャッシュさせず、ブラウザでの解釈も行わせない。
func NewAPIHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			next.ServeHTTP(w, r)
		})
	}
}
