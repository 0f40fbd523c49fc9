package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/postplan/internal/metrics"
	"github.com/hitoshi/postplan/internal/middleware"
)

func TestRouter_Health(t *testing.T) {
	d := newTestDeps()
	d.token = "s3cret"

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	d.router().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("認証なしのヘルスチェック: status = %d, want 200", w.Code)
	}

	d.health.err = errors.New("db down")
	w = httptest.NewRecorder()
	d.router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("DB停止時: status = %d, want 503", w.Code)
	}
}

func TestRouter_RequiresToken(t *testing.T) {
	d := newTestDeps()
	d.token = "s3cret"

	req := httptest.NewRequest(http.MethodGet, "/api/slots", nil)
	w := httptest.NewRecorder()
	d.router().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("トークンなし: status = %d, want 401", w.Code)
	}

	if w := d.do(t, http.MethodGet, "/api/slots", ""); w.Code != http.StatusOK {
		t.Errorf("トークンあり: status = %d, want 200", w.Code)
	}
}

func TestRouter_CommonHeadersAndRequestID(t *testing.T) {
	d := newTestDeps()
	w := d.do(t, http.MethodGet, "/api/slots", "")

	if w.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("リクエストIDが返されていない")
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("共通ヘッダーが付与されていない")
	}
	if !strings.Contains(d.logs.String(), `"path":"/api/slots"`) {
		t.Errorf("リクエストログが出力されていない: %s", d.logs.String())
	}
}

func TestRouter_RateLimited(t *testing.T) {
	d := newTestDeps()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(1), nil)
	defer rl.Stop()

	router := NewRouter(&RouterDeps{
		RateLimiter: rl,
		Contents:    d.contents,
		Assigner:    d.assigner,
		Dispatcher:  d.dispatcher,
		Slots:       d.slots,
	})

	codes := make([]int, 2)
	for i := range codes {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/slots", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 429]", codes)
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)
	c.RecordDispatchOutcome("meme", metrics.OutcomePosted)

	d := newTestDeps()
	router := NewRouter(&RouterDeps{Gatherer: reg, Contents: d.contents, Assigner: d.assigner, Dispatcher: d.dispatcher, Slots: d.slots})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "postplan_dispatch_total") {
		t.Errorf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestRouter_UnknownRoute(t *testing.T) {
	d := newTestDeps()
	if w := d.do(t, http.MethodGet, "/api/feeds", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
