package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/persona-ai/persona/pkg/admin"
	"github.com/persona-ai/persona/pkg/config"
	"github.com/persona-ai/persona/pkg/coordinator"
	"github.com/persona-ai/persona/pkg/metrics"
	"github.com/persona-ai/persona/pkg/models"
	"github.com/persona-ai/persona/pkg/ratelimit"
	"github.com/persona-ai/persona/pkg/store"
	"github.com/persona-ai/persona/pkg/users"
	"github.com/persona-ai/persona/pkg/validation"
)

type fakeAnalyzer struct {
	calls int
	err   error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*models.PersonalityProfile, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &models.PersonalityProfile{
		Openness:          0.7,
		Conscientiousness: 0.6,
		Extraversion:      0.8,
		Agreeableness:     0.5,
		Neuroticism:       0.3,
		MBTIType:          "ENFP",
		ToneAnalysis:      "warm",
		WritingStyle:      "direct",
		Summary:           "sociable and curious",
	}, nil
}

func newTestServer(t *testing.T, an *fakeAnalyzer, maxPerHour int) *Server {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.RateLimit.MaxPerHour = maxPerHour

	st, err := store.New(filepath.Join(dir, "cache.db"), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })

	u, err := users.New(filepath.Join(dir, "users.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = u.Close() })

	coord := coordinator.New(st, u, ratelimit.New(maxPerHour, time.Hour), 0.90)

	return New(cfg, Deps{
		Coordinator: coord,
		Analyzer:    an,
		Validator:   validation.New(10, 10000),
		Store:       st,
		Users:       u,
		Auth:        admin.New("admin", "secret", time.Hour),
		Metrics:     metrics.New(),
	})
}

func postAnalyze(t *testing.T, s *Server, text string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(models.AnalyzeRequest{Text: text})
	req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "test-agent/1.0")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeAnalyze(t *testing.T, rec *httptest.ResponseRecorder) models.AnalyzeResponse {
	t.Helper()
	var resp models.AnalyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 100)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestAnalyzeMissThenHit(t *testing.T) {
	an := &fakeAnalyzer{}
	s := newTestServer(t, an, 100)

	rec := postAnalyze(t, s, "I love meeting new people and going to parties.")
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeAnalyze(t, rec)
	if !resp.Success || resp.CacheInfo == nil || resp.CacheInfo.CacheHit {
		t.Fatalf("first response should be a fresh analysis: %+v", resp)
	}
	if an.calls != 1 {
		t.Fatalf("analyzer calls = %d, want 1", an.calls)
	}

	rec = postAnalyze(t, s, "I love meeting new people and going to parties!")
	if rec.Code != http.StatusOK {
		t.Fatalf("second status = %d", rec.Code)
	}
	resp = decodeAnalyze(t, rec)
	if resp.CacheInfo == nil || !resp.CacheInfo.CacheHit {
		t.Fatalf("second response should be a cache hit: %+v", resp)
	}
	if resp.CacheInfo.Similarity < 0.90 {
		t.Errorf("similarity = %g", resp.CacheInfo.Similarity)
	}
	if an.calls != 1 {
		t.Errorf("analyzer called again on a hit: %d calls", an.calls)
	}
}

func TestAnalyzeRejectsInvalidText(t *testing.T) {
	an := &fakeAnalyzer{}
	s := newTestServer(t, an, 100)

	rec := postAnalyze(t, s, "short")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeAnalyze(t, rec)
	if resp.Success || resp.Error == "" {
		t.Errorf("expected failure with reason, got %+v", resp)
	}
	if an.calls != 0 {
		t.Errorf("analyzer should not run for rejected input")
	}
}

func TestAnalyzeRateLimited(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 1)

	if rec := postAnalyze(t, s, "the first request passes through fine"); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}
	rec := postAnalyze(t, s, "the second request is over the quota")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestAnalyzeUpstreamFailureNotCached(t *testing.T) {
	an := &fakeAnalyzer{err: errors.New("model unavailable")}
	s := newTestServer(t, an, 100)

	rec := postAnalyze(t, s, "this text will fail to analyze upstream")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	// Same text again: still a miss, analyzer called again.
	an.err = nil
	rec = postAnalyze(t, s, "this text will fail to analyze upstream")
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status = %d", rec.Code)
	}
	resp := decodeAnalyze(t, rec)
	if resp.CacheInfo.CacheHit {
		t.Error("failed analysis must not produce a cache entry")
	}
	if an.calls != 2 {
		t.Errorf("analyzer calls = %d, want 2", an.calls)
	}
}

func TestCacheStats(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 100)
	_ = postAnalyze(t, s, "some text to generate one miss for the stats")

	req := httptest.NewRequest(http.MethodGet, "/cache-stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats models.StoreStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", stats.TotalRequests)
	}
}

func adminLogin(t *testing.T, s *Server, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body := `{"username":"` + username + `","password":"` + password + `"}`
	req := httptest.NewRequest(http.MethodPost, "/admin/login", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestAdminFlow(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 100)

	if rec := adminLogin(t, s, "admin", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", rec.Code)
	}

	rec := adminLogin(t, s, "admin", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	var loginResp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin stats status = %d", rec.Code)
	}

	// No token: rejected.
	req = httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}
}

func TestAdminUserLookup(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 100)
	_ = postAnalyze(t, s, "generate one user record via a lookup")

	rec := adminLogin(t, s, "admin", "secret")
	var loginResp struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &loginResp)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("admin users status = %d", rec2.Code)
	}
	var list struct {
		Total int                 `json:"total"`
		Users []models.UserRecord `json:"users"`
	}
	if err := json.Unmarshal(rec2.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if list.Total != 1 {
		t.Fatalf("total users = %d, want 1", list.Total)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/user?fingerprint="+list.Users[0].Fingerprint, nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec2 = httptest.NewRecorder()
	s.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Fatalf("admin user status = %d", rec2.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/user?fingerprint=doesnotexist1234", nil)
	req.Header.Set("Authorization", "Bearer "+loginResp.Token)
	rec2 = httptest.NewRecorder()
	s.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("unknown user status = %d", rec2.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 100)
	_ = postAnalyze(t, s, "one request so the counters are non-empty")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "persona_requests_total") {
		t.Error("metrics output missing persona_requests_total")
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeAnalyzer{}, 100)

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestBurstGuard(t *testing.T) {
	an := &fakeAnalyzer{}
	s := newTestServer(t, an, 100)
	s.d.Guard = ratelimit.NewGuard(1, 1)

	first := postAnalyze(t, s, "the very first request should pass the guard")
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := postAnalyze(t, s, "an immediate second request should be stopped")
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
}
