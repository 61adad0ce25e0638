// Package server exposes the HTTP surface: the public analyze endpoint,
// cache statistics, the admin panel API, and Prometheus metrics.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/persona-ai/persona/pkg/admin"
	"github.com/persona-ai/persona/pkg/audit"
	"github.com/persona-ai/persona/pkg/config"
	"github.com/persona-ai/persona/pkg/coordinator"
	"github.com/persona-ai/persona/pkg/fingerprint"
	"github.com/persona-ai/persona/pkg/metrics"
	"github.com/persona-ai/persona/pkg/models"
	"github.com/persona-ai/persona/pkg/ratelimit"
	"github.com/persona-ai/persona/pkg/store"
	"github.com/persona-ai/persona/pkg/users"
	"github.com/persona-ai/persona/pkg/validation"
)

// Analyzer produces a personality profile for text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*models.PersonalityProfile, error)
}

// Deps bundles everything the server needs. Auditor may be nil when audit
// logging is disabled.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Analyzer    Analyzer
	Validator   *validation.Validator
	Store       *store.Store
	Users       *users.Registry
	Auth        *admin.Auth
	Auditor     *audit.Logger
	Metrics     *metrics.Metrics
	Guard       *ratelimit.Guard
}

// Server is the persona HTTP server.
type Server struct {
	cfg *config.Config
	d   Deps
	mux *http.ServeMux
}

// New creates a Server wired with all dependencies.
func New(cfg *config.Config, d Deps) *Server {
	s := &Server{cfg: cfg, d: d, mux: http.NewServeMux()}

	s.handle("/", s.handleHealth)
	s.handle("/analyze", s.withGuard(s.handleAnalyze))
	s.handle("/cache-stats", s.handleCacheStats)
	s.mux.Handle("/metrics", d.Metrics.Handler())

	s.handle("/admin/login", s.handleAdminLogin)
	s.handle("/admin/logout", s.requireAdmin(s.handleAdminLogout))
	s.handle("/admin/stats", s.requireAdmin(s.handleAdminStats))
	s.handle("/admin/users", s.requireAdmin(s.handleAdminUsers))
	s.handle("/admin/user", s.requireAdmin(s.handleAdminUser))
	s.handle("/admin/cache", s.requireAdmin(s.handleAdminCacheEntry))
	s.handle("/admin/cache/expire", s.requireAdmin(s.handleAdminCacheExpire))
	s.handle("/admin/audit", s.requireAdmin(s.handleAdminAudit))

	return s
}

func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, s.d.Metrics.Middleware(pattern, s.withCORS(h)))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("persona listening on %s", s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

// withCORS applies the configured CORS policy and answers preflights.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

func (s *Server) originAllowed(origin string) bool {
	for _, o := range s.cfg.CORS.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// withGuard rejects short bursts per remote address before any work happens.
func (s *Server) withGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.d.Guard != nil && !s.d.Guard.Allow(fingerprint.ClientIP(r)) {
			writeJSONError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next(w, r)
	}
}

// requireAdmin validates the bearer token against active admin sessions.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSONError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, ok := s.d.Auth.Validate(token); !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeJSONError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "persona",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start := time.Now()
	caller := fingerprint.FromRequest(r)
	requestID := resolveRequestID(r)

	var req models.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAnalyzeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	vres := s.d.Validator.Validate(req.Text)
	if !vres.Valid {
		s.d.Metrics.RecordLookup("rejected", 0)
		s.audit(requestID, caller, "rejected", req.Text, vres.Reason, http.StatusBadRequest, start)
		writeAnalyzeError(w, http.StatusBadRequest, vres.Reason)
		return
	}
	text := vres.Cleaned

	res, err := s.d.Coordinator.Lookup(r.Context(), text, caller)
	if err != nil {
		log.Printf("lookup error: %v", err)
		s.audit(requestID, caller, "error", text, err.Error(), http.StatusInternalServerError, start)
		writeAnalyzeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch res.Kind {
	case coordinator.KindRateLimited:
		s.d.Metrics.RecordLookup("rate_limited", 0)
		s.audit(requestID, caller, "rate_limited", text, "", http.StatusTooManyRequests, start)
		if !res.RetryAt.IsZero() {
			secs := int(time.Until(res.RetryAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		writeAnalyzeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return

	case coordinator.KindHit:
		s.d.Metrics.RecordLookup("hit", res.Similarity)
		resp := models.AnalyzeResponse{
			Success:   true,
			Timestamp: time.Now().UTC(),
			Response:  res.Profile,
			CacheInfo: &models.CacheInfo{
				CacheHit:       true,
				Similarity:     res.Similarity,
				CachedAt:       res.CachedAt,
				ResponseTimeMs: elapsedMs(res.Elapsed),
			},
		}
		s.audit(requestID, caller, "hit", text, res.EntryID, http.StatusOK, start)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Miss: ask the model, then cache the result.
	s.d.Metrics.RecordLookup("miss", 0)
	profile, err := s.d.Analyzer.Analyze(r.Context(), text)
	s.d.Metrics.RecordAnalyzerCall(err == nil)
	if err != nil {
		log.Printf("analyze error: %v", err)
		s.audit(requestID, caller, "error", text, err.Error(), http.StatusBadGateway, start)
		writeAnalyzeError(w, http.StatusBadGateway, "analysis failed, please try again")
		return
	}

	if _, err := s.d.Coordinator.Commit(r.Context(), text, *profile, caller); err != nil {
		log.Printf("commit error: %v", err)
		s.audit(requestID, caller, "error", text, err.Error(), http.StatusInternalServerError, start)
		writeAnalyzeError(w, http.StatusInternalServerError, "failed to store analysis")
		return
	}

	resp := models.AnalyzeResponse{
		Success:   true,
		Timestamp: time.Now().UTC(),
		Response:  profile,
		CacheInfo: &models.CacheInfo{
			CacheHit:       false,
			ResponseTimeMs: elapsedMs(time.Since(start)),
		},
	}
	s.audit(requestID, caller, "miss", text, "", http.StatusOK, start)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.d.Store.Stats(r.Context())
	if err != nil {
		log.Printf("stats error: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.d.Auth.Login(creds.Username, creds.Password)
	if err != nil {
		if errors.Is(err, admin.ErrInvalidCredentials) {
			writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token})
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.d.Auth.Logout(bearerToken(r))
	writeJSON(w, http.StatusOK, map[string]any{"logged_out": true})
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.d.Store.Stats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load statistics")
		return
	}
	userCount, err := s.d.Users.Count(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load user count")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cache":           stats,
		"total_users":     userCount,
		"active_sessions": s.d.Auth.ActiveSessions(),
	})
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	records, err := s.d.Users.All(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to load users")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(records),
		"users": records,
	})
}

func (s *Server) handleAdminUser(w http.ResponseWriter, r *http.Request) {
	fp := r.URL.Query().Get("fingerprint")
	if fp == "" {
		writeJSONError(w, http.StatusBadRequest, "fingerprint parameter required")
		return
	}
	rec, err := s.d.Users.Get(r.Context(), fp)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	detail := struct {
		*models.UserRecord
		ClientInfo *fingerprint.ClientInfo `json:"client_info,omitempty"`
	}{UserRecord: rec}
	if len(rec.ClientStrings) > 0 {
		info := fingerprint.ParseUserAgent(rec.ClientStrings[0])
		detail.ClientInfo = &info
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleAdminCacheEntry(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSONError(w, http.StatusBadRequest, "id parameter required")
		return
	}
	entry, err := s.d.Store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "cache entry not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to load cache entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleAdminCacheExpire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	deleted, err := s.d.Store.Expire(r.Context(), s.d.Store.Retention())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "expire failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	if s.d.Auditor == nil {
		writeJSONError(w, http.StatusNotFound, "audit logging disabled")
		return
	}

	opts := models.AuditQueryOpts{
		RequestID:         r.URL.Query().Get("request_id"),
		Outcome:           r.URL.Query().Get("outcome"),
		FingerprintPrefix: r.URL.Query().Get("fingerprint_prefix"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}

	entries, err := s.d.Auditor.Query(r.Context(), opts)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(entries),
		"entries": entries,
	})
}

// audit records an outcome asynchronously so the request path never waits
// on the audit database.
func (s *Server) audit(requestID string, caller models.Caller, outcome, input, respBody string, status int, start time.Time) {
	if s.d.Auditor == nil {
		return
	}
	fp := fingerprint.Derive(caller.Address, caller.ClientString, caller.AcceptLanguage)
	hash, prefix := audit.HashFingerprint(fp)
	entry := models.AuditEntry{
		RequestID:         requestID,
		FingerprintHash:   hash,
		FingerprintPrefix: prefix,
		Outcome:           outcome,
		InputText:         input,
		ResponseBody:      respBody,
		StatusCode:        status,
		LatencyMs:         time.Since(start).Milliseconds(),
		CreatedAt:         time.Now().UTC(),
	}
	go func() {
		if err := s.d.Auditor.Log(context.Background(), entry); err != nil {
			log.Printf("audit log error: %v", err)
		}
	}()
}

func resolveRequestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-ID"); id != "" {
		return id
	}
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "req-" + hex.EncodeToString(buf)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

func elapsedMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAnalyzeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, models.AnalyzeResponse{
		Success:   false,
		Timestamp: time.Now().UTC(),
		Error:     message,
	})
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"message":%q,"code":%d}}`, message, code)
}
