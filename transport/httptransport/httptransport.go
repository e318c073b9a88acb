// Package httptransport implements the HTTP+SSE transport (spec §4.2):
// POST /mcp for request/response JSON-RPC exchange, GET /mcp for the
// server-initiated SSE stream, plus /health and /version operational
// endpoints. Grounded on the teacher's streaminghttp/handler.go for its
// content negotiation, JSON error shape, and SSE framing helpers
// (writeJSONError, lockedWriteFlusher, writeSSEEvent, header constants),
// substantially simplified since this transport authenticates against a
// tier-based api-key resolver rather than the teacher's OAuth2/OIDC/JWKS
// discovery machinery.
package httptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/elnormous/contenttype"

	"github.com/snapback-ai/coprocessor/server"
	"github.com/snapback-ai/coprocessor/session"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	mcpSessionIDHeader    = "Mcp-Session-Id"
	lastEventIDHeader     = "Last-Event-ID"
	authorizationHeader   = "Authorization"
	apiKeyHeader          = "X-API-Key"
	wwwAuthenticateHeader = "WWW-Authenticate"
)

// writeJSONError emits the transport-level error body
// {"error":{"code":<status>,"message":"..."}}, matching the teacher's shape
// exactly. It never claims JSON-RPC framing since, at this point, a JSON-RPC
// exchange may not even have been attempted.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// lockedWriteFlusher serializes concurrent writes/flushes on one SSE
// response body and refuses to write past context cancellation.
type lockedWriteFlusher struct {
	io.Writer
	http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	if l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.Writer.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx.Err() != nil {
		return
	}
	l.Flusher.Flush()
}

// writeSSEEvent frames one server-sent event: an optional "id:" line, the
// JSON-encoded payload as "data:", and the blank-line terminator, flushing
// immediately after.
func writeSSEEvent(wf *lockedWriteFlusher, msgID string, payload []byte) error {
	if msgID != "" {
		if _, err := fmt.Fprintf(wf, "id: %s\n", msgID); err != nil {
			return err
		}
	}
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := wf.Write(payload); err != nil {
		return err
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return err
	}
	wf.Flush()
	return nil
}

// rateLimiter hands out a token-bucket limiter per client IP, grounded on
// the standard golang.org/x/time/rate per-visitor pattern: one limiter per
// key, created lazily, refilling continuously rather than in fixed windows
// (spec §4.2's "N requests per window" is satisfied by sizing the bucket
// to cap and the refill rate to cap/window).
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newRateLimiter(cap int, window time.Duration) *rateLimiter {
	if cap <= 0 {
		cap = 100
	}
	if window <= 0 {
		window = time.Minute
	}
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Every(window / time.Duration(cap)),
		burst:    cap,
	}
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	lim, ok := rl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters[key] = lim
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// Handler is the HTTP+SSE transport. It wraps a *server.Server behind an
// http.Handler implementing spec §4.2's routes.
type Handler struct {
	srv          *server.Server
	log          *slog.Logger
	limiter      *rateLimiter
	corsAllow    []string
	development  bool
	maxBodyBytes int64
}

// New constructs the HTTP+SSE transport Handler, reading its operational
// limits from srv.Config() (spec §6's env-derived settings).
func New(srv *server.Server, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := srv.Config()
	return &Handler{
		srv:          srv,
		log:          logger,
		limiter:      newRateLimiter(cfg.RateLimitCap, cfg.RateLimitWindow),
		corsAllow:    cfg.CORSAllowList,
		development:  cfg.Development,
		maxBodyBytes: cfg.MaxBodyBytes,
	}
}

// ServeHTTP dispatches to the four spec §4.2 routes and applies the
// cross-cutting concerns (security headers, CORS, rate limiting) common to
// all of them.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.setSecurityHeaders(w)
	h.setCORSHeaders(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		h.handleHealth(w, r)
		return
	case r.URL.Path == "/version" && r.Method == http.MethodGet:
		h.handleVersion(w, r)
		return
	case r.URL.Path == "/mcp" && r.Method == http.MethodPost:
		h.handlePost(w, r)
		return
	case r.URL.Path == "/mcp" && r.Method == http.MethodGet:
		h.handleStream(w, r)
		return
	default:
		writeJSONError(w, http.StatusNotFound, "not found")
	}
}

// setSecurityHeaders applies the fixed header set spec §4.2 requires on
// every response, mirroring common Go API-server middleware (the teacher's
// handler does not set these itself, since it assumes a fronting proxy;
// this transport sets them directly since no such proxy is assumed here).
func (h *Handler) setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-XSS-Protection", "1; mode=block")
	w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
}

func (h *Handler) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	if !h.originAllowed(origin) {
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization, X-API-Key, "+mcpSessionIDHeader+", "+lastEventIDHeader)
	w.Header().Set("Access-Control-Max-Age", "600")
}

func (h *Handler) originAllowed(origin string) bool {
	for _, allowed := range h.corsAllow {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.srv.Health()
	w.Header().Set("Content-Type", jsonMediaType.String())
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (h *Handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{"name": "snapback-coprocessor", "version": "0.1.0"})
}

// clientKey identifies the caller for rate-limiting purposes: the
// authenticated user id when available, falling back to the remote address
// so unauthenticated probes are still bounded.
func clientKey(r *http.Request, userID string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "addr:" + r.RemoteAddr
}

// authenticate extracts a bearer token (Authorization header, falling back
// to X-API-Key) and resolves a session via the server's Authenticate entry
// point.
func (h *Handler) authenticate(r *http.Request) (*session.Session, bool, string) {
	key := ""
	if v := r.Header.Get(authorizationHeader); v != "" {
		key = strings.TrimPrefix(v, "Bearer ")
	}
	if key == "" {
		key = r.Header.Get(apiKeyHeader)
	}
	if key == "" && h.development {
		key = "dev-key"
	}
	sess, result := h.srv.Authenticate(r.Context(), key)
	return sess, result.Valid, result.UserID
}

// resolveSession reuses the session named by the Mcp-Session-Id header or
// sessionId query parameter (the GET /mcp stream's session, most
// commonly), falling back to authenticating a fresh one. A POST that names
// an unknown or expired session id is treated as unauthenticated, since the
// caller's credentials can no longer be verified against it.
func (h *Handler) resolveSession(r *http.Request) (*session.Session, bool, string) {
	id := r.Header.Get(mcpSessionIDHeader)
	if id == "" {
		id = r.URL.Query().Get("sessionId")
	}
	if id != "" {
		sess, ok := h.srv.Sessions().Lookup(id)
		if !ok {
			return nil, false, ""
		}
		return sess, true, sess.UserID()
	}
	return h.authenticate(r)
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	sess, ok, userID := h.resolveSession(r)
	if !ok {
		w.Header().Add(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
		writeJSONError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	if !h.limiter.allow(clientKey(r, userID)) {
		w.Header().Set("Retry-After", "60")
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if ctype, err := contenttype.GetMediaType(r); err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodyBytes+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(body)) > h.maxBodyBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body exceeds the configured limit")
		return
	}

	resp := h.srv.Handle(r.Context(), sess, body)
	w.Header().Set(mcpSessionIDHeader, sess.ID())
	if resp == nil {
		// A notification carries no reply (spec §4.1/§4.2's "202 Accepted,
		// empty body" contract for fire-and-forget messages).
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// handleStream serves the SSE channel a client opens to receive
// server-initiated messages published to its session (spec §4.2).
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sess, ok, userID := h.authenticate(r)
	if !ok {
		w.Header().Add(wwwAuthenticateHeader, `Bearer error="invalid_token"`)
		writeJSONError(w, http.StatusUnauthorized, "invalid or missing credentials")
		return
	}

	if !h.limiter.allow(clientKey(r, userID)) {
		w.Header().Set("Retry-After", "60")
		writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeJSONError(w, http.StatusNotAcceptable, "Accept must include text/event-stream")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	wf := &lockedWriteFlusher{Writer: w, Flusher: flusher, ctx: r.Context()}
	lastEventID := r.Header.Get(lastEventIDHeader)

	err := sess.Consume(r.Context(), lastEventID, func(eventID string, data []byte) error {
		return writeSSEEvent(wf, eventID, data)
	})
	if err != nil && r.Context().Err() == nil {
		h.log.ErrorContext(r.Context(), "httptransport: stream ended", "session", sess.ID(), "error", err)
	}
	h.srv.Sessions().Remove(sess.ID())
}
