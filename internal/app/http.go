package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"colorcraft/api/internal/auth"
	"colorcraft/api/internal/lease"
	"colorcraft/api/internal/metrics"
	"colorcraft/api/internal/rbac"
	"colorcraft/api/internal/realtime"
	"colorcraft/api/internal/site"
	"colorcraft/api/internal/store"
)

// ServerOptions holds the optional surfaces mounted next to the JSON API.
type ServerOptions struct {
	// Webhook receives storage events at POST /api/webhooks/storage.
	Webhook http.Handler
	// Realtime enables the chat websocket at /api/chat/ws.
	Realtime *realtime.Router
	Site     *site.Site
	Metrics  *metrics.Metrics
	// PublicLimit wraps the /api/public routes.
	PublicLimit func(http.Handler) http.Handler
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	opts       ServerOptions
}

func NewHTTPServer(service *Service, corsOrigin string, opts ServerOptions) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, opts: opts}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	if s.opts.Metrics != nil {
		r.Use(s.opts.Metrics.Middleware)
	}
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics.Handler())
	}
	if s.opts.Webhook != nil {
		r.Method(http.MethodPost, "/api/webhooks/storage", s.opts.Webhook)
	}
	if s.opts.Realtime != nil {
		r.Method(http.MethodGet, "/api/chat/ws", realtime.NewSocketHandler(s.opts.Realtime, s.service, s.corsOrigin))
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", s.handleAuthSignUp)
		r.Post("/signin", s.handleAuthSignIn)
		r.Post("/verify-email", s.handleAuthVerifyEmail)
		r.Post("/verify-email/resend", s.handleAuthResendVerification)
		r.Post("/reset-password/request", s.handleAuthRequestReset)
		r.Post("/reset-password", s.handleAuthResetPassword)
	})
	r.Route("/api/session", func(r chi.Router) {
		r.Get("/", s.handleSession)
		r.Post("/refresh", s.handleSessionRefresh)
		r.With(s.authenticated).Post("/logout", s.handleSessionLogout)
	})

	r.Route("/api/public", s.publicRoutes)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticated)
		r.Route("/api/portfolio", s.portfolioRoutes)
		r.Route("/api/services", s.serviceRoutes)
		r.Get("/api/search", s.handleSearch)
		r.Route("/api/crm", s.crmRoutes)
		r.Route("/api/chat", s.chatRoutes)
		r.Route("/api/users", s.userRoutes)
	})

	if s.opts.Site != nil {
		s.opts.Site.Routes(r)
	}
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// Sessions

type sessionKey struct{}

// authenticated resolves the bearer token and stores the session on the
// request context.
func (s *HTTPServer) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

// allow rejects sessions whose role may not perform action.
func (s *HTTPServer) allow(action rbac.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := sessionFrom(r)
			if !s.service.Can(session.Role, action) {
				s.forbid(w, r, session, action)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	log.Warn("forbidden", "request_id", requestIDFrom(r), "user", session.UserID, "role", session.Role, "action", action)
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		log.Error("session lookup failed", "request_id", requestIDFrom(r), "err", err)
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userName":      session.UserName,
		"userId":        session.UserID,
		"email":         session.Email,
		"role":          session.Role,
	})
}

func (s *HTTPServer) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.Logout(r.Context(), sessionFrom(r), body.RefreshToken); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"accessToken":  session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"userName":     session.UserName,
		"role":         session.Role,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

// Auth handlers for email/password authentication

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body SignUpInput
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.SignUp(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body SignInInput
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.SignIn(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.VerifyEmail(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (s *HTTPServer) handleAuthResendVerification(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.ResendVerification(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	payload, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body ResetPasswordInput
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.ResetPassword(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// Middleware

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		log.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

// Responses

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	writeDomainError(w, domainError(status, code, message, details))
}

func writeDomainError(w http.ResponseWriter, e *DomainError) {
	response := map[string]any{
		"code":  e.Code,
		"error": e.Message,
	}
	if e.Details != nil {
		response["details"] = e.Details
	}
	if len(e.FieldErrors) > 0 {
		response["fieldErrors"] = e.FieldErrors
	}
	writeJSON(w, e.Status, response)
}

// fail maps err to a response. Unexpected errors are logged with the request
// ID and hidden from the client.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := mapError(err)
	if mapped.Status >= http.StatusInternalServerError {
		log.Error("request failed",
			"request_id", requestIDFrom(r),
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
	}
	writeDomainError(w, mapped)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func queryBool(r *http.Request, key string) *bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return nil
	}
	return &value
}

func mapError(err error) *DomainError {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	var constraint *store.ConstraintError
	var details any
	if errors.As(err, &constraint) && constraint.Constraint != "" {
		details = map[string]any{"constraint": constraint.Constraint}
	}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
	case errors.Is(err, store.ErrConflict):
		return domainError(http.StatusConflict, "CONFLICT", "A record with these values already exists", details)
	case errors.Is(err, store.ErrInvalidReference):
		return domainError(http.StatusUnprocessableEntity, "INVALID_REFERENCE", "A referenced record does not exist", details)
	case errors.Is(err, store.ErrConstraint):
		return domainError(http.StatusUnprocessableEntity, "CONSTRAINT_VIOLATION", "Value is not allowed", details)
	case errors.Is(err, lease.ErrNotAcquired):
		return domainError(http.StatusServiceUnavailable, "LEASE_UNAVAILABLE", "Portfolio images are being synced, retry shortly", nil)
	default:
		return domainError(http.StatusInternalServerError, "SERVER_ERROR", "An unexpected error occurred", nil)
	}
}
