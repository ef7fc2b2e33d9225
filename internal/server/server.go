// Package server exposes the HTTP JSON API over the session controller.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"ragchat/internal/app"
	"ragchat/internal/ratelimit"
	"ragchat/internal/util"
	"ragchat/pkg/store"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App *app.App
	// Sessions resolves bearer tokens to user ids; optional.
	Sessions store.SessionStore
	// SignupLimiter and LoginLimiter are optional; when nil the
	// corresponding endpoint is not rate limited.
	SignupLimiter *ratelimit.FixedWindowLimiter
	LoginLimiter  *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the chat service.
type Server struct {
	app           *app.App
	sessions      store.SessionStore
	signupLimiter *ratelimit.FixedWindowLimiter
	loginLimiter  *ratelimit.FixedWindowLimiter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		sessions:      cfg.Sessions,
		signupLimiter: cfg.SignupLimiter,
		loginLimiter:  cfg.LoginLimiter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// threads
	s.mux.HandleFunc("/api/thread", s.handleThreads)
	s.mux.HandleFunc("/api/thread/", s.handleThreadByID)
	s.mux.HandleFunc("/api/user/", s.handleUserInit)
	s.mux.HandleFunc("/api/chat", s.handleChat)

	// accounts
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/login", s.handleLogin)

	// retired role management API; clients must derive roles from users
	s.mux.HandleFunc("/api/roles", s.handleRolesGone)
	s.mux.HandleFunc("/api/roles/", s.handleRolesGone)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := s.resolveUserID(r, r.URL.Query().Get("userId"))
	summaries, err := s.app.ListThreads(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleThreadByID(w http.ResponseWriter, r *http.Request) {
	threadID := strings.TrimPrefix(r.URL.Path, "/api/thread/")
	if threadID == "" || strings.Contains(threadID, "/") {
		http.NotFound(w, r)
		return
	}
	userID := s.resolveUserID(r, r.URL.Query().Get("userId"))
	switch r.Method {
	case http.MethodGet:
		thread, err := s.app.GetThread(r.Context(), threadID, userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, thread)
	case http.MethodDelete:
		if err := s.app.DeleteThread(r.Context(), threadID, userID); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "chat.thread.delete", "success", "thread", threadID, "user_id", userID)
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUserInit(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/user/")
	userID, action, ok := strings.Cut(rest, "/")
	if !ok || userID == "" || action != "init" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	state, err := s.app.Init(r.Context(), userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// maxMultipartMemory bounds the in-memory portion of multipart parsing;
// larger file parts spill to disk.
const maxMultipartMemory = 32 << 20

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	req, err := parseTurnRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.UserID = s.resolveUserID(r, req.UserID)
	reply, err := s.app.RunTurn(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

// parseTurnRequest accepts either a multipart form (with files) or a plain
// JSON body for text-only turns.
func parseTurnRequest(r *http.Request) (app.TurnRequest, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var body chatRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
			return app.TurnRequest{}, errors.New("invalid JSON body")
		}
		return app.TurnRequest{
			ThreadID: body.ThreadID,
			UserID:   body.UserID,
			Role:     body.Role,
			Text:     body.Message,
		}, nil
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return app.TurnRequest{}, errors.New("invalid multipart form")
	}
	req := app.TurnRequest{
		ThreadID: r.FormValue("threadId"),
		UserID:   r.FormValue("userId"),
		Role:     r.FormValue("role"),
		Text:     r.FormValue("message"),
	}
	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files"] {
			part, err := header.Open()
			if err != nil {
				return app.TurnRequest{}, errors.New("unreadable file part")
			}
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return app.TurnRequest{}, errors.New("unreadable file part")
			}
			req.Files = append(req.Files, app.TurnFile{
				Name: header.Filename,
				Size: int64(len(data)),
				Data: data,
			})
		}
	}
	return req, nil
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.app.ListUsers(r.Context())
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		if s.signupLimiter != nil && !s.signupLimiter.Allow(clientIP(r)) {
			s.audit(r, "chat.signup", "fail", "reason", "rate_limited")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		var req signupRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := s.app.CreateUser(r.Context(), req.Name, req.Role, req.Password)
		if err != nil {
			s.audit(r, "chat.signup", "fail", "name", req.Name)
			writeAppError(w, err)
			return
		}
		s.audit(r, "chat.signup", "success", "user_id", user.ID)
		writeJSON(w, http.StatusCreated, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.loginLimiter != nil && !s.loginLimiter.Allow(clientIP(r)) {
		s.audit(r, "chat.login", "fail", "reason", "rate_limited")
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Name, req.Password)
	if err != nil {
		s.audit(r, "chat.login", "fail", "name", req.Name)
		writeAppError(w, err)
		return
	}
	s.audit(r, "chat.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{
		ID:    user.ID,
		Name:  user.Name,
		Role:  string(user.Role),
		Token: token,
	})
}

func (s *Server) handleRolesGone(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusGone, "the roles API has been removed")
}

// resolveUserID prefers an explicit userId; otherwise it derives one from a
// bearer session token when present. An empty result falls through to the
// controller's validation.
func (s *Server) resolveUserID(r *http.Request, explicit string) string {
	if explicit != "" || s.sessions == nil {
		return explicit
	}
	token, ok := bearerToken(r)
	if !ok {
		return ""
	}
	userID, ok, err := s.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		s.audit(r, "chat.session.resolve", "fail")
		return ""
	}
	return userID
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", clientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func clientIP(r *http.Request) string {
	if xfwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xfwd != "" {
		parts := strings.Split(xfwd, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type chatRequest struct {
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`
	Role     string `json:"role"`
	Message  string `json:"message"`
}

type signupRequest struct {
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Token string `json:"token"`
}

// writeAppError maps controller sentinels onto HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidArgument), errors.Is(err, app.ErrRoleMismatch), errors.Is(err, app.ErrAlreadyExists):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
