// Package server exposes the HTTP surface: login, upload and embed, the
// streaming chat endpoint, and the reclamation operations.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"ragserve/internal/app"
	"ragserve/internal/ratelimit"
	"ragserve/internal/session"
	"ragserve/internal/util"
	"ragserve/pkg/stream"
)

const maxUploadBytes = 64 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App          *app.App
	Tokens       *session.TokenIssuer
	LoginLimiter *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the service.
type Server struct {
	app          *app.App
	tokens       *session.TokenIssuer
	loginLimiter *ratelimit.FixedWindowLimiter
	mux          *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:          cfg.App,
		tokens:       cfg.Tokens,
		loginLimiter: cfg.LoginLimiter,
		mux:          http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.Handle("/upload", s.withUser(s.handleUpload))
	s.mux.Handle("/embed", s.withUser(s.handleEmbed))
	s.mux.Handle("/embed/status", s.withUser(s.handleEmbedStatus))
	s.mux.Handle("/uploads", s.withUser(s.handleUploads))
	s.mux.Handle("/rag", s.withUser(s.handleRag))
	s.mux.Handle("/iframe", s.withUser(s.handleIframe))
	s.mux.Handle("/clear_my_files", s.withUser(s.handleClearFiles))
	s.mux.Handle("/clear_chat_history", s.withUser(s.handleClearHistory))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokens.VerifyToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, userID)
	})
}

type loginRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "userId and password are required")
		return
	}
	if s.loginLimiter != nil && !s.loginLimiter.Allow(req.UserID) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	res, msg, ok := s.app.Login(r.Context(), req.UserID, req.DisplayName, req.Password)
	if !ok {
		writeError(w, http.StatusUnauthorized, msg)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()
	contentType := header.Header.Get("Content-Type")
	serverName, fileID, err := s.app.Upload(r.Context(), userID, header.Filename, file, header.Size, contentType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filename": serverName, "fileId": fileID})
}

type embedRequest struct {
	Filename string `json:"filename"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req embedRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	job, err := s.app.EnqueueEmbed(r.Context(), userID, req.Filename)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "embedding failed")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleEmbedStatus(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.app.Queue == nil {
		writeError(w, http.StatusNotFound, "background embedding is not enabled")
		return
	}
	jobID := r.URL.Query().Get("jobId")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "jobId is required")
		return
	}
	job, ok, err := s.app.Queue.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load job")
		return
	}
	if !ok || job.OwnerID != userID {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUploads(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": s.app.ListUploads(userID)})
}

type ragRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleRag(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req ragRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	em := stream.NewEmitter(w)
	if err := s.app.Ask(r.Context(), em, userID, req.Question); err != nil {
		// headers are gone; nothing more we can send
		return
	}
}

func (s *Server) handleIframe(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	rc, err := s.app.Preview(r.Context(), userID, filename)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not open file")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", contentTypeFor(filename))
	w.Header().Set("Content-Disposition", "inline")
	// this response is meant to be framed; relax the blanket DENY
	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	_, _ = io.Copy(w, rc)
}

func (s *Server) handleClearFiles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	files, vectors, err := s.app.ClearUserFiles(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear files")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"filesRemoved": files, "vectorsRemoved": vectors})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := s.app.ClearChatHistory(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "could not clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func contentTypeFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(filename, ".html"), strings.HasSuffix(filename, ".htm"):
		return "text/html; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
