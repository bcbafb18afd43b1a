package devserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"medivault/internal/ratelimit"
	"medivault/internal/util"
	"medivault/pkg/auth"
	"medivault/pkg/domain"
	"medivault/pkg/storage"
)

// DefaultExtensions are the upload kinds the backend accepts.
var DefaultExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".txt"}

const (
	msgInvalidCredentials = "Incorrect username or password"
	msgUnauthorized       = "Could not validate credentials"
	msgUsernameTaken      = "Username already registered"
	msgDocumentNotFound   = "Document not found"
	msgInvalidFileType    = "Invalid file type"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Store             Store
	Files             storage.ObjectStore
	Tokens            *TokenIssuer
	Answerer          *Answerer
	LoginLimiter      *ratelimit.FixedWindowLimiter
	MaxUploadBytes    int64
	AllowedExtensions []string
	// CORSOrigins empty allows any origin.
	CORSOrigins []string
}

// Server serves the MediVault backend contract.
type Server struct {
	store             Store
	files             storage.ObjectStore
	tokens            *TokenIssuer
	answerer          *Answerer
	loginLimiter      *ratelimit.FixedWindowLimiter
	mux               *http.ServeMux
	maxUploadBytes    int64
	allowedExtensions map[string]struct{}
	corsOrigins       []string
}

// New constructs the server with routes configured. LoginLimiter is optional.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Files == nil {
		return nil, errors.New("file store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token issuer is required")
	}
	answerer := cfg.Answerer
	if answerer == nil {
		answerer = NewAnswerer(nil)
	}
	s := &Server{
		store:             cfg.Store,
		files:             cfg.Files,
		tokens:            cfg.Tokens,
		answerer:          answerer,
		loginLimiter:      cfg.LoginLimiter,
		mux:               http.NewServeMux(),
		maxUploadBytes:    normalizeMaxBytes(cfg.MaxUploadBytes),
		allowedExtensions: normalizeExtensions(cfg.AllowedExtensions),
		corsOrigins:       cfg.CORSOrigins,
	}
	s.routes()
	return s, nil
}

// Router returns the handler with middleware applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("devserver", util.WithSecurityHeaders(util.WithCORS(s.corsOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/auth/register", s.handleRegister)
	s.mux.HandleFunc("/auth/login", s.handleLogin)
	s.mux.Handle("/auth/me", s.authenticated(s.handleMe))

	s.mux.Handle("/documents/", s.authenticated(s.handleDocuments))
	s.mux.Handle("/documents/upload", s.authenticated(s.handleUpload))

	s.mux.Handle("/chat/", s.authenticated(s.handleChat))
	s.mux.Handle("/chat", s.authenticated(s.handleChat))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, msgUnauthorized)
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "devserver.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	username, err := s.tokens.Verify(token)
	if err != nil {
		s.audit(r, "devserver.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	user, found, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil || !found {
		s.audit(r, "devserver.token.verify", "fail", "reason", "unknown_subject")
		return domain.User{}, false
	}
	return user, true
}

type registerRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	FullName     string `json:"full_name"`
	ProviderInfo string `json:"provider_info"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		s.audit(r, "devserver.register", "fail", "reason", "invalid_json")
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			writeError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
			return
		}
		writeError(w, http.StatusInternalServerError, "Could not create account")
		return
	}
	user, err := s.store.CreateUser(r.Context(), domain.User{
		Username:     req.Username,
		FullName:     strings.TrimSpace(req.FullName),
		ProviderInfo: strings.TrimSpace(req.ProviderInfo),
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			s.audit(r, "devserver.register", "fail", "reason", "username_taken")
			writeError(w, http.StatusBadRequest, msgUsernameTaken)
			return
		}
		slog.Error("create user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not create account")
		return
	}
	s.audit(r, "devserver.register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, profileOf(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid form body")
		return
	}
	username := strings.TrimSpace(r.PostForm.Get("username"))
	password := r.PostForm.Get("password")
	if !s.allowLogin(w, r, username) {
		s.audit(r, "devserver.login", "rate_limited")
		return
	}
	user, found, err := s.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		slog.Error("lookup user failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	if !found || !auth.CheckPassword(password, user.PasswordHash) {
		s.audit(r, "devserver.login", "fail", "reason", "invalid_credentials")
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		slog.Error("issue token failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Login failed")
		return
	}
	s.audit(r, "devserver.login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, profileOf(user))
}

// handleDocuments serves GET /documents/ and DELETE /documents/{id}.
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/documents/"), "/")
	if rest == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleListDocuments(w, r, user)
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusNotFound, msgDocumentNotFound)
		return
	}
	s.handleDeleteDocument(w, r, user, id)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	stored, err := s.store.ListDocuments(r.Context(), user.ID)
	if err != nil {
		slog.Error("list documents failed", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Could not list documents")
		return
	}
	docs := make([]domain.Document, 0, len(stored))
	for _, doc := range stored {
		docs = append(docs, doc.Document)
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, user domain.User, id int64) {
	doc, found, err := s.store.GetDocument(r.Context(), user.ID, id)
	if err != nil {
		slog.Error("get document failed", "document_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Could not delete document")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, msgDocumentNotFound)
		return
	}
	if err := s.store.DeleteDocument(r.Context(), user.ID, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, msgDocumentNotFound)
			return
		}
		slog.Error("delete document failed", "document_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Could not delete document")
		return
	}
	if err := s.files.Delete(r.Context(), doc.StorageKey); err != nil {
		slog.Warn("delete stored file failed", "document_id", id, "key", doc.StorageKey, "err", err)
	}
	s.audit(r, "devserver.document.delete", "success", "user_id", user.ID, "document_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted"})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "Invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Missing file field")
		return
	}
	defer file.Close()

	filename := filepath.Base(strings.TrimSpace(header.Filename))
	if !s.isExtensionAllowed(filename) {
		s.audit(r, "devserver.document.upload", "fail", "reason", "invalid_file_type")
		writeError(w, http.StatusBadRequest, msgInvalidFileType)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read file")
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	contentType := mimetype.Detect(data).String()
	key := fmt.Sprintf("users/%d/%s%s", user.ID, util.NewID(), strings.ToLower(filepath.Ext(filename)))
	if err := s.files.Put(r.Context(), key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		slog.Error("store file failed", "key", key, "err", err)
		writeError(w, http.StatusInternalServerError, "Could not store file")
		return
	}
	text, err := extractText(filename, data)
	if err != nil {
		slog.Warn("text extraction failed", "filename", filename, "err", err)
		text = ""
	}

	doc, err := s.store.CreateDocument(r.Context(), domain.StoredDocument{
		Document: domain.Document{
			Filename:     filename,
			UploadedAt:   domain.Timestamp{Time: time.Now().UTC()},
			Category:     strings.TrimSpace(r.FormValue("category")),
			Description:  strings.TrimSpace(r.FormValue("description")),
			MetadataInfo: strings.TrimSpace(r.FormValue("metadata_info")),
		},
		OwnerID:     user.ID,
		StorageKey:  key,
		ContentType: contentType,
		Text:        text,
	})
	if err != nil {
		if delErr := s.files.Delete(r.Context(), key); delErr != nil {
			slog.Warn("cleanup stored file failed", "key", key, "err", delErr)
		}
		slog.Error("create document failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Could not save document")
		return
	}
	s.audit(r, "devserver.document.upload", "success", "user_id", user.ID, "document_id", doc.ID, "extracted_chars", len(text))
	writeJSON(w, http.StatusOK, doc.Document)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	docs, err := s.store.ListDocuments(r.Context(), user.ID)
	if err != nil {
		slog.Error("list documents failed", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Could not load documents")
		return
	}
	reply, err := s.answerer.Answer(r.Context(), req.Message, docs)
	if err != nil {
		slog.Error("answer failed", "user_id", user.ID, "err", err)
		writeError(w, http.StatusBadGateway, "Failed to generate a response")
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

// allowLogin applies the optional per-username login budget.
func (s *Server) allowLogin(w http.ResponseWriter, r *http.Request, username string) bool {
	if s.loginLimiter == nil {
		return true
	}
	decision, err := s.loginLimiter.Allow(r.Context(), "login|"+username)
	if err != nil {
		slog.Warn("login rate limit unavailable", "err", err)
	}
	if decision.Allowed {
		return true
	}
	retry := int(decision.RetryAfter.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, http.StatusTooManyRequests, "Too many login attempts")
	return false
}

func (s *Server) isExtensionAllowed(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	_, ok := s.allowedExtensions[ext]
	return ok
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func profileOf(user domain.User) domain.Profile {
	return domain.Profile{
		ID:           user.ID,
		Username:     user.Username,
		FullName:     user.FullName,
		ProviderInfo: user.ProviderInfo,
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func normalizeMaxBytes(value int64) int64 {
	if value <= 0 {
		return 20 * 1024 * 1024
	}
	return value
}

func normalizeExtensions(exts []string) map[string]struct{} {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	out := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out[ext] = struct{}{}
	}
	return out
}
