package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"wolkeposter/internal/app"
	"wolkeposter/internal/ratelimit"
	"wolkeposter/internal/util"
	"wolkeposter/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	LoginLimiter   *ratelimit.FixedWindowLimiter
	ImportLimiter  *ratelimit.FixedWindowLimiter
	MaxUploadBytes int64
}

// Server exposes the poster API over HTTP.
type Server struct {
	app            *app.App
	loginLimiter   *ratelimit.FixedWindowLimiter
	importLimiter  *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:            cfg.App,
		loginLimiter:   cfg.LoginLimiter,
		importLimiter:  cfg.ImportLimiter,
		maxUploadBytes: cfg.MaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with middleware applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.mux
	h = util.WithRequestLog(h)
	h = util.WithSecurityHeaders(h)
	h = util.WithCORS(h)
	h = util.WithRequestID(h)
	return h
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// auth
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.HandleFunc("/api/auth/logout", s.handleLogout)
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	// catalog
	s.mux.Handle("/api/products", s.authenticated(s.handleProducts))
	s.mux.Handle("/api/products/import", s.authenticated(s.handleImportProducts))

	// backgrounds
	s.mux.Handle("/api/backgrounds", s.authenticated(s.handleBackgrounds))
	s.mux.Handle("/api/backgrounds/generate", s.authenticated(s.handleGenerateBackground))
	s.mux.Handle("/api/backgrounds/upload", s.authenticated(s.handleUploadBackground))
	s.mux.Handle("/api/backgrounds/", s.authenticated(s.handleBackgroundByID))

	// posters
	s.mux.Handle("/api/posters", s.authenticated(s.handlePosters))
	s.mux.Handle("/api/posters/", s.authenticated(s.handlePosterByID))

	// assets
	s.mux.Handle("/api/assets/", s.authenticated(s.handleAssetURL))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	user, ok, err := s.app.Me(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	return user, true
}

// auth handlers
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts, try again later") {
		return
	}
	var req loginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := s.app.Login(req.Username, req.Password, req.TOTPCode)
	if err != nil {
		s.audit(r, "login", "failure", "username", req.Username)
		if errors.Is(err, app.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: token, TokenType: "Bearer", User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Logout(token); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.audit(r, "logout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// catalog handlers
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	products, err := s.app.ListProducts(user)
	if err != nil {
		s.internalError(w, r, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleImportProducts(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.importLimiter, "too many imports, try again later") {
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	result, err := s.app.ImportProducts(user, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.audit(r, "product_import", "success", "user_id", user.ID, "succeeded", result.Succeeded, "failed", result.Failed)
	writeJSON(w, http.StatusOK, result)
}

// background handlers
func (s *Server) handleBackgrounds(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	backgrounds, err := s.app.ListBackgrounds(user)
	if err != nil {
		s.internalError(w, r, "list backgrounds", err)
		return
	}
	writeJSON(w, http.StatusOK, backgrounds)
}

func (s *Server) handleGenerateBackground(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateBackgroundRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	bg, err := s.app.GenerateBackground(r.Context(), user, req.ThemeText)
	if err != nil {
		if errors.Is(err, app.ErrThemeTextTooShort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "generate background", err)
		return
	}
	writeJSON(w, http.StatusAccepted, bg)
}

func (s *Server) handleUploadBackground(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	bg, err := s.app.UploadBackground(r.Context(), user, header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bg)
}

func (s *Server) handleBackgroundByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := strings.TrimPrefix(r.URL.Path, "/api/backgrounds/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	bg, err := s.app.GetBackground(user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bg)
}

// poster handlers
func (s *Server) handlePosters(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		posters, err := s.app.ListPosters(user)
		if err != nil {
			s.internalError(w, r, "list posters", err)
			return
		}
		writeJSON(w, http.StatusOK, posters)
	case http.MethodPost:
		s.handleCreatePoster(w, r, user)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleCreatePoster(w http.ResponseWriter, r *http.Request, user domain.User) {
	if s.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	in := app.CreatePosterInput{
		TemplateKey:  r.FormValue("template_key"),
		SaleTitle:    r.FormValue("sale_title"),
		ThemeText:    r.FormValue("theme_text"),
		Disclaimer:   r.FormValue("disclaimer"),
		Dates:        r.FormValue("dates"),
		BackgroundID: r.FormValue("background_id"),
	}
	tmpl, ok := domain.Templates[in.TemplateKey]
	if !ok {
		writeError(w, http.StatusBadRequest, app.ErrUnknownTemplate.Error())
		return
	}
	var closers []multipart.File
	defer func() {
		for _, f := range closers {
			f.Close()
		}
	}()
	if file, header, err := r.FormFile("store_logo"); err == nil {
		closers = append(closers, file)
		in.LogoFilename = header.Filename
		in.LogoReader = file
		in.LogoSize = header.Size
	}
	for i := 0; i < tmpl.MaxProducts; i++ {
		idx := strconv.Itoa(i)
		price, _ := strconv.ParseFloat(strings.ReplaceAll(r.FormValue("sale_price_"+idx), ",", "."), 64)
		slot := app.PosterProductInput{
			ArticleNr: r.FormValue("artikel_nr_" + idx),
			Price:     price,
		}
		file, header, err := r.FormFile("product_image_" + idx)
		if err == nil {
			closers = append(closers, file)
			slot.ImageFilename = header.Filename
			slot.ImageReader = file
			slot.ImageSize = header.Size
		}
		in.Products = append(in.Products, slot)
	}
	poster, err := s.app.CreatePoster(r.Context(), user, in)
	if err != nil {
		writeAppError(w, err)
		return
	}
	s.audit(r, "poster_create", "success", "user_id", user.ID, "poster_id", poster.ID)
	writeJSON(w, http.StatusCreated, poster)
}

func (s *Server) handlePosterByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/posters/")
	parts := strings.SplitN(path, "/", 2)
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 2 && parts[1] == "export" {
		s.handleExportPoster(w, r, user, id)
		return
	}
	if len(parts) == 2 && parts[1] == "generate" {
		s.handleGeneratePosterBackground(w, r, user, id)
		return
	}
	if len(parts) == 2 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		poster, err := s.app.GetPoster(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, poster)
	case http.MethodPatch:
		var req updatePosterRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		poster, err := s.app.UpdatePoster(user, id, app.UpdatePosterInput{
			SaleTitle:    req.SaleTitle,
			ThemeText:    req.ThemeText,
			Disclaimer:   req.Disclaimer,
			Dates:        req.Dates,
			StoreLogoURL: req.StoreLogoURL,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, poster)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleGeneratePosterBackground(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req generateBackgroundRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	bg, err := s.app.GeneratePosterBackground(r.Context(), user, id, req.ThemeText)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, bg)
}

func (s *Server) handleExportPoster(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req exportPosterRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	asset, err := s.app.ExportPoster(r.Context(), user, id, req.Format)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, asset)
}

// asset handlers
func (s *Server) handleAssetURL(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/assets/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] != "url" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	url, err := s.app.ResolveAssetURL(r.Context(), user, parts[0])
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r),
		"request_id", util.RequestIDFromRequest(r),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	util.LoggerFromContext(r.Context()).Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeAppError maps application errors onto HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrBackgroundNotFound),
		errors.Is(err, app.ErrPosterNotFound),
		errors.Is(err, app.ErrAssetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrThemeTextTooShort),
		errors.Is(err, app.ErrBackgroundNotReady),
		errors.Is(err, app.ErrUnknownTemplate),
		errors.Is(err, app.ErrUnknownExportFormat),
		errors.Is(err, app.ErrSaleTitleRequired),
		errors.Is(err, app.ErrProductCountInvalid),
		errors.Is(err, app.ErrArticleNrRequired),
		errors.Is(err, app.ErrProductImageMissing),
		errors.Is(err, app.ErrFileRequired),
		errors.Is(err, app.ErrUnsupportedFileType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTPCode string `json:"totp_code"`
}

type loginResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	User        domain.User `json:"user"`
}

type generateBackgroundRequest struct {
	ThemeText string `json:"theme_text"`
}

type exportPosterRequest struct {
	Format     string `json:"format"`
	Resolution string `json:"resolution"`
}

type updatePosterRequest struct {
	SaleTitle    *string `json:"saleTitle"`
	ThemeText    *string `json:"themeText"`
	Disclaimer   *string `json:"disclaimer"`
	Dates        *string `json:"dates"`
	StoreLogoURL *string `json:"storeLogoUrl"`
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError uses a {"message": ...} envelope, which the browser client
// and the Go client both key on.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
