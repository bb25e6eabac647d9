package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ippclub/dora-registry/internal/auth"
	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/gate"
	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/resolver"
	"github.com/ippclub/dora-registry/internal/rewrite"
	"github.com/ippclub/dora-registry/internal/service"
	"github.com/ippclub/dora-registry/internal/store"
	"github.com/ippclub/dora-registry/internal/version"
	"go.uber.org/zap"
)

// scopeParam matches the scope segment of an unescaped scoped name.
// Escaped names ("@scope%2fname") fall through to the single-segment routes.
const scopeParam = "{scope:@[A-Za-z0-9._~-]+}"

var errBadName = errors.New("invalid package name")

// API handles HTTP requests
type API struct {
	cfg         *config.Config
	logger      *zap.Logger
	store       *store.SQLiteStore
	auth        *auth.Auth
	resolver    *resolver.Resolver
	gate        *gate.Gate
	syncService *service.SyncService
	rateLimiter *RateLimiter
	lastSync    atomic.Pointer[model.DBSyncRun]
}

// NewAPI creates a new API instance
func NewAPI(cfg *config.Config, logger *zap.Logger, st *store.SQLiteStore, syncService *service.SyncService) (*API, error) {
	access := auth.New(cfg.Auth, logger)

	api := &API{
		cfg:         cfg,
		logger:      logger,
		store:       st,
		auth:        access,
		resolver:    resolver.New(st, rewrite.Rewriter{}, logger),
		gate:        gate.New(st, access, logger),
		syncService: syncService,
		rateLimiter: NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}

	run, err := st.LatestSyncRun(context.Background())
	if err != nil {
		return nil, err
	}
	api.lastSync.Store(run)

	syncService.SetOnSyncCallback(func(run *model.DBSyncRun) {
		api.lastSync.Store(run)
		logger.Debug("sync status updated", zap.Int64("generation", run.Generation))
	})

	return api, nil
}

// Close closes the API and its resources
func (a *API) Close() error {
	a.rateLimiter.Close()
	return nil
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Admin routes (localhost only). Registered outside RealIP so that
	// forwarded headers cannot pass for a local client.
	r.Route("/admin", func(r chi.Router) {
		r.Use(LocalOnly)
		r.Post("/sync", a.triggerSync)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP)
		r.Use(a.rateLimiter.RateLimit)
		r.Use(a.auth.Middleware)
		r.Use(SecureHeaders)

		r.Get("/-/ping", a.ping)
		r.Get("/-/whoami", a.whoami)
		r.Get("/-/v1/packages", a.listPackages)
		r.Get("/-/v1/sync", a.getSyncStatus)

		r.Route(rewrite.CeilingPath+"{latest}", a.packageRoutes)
		a.packageRoutes(r)
	})
}

// packageRoutes registers metadata and tarball routes for both spellings
// of scoped names
func (a *API) packageRoutes(r chi.Router) {
	r.Get("/{package}", a.getPackage)
	r.Get("/{package}/{version}", a.getPackage)
	r.With(TarballOnly).Get("/{package}/-/{filename}", a.getTarball)

	r.Get("/"+scopeParam+"/{name}", a.getPackage)
	r.Get("/"+scopeParam+"/{name}/{version}", a.getPackage)
	r.With(TarballOnly).Get("/"+scopeParam+"/{name}/-/{filename}", a.getTarball)
}

func (a *API) ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct{}{})
}

func (a *API) whoami(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if !user.Authenticated() {
		a.reportError(w, r, auth.ErrUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"username": user.Name})
}

// getPackage returns the package document, or one version record when the
// route carries a version or dist-tag
func (a *API) getPackage(w http.ResponseWriter, r *http.Request) {
	name, err := packageName(r)
	if err != nil {
		a.reportError(w, r, err)
		return
	}
	ceiling, err := ceilingFromRequest(r)
	if err != nil {
		a.reportError(w, r, err)
		return
	}
	if err := a.auth.Allow(auth.UserFromContext(r.Context()), name); err != nil {
		a.reportError(w, r, err)
		return
	}

	raw := ""
	if ceiling != nil {
		raw = ceiling.String()
	}
	opts := []resolver.Option{
		resolver.WithCeiling(ceiling),
		resolver.WithTarballBase(rewrite.BaseURL(r, a.cfg.Server.URLPrefix, raw)),
	}
	v, err := pathParam(r, "version")
	if err != nil {
		a.reportError(w, r, errBadName)
		return
	}
	if v != "" {
		opts = append(opts, resolver.WithVersion(v))
	}

	res, err := a.resolver.Resolve(r.Context(), name, opts...)
	if err != nil {
		a.reportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res.Document())
}

// getTarball streams a tarball, subject to the version ceiling
func (a *API) getTarball(w http.ResponseWriter, r *http.Request) {
	name, err := packageName(r)
	if err != nil {
		a.reportError(w, r, err)
		return
	}
	ceiling, err := ceilingFromRequest(r)
	if err != nil {
		a.reportError(w, r, err)
		return
	}
	filename, err := pathParam(r, "filename")
	if err != nil {
		a.reportError(w, r, errBadName)
		return
	}
	user := auth.UserFromContext(r.Context())
	if err := a.auth.Allow(user, name); err != nil {
		a.reportError(w, r, err)
		return
	}

	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	err = a.gate.Serve(r.Context(), gate.Request{
		Package:  name,
		Filename: filename,
		Ceiling:  ceiling,
		User:     user,
	}, ww)
	if err != nil {
		a.reportError(ww, r, err)
	}
}

// listPackages returns the index entries the caller may read
func (a *API) listPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := a.store.ListPackages(r.Context())
	if err != nil {
		a.reportError(w, r, err)
		return
	}

	type entry struct {
		Name      string `json:"name"`
		Latest    string `json:"latest,omitempty"`
		Versions  int    `json:"versions"`
		UpdatedAt int64  `json:"updatedAt"`
	}
	user := auth.UserFromContext(r.Context())
	out := make([]entry, 0, len(pkgs))
	for _, p := range pkgs {
		if a.auth.Allow(user, p.Name) != nil {
			continue
		}
		out = append(out, entry{
			Name:      p.Name,
			Latest:    p.Latest,
			Versions:  p.Versions,
			UpdatedAt: p.UpdatedAt.Unix(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// getSyncStatus returns the generation of the last completed import
func (a *API) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Generation int64  `json:"generation"`
		Commit     string `json:"commit,omitempty"`
		UpdatedAt  int64  `json:"updatedAt,omitempty"`
	}{}
	if run := a.lastSync.Load(); run != nil {
		resp.Generation = run.Generation
		resp.Commit = run.CommitHash
		resp.UpdatedAt = run.FinishedAt.Unix()
	}
	writeJSON(w, http.StatusOK, resp)
}

// triggerSync triggers a manual import of the package storage directory
func (a *API) triggerSync(w http.ResponseWriter, r *http.Request) {
	a.logger.Info("manual sync triggered")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := a.syncService.SyncAll(ctx); err != nil {
			a.logger.Error("manual sync failed", zap.Error(err))
		} else {
			a.logger.Info("manual sync completed successfully")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "sync started",
		"message": "Package storage synchronization has been triggered",
	})
}

// reportError writes err as a JSON error response. If the response is
// already under way the connection is aborted instead, so the client sees
// a truncated download rather than a corrupted one.
func (a *API) reportError(w http.ResponseWriter, r *http.Request, err error) {
	if ww, ok := w.(middleware.WrapResponseWriter); ok && ww.Status() != 0 {
		a.logger.Error("request failed after response started",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Int("written", ww.BytesWritten()),
			zap.Error(err),
		)
		panic(http.ErrAbortHandler)
	}

	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
	}

	w.Header().Del("Content-Length")
	w.Header().Del("Content-Disposition")
	writeError(w, status, msg)
}

func statusFor(err error) int {
	var (
		notFound  *resolver.NotFoundError
		forbidden *gate.ForbiddenError
		invalid   *version.InvalidVersionError
	)
	switch {
	case errors.As(err, &notFound),
		errors.Is(err, store.ErrPackageNotFound),
		errors.Is(err, store.ErrTarballNotFound):
		return http.StatusNotFound
	case errors.As(err, &forbidden), errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &invalid),
		errors.Is(err, store.ErrInvalidPath),
		errors.Is(err, errBadName):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// pathParam returns the decoded route parameter key. chi matches on
// r.URL.RawPath when it is set, and only then are parameters still escaped.
func pathParam(r *http.Request, key string) (string, error) {
	v := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return v, nil
	}
	return url.PathUnescape(v)
}

// packageName reads the package name from either route shape and decodes
// "@scope%2fname".
func packageName(r *http.Request) (string, error) {
	if scope := chi.URLParam(r, "scope"); scope != "" {
		name, err := pathParam(r, "name")
		if err != nil || name == "" {
			return "", errBadName
		}
		return scope + "/" + name, nil
	}
	name, err := pathParam(r, "package")
	if err != nil || name == "" {
		return "", errBadName
	}
	return name, nil
}

// ceilingFromRequest reads the ceiling from the route, falling back to the
// "latest" query parameter. A request without one has a nil ceiling.
func ceilingFromRequest(r *http.Request) (*version.Ceiling, error) {
	raw, err := pathParam(r, "latest")
	if err != nil {
		return nil, &version.InvalidVersionError{Value: raw, Err: err}
	}
	if raw == "" {
		raw = r.URL.Query().Get("latest")
	}
	if raw == "" {
		return nil, nil
	}
	return version.ParseCeiling(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
