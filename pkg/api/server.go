// Package api exposes the catalog over HTTP: session and federated
// login, the category/subcategory/item hierarchy, image uploads, and the
// operational endpoints.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/catalogkit/catalogd/pkg/auth"
	"github.com/catalogkit/catalogd/pkg/httputil"
	"github.com/catalogkit/catalogd/pkg/middleware"
	"github.com/catalogkit/catalogd/pkg/observability"
	"github.com/catalogkit/catalogd/pkg/session"
	"github.com/catalogkit/catalogd/pkg/sso"
	"github.com/catalogkit/catalogd/pkg/store"
	"github.com/catalogkit/catalogd/pkg/uploads"
)

// Server represents the catalog API server.
type Server struct {
	router        *mux.Router
	store         *store.Store
	sessions      *session.Manager
	authenticator *auth.Authenticator
	federator     *sso.Federator
	files         uploads.FileStore
	logger        *observability.Logger
	metrics       *observability.Metrics
	traceEnabled  bool
}

// Options carries the server's collaborators. Federator may be nil when
// no identity provider is configured; the oauth routes then return 404.
type Options struct {
	Store         *store.Store
	Sessions      *session.Manager
	Authenticator *auth.Authenticator
	Federator     *sso.Federator
	Files         uploads.FileStore
	Logger        *observability.Logger
	Metrics       *observability.Metrics
	TraceEnabled  bool
}

// NewServer creates the API server with all routes configured.
func NewServer(opts Options) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		store:         opts.Store,
		sessions:      opts.Sessions,
		authenticator: opts.Authenticator,
		federator:     opts.Federator,
		files:         opts.Files,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		traceEnabled:  opts.TraceEnabled,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}

	loader := middleware.NewSessionLoader(s.sessions, s.logger)
	s.router.Use(loader.Handler)

	guard := middleware.NewResourceGuard(s.store, s.logger)
	requireAuth := middleware.RequireAuth(s.metrics)
	requireAuthForm := middleware.RequireAuthRedirect(s.metrics)
	csrf := middleware.ValidateCSRF(s.sessions, s.logger, s.metrics)

	// Session and login routes.
	s.router.HandleFunc("/", s.home).Methods("GET")
	s.router.HandleFunc("/login", s.loginForm).Methods("GET")
	s.router.Handle("/login", csrf(http.HandlerFunc(s.login))).Methods("POST")
	s.router.Handle("/logout", requireAuthForm(http.HandlerFunc(s.logout))).Methods("GET")
	s.router.HandleFunc("/oauth/connect", s.oauthConnect).Methods("GET")
	s.router.HandleFunc("/oauth/callback", s.oauthCallback).Methods("POST")

	// Catalog routes. Reads are public and go straight to the resource
	// guards; mutations check the session claim and the state token before
	// resolving the resource, so an unauthenticated caller learns nothing
	// about which ids exist.
	inCategory := func(h http.HandlerFunc) http.Handler {
		return guard.RequireCategory(h)
	}
	inSubcategory := func(h http.HandlerFunc) http.Handler {
		return guard.RequireCategory(guard.RequireSubcategory(h))
	}
	onItem := func(h http.HandlerFunc) http.Handler {
		return guard.RequireCategory(guard.RequireItem(h))
	}

	s.router.HandleFunc("/catalog", s.listCatalog).Methods("GET")
	s.router.Handle("/catalog/categories",
		requireAuth(csrf(http.HandlerFunc(s.createCategory)))).Methods("POST")

	cat := s.router.PathPrefix("/catalog/{category}").Subrouter()
	cat.Handle("", inCategory(s.categoryDetail)).Methods("GET")
	cat.Handle("/edit", requireAuth(csrf(inCategory(s.editCategory)))).Methods("POST")
	cat.Handle("/delete", requireAuth(csrf(inCategory(s.deleteCategory)))).Methods("POST")

	cat.Handle("/subcategories",
		requireAuth(csrf(inCategory(s.createSubcategory)))).Methods("POST")
	sub := cat.PathPrefix("/subcategories/{subcategory}").Subrouter()
	sub.Handle("", inSubcategory(s.subcategoryDetail)).Methods("GET")
	sub.Handle("/edit", requireAuth(csrf(inSubcategory(s.editSubcategory)))).Methods("POST")
	sub.Handle("/delete", requireAuth(csrf(inSubcategory(s.deleteSubcategory)))).Methods("POST")

	cat.Handle("/items",
		requireAuth(csrf(inCategory(s.createItem)))).Methods("POST")
	item := cat.PathPrefix("/{item}").Subrouter()
	item.Handle("", onItem(s.itemDetail)).Methods("GET")
	item.Handle("/edit", requireAuth(csrf(onItem(s.editItem)))).Methods("POST")
	item.Handle("/delete", requireAuth(csrf(onItem(s.deleteItem)))).Methods("POST")
	item.Handle("/image", requireAuth(csrf(onItem(s.uploadItemImage)))).Methods("POST")

	// Static image passthrough.
	s.router.HandleFunc("/uploads/{filename}", s.serveUpload).Methods("GET")

	// Operational endpoints.
	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the server wrapped in tracing when enabled.
func (s *Server) Handler() http.Handler {
	if s.traceEnabled {
		return otelhttp.NewHandler(s.router, "catalogd")
	}
	return s.router
}

// healthz handles GET /healthz
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		s.logger.WithError(err).Error("health check failed")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}
