package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/sso"
)

// maxFormBytes bounds login forms and SAML responses
const maxFormBytes = 1 << 20

// Config carries the collaborators of a Server
type Config struct {
	Service      *auth.Service
	Audit        *auth.AuditLogger
	Sessions     middleware.SessionLookup
	Cookie       session.CookieConfig
	LoginLimiter middleware.Limiter // nil disables sign-in throttling
	RelativeRoot string
	Logger       *observability.Logger
	Metrics      *observability.Metrics

	// TrustedProxies may set the client address through X-Forwarded-For;
	// empty means the connection's remote address keys throttling.
	TrustedProxies httputil.TrustedProxies
}

// Server binds the authentication service to HTTP
type Server struct {
	service  *auth.Service
	audit    *auth.AuditLogger
	sessions *middleware.SessionMiddleware
	cookie   session.CookieConfig
	limiter  middleware.Limiter
	root     string
	logger   *observability.Logger
	metrics  *observability.Metrics
	router   *mux.Router
	handler  http.Handler
}

// NewServer creates the HTTP server and its routes
func NewServer(cfg Config) *Server {
	root := strings.TrimRight(cfg.RelativeRoot, "/")
	cookie := cfg.Cookie
	if cookie.Path == "" {
		cookie.Path = root + "/"
	}

	s := &Server{
		service:  cfg.Service,
		audit:    cfg.Audit,
		sessions: middleware.NewSessionMiddleware(cfg.Sessions, cookie, cfg.Logger),
		cookie:   cookie,
		limiter:  cfg.LoginLimiter,
		root:     root,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		router:   mux.NewRouter(),
	}

	s.setupRoutes()

	s.handler = httputil.Chain(
		observability.RecoveryMiddleware(s.logger),
		httputil.ClientIPMiddleware(cfg.TrustedProxies),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.MaxBytesMiddleware(maxFormBytes),
	)(s.router)

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Router returns the route table, for mounting extra handlers in tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics, routeTemplate))
	}
	s.router.Use(s.sessions.Handler)

	// Fixed callback paths first: the LDAP callback sits outside the relative
	// root outside production.
	registry := s.service.Providers()
	for _, name := range registry.Enabled() {
		adapter, _ := registry.Adapter(name)
		if path := adapter.CallbackPath(); path != "" {
			s.router.Handle(path, s.callbackFor(name)).Methods(http.MethodGet, http.MethodPost)
		}
	}

	r := s.router
	if s.root != "" {
		r = s.router.PathPrefix(s.root).Subrouter()
	}

	login := http.Handler(http.HandlerFunc(s.login))
	if s.limiter != nil {
		login = middleware.Throttle(s.limiter, s.logger, nil)(login)
	}
	r.Handle("/users/login", login).Methods(http.MethodPost)
	r.HandleFunc("/users/logout", s.logout).Methods(http.MethodGet, http.MethodPost)

	r.HandleFunc("/auth/providers", s.listProviders).Methods(http.MethodGet)
	r.Handle("/auth/session", middleware.RequireSession(http.HandlerFunc(s.currentSession))).Methods(http.MethodGet)
	r.HandleFunc("/auth/failure", s.failure).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/auth/saml/metadata", s.samlMetadata).Methods(http.MethodGet)

	r.HandleFunc("/auth/{provider}/callback", s.callback).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/auth/{provider}", s.beginAuth).Methods(http.MethodGet, http.MethodPost)
}

// routeTemplate labels metrics with the matched route template
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// metadataProvider is implemented by adapters that publish SP metadata
type metadataProvider interface {
	Metadata() ([]byte, error)
}

var _ metadataProvider = (*sso.SAMLAdapter)(nil)
