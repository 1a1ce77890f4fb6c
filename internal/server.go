package internal

import (
	"embed"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"onlineauth/internal/auth"
	"onlineauth/internal/logging"
	"onlineauth/internal/session"
)

const (
	authRateLimit  = 20
	authRateWindow = time.Minute
)

//go:embed static pages
var assets embed.FS

// ServerDeps are the collaborators a Server is built from.
type ServerDeps struct {
	Auth       *auth.Service
	Google     *auth.GoogleProvider
	Verifier   *auth.IDTokenVerifier
	Sessions   *session.Manager
	Hub        *Hub
	Metrics    *Metrics
	Logger     logging.Logger
	Production bool
}

// Server serves the auth API, the OAuth flow, the protected page and the
// presence channel.
type Server struct {
	auth        *auth.Service
	google      *auth.GoogleProvider
	verifier    *auth.IDTokenVerifier
	sessions    *session.Manager
	hub         *Hub
	metrics     *Metrics
	authLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      logging.Logger
	production  bool
}

func NewServer(deps ServerDeps) (*Server, error) {
	if deps.Auth == nil || deps.Sessions == nil {
		return nil, errors.New("auth service and session manager are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	hub := deps.Hub
	if hub == nil {
		hub = NewHub(metrics, logger)
	}
	google := deps.Google
	if google == nil {
		google = auth.NewGoogleProvider(auth.GoogleConfig{})
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = auth.NewIDTokenVerifier("", "", nil)
	}
	return &Server{
		auth:        deps.Auth,
		google:      google,
		verifier:    verifier,
		sessions:    deps.Sessions,
		hub:         hub,
		metrics:     metrics,
		authLimiter: NewRateLimiter(authRateLimit, authRateWindow),
		upgrader:    newUpgrader(deps.Production),
		logger:      logger,
		production:  deps.Production,
	}, nil
}

// Hub returns the presence hub. Its Run loop must be started by the caller.
func (s *Server) Hub() *Hub {
	return s.hub
}

// MetricsHandler exposes counters as JSON.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics
}

// PruneLimiter drops idle rate-limit buckets.
func (s *Server) PruneLimiter() int {
	return s.authLimiter.Prune()
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.production {
		r.Use(chimw.RealIP)
	}
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	limited := s.authLimiter.Middleware(s.clientIP, s.rateLimited)
	r.Route("/api", func(r chi.Router) {
		r.With(limited).Post("/register", s.HandleRegister)
		r.With(limited).Post("/login", s.HandleLogin)
		r.Get("/logout", s.HandleLogout)
		r.Get("/user", s.HandleUser)
		r.With(limited).Post("/verify-token", s.HandleVerifyToken)
	})
	r.Get("/auth/google", s.HandleGoogleStart)
	r.Get("/auth/google/callback", s.HandleGoogleCallback)
	r.With(s.sessions.RequireAuth("/")).Get("/protected", s.HandleProtected)
	r.Get("/ws", s.ServeWS)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	if !s.production {
		r.Get("/debug/routes", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"routes": listRoutes(r)})
		})
	}

	static, _ := fs.Sub(assets, "static")
	r.Handle("/*", http.FileServerFS(static))
	return r
}

func (s *Server) HandleProtected(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFileFS(w, r, assets, "pages/protected.html")
}

type routeInfo struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

func listRoutes(router chi.Routes) []routeInfo {
	var routes []routeInfo
	index := make(map[string]int)
	_ = chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		if i, ok := index[route]; ok {
			routes[i].Methods = append(routes[i].Methods, method)
			return nil
		}
		index[route] = len(routes)
		routes = append(routes, routeInfo{Path: route, Methods: []string{method}})
		return nil
	})
	return routes
}

// requestLogger logs one line per request once the response is written.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncRateLimited()
	s.logger.Warn(r.Context(), "auth rate limit hit", "ip", s.clientIP(r))
	writeMessage(w, http.StatusTooManyRequests, "Too many requests")
}
