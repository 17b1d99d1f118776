package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"

	"github.com/oidcdemo/provider/provider"
)

const sessionCookieName = "session_id"

// Server wires the authorization flow to its HTTP routes.
type Server struct {
	flow          *provider.Flow
	keys          *provider.KeyMaterial
	issuer        string
	login         string
	consent       string
	secureCookies bool
	logger        hclog.Logger
}

// New creates a Server. The config must already be validated and defaulted.
func New(cfg *Config, flow *provider.Flow, keys *provider.KeyMaterial, logger hclog.Logger) (*Server, error) {
	const op = "server.New"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, provider.ErrNilParameter)
	case flow == nil:
		return nil, fmt.Errorf("%s: flow is nil: %w", op, provider.ErrNilParameter)
	case keys == nil:
		return nil, fmt.Errorf("%s: key material is nil: %w", op, provider.ErrNilParameter)
	}
	if logger == nil {
		logger = hclog.Default()
	}
	return &Server{
		flow:          flow,
		keys:          keys,
		issuer:        cfg.Issuer,
		login:         cfg.LoginURL,
		consent:       cfg.ConsentURL,
		secureCookies: cfg.SecureCookies,
		logger:        logger,
	}, nil
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/.well-known/openid-configuration", s.handleDiscovery)
	r.Get("/.well-known/jwks.json", s.handleJWKS)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Route("/auth", func(r chi.Router) {
			r.Get("/authorize", s.handleAuthorize)
			r.Post("/authorize", s.handleConsent)
			r.Post("/token", s.handleToken)
			r.Get("/userinfo", s.handleUserInfo)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) sessionID(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(provider.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
