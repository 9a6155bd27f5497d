package receipt

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

// Server exposes a pipeline to the UI layer over a local HTTP API
type Server struct {
	pipeline  *Pipeline
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(pipeline *Pipeline, basicAuth BasicAuth) *Server {
	return NewServerWithMux(pipeline, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(pipeline *Pipeline, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		pipeline:  pipeline,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authorized reports whether the request carries the configured
// credentials. Without configured credentials every request is allowed.
func (s *Server) authorized(r *http.Request) bool {
	if s.basicAuth == (BasicAuth{}) {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// withCORS answers preflight requests and decorates the rest
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// protected rejects requests without valid credentials
func (s *Server) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authorized(r) {
			next(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Lens", charset="UTF-8"`)
		writeError(w, "Unauthorized", http.StatusUnauthorized)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/scan", s.protected(s.handleScan))

	s.mux.HandleFunc("GET /api/status", s.protected(s.handleStatus))
	s.mux.HandleFunc("GET /api/events", s.protected(s.handleEvents))

	s.mux.HandleFunc("GET /api/preferences", s.protected(s.handleGetPreferences))
	s.mux.HandleFunc("PUT /api/preferences", s.protected(s.handleUpdatePreferences))

	s.mux.HandleFunc("POST /api/initialize", s.protected(s.handleInitialize))
	s.mux.HandleFunc("GET /api/models", s.protected(s.handleListModels))
	s.mux.HandleFunc("POST /api/models/preload", s.protected(s.handlePreloadModels))
	s.mux.HandleFunc("DELETE /api/models/{language}", s.protected(s.handleDeleteModel))
	s.mux.HandleFunc("POST /api/terminate", s.protected(s.handleTerminate))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, withCORS(s.mux))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	withCORS(s.mux).ServeHTTP(w, r)
}
