// Package web exposes the daemon's HTTP surface: the API the chat-platform
// plugin host calls (bind handshake, schedule queries, rendered PNGs) and
// the HTML status views the capture browser screenshots.
package web

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"coursebot/internal/avatar"
	"coursebot/internal/config"
	"coursebot/internal/ics"
	appLog "coursebot/internal/log"
	"coursebot/internal/model"
	"coursebot/internal/schedule"
	"coursebot/internal/store"
)

// Server wires the binding store, resolver and renderer behind HTTP.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	requests *store.BindRequests
	agg      *schedule.Aggregator
	resolver *ics.Resolver
	avatars  *avatar.Fetcher
	mux      *http.ServeMux

	// clock is sampled once per request at the boundary; resolution logic
	// below this layer only ever sees an explicit now.
	clock func() time.Time
}

// NewServer constructs a Server over the given config and store.
func NewServer(cfg *config.Config, st *store.Store) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		requests: store.NewBindRequests(time.Duration(cfg.BindWindowSec) * time.Second),
		agg:      schedule.NewAggregator(st),
		resolver: ics.NewResolver(),
		avatars:  avatar.NewFetcher(cfg.AvatarURL),
		mux:      http.NewServeMux(),
		clock:    time.Now,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/api/bind", s.handleBindStart)
	s.mux.HandleFunc("/api/bind/file", s.handleBindFile)

	s.mux.HandleFunc("/api/schedule/today", s.handleToday)
	s.mux.HandleFunc("/api/schedule/group", s.handleGroup)
	s.mux.HandleFunc("/api/schedule/today.png", s.handleTodayPNG)
	s.mux.HandleFunc("/api/schedule/group.png", s.handleGroupPNG)

	s.mux.HandleFunc("/view/today", s.handleTodayView)
	s.mux.HandleFunc("/view/group", s.handleGroupView)
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password is treated as disabled.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware protects all handlers except /health and the /view/
// pages; the capture browser loads the views without credentials.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || strings.HasPrefix(r.URL.Path, "/view/") {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="coursebot", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// requestNow returns the instant a query resolves against: the optional
// at=RFC3339 query parameter when present, the boundary clock otherwise.
// In both cases the result is already in the fixed display zone.
func (s *Server) requestNow(r *http.Request) (time.Time, bool) {
	if at := r.URL.Query().Get("at"); at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, false
		}
		return t.In(model.CST), true
	}
	return s.clock().In(model.CST), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
