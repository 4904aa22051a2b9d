// Package server exposes the courseware player over HTTP: the player shell,
// the courseware frame, semantic and positional navigation routes, the JSON
// API and the position sync WebSocket.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/coursedeck/coursedeck/internal/config"
	"github.com/coursedeck/coursedeck/internal/nav"
	"github.com/coursedeck/coursedeck/internal/repourl"
	"github.com/coursedeck/coursedeck/internal/square"
	"github.com/coursedeck/coursedeck/internal/store"
)

// Server is the coursedeck HTTP server.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	resolver *nav.Resolver
	square   *square.Service // nil when the square is disabled
	hub      *SyncHub
	api      *APIHandler

	httpSrv *http.Server
	cancel  context.CancelFunc
	rlDone  <-chan struct{}
}

// New assembles the server. square may be nil.
func New(cfg *config.Config, st *store.Store, resolver *nav.Resolver, sq *square.Service) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		resolver: resolver,
		square:   sq,
		hub:      NewSyncHub(st),
	}
	s.api = NewAPIHandler(cfg, st, resolver, sq, s.hub)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	handler := s.wrap(ctx, s)

	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: handler,
	}
	return s
}

// wrap applies the middleware chain around the route dispatcher.
func (s *Server) wrap(ctx context.Context, next http.Handler) http.Handler {
	rlMiddleware, done := RateLimitMiddleware(ctx,
		s.cfg.API.GetRateLimitRPS(), s.cfg.API.GetRateLimitBurst(), 0)
	s.rlDone = done

	h := rlMiddleware(next)
	h = CORSMiddleware(s.cfg.API.GetCORSOrigins(), authHeaderName(s.cfg))(h)
	h = SecurityHeadersMiddleware()(h)
	return h
}

func authHeaderName(cfg *config.Config) string {
	if cfg.API == nil || cfg.API.Auth == nil {
		return ""
	}
	return cfg.API.Auth.GetHeaderName()
}

// Start runs the server until Shutdown is called.
func (s *Server) Start() error {
	log.Printf("[Server] Listening on http://%s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.hub.Close()
	err := s.httpSrv.Shutdown(ctx)
	select {
	case <-s.rlDone:
	case <-ctx.Done():
	}
	return err
}

// ServeHTTP implements http.Handler: manual dispatch over the route shapes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/ws":
		s.hub.ServeHTTP(w, r)

	case strings.HasPrefix(path, "/api/"):
		s.api.ServeHTTP(w, r)

	case strings.HasPrefix(path, "/frame/"):
		s.serveFrame(w, r)

	case strings.HasPrefix(path, "/player/"):
		s.servePositional(w, r)

	case strings.HasPrefix(path, "/c/"):
		s.serveCourseLink(w, r)

	case path == "/":
		s.serveCurrent(w, r)

	default:
		s.serveSemantic(w, r)
	}
}

// serveCurrent renders the player at the current selection.
func (s *Server) serveCurrent(w http.ResponseWriter, r *http.Request) {
	res := s.resolver.ResolvePositional(-1, s.currentPage())
	s.render(w, r, res, false)
}

// servePositional handles /player/{index}[/{page}].
func (s *Server) servePositional(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/player/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	index, err := strconv.Atoi(parts[0])
	if err != nil || index < 0 {
		http.NotFound(w, r)
		return
	}
	page := 0
	if len(parts) > 1 {
		// Non-numeric page segments are treated as page zero, not an error.
		if p, err := strconv.Atoi(parts[1]); err == nil && p >= 0 {
			page = p
		}
	}

	res := s.resolver.ResolvePositional(index, page)
	s.render(w, r, res, true)
}

// serveSemantic handles /{platform}/{owner}/{repo}/{folder}/{course}[/{page}].
func (s *Server) serveSemantic(w http.ResponseWriter, r *http.Request) {
	target := repourl.ParseCoursewarePath(r.URL.Path, s.cfg.Player.GetDefaultBranch())
	if target == nil {
		http.NotFound(w, r)
		return
	}

	res := s.resolver.ResolveSemantic(r.Context(), target)
	s.render(w, r, res, true)
}

// serveCourseLink handles /c/{courseId}; the course id may be the legacy
// 32-hex token or the slash-separated semantic form.
func (s *Server) serveCourseLink(w http.ResponseWriter, r *http.Request) {
	courseID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/c/"), "/")
	if courseID == "" {
		http.NotFound(w, r)
		return
	}

	res := s.resolver.ResolveCourseID(r.Context(), courseID)
	s.render(w, r, res, true)
}

// render turns a resolution into a response. Navigation routes redirect to
// the canonical semantic URL when they arrived through a different shape.
func (s *Server) render(w http.ResponseWriter, r *http.Request, res nav.Resolution, canonicalize bool) {
	switch res.State {
	case nav.StateLoading:
		serveLoading(w)
		return
	case nav.StateNotFound:
		if s.store.Len() == 0 && r.URL.Path == "/" {
			serveEmpty(w)
			return
		}
		http.NotFound(w, r)
		return
	}

	s.hub.SetPosition(res.Index, res.PageIndex)

	if canonicalize && res.CanonicalPath != "" && r.URL.Path != res.CanonicalPath {
		http.Redirect(w, r, res.CanonicalPath, http.StatusFound)
		return
	}
	renderPlayer(w, res.Courseware, res.Index, res.PageIndex, s.store.Prefs())
}

// serveFrame handles /frame/{index}: the full courseware document with the
// page bootstrap injected.
func (s *Server) serveFrame(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/frame/"), "/")
	index, err := strconv.Atoi(rest)
	if err != nil || index < 0 {
		http.NotFound(w, r)
		return
	}

	cw := s.store.At(index)
	if cw == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, injectBootstrap(cw.FullHTML))
}

func (s *Server) currentPage() int {
	_, page := s.hub.Position()
	return page
}
