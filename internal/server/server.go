// Package server is the live-reload preview server: it serves the built
// documents of one project and tells connected browsers to reload after
// every successful rebuild.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hotovec/mails/internal/config"
	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
	"github.com/hotovec/mails/internal/publish"
)

const shutdownTimeout = 5 * time.Second

// Message is what browsers receive on /livereload.
type Message struct {
	Type    string `json:"type"`
	BuildID string `json:"build_id,omitempty"`
}

// Options configure a Server.
type Options struct {
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   logging.Logger
}

// Server serves root over HTTP with live reload.
type Server struct {
	cfg     config.ServerConfig
	root    string
	project string
	hub     *Hub
	router  chi.Router
	logger  logging.Logger

	// Bounds websocket connections; set by Serve.
	ctx context.Context
}

// New creates a server for the output tree of layout.
func New(cfg config.ServerConfig, layout config.Layout, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:     cfg,
		root:    layout.Dst,
		project: layout.Project,
		hub:     NewHub(hostAliases(cfg.Host, cfg.Port), opts.Logger),
		logger:  opts.Logger.WithComponent("server"),
		ctx:     context.Background(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/health", s.handleHealth)
	r.Get("/livereload", s.handleLiveReload)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/*", s.handleStatic)

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeServer, fmt.Sprintf("listen on %s", addr), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully. It returns nil after a shutdown caused by ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	go s.hub.Run(ctx)

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info(ctx, "Preview server listening", "url", "http://"+ln.Addr().String())

	select {
	case err := <-errCh:
		if stderrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.NewIOError(errors.ErrCodeServer, "serve", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return errors.NewIOError(errors.ErrCodeServer, "shutdown", err)
		}
		return nil
	}
}

// Reload tells every connected browser to reload.
func (s *Server) Reload(buildID string) {
	payload, err := json.Marshal(Message{Type: "reload", BuildID: buildID})
	if err != nil {
		s.logger.Error(context.Background(), err, "Encode reload message")
		return
	}
	s.hub.Broadcast(payload)
	s.logger.Debug(context.Background(), "Reload broadcast", "build_id", buildID, "clients", s.hub.Clients())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleLiveReload(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(s.ctx, w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	docs, err := publish.LoadDocuments(s.root)
	if err != nil {
		s.logger.Debug(r.Context(), "No documents to list", "error", err)
		docs = nil
	}
	templ.Handler(indexPage(s.project, docs)).ServeHTTP(w, r)
}

// handleStatic serves files from the output tree. HTML documents get the
// reload script.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := path.Clean("/" + chi.URLParam(r, "*"))
	if !strings.HasSuffix(name, ".html") {
		http.FileServer(http.Dir(s.root)).ServeHTTP(w, r)
		return
	}

	f, err := http.Dir(s.root).Open(name)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Cannot open document", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	content, err := io.ReadAll(f)
	if err != nil {
		http.Error(w, "Cannot read document", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, name, info.ModTime(), bytes.NewReader(injectReloadScript(content)))
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug(r.Context(), "Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
