package audio

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// AssetServer serves synthesized audio from dir under every candidate prefix
// a CandidateBuilder may produce: /, /api/audio/ and /static/.
type AssetServer struct {
	addr        string
	dir         string
	server      *http.Server
	logger      *slog.Logger
	mu          sync.Mutex
	running     bool
	mux         *http.ServeMux
	rateLimiter *RateLimiter
}

func NewAssetServer(addr, dir string, logger *slog.Logger) *AssetServer {
	s := &AssetServer{
		addr:        addr,
		dir:         dir,
		logger:      logger.With("component", "asset_server"),
		mux:         http.NewServeMux(),
		rateLimiter: NewRateLimiter(120, time.Minute),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/audio/{name}", s.rateLimiter.Middleware(s.handleAsset))
	s.mux.HandleFunc("GET /static/{name}", s.rateLimiter.Middleware(s.handleAsset))
	s.mux.HandleFunc("GET /{name}", s.rateLimiter.Middleware(s.handleAsset))
	return s
}

func (s *AssetServer) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("asset server starting", "addr", s.addr, "dir", s.dir)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("asset server error", "error", err)
		}
	}()

	s.running = true
	return nil
}

func (s *AssetServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("graceful shutdown failed, forcing close", "error", err)
			if err := s.server.Close(); err != nil {
				return fmt.Errorf("closing server: %w", err)
			}
		}
	}

	s.running = false
	return nil
}

func (s *AssetServer) Handler() http.Handler {
	return s.mux
}

func (s *AssetServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		http.NotFound(w, r)
		return
	}
	if _, ok := fileMIMETypes[filepath.Ext(name)]; !ok {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		s.logger.Debug("asset not found", "name", name, "path", r.URL.Path)
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", fileMIMETypes[filepath.Ext(name)])
	http.ServeFile(w, r, path)
}

func (s *AssetServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	_, err := os.Stat(s.dir)
	dirOK := err == nil

	status := "ok"
	statusCode := http.StatusOK

	if !running || !dirOK {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	fmt.Fprintf(w, `{"status":"%s","running":%t,"dir":%t}`, status, running, dirOK)
}
