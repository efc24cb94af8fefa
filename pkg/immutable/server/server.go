// Package server hosts a built bundle over HTTP. It serves the output
// tree (or mirrors a deployed bundle) with immutable caching headers,
// exposes prometheus metrics and optionally runs the reference embedding
// parent over websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// Endpoints
const (
	MetricsPath = "/metrics"
	RPCPath     = "/_immutable/rpc"
	FramesPath  = "/_immutable/frames"
	HealthPath  = "/_immutable/health"
)

const shutdownGrace = 5 * time.Second

// Options configure a Server.
type Options struct {
	// Addr is the listen address.
	Addr string

	// Root is the output tree served in static mode.
	Root string

	// Mirror serves a deployed bundle instead of Root.
	Mirror *Mirror

	// Production enables immutable caching headers and embedding.
	Production bool

	// Parent enables the reference parent endpoint.
	Parent *ParentOptions

	// Registry collects metrics. Nil uses a private registry.
	Registry *prometheus.Registry
}

// Server is the HTTP front of a bundle.
type Server struct {
	opts    Options
	engine  *gin.Engine
	metrics *Metrics
	frames  *frames
	log     *logging.Logger
}

// New builds the routes of a server.
func New(opts Options) (*Server, error) {
	if opts.Root == "" && opts.Mirror == nil {
		return nil, errors.New("server needs a root or a mirror")
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:    opts,
		engine:  gin.New(),
		metrics: NewMetrics(opts.Registry),
		log:     logging.Get("server"),
	}
	if opts.Mirror != nil {
		opts.Mirror.metrics = s.metrics
	}

	s.engine.Use(gin.Recovery(), s.metrics.middleware(), s.access())
	if opts.Production {
		s.engine.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{http.MethodGet, http.MethodHead, http.MethodOptions},
			AllowHeaders:    []string{"Origin", "Content-Type", "Cache-Control"},
			ExposeHeaders:   []string{VersionHeader},
			MaxAge:          12 * time.Hour,
		}))
	}

	s.engine.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	s.engine.GET(HealthPath, s.health)

	if opts.Parent != nil {
		s.frames = newFrames(*opts.Parent, s.metrics)
		s.engine.GET(RPCPath, s.frames.serve)
		s.engine.GET(FramesPath, s.frames.state)
	}

	s.engine.NoRoute(s.content)
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run listens on Addr and serves until ctx ends, then shuts down
// gracefully. A mirror is refreshed alongside.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", ln.Addr().String(), "production", s.opts.Production)
		errc <- srv.Serve(ln)
	}()

	if s.opts.Mirror != nil {
		go func() { _ = s.opts.Mirror.Run(ctx) }()
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Frames lists the frames connected to the reference parent.
func (s *Server) Frames() []Frame {
	if s.frames == nil {
		return nil
	}
	return s.frames.list()
}

func (s *Server) content(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.Status(http.StatusMethodNotAllowed)
		return
	}
	if s.opts.Mirror != nil {
		s.opts.Mirror.serve(c, s.opts.Production)
		return
	}
	s.serveStatic(c)
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.opts.Mirror != nil {
		body["version"] = s.opts.Mirror.Version()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) access() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"source", c.GetString(sourceKey),
			"duration", time.Since(start),
		)
	}
}
