// Package server implements the oomanalyzer HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/leptonai/oomanalyzer/pkg/config"
	"github.com/leptonai/oomanalyzer/pkg/kernelconfig"
	"github.com/leptonai/oomanalyzer/pkg/log"
	"github.com/leptonai/oomanalyzer/pkg/metrics"
)

// Server is the oomanalyzer HTTP daemon.
type Server struct {
	cfg    *config.Config
	router *gin.Engine

	mu        sync.Mutex
	srv       *http.Server
	ln        net.Listener
	stopOnCtx func() bool
}

type Op struct {
	auditLogger log.AuditLogger
	promReg     *prometheus.Registry
}

type OpOption func(*Op)

func (op *Op) applyOpts(opts []OpOption) {
	for _, opt := range opts {
		opt(op)
	}

	if op.auditLogger == nil {
		op.auditLogger = log.NewNopAuditLogger()
	}
	if op.promReg == nil {
		op.promReg = prometheus.NewRegistry()
	}
}

// WithAuditLogger records every analysis request.
func WithAuditLogger(auditLogger log.AuditLogger) OpOption {
	return func(op *Op) {
		op.auditLogger = auditLogger
	}
}

// WithPrometheusRegistry serves the metrics of reg on /metrics.
// A new registry is created by default.
func WithPrometheusRegistry(reg *prometheus.Registry) OpOption {
	return func(op *Op) {
		op.promReg = reg
	}
}

// New validates the configuration, loads the kernel configurations and
// installs the routes. Call Start to accept connections.
func New(cfg *config.Config, opts ...OpOption) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}

	op := &Op{}
	op.applyOpts(opts)

	registry, err := kernelconfig.NewWithDir(cfg.KernelConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load kernel configurations: %w", err)
	}
	log.Logger.Infow("loaded kernel configurations", "configs", len(registry.Configs()), "dir", cfg.KernelConfigDir)

	if err := metrics.Register(op.promReg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	router := gin.New()
	installRootGinMiddlewares(router)
	installCommonGinMiddlewares(router, log.Logger.Desugar())

	ghler := newGlobalHandler(cfg, registry, newResultCache(cfg.CacheTTL.Duration, cfg.CacheSize), op.auditLogger)

	v1 := router.Group(URLPathV1)

	// if the request header is set "Accept-Encoding: gzip",
	// the middleware automatically gzip-compresses the response with the response header "Content-Encoding: gzip"
	v1.Use(gzip.Gzip(gzip.DefaultCompression))
	ghler.registerRoutes(v1)

	promHandler := promhttp.HandlerFor(op.promReg, promhttp.HandlerOpts{})
	router.GET(URLPathMetrics, func(ctx *gin.Context) {
		promHandler.ServeHTTP(ctx.Writer, ctx.Request)
	})
	router.GET(URLPathHealthz, createHealthzHandler())

	admin := router.Group(urlPathAdmin)
	admin.GET(urlPathConfig, createConfigHandler(cfg))

	if cfg.Pprof {
		log.Logger.Debugw("registering pprof handlers")
		admin.GET("/pprof/profile", gin.WrapH(http.HandlerFunc(pprof.Profile)))
		admin.GET("/pprof/heap", gin.WrapH(pprof.Handler("heap")))
		admin.GET("/pprof/trace", gin.WrapH(http.HandlerFunc(pprof.Trace)))
	}

	return &Server{cfg: cfg, router: router}, nil
}

// Handler returns the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background
// until Stop is called or ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", s.cfg.Address, err)
	}

	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	s.srv = srv
	s.ln = ln
	s.stopOnCtx = context.AfterFunc(ctx, s.Stop)
	s.mu.Unlock()

	log.Logger.Infof("serving %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Logger.Errorw("serve failed", "address", ln.Addr().String(), "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop gracefully shuts the server down. It is safe to call more than once.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	if s.stopOnCtx != nil {
		s.stopOnCtx()
		s.stopOnCtx = nil
	}
	s.mu.Unlock()

	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Logger.Warnw("failed to shutdown server", "error", err)
	} else {
		log.Logger.Debugw("successfully stopped server")
	}
}
