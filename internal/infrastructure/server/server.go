package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/tonk-labs/tonk-sub003/internal/api/http"
	"github.com/tonk-labs/tonk-sub003/internal/api/middleware"
	"github.com/tonk-labs/tonk-sub003/internal/api/ws"
	"github.com/tonk-labs/tonk-sub003/internal/domain/bundle"
	"github.com/tonk-labs/tonk-sub003/internal/domain/store/memstore"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/cache"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/config"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/logging"
	"github.com/tonk-labs/tonk-sub003/internal/infrastructure/monitoring"
)

// Server wraps the HTTP server and the bundle subsystem behind it.
type Server struct {
	engine *gin.Engine
	http   *http.Server

	reg   *bundle.Registry
	orch  *bundle.Orchestrator
	hub   *ws.Hub
	cache *cache.Cache

	logger *logging.Logger
	config *config.Config
}

// New assembles the service from configuration.
func New(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		logger = logging.NewDefault()
	}

	logger.Info("initializing bundle proxy",
		zap.String("port", cfg.Server.Port),
		zap.String("scope", cfg.Proxy.ScopePrefix),
		zap.String("cache_path", cfg.Cache.Path),
	)

	metrics := monitoring.NewMetrics()

	stateCache, err := cache.Open(cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open state cache: %w", err)
	}

	reg := bundle.NewRegistry(logger)
	hub := ws.NewHub(logger, metrics)

	monitor := bundle.NewMonitor(reg, bundle.MonitorConfig{
		Interval:        cfg.Connection.HealthInterval,
		SettleDelay:     cfg.Connection.SettleDelay,
		BackoffBase:     cfg.Connection.BackoffBase,
		BackoffCap:      cfg.Connection.BackoffCap,
		MaxAttempts:     cfg.Connection.MaxAttempts,
		ContinuousRetry: cfg.Connection.ContinuousRetry,
		SyncWait:        cfg.Connection.SyncWaitTimeout,
	}, hub, metrics, logger)

	orch := bundle.NewOrchestrator(reg, stateCache, hub, monitor, memstore.FromBytes, bundle.OrchestratorConfig{
		DefaultServerURL: cfg.Proxy.DefaultServerURL,
		SyncWait:         cfg.Connection.SyncWaitTimeout,
	}, metrics, logger)

	router := bundle.NewRouter(reg, hub, logger)
	dispatcher := ws.NewDispatcher(reg, orch, router, hub, metrics, logger)
	wsHandler := ws.NewHandler(hub, dispatcher, logger)
	handlers := apihttp.NewHandlers(reg)
	fetch := apihttp.NewFetchHandler(reg, orch, cfg.Proxy.ScopePrefix, cfg.Proxy.ReadyTimeout, metrics, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(cfg.Server.CORSOrigins))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		engine.Use(middleware.RateLimit(cfg.RateLimit))
	}

	engine.GET("/", handlers.Root)
	engine.GET("/health", handlers.Health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/ws", wsHandler.HandleConnection)
	engine.NoRoute(fetch.Serve)

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: engine,
		},
		reg:    reg,
		orch:   orch,
		hub:    hub,
		cache:  stateCache,
		logger: logger,
		config: cfg,
	}, nil
}

// Run starts restart recovery and serves until the listener fails or the
// server closes.
func (s *Server) Run() error {
	go func() {
		if err := s.orch.AutoResumeFromCache(context.Background()); err != nil {
			s.logger.Warn("auto-resume did not restore a bundle", zap.Error(err))
		}
		s.hub.Broadcast(bundle.Event{Type: bundle.EventReady})
	}()

	s.logger.Info("listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close drains the listener and tears the bundle subsystem down. Resume
// state stays in the cache so the next start recovers the active bundle.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown failed", zap.Error(err))
	}

	// Registry removal (not orchestrator unload) so the durable record
	// survives for auto-resume.
	for _, id := range s.reg.ActiveIDs() {
		s.reg.Remove(id)
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Warn("cache close failed", zap.Error(err))
	}
	s.logger.Sync()
	return nil
}
