package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"peercall/internal/core/services"
	httphandlers "peercall/internal/handlers/http"
	"peercall/internal/infrastructure/distributed"
	"peercall/internal/infrastructure/middleware"
	"peercall/internal/infrastructure/monitoring"
	"peercall/internal/infrastructure/repositories"
	signalinfra "peercall/internal/infrastructure/signal"
	"peercall/pkg/config"
	"peercall/pkg/logger"
	"peercall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// assistantInterval paces the streamed reply of the demo assistant endpoint.
const assistantInterval = 300 * time.Millisecond

func main() {
	startTime := time.Now()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var loadErr error
	var loadedFrom string

	for _, path := range configPaths {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		cfg, loadErr = config.Load(path)
		if loadErr == nil {
			loadedFrom = path
			break
		}
	}

	if cfg == nil {
		// defaults plus environment overrides
		var err error
		if cfg, err = config.Load(""); err != nil {
			cfg = config.DefaultConfig()
		}
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	switch {
	case loadedFrom != "":
		log.Infow("Loaded config", "path", loadedFrom)
	case loadErr != nil:
		log.Warnw("Could not load config, using defaults", "error", loadErr)
	default:
		log.Info("No config file found, using defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "peercall-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: os.Getenv("PEERCALL_ENV"),
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("Failed to initialize tracing", "error", err)
	}

	stores := repositories.Open(ctx, cfg, log)
	roomRepo := stores.Rooms
	redisClient := stores.Redis
	instanceID := uuid.NewString()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	roomConfig := services.RoomServiceConfig{RetentionTTL: cfg.Rooms.RetentionTTL}
	if redisClient != nil {
		// the lease outlives one sweep interval so the holder keeps it
		roomConfig.SweepLease = distributed.NewRedisLease(redisClient, distributed.SweepLeaseKey, instanceID, 2*cfg.Rooms.SweepInterval)
	}
	roomService := services.NewRoomService(roomRepo, roomConfig, nil, collector, log)
	go roomService.RunSweeper(ctx, cfg.Rooms.SweepInterval)

	wsConfig := signalinfra.ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
	}
	if cfg.RateLimiting.Enabled {
		wsConfig.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		wsConfig.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	wsServer := signalinfra.NewWebSocketServer(roomService, wsConfig, collector, log)

	// Relayed frames for participants held by another instance travel over
	// redis pub/sub.
	if redisClient != nil {
		wsServer.SetRelayBus(distributed.NewEventBus(redisClient, instanceID, log))
		go func() {
			if err := wsServer.RunRelay(ctx); err != nil && ctx.Err() == nil {
				log.Errorw("Relay bus stopped", "error", err)
			}
		}()
		log.Infow("Cross-instance relay enabled", "instance_id", instanceID)
	}

	health := monitoring.NewHealthChecker()
	health.AddRepositoryCheck(roomRepo, 30*time.Second, 2*time.Second)
	if redisClient != nil {
		health.AddRedisCheck(redisClient, 30*time.Second, 2*time.Second)
	}
	health.StartBackgroundChecks(ctx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	httphandlers.NewSignalingHandler(roomService, collector, log).SetupRoutes(router)
	httphandlers.NewChatHandler(assistantInterval, nil).SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		status := health.Last()
		code := http.StatusOK
		if status.Status != monitoring.StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status.Status,
			"timestamp":   status.Timestamp,
			"checks":      status.Checks,
			"uptime":      time.Since(startTime).String(),
			"backend":     stores.Backend(),
			"connections": wsServer.ConnectionCount(),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		readyCtx, readyCancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer readyCancel()

		if !health.IsReady(readyCtx) {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting PeerCall signaling server", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down PeerCall signaling server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if roomConfig.SweepLease != nil {
		if err := roomConfig.SweepLease.Release(shutdownCtx); err != nil {
			log.Warnw("Error releasing sweep lease", "error", err)
		}
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	if err := stores.Close(); err != nil {
		log.Errorw("Error closing room storage", "error", err)
	}

	log.Info("PeerCall signaling server stopped")
}
