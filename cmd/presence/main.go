package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/artieeg/warpy-media/internal/core/ports"
	"github.com/artieeg/warpy-media/internal/core/services"
	handlers "github.com/artieeg/warpy-media/internal/handlers/http"
	"github.com/artieeg/warpy-media/internal/infrastructure/bus"
	"github.com/artieeg/warpy-media/internal/infrastructure/gateway"
	"github.com/artieeg/warpy-media/internal/infrastructure/monitoring"
	redisrepo "github.com/artieeg/warpy-media/internal/infrastructure/repositories/redis"
	"github.com/artieeg/warpy-media/pkg/config"
	"github.com/artieeg/warpy-media/pkg/logger"
	"github.com/artieeg/warpy-media/pkg/tracing"

	"github.com/gin-gonic/gin"
)

func main() {
	configPaths := []string{
		"configs/presence.yaml",
		"./configs/presence.yaml",
		"configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		if cfg, err = config.Load(path); err == nil {
			break
		}
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "warpy-presence",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  1.0,
	})
	if err != nil {
		zlog.Fatalw("failed to init tracing", "err", err)
	}

	redisClient, err := redisrepo.NewClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, zlog)
	if err != nil {
		zlog.Fatalw("failed to connect to Redis", "err", err)
	}
	defer redisClient.Close()

	natsBus, err := bus.Connect(cfg.NATS.URL, "presence-"+cfg.Node.ID, cfg.NATS.RequestTimeout, zlog)
	if err != nil {
		zlog.Fatalw("failed to connect to NATS", "err", err)
	}
	defer natsBus.Close()

	var metrics ports.Metrics = ports.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	participants := redisrepo.NewParticipantStore(redisClient)
	hostStore := redisrepo.NewHostStore(redisClient)
	hostService := services.NewHostFailoverService(hostStore, natsBus, metrics, cfg.Failover.GracePeriod, zlog)

	gw := gateway.NewPresenceGateway(natsBus, participants, hostService, zlog)
	if err := gw.Start(); err != nil {
		zlog.Fatalw("failed to start presence gateway", "err", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	handlers.NewPresenceHandler(participants, hostStore).SetupRoutes(router)

	srv := &http.Server{
		Addr:    cfg.HTTP.Address,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("http server failed", "err", err)
		}
	}()

	zlog.Infow("presence service started", "http", cfg.HTTP.Address)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Infow("shutting down")

	if err := gw.Stop(); err != nil {
		zlog.Warnw("failed to stop gateway", "err", err)
	}
	hostService.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warnw("failed to shut down http server", "err", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zlog.Warnw("failed to shut down tracing", "err", err)
	}
}
