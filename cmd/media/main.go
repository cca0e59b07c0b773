package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/artieeg/warpy-media/internal/auth"
	"github.com/artieeg/warpy-media/internal/core/domain"
	"github.com/artieeg/warpy-media/internal/core/ports"
	"github.com/artieeg/warpy-media/internal/core/services"
	"github.com/artieeg/warpy-media/internal/infrastructure/bus"
	"github.com/artieeg/warpy-media/internal/infrastructure/engine"
	"github.com/artieeg/warpy-media/internal/infrastructure/gateway"
	"github.com/artieeg/warpy-media/internal/infrastructure/monitoring"
	"github.com/artieeg/warpy-media/pkg/config"
	"github.com/artieeg/warpy-media/pkg/logger"
	"github.com/artieeg/warpy-media/pkg/tracing"

	"golang.org/x/time/rate"
)

const nodeInfoInterval = 2 * time.Second

func main() {
	configPaths := []string{
		"configs/media.yaml",
		"./configs/media.yaml",
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
		ServiceName: "warpy-media",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  1.0,
	})
	if err != nil {
		zlog.Fatalw("failed to init tracing", "err", err)
	}

	natsBus, err := bus.Connect(cfg.NATS.URL, "media-"+cfg.Node.ID, cfg.NATS.RequestTimeout, zlog)
	if err != nil {
		zlog.Fatalw("failed to connect to NATS", "err", err)
	}
	defer natsBus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	mediaEngine, err := engine.NewRPCEngine(ctx, natsBus, zlog)
	cancel()
	if err != nil {
		zlog.Fatalw("failed to attach media engine", "err", err)
	}

	var metrics ports.Metrics = ports.NopMetrics{}
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector()
	}

	fabric := services.NewPipeRoutingFabric(mediaEngine, natsBus, metrics, zlog)
	rooms := services.NewRoomRegistry(mediaEngine, fabric, natsBus, metrics, zlog)

	forwardNodes := make([]domain.NodeID, 0, len(cfg.Node.ForwardNodes))
	for _, n := range cfg.Node.ForwardNodes {
		forwardNodes = append(forwardNodes, domain.NodeID(n))
	}

	gw := gateway.NewMediaGateway(gateway.MediaGatewayParams{
		Bus:          natsBus,
		Rooms:        rooms,
		Fabric:       fabric,
		ForwardNodes: forwardNodes,
		Verifier:     auth.NewVerifier(cfg.Auth.MediaTokenSecret),
		Node:         domain.NodeID(cfg.Node.ID),
		Logger:       zlog,
		PublishRate:  rate.Limit(cfg.RateLimiting.PublishPerSecond),
		PublishBurst: cfg.RateLimiting.PublishBurst,
	})
	if err := gw.Start(); err != nil {
		zlog.Fatalw("failed to start media gateway", "err", err)
	}

	// Periodic liveness/load announcement other services use for placement.
	heartbeat := time.NewTicker(nodeInfoInterval)
	heartbeatStop := make(chan struct{})
	go func() {
		for {
			select {
			case <-heartbeat.C:
				err := natsBus.Publish(ports.SubjectNodeInfo, domain.NodeInfo{
					Node:  domain.NodeID(cfg.Node.ID),
					Role:  cfg.Node.Role,
					Rooms: rooms.RoomCount(),
				})
				if err != nil {
					zlog.Warnw("failed to publish node info", "err", err)
				}
			case <-heartbeatStop:
				return
			}
		}
	}()

	zlog.Infow("media node started", "node", cfg.Node.ID, "role", cfg.Node.Role)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Infow("shutting down")

	heartbeat.Stop()
	close(heartbeatStop)

	if err := gw.Stop(); err != nil {
		zlog.Warnw("failed to stop gateway", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		zlog.Warnw("failed to shut down tracing", "err", err)
	}
}
