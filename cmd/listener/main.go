package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-anpr/internal/camera"
	"github.com/technosupport/ts-anpr/internal/config"
	"github.com/technosupport/ts-anpr/internal/dispatch"
	"github.com/technosupport/ts-anpr/internal/events"
	"github.com/technosupport/ts-anpr/internal/listener"
	"github.com/technosupport/ts-anpr/internal/logging"

	_ "github.com/technosupport/ts-anpr/internal/camera/dahua"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "listener").Logger()

	cameras := cfg.EnabledCameras()
	if len(cameras) == 0 {
		log.Fatal().Msg("no enabled cameras in config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional NATS fan-out.
	var pub *dispatch.Publisher
	if cfg.Events.NatsEnabled {
		natsURL := os.Getenv("NATS_URL")
		if natsURL == "" {
			natsURL = nats.DefaultURL
		}
		nc, err := nats.Connect(natsURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect failed")
		}
		defer nc.Close()
		pub = dispatch.NewPublisher(nc, cfg.Events.NatsSubject, cfg.Events.PublishRetryMax)
		log.Info().Str("subject", cfg.Events.NatsSubject).Msg("nats fan-out enabled")
	}

	outbox, err := dispatch.NewOutbox(cfg.Listener.OutboxDir, cfg.Listener.OutboxMaxMB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("outbox init failed")
	}

	dispatcher := dispatch.New(dispatch.Config{
		GatewayURL:  cfg.Listener.GatewayURL,
		SendTimeout: cfg.Listener.SendTimeout(),
		MaxInflight: cfg.Listener.MaxInflightSends,
		TempDir:     cfg.Listener.TempDir,
	}, outbox, pub, log)

	outbox.StartDrain(ctx, cfg.Listener.OutboxDrainInterval(), dispatcher.Send)

	normalizer := events.NewNormalizer()
	dedup := events.NewDedup(cfg.Listener.DedupMaxKeys, cfg.Listener.DedupTTL())

	sessions := make([]*listener.CameraSession, 0, len(cameras))
	for _, cam := range cameras {
		conn, err := camera.Dial(cam.Vendor, camera.Target{
			ID:      cam.ID,
			Address: cam.Address,
			Port:    cam.Port,
		})
		if err != nil {
			log.Fatal().Err(err).Str("camera_id", cam.ID).Msg("unsupported camera")
		}
		sessions = append(sessions, listener.NewCameraSession(
			cam, conn, cfg.Listener.DeviceTimeout(), normalizer, dedup, dispatcher, log))
	}

	monitor := listener.NewMonitor(cfg.Listener.CheckInterval(), sessions, log)
	monitor.Start(ctx)
	log.Info().Int("cameras", len(sessions)).Msg("listener started")

	// Metrics endpoint.
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Listener.MetricsPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	cancel()
	monitor.Wait()
	dispatcher.Close()
	metricsSrv.Shutdown(context.Background())
}
