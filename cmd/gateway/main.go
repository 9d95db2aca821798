package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-anpr/internal/config"
	"github.com/technosupport/ts-anpr/internal/data"
	"github.com/technosupport/ts-anpr/internal/gateway"
	"github.com/technosupport/ts-anpr/internal/logging"
	"github.com/technosupport/ts-anpr/internal/middleware"
	"github.com/technosupport/ts-anpr/internal/ratelimit"
	"github.com/technosupport/ts-anpr/internal/tokens"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel, cfg.LogFormat).With().Str("service", "gateway").Logger()

	// Database connection from environment, matching the migrator.
	db, err := sql.Open("postgres", dsnFromEnv())
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		// The health endpoint reports this; the gateway still starts so
		// callers see 503 rather than connection refused.
		log.Warn().Err(err).Msg("database unreachable at startup")
	}

	store := &data.EventModel{DB: db}
	hub := gateway.NewHub(log)
	handler := gateway.NewHandler(gateway.Config{
		ImageDir:     cfg.Gateway.ImageDir,
		MaxUploadMB:  cfg.Gateway.MaxUploadMB,
		DefaultLimit: cfg.Gateway.DefaultLimit,
		MaxLimit:     cfg.Gateway.MaxLimit,
	}, store, hub, log)

	jwtKey := cfg.Gateway.JWTSigningKey
	if jwtKey == "" {
		jwtKey = os.Getenv("JWT_SIGNING_KEY")
	}
	var auth *middleware.JWTAuth
	if jwtKey != "" {
		auth = middleware.NewJWTAuth(tokens.NewManager(jwtKey, 0))
	} else {
		log.Warn().Msg("no JWT signing key configured, query API is open")
	}

	var rl *middleware.RateLimitMiddleware
	if cfg.Gateway.RateLimit.Enabled {
		redisAddr := os.Getenv("REDIS_ADDR")
		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATELIMIT_SALT"))
		rl = middleware.NewRateLimitMiddleware(limiter, ratelimit.LimitConfig{
			Rate:   cfg.Gateway.RateLimit.Rate,
			Window: cfg.Gateway.RateLimit.Window(),
		}, log)
	}

	router := handler.Routes(auth, rl, log)
	router.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // live feed connections stay open
	}

	go func() {
		log.Info().Int("port", cfg.Gateway.Port).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}

func dsnFromEnv() string {
	host := envOr("DB_HOST", "localhost")
	port := envOr("DB_PORT", "5432")
	user := os.Getenv("DB_USER")
	pass := os.Getenv("DB_PASSWORD")
	name := envOr("DB_NAME", "anpr")
	ssl := envOr("DB_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
