package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"reelsync/internal/calltrack"
	"reelsync/internal/identity"
	"reelsync/internal/ratelimit"
	"reelsync/internal/util"
	"reelsync/services/syncd/internal/app"
	"reelsync/services/syncd/internal/config"
	"reelsync/services/syncd/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tracker, err := calltrack.New(calltrack.Config{
		Registerer:     registry,
		Logger:         logger,
		BurstThreshold: cfg.CallBurstThreshold,
		BurstWindow:    config.MustDuration(cfg.CallBurstWindow),
	})
	if err != nil {
		log.Fatalf("failed to init call tracker: %v", err)
	}

	backends, err := app.OpenBackends(cfg)
	if err != nil {
		log.Fatalf("failed to open backends: %v", err)
	}
	defer backends.Close()

	appCfg := app.Config{
		UserAdapter:     backends.UserAdapter,
		GuestAdapter:    backends.GuestAdapter,
		Publisher:       backends.Publisher,
		Tracker:         tracker,
		SyncTimeout:     config.MustDuration(cfg.SyncTimeout),
		SyncMinInterval: config.MustDuration(cfg.SyncMinInterval),
		SaveTimeout:     config.MustDuration(cfg.SaveTimeout),
		Logger:          logger,
	}
	if backends.Cache != nil {
		appCfg.Cache = backends.Cache
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var revoker identity.Revoker = identity.NewMemoryRevoker(nil)
	if cfg.RedisAddr != "" {
		redisRevoker := identity.NewRedisRevoker(cfg.RedisAddr, cfg.RedisPassword, "")
		defer redisRevoker.Close()
		revoker = redisRevoker
	}
	resolver, err := identity.NewResolver(identity.Config{
		Revoker:  revoker,
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   config.MustDuration(cfg.JWTLeeway),
	})
	if err != nil {
		log.Fatalf("failed to init identity resolver: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.WriteRateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewFixedWindowLimiter(ratelimit.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Limit:    cfg.WriteRateLimitPerMinute,
			Window:   time.Minute,
			FailOpen: true,
		})
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
		defer limiter.Close()
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Resolver:       resolver,
		WriteLimiter:   limiter,
		Gatherer:       registry,
		TrustedProxies: trusted,
		DebugEndpoints: cfg.DebugEndpoints,

		HSTSMaxAge:            config.MustDuration(cfg.HSTSMaxAge),
		HSTSIncludeSubdomains: cfg.HSTSIncludeSubdomains,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("syncd server listening", "addr", addr, "user_backend", cfg.UserBackend, "guest_backend", cfg.GuestBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "err", err)
	}
	if err := appCore.Close(shutdownCtx); err != nil {
		logger.Error("flush pending saves", "err", err)
	}
}
