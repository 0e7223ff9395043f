package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/walkietalkie/server/api/rest"
	"github.com/kasuganosora/walkietalkie/server/api/sse"
	apiws "github.com/kasuganosora/walkietalkie/server/api/ws"
	"github.com/kasuganosora/walkietalkie/server/audit"
	"github.com/kasuganosora/walkietalkie/server/cache"
	"github.com/kasuganosora/walkietalkie/server/config"
	dbadapter "github.com/kasuganosora/walkietalkie/server/db"
	mw "github.com/kasuganosora/walkietalkie/server/middleware"
	"github.com/kasuganosora/walkietalkie/server/model"
	"github.com/kasuganosora/walkietalkie/server/ptt/audio"
	"github.com/kasuganosora/walkietalkie/server/ptt/call"
	"github.com/kasuganosora/walkietalkie/server/ptt/channel"
	"github.com/kasuganosora/walkietalkie/server/ptt/maintenance"
	"github.com/kasuganosora/walkietalkie/server/ptt/notify"
	"github.com/kasuganosora/walkietalkie/server/ptt/presence"
	"github.com/kasuganosora/walkietalkie/server/scheduler"
	"github.com/kasuganosora/walkietalkie/server/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	presenceReportInterval = time.Minute
	shutdownTimeout        = 10 * time.Second
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	st := store.New(db)
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Relay core ----
	registry := presence.NewRegistry(st, logger)
	notifier := notify.New(registry, logger)
	channels := channel.NewManager(st, notifier, auditSvc, channel.Options{
		SearchRadiusKm: cfg.Location.SearchRadiusKm,
		MaxRadiusKm:    cfg.Location.MaxChannelRadiusKm,
	}, logger)
	calls := call.NewCoordinator(st, notifier, c, auditSvc, call.Options{
		RequireFriendship: cfg.Calls.RequireFriendship,
		GroupStartLockTTL: cfg.Calls.GroupStartLockTTL,
	}, logger)
	relay := audio.NewRelay(calls, st, notifier, c, cfg.Cache.NameTTL, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	sched.AddTicker("presence_report", presenceReportInterval, maintenance.PresenceReport(registry, logger))
	sched.AddTicker("stale_call_report", cfg.Calls.StaleReportInterval,
		maintenance.StaleCallReport(st, cfg.Calls.StaleAfter, logger))

	// ---- WS Router ----
	wsRouter := apiws.NewRouter(logger)
	apiws.NewPTTHandlers(st, registry, channels, calls, relay, notifier, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger), mw.Metrics())
	limiter := mw.NewRateLimiter(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst)
	sched.AddTicker("rate_limit_sweep", 5*time.Minute, limiter.Sweep)
	r.Use(limiter.Handler())

	r.GET("/health", apirest.Health(st))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ---- REST API routes ----
	handlers := &apirest.Handlers{
		Users:    apirest.NewUserHandler(st, logger),
		Friends:  apirest.NewFriendHandler(st, notifier, registry, logger),
		Calls:    apirest.NewCallHandler(calls, logger),
		Location: apirest.NewLocationHandler(channels, calls, logger),
		Admin:    apirest.NewAdminHandler(registry, pubsub, sched, logger),
	}
	handlers.Register(r, apirest.AdminOptions{Key: cfg.Server.AdminKey, IPs: cfg.Security.AdminIPs})

	// ---- WebSocket ----
	wsH := apiws.NewHandler(st, registry, wsRouter, cfg.Security.AllowedOrigins, presence.ConnOptions{
		SendBuffer:   cfg.WS.SendBuffer,
		PingInterval: cfg.WS.PingInterval,
		ReadTimeout:  cfg.WS.ReadTimeout,
	}, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, st, 0, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err, ok := <-srvErr:
		if ok {
			logger.Error("server failed", zap.Error(err))
		}
	}

	// Close sockets first so their handlers unregister before the store goes.
	registry.CloseAll(5 * time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	logger.Info("server stopped")
}
