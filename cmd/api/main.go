package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"videocall-relay/internal/audit"
	"videocall-relay/internal/auth"
	"videocall-relay/internal/call"
	"videocall-relay/internal/config"
	"videocall-relay/internal/history"
	"videocall-relay/internal/httpapi"
	"videocall-relay/internal/identity"
	"videocall-relay/internal/presence"
	"videocall-relay/internal/registry"
	"videocall-relay/internal/relay"
	"videocall-relay/pkg/logger"
	"videocall-relay/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis is optional. Without it the relay still works, minus the
	// cross-instance presence view and the per-user connection cap.
	var rdb *redis.Client
	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	} else {
		log.Warn("redis not configured, presence and connection caps are process-local")
	}

	store := call.NewPostgresStore(db)
	directory := identity.NewPostgresDirectory(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	reg := registry.New()
	tracker := presence.NewTracker(rdb, cfg.Relay.MaxConnsPerUser, 2*cfg.Relay.PongTimeout)
	engine := relay.NewEngine(store, reg, directory, auditSvc, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		cfg:     cfg,
		db:      db,
		authMW:  auth.RequireAccessToken(authManager),
		engine:  engine,
		tracker: tracker,
		handlers: httpapi.Handlers{
			Auth:      authManager,
			Directory: directory,
			History:   history.NewService(store),
			Presence:  tracker,
			Registry:  reg,
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		// No ReadTimeout/WriteTimeout: they would kill long-lived websocket
		// connections. Per-frame deadlines are handled by the relay itself.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("relay listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
