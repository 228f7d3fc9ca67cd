package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"userprofile/internal/api"
	"userprofile/internal/auth"
	"userprofile/internal/config"
	"userprofile/internal/filestore"
	"userprofile/internal/gate"
	"userprofile/internal/identity"
	"userprofile/internal/logging"
	"userprofile/internal/mail"
	"userprofile/internal/profile"
	"userprofile/internal/redis"
	"userprofile/internal/reset"
	"userprofile/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zl, err := logging.NewZapLogger(cfg.BasicConfig.Debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zl.Sync()
	var logger logging.Logger = zl

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbType := cfg.BasicConfig.Database
	logger.Info(ctx, "opening database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		logger.Error(ctx, "open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Create necessary tables: users, user_tokens, password_reset_tokens, user_profiles
	if err := storage.Migrate(ctx, db); err != nil {
		logger.Error(ctx, "migrate database", "error", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Error(ctx, "connect redis", "addr", cfg.Redis.Addr(), "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var backend filestore.Backend
	switch cfg.Storage.Backend {
	case config.StorageS3:
		backend, err = filestore.NewS3Backend(ctx, cfg.Storage)
	default:
		backend, err = filestore.NewDiskBackend(cfg.BasicConfig.UploadDir)
	}
	if err != nil {
		logger.Error(ctx, "init file storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	store := filestore.NewStore(backend, cfg.BasicConfig.DefaultPictureURL)

	policy := gate.PolicyFromConfig(cfg.Gate)
	authService := auth.NewService(db, rdb, cfg.TokenTTL(), logger)
	purgers := []identity.Purger{authService}

	// redis expires idle gate sessions itself; the in-process gate needs the cleaner
	var uploadGate gate.Gate
	if rdb != nil {
		uploadGate = gate.NewRedisGate(rdb, policy, gate.DefaultIdleTTL)
	} else {
		memGate := gate.NewMemoryGate(policy)
		uploadGate = memGate
		purgers = append(purgers, memGate)
	}

	provider := identity.NewProvider(db, []byte(cfg.JWTSecret), cfg.ResetTokenTTL(), authService, logger)
	provider.StartCleaner(ctx, cfg.CleanInterval(), purgers...)

	var sender mail.Sender
	if cfg.SMTP.Host != "" {
		smtpSender, err := mail.NewSMTPSender(cfg.SMTP)
		if err != nil {
			logger.Error(ctx, "init smtp sender", "error", err)
			os.Exit(1)
		}
		sender = smtpSender
	} else {
		logger.Warn(ctx, "smtp not configured, reset emails are only logged")
		sender = mail.NewLogSender(logger)
	}
	flow := reset.NewFlow(provider, sender, cfg.BasicConfig.PublicBaseURL, logger)

	profiles := profile.NewService(profile.NewSQLRepository(db), store, uploadGate, logger)
	handlers := api.NewHandler(provider, authService, profiles, flow, logger)

	if !cfg.BasicConfig.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestContext(logger))
	if err := handlers.RegisterRoutes(router); err != nil {
		logger.Error(ctx, "register routes", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info(ctx, "server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "graceful shutdown", "error", err)
	}
	logger.Info(shutdownCtx, "server stopped")
}
