package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ecgvault/ecgvault/internal/config"
	"github.com/ecgvault/ecgvault/internal/domain/exam"
	"github.com/ecgvault/ecgvault/internal/domain/patient"
	"github.com/ecgvault/ecgvault/internal/platform/auth"
	"github.com/ecgvault/ecgvault/internal/platform/blobstore"
	"github.com/ecgvault/ecgvault/internal/platform/db"
	"github.com/ecgvault/ecgvault/internal/platform/hipaa"
	"github.com/ecgvault/ecgvault/internal/platform/middleware"
)

// routeRegistrar is implemented by every HTTP handler mounted under /api/v1.
type routeRegistrar interface {
	RegisterRoutes(g *echo.Group)
}

func runServer(cfg *config.Config, logger zerolog.Logger) error {
	warnings, err := cfg.Validate()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, w := range warnings {
		logger.Warn().Msg(w)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	cipher, err := hipaa.NewFieldCipherFromKey(cfg.FieldEncryptionKey, logger)
	if err != nil {
		return err
	}

	objects, err := objectStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	recorder := hipaa.NewAuditRecorder(hipaa.NewAuditStorePG(pool), logger)
	defer recorder.Flush()

	patients := patient.NewService(patient.NewStorePG(pool), cipher, recorder, logger)
	exams := exam.NewService(exam.NewStorePG(pool), cipher, patients, objects, recorder, logger)

	e := newEcho(cfg, logger, db.PoolHealth{Pool: pool},
		patient.NewHandler(patients),
		exam.NewHandler(exams),
		hipaa.NewAuditHandler(recorder),
	)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func objectStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (blobstore.ObjectStore, error) {
	if cfg.S3Bucket == "" {
		logger.Warn().Msg("using in-memory object store")
		return blobstore.NewMemoryStore(), nil
	}
	store, err := blobstore.NewS3StoreFromConfig(ctx, blobstore.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("bucket", cfg.S3Bucket).Msg("exam files stored in s3")
	return store, nil
}

func newEcho(cfg *config.Config, logger zerolog.Logger, health db.HealthSource, handlers ...routeRegistrar) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.SecureWithConfig(echomw.SecureConfig{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "DENY",
		HSTSMaxAge:         31536000,
	}))
	e.Use(echomw.BodyLimit("2M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health/db", db.HealthHandler(health))

	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.JWTSigningKey),
	}
	authMW := auth.JWTMiddleware(jwtCfg)
	if cfg.IsDev() {
		authMW = auth.DevAuthMiddleware(jwtCfg)
	}

	api := e.Group("/api/v1", authMW)
	for _, h := range handlers {
		h.RegisterRoutes(api)
	}
	return e
}
