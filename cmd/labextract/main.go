package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/labextract/labextract/internal/config"
	"github.com/labextract/labextract/internal/domain/labreport"
	"github.com/labextract/labextract/internal/platform/auth"
	"github.com/labextract/labextract/internal/platform/blobstore"
	"github.com/labextract/labextract/internal/platform/db"
	"github.com/labextract/labextract/internal/platform/hl7v2"
	"github.com/labextract/labextract/internal/platform/labparse"
	"github.com/labextract/labextract/internal/platform/middleware"
	"github.com/labextract/labextract/internal/platform/websocket"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "labextract",
		Short:         "Romanian laboratory report extraction service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(labsCmd())
	rootCmd.AddCommand(compareCmd())
	rootCmd.AddCommand(migrateCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the extraction API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// newEngine builds the extraction engine, extending the built-in vocabulary
// with cfg.VocabularyFile when set.
func newEngine(cfg *config.Config) (*labparse.Engine, error) {
	var vocab *labparse.Vocabulary
	if cfg.VocabularyFile != "" {
		f, err := os.Open(cfg.VocabularyFile)
		if err != nil {
			return nil, fmt.Errorf("open vocabulary: %w", err)
		}
		defer f.Close()
		vocab, err = labparse.LoadVocabulary(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cfg.VocabularyFile, err)
		}
	}
	return labparse.New(cfg.EngineOptions(), vocab), nil
}

// openStore connects the configured report store. The returned close
// function releases it.
func openStore(ctx context.Context, cfg *config.Config) (labreport.ReportRepository, db.Checker, func(), error) {
	switch cfg.Store {
	case config.StoreSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		repo, err := labreport.NewReportRepoSQLite(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		return repo, db.SQLChecker{DB: conn}, func() { conn.Close() }, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, nil, err
		}
		return labreport.NewReportRepoPG(pool), pool, pool.Close, nil
	}
}

// openArchive returns the configured document archive, or nil when
// archiving is disabled.
func openArchive(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveDir:
		return blobstore.NewDirStore(cfg.ArchiveDir)
	case config.ArchiveS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Prefix:   cfg.S3Prefix,
			Endpoint: cfg.S3Endpoint,
		})
	default:
		return nil, nil
	}
}

// newServer assembles the HTTP server around svc.
func newServer(cfg *config.Config, svc *labreport.Service, hub *websocket.Hub, checker db.Checker, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadLimit, "/api/v1/lab-reports"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeoutDuration()))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(cfg.Store, checker))

	// API group
	apiV1 := e.Group("/api/v1")
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtCfg))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	labreport.NewHandler(svc).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).
		RegisterRoutes(apiV1.Group("", auth.RequireRole("physician", "nurse", "lab_tech")))
	return e
}

func runServer() error {
	// Config
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: requests without a token run as dev-user with the admin role")
	}

	engine, err := newEngine(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load vocabulary")
		return err
	}
	logger.Info().Int("laboratories", len(engine.Laboratories())).Msg("extraction engine ready")

	// Store
	ctx := context.Background()
	reports, checker, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("failed to open report store")
		return err
	}
	defer closeStore()
	logger.Info().Str("store", cfg.Store).Msg("connected to report store")

	svc := labreport.NewService(reports, engine, logger)
	var fwd labreport.Forwarder
	if cfg.HL7ForwardAddr != "" {
		fwd = hl7v2.NewMLLPClient(cfg.HL7ForwardAddr, cfg.HL7Timeout())
		logger.Info().Str("addr", cfg.HL7ForwardAddr).Msg("HL7 forwarding enabled")
	}
	svc.SetHL7(cfg.ORUOptions(), fwd)

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.ArchiveBackend).Msg("failed to open document archive")
		return err
	}
	if archive != nil {
		svc.SetArchive(archive)
		logger.Info().Str("backend", cfg.ArchiveBackend).Msg("document archive enabled")
	}

	hub := websocket.NewHub(logger)
	svc.SetPublisher(hub)

	e := newServer(cfg, svc, hub, checker, logger)

	// Graceful shutdown
	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
