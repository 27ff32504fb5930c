package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/digiscribe/internal/config"
	"github.com/ehr/digiscribe/internal/domain/coding"
	"github.com/ehr/digiscribe/internal/domain/taxonomy"
	"github.com/ehr/digiscribe/internal/platform/auth"
	"github.com/ehr/digiscribe/internal/platform/db"
	"github.com/ehr/digiscribe/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "digiscribe",
		Short:         "ICD-10 coding service for clinical notes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(codeCmd())
	rootCmd.AddCommand(taxonomyCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the coding API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// newLogger builds the process logger: console output in development, JSON
// otherwise, filtered at LOG_LEVEL.
func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// openPool connects to Postgres when the configuration names a database.
// It returns a nil pool when no database is configured.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	dsn := cfg.DatabaseURL
	if cfg.UsesDatabase() {
		dsn = cfg.TaxonomyDatabaseURL()
	}
	if dsn == "" {
		return nil, nil
	}
	return db.NewPool(ctx, dsn, cfg.DBMaxConns, cfg.DBMinConns)
}

// taxonomySource resolves TAXONOMY_SOURCE. pool must be non-nil for
// database sources.
func taxonomySource(cfg *config.Config, pool *pgxpool.Pool) (taxonomy.Source, error) {
	if !cfg.UsesDatabase() {
		return taxonomy.OpenFile(cfg.TaxonomySource)
	}
	if pool == nil {
		return nil, fmt.Errorf("TAXONOMY_SOURCE %q needs a database connection", cfg.TaxonomySource)
	}
	repo, err := taxonomy.NewRepoPG(pool, cfg.TaxonomyTable)
	if err != nil {
		return nil, err
	}
	return &taxonomy.RepositorySource{Repo: repo}, nil
}

// newEngine loads the taxonomy and builds the coding engine over it.
func newEngine(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*coding.Engine, error) {
	src, err := taxonomySource(cfg, pool)
	if err != nil {
		return nil, err
	}
	tree, err := taxonomy.Load(ctx, src)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str("source", tree.Source()).
		Str("version", tree.Version()).
		Int("nodes", tree.Len()).
		Msg("taxonomy loaded")

	return coding.NewEngine(tree, cfg.EngineOptions(), logger, coding.WithDescriptions(cfg.IndexDescriptions))
}

// newServer wires middleware, route groups and handlers. pool may be nil, in
// which case /health/db is not registered.
func newServer(cfg *config.Config, svc *coding.Service, pool *pgxpool.Pool, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.BatchBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	// API groups
	apiV1 := e.Group("/api/v1")
	fhirGroup := e.Group("/fhir")

	var authMW echo.MiddlewareFunc
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		authMW = auth.DevAuthMiddleware()
	} else {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		})
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	// Rate limiting keys on the authenticated user, so it runs after auth.
	for _, g := range []*echo.Group{apiV1, fhirGroup} {
		g.Use(authMW)
		g.Use(middleware.RateLimit(rateLimitCfg))
		g.Use(middleware.Audit(logger, nil))
	}

	engine := svc.Engine()

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":           "ok",
			"version":          version,
			"taxonomy_version": engine.Version(),
		})
	})

	coding.NewHandler(svc).RegisterRoutes(apiV1)

	taxonomyHandler := taxonomy.NewHandler(engine.Tree(), engine)
	taxonomyHandler.RegisterRoutes(apiV1, fhirGroup)
	e.GET("/health/taxonomy", taxonomyHandler.Health)

	if pool != nil {
		e.GET("/health/db", db.HealthHandler(pool))
	}

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		if cfg.UsesDatabase() {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		logger.Warn().Err(err).Msg("database unavailable, /health/db disabled")
		pool = nil
	}
	if pool != nil {
		defer pool.Close()
		logger.Info().Msg("connected to database")
	}

	// Taxonomy and engine. A taxonomy that fails to load means no codes can
	// be served, so start-up stops here.
	engine, err := newEngine(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load taxonomy")
	}

	svc, err := coding.NewService(engine, cfg.BatchWorkers, cfg.BatchMaxNotes, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start coding service")
	}
	defer svc.Close()

	e := newServer(cfg, svc, pool, logger)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

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
