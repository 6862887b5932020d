package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/checkin/internal/config"
	"github.com/ehr/checkin/internal/domain/clinical"
	"github.com/ehr/checkin/internal/domain/completion"
	"github.com/ehr/checkin/internal/domain/insurance"
	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/domain/submission"
	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/auth"
	"github.com/ehr/checkin/internal/platform/blobstore"
	"github.com/ehr/checkin/internal/platform/db"
	"github.com/ehr/checkin/internal/platform/middleware"
	"github.com/ehr/checkin/internal/platform/notification"
	"github.com/ehr/checkin/internal/platform/telemetry"
)

const (
	serviceName    = "checkin-server"
	serviceVersion = "0.1.0"

	// uploadBodyLimit covers two 5MB card images plus form fields.
	uploadBodyLimit = "12M"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   serviceName,
		Short: "Patient check-in API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the check-in API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		ApplicationName: serviceName,
		ConnectTimeout:  10 * time.Second,
	})
}

// memoryStore answers health checks for the in-memory driver.
type memoryStore struct{}

func (memoryStore) Ping(context.Context) error { return nil }

// deps is everything the HTTP layer needs, chosen by the configured drivers.
type deps struct {
	patients    patient.Repository
	insurance   insurance.Repository
	clinical    clinical.Repository
	completions completion.Repository
	submissions submission.Repository
	store       db.Pinger
	pool        *pgxpool.Pool
	blobs       blobstore.BlobStore
	sender      notification.EmailSender

	closers []func() error
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{}

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pool, err := connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		d.pool = pool
		d.store = pool
		d.patients = patient.NewPatientRepoPG(pool)
		d.insurance = insurance.NewInsuranceRepoPG(pool)
		d.clinical = clinical.NewClinicalRepoPG(pool)
		d.completions = completion.NewCompletionRepoPG(pool)
		d.submissions = submission.NewSubmissionRepoPG(pool)
		logger.Info().Msg("connected to database")
	default:
		patients := patient.NewMemoryRepo()
		ins := insurance.NewMemoryRepo()
		forms := clinical.NewMemoryRepo()
		comps := completion.NewMemoryRepo()
		d.store = memoryStore{}
		d.patients = patients
		d.insurance = ins
		d.clinical = forms
		d.completions = comps
		d.submissions = submission.NewMemoryRepo(patients, ins, forms, comps)
		logger.Warn().Msg("using in-memory store; data is lost on restart")
	}

	switch cfg.UploadDriver {
	case config.UploadDriverS3:
		s3, err := blobstore.NewS3BlobStore(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
		d.blobs = s3
	case config.UploadDriverMemory:
		d.blobs = blobstore.NewInMemoryBlobStore()
	default:
		disk, err := blobstore.NewDiskBlobStore(cfg.UploadDir)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("disk blob store: %w", err)
		}
		d.blobs = disk
	}

	switch cfg.NotifyDriver {
	case config.NotifyDriverKafka:
		k := notification.NewKafkaSender(cfg.KafkaBrokers, cfg.KafkaTopic)
		d.closers = append(d.closers, k.Close)
		d.sender = k
	default:
		d.sender = notification.NewLogSender(logger)
	}

	return d, nil
}

func healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message":   "Patient Check-in API is running",
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// newServer wires middleware and routes. tp may be nil.
func newServer(cfg *config.Config, logger zerolog.Logger, d *deps, tp *telemetry.TelemetryProvider) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger, cfg.IsDev())

	// Global middleware
	e.Use(middleware.RequestID())
	if tp != nil {
		e.Use(tp.TracingMiddleware())
		e.Use(tp.MetricsMiddleware())
	}
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimit, uploadBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	api := e.Group("/api")

	api.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	// Health checks
	e.GET("/health", healthHandler)
	api.GET("/health", healthHandler)
	e.GET("/health/db", db.HealthHandler(d.store, cfg.StoreDriver))
	if tp != nil {
		e.GET("/metrics", tp.PrometheusHandler())
	}

	admin := api.Group("/admin")
	if cfg.IsDev() && cfg.AdminJWTSecret == "" {
		admin.Use(auth.DevAuthMiddleware())
	} else {
		admin.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AdminJWTIssuer,
			SigningKey: []byte(cfg.AdminJWTSecret),
		}))
	}
	admin.Use(auth.RequireRole(auth.RoleStaff, auth.RoleAdmin))

	// Check-in steps
	patientSvc := patient.NewService(d.patients)
	patient.NewHandler(patientSvc, logger).RegisterRoutes(api)

	insuranceSvc := insurance.NewService(d.insurance, d.patients, d.blobs, logger)
	insuranceHandler := insurance.NewHandler(insuranceSvc, d.blobs, logger)
	insuranceHandler.RegisterRoutes(api)
	insuranceHandler.RegisterAdminRoutes(admin)

	clinicalSvc := clinical.NewService(d.clinical, d.patients)
	clinical.NewHandler(clinicalSvc, logger).RegisterRoutes(api)

	notifier := notification.NewManager(d.sender, nil)
	completionSvc := completion.NewService(d.completions, d.patients, notifier, logger)
	completion.NewHandler(completionSvc, logger).RegisterRoutes(api)

	// Admin view
	submission.NewHandler(d.submissions, logger).RegisterRoutes(admin)

	return e
}

// rateLimitConfig fills unset or non-positive limits from the defaults. A
// zero burst would refuse every request.
func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := newLogger(false)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tp, err := telemetry.NewTelemetryProvider(ctx, telemetry.TelemetryConfig{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTelEndpoint,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start telemetry")
	}
	tp.Install()

	d, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize stores")
	}
	defer d.Close()

	if d.pool != nil {
		pool := d.pool
		go tp.RunPoolGauges(ctx, func() (int64, int64) {
			st := pool.Stat()
			return int64(st.AcquiredConns()), int64(st.IdleConns())
		})
	}

	e := newServer(cfg, logger, d, tp)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().
			Str("addr", addr).
			Str("store", cfg.StoreDriver).
			Str("uploads", cfg.UploadDriver).
			Str("notify", cfg.NotifyDriver).
			Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token signed with ADMIN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AdminJWTIssuer,
				SigningKey: []byte(cfg.AdminJWTSecret),
			}, subject, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "front-desk", "Token subject")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleStaff}, "Roles granted by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "Token lifetime")
	return cmd
}
