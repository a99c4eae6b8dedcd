package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Islam-alshiki/Hospital-Management-System/internal/config"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/allocation"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/billing"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/domain/directory"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/auth"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/clock"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/db"
	"github.com/Islam-alshiki/Hospital-Management-System/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hms-server",
		Short: "Hospital bed allocation and billing API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert development fixtures (wards, rooms, patients, insurers)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			allocSvc := allocation.NewService(pool,
				allocation.NewWardRepoPG(pool),
				allocation.NewRoomRepoPG(pool),
				allocation.NewAssignmentRepoPG(pool),
				clock.System{})

			if err := runSeed(ctx, pool, allocSvc); err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Println("Seed data inserted.")
			return nil
		},
	}
}

// seedWards describes the development fixture layout: per ward, the
// room numbers with their bed counts and nightly rates.
func seedWards() []seedWard {
	return []seedWard{
		{
			Name: "General Ward A", Code: "GWA", WardType: "general",
			Rooms: []seedRoom{
				{Number: "101", Type: "general", Beds: 4, Rate: 100},
				{Number: "102", Type: "general", Beds: 4, Rate: 100},
				{Number: "103", Type: "semi_private", Beds: 2, Rate: 175},
			},
		},
		{
			Name: "Intensive Care", Code: "ICU", WardType: "icu",
			Rooms: []seedRoom{
				{Number: "201", Type: "icu", Beds: 1, Rate: 500},
				{Number: "202", Type: "icu", Beds: 1, Rate: 500},
			},
		},
		{
			Name: "Maternity", Code: "MAT", WardType: "maternity",
			Rooms: []seedRoom{
				{Number: "301", Type: "private", Beds: 1, Rate: 250},
				{Number: "302", Type: "private", Beds: 1, Rate: 250},
			},
		},
	}
}

type seedWard struct {
	Name     string
	Code     string
	WardType string
	Rooms    []seedRoom
}

type seedRoom struct {
	Number string
	Type   string
	Beds   int
	Rate   float64
}

func runSeed(ctx context.Context, pool *pgxpool.Pool, allocSvc *allocation.Service) error {
	for _, sw := range seedWards() {
		w := &allocation.Ward{
			ID:       uuid.New(),
			Name:     sw.Name,
			Code:     sw.Code,
			WardType: sw.WardType,
		}
		if err := allocSvc.CreateWard(ctx, w); err != nil {
			return fmt.Errorf("creating ward %s: %w", sw.Code, err)
		}
		for _, sr := range sw.Rooms {
			r := &allocation.Room{
				ID:         uuid.New(),
				WardID:     w.ID,
				RoomNumber: sr.Number,
				RoomType:   sr.Type,
				BedCount:   sr.Beds,
				DailyRate:  sr.Rate,
				Status:     allocation.RoomAvailable,
			}
			if err := allocSvc.CreateRoom(ctx, r); err != nil {
				return fmt.Errorf("creating room %s: %w", sr.Number, err)
			}
		}
	}

	patients := [][2]string{
		{"Ahmed", "Hassan"},
		{"Fatima", "Ali"},
		{"Omar", "Ibrahim"},
		{"Layla", "Mahmoud"},
	}
	for _, p := range patients {
		_, err := pool.Exec(ctx,
			`INSERT INTO patients (id, first_name, last_name, date_of_birth, gender)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New(), p[0], p[1], time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC), "unknown")
		if err != nil {
			return fmt.Errorf("creating patient %s %s: %w", p[0], p[1], err)
		}
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO insurance_providers (id, name, code, coverage_percentage, max_coverage, contract_start)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), "National Health Insurance", "NHI", 80.0, 5000.0,
		time.Now().UTC().AddDate(-1, 0, 0))
	if err != nil {
		return fmt.Errorf("creating insurance provider: %w", err)
	}
	return nil
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" || os.Getenv("ENV") == "" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", db.HealthHandler(pool))

	api := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api.Use(middleware.RateLimit(rateLimitCfg))

	clk := clock.System{}

	// Bed allocation domain
	wardRepo := allocation.NewWardRepoPG(pool)
	roomRepo := allocation.NewRoomRepoPG(pool)
	assignRepo := allocation.NewAssignmentRepoPG(pool)
	allocSvc := allocation.NewService(pool, wardRepo, roomRepo, assignRepo, clk)
	allocation.NewHandler(allocSvc).RegisterRoutes(api)

	// Directory lookups (patients, insurance providers)
	patientRepo := directory.NewPatientRepoPG(pool)
	providerRepo := directory.NewProviderRepoPG(pool)
	directory.NewHandler(patientRepo, providerRepo).RegisterRoutes(api)

	// Billing domain, reading stays from allocation and insurer terms
	// from the directory
	billRepo := billing.NewBillRepoPG(pool)
	ledgerRepo := billing.NewLedgerRepoPG(pool)
	billSvc := billing.NewService(pool, billRepo, ledgerRepo, allocSvc, providerRepo, patientRepo, clk)
	billing.NewHandler(billSvc).RegisterRoutes(api)

	// Start server with graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("forced shutdown")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
