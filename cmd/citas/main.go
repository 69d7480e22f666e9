package main

import (
	"context"
	"encoding/json"
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

	"github.com/ehr/citas/internal/config"
	"github.com/ehr/citas/internal/domain/scheduling"
	"github.com/ehr/citas/internal/platform/apiclient"
	"github.com/ehr/citas/internal/platform/auth"
	"github.com/ehr/citas/internal/platform/cache"
	"github.com/ehr/citas/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "citas",
		Short: "Appointment slot gateway for the clinic API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(slotsCmd())
	rootCmd.AddCommand(nextDateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func slotsCmd() *cobra.Command {
	var (
		doctorID      string
		appointmentID string
		todayFlag     string
		freeOnly      bool
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Print a doctor's slots for the coming week",
		RunE: func(cmd *cobra.Command, args []string) error {
			today, err := parseToday(todayFlag)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, cmd.ErrOrStderr())
			svc, closeFn := buildService(cmd.Context(), cfg, logger)
			defer closeFn()

			list, err := svc.Slots(cmd.Context(), scheduling.SlotQuery{
				DoctorID:             doctorID,
				ExcludeAppointmentID: appointmentID,
				Today:                today,
				FreeOnly:             freeOnly,
			})
			if err != nil && !errors.Is(err, scheduling.ErrNoSchedules) {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&doctorID, "doctor", "", "doctor id")
	cmd.Flags().StringVar(&appointmentID, "appointment", "", "appointment being edited; its slot is not counted as occupied")
	cmd.Flags().StringVar(&todayFlag, "today", "", "reference date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&freeOnly, "free", false, "only print free slots")
	cmd.MarkFlagRequired("doctor")
	return cmd
}

func nextDateCmd() *cobra.Command {
	var todayFlag string
	cmd := &cobra.Command{
		Use:   "next-date WEEKDAY",
		Short: "Print the next date falling on WEEKDAY, never today",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			today, err := parseToday(todayFlag)
			if err != nil {
				return err
			}
			if today.IsZero() {
				today = time.Now()
			}
			w, err := scheduling.NormalizeWeekday(args[0])
			if err != nil {
				return err
			}
			date, err := scheduling.ResolveNextDate(w, today)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), date)
			return nil
		},
	}
	cmd.Flags().StringVar(&todayFlag, "today", "", "reference date YYYY-MM-DD (default: today)")
	return cmd
}

func parseToday(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(scheduling.DateLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("--today must be formatted YYYY-MM-DD: %w", err)
	}
	return t, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	logger := zerolog.New(out).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// newCacheStore uses Redis when REDIS_URL is set and reachable, and an
// in-process store otherwise.
func newCacheStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Store, func()) {
	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		store, err := cache.NewRedisStore(pingCtx, cfg.RedisURL, "citas:")
		if err == nil {
			logger.Info().Msg("reference data cached in redis")
			return store, func() { store.Close() }
		}
		logger.Warn().Err(err).Msg("redis unavailable, falling back to in-memory cache")
	}
	cleanupCtx, cancel := context.WithCancel(context.Background())
	store := cache.NewMemoryStore()
	store.StartCleanup(cleanupCtx, time.Minute)
	return store, cancel
}

func buildService(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*scheduling.Service, func()) {
	store, closeFn := newCacheStore(ctx, cfg, logger)
	client := apiclient.New(cfg.APIBaseURL,
		apiclient.WithTimeout(cfg.HTTPTimeout),
		apiclient.WithMaxRetries(cfg.APIMaxRetries),
		apiclient.WithStaticToken(cfg.APIToken),
		apiclient.WithTokenSource(auth.TokenFromContext),
		apiclient.WithCache(store, cfg.CacheTTL),
		apiclient.WithAvailabilityCreatePath(cfg.AvailabilityCreatePath),
		apiclient.WithLogger(logger.With().Str("component", "apiclient").Logger()),
	)
	svc := scheduling.NewService(client, logger.With().Str("component", "scheduling").Logger())
	return svc, closeFn
}

func newServer(cfg *config.Config, logger zerolog.Logger, svc *scheduling.Service) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))

	// Auth middleware
	jwtCfg := auth.JWTConfig{SigningKey: []byte(cfg.AuthSecret), Skipper: auth.AuthSkipper}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(cfg.HTTPTimeout * time.Duration(cfg.APIMaxRetries+2)))

	scheduling.NewHandler(svc).RegisterRoutes(apiV1)
	return e
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	svc, closeFn := buildService(context.Background(), cfg, logger)
	defer closeFn()

	e := newServer(cfg, logger, svc)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("api_base_url", cfg.APIBaseURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
