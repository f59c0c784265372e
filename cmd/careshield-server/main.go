package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/careshield/careshield/internal/config"
	"github.com/careshield/careshield/internal/domain/auditevent"
	"github.com/careshield/careshield/internal/domain/sanitizer"
	"github.com/careshield/careshield/internal/platform/audit"
	"github.com/careshield/careshield/internal/platform/auth"
	"github.com/careshield/careshield/internal/platform/db"
	"github.com/careshield/careshield/internal/platform/hipaa"
	"github.com/careshield/careshield/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "careshield-server",
		Short: "PHI-safe request security server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(fileCmd())

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
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
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
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage encryption keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a new 256-bit PHI encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			fmt.Println(hex.EncodeToString(key))
			return nil
		},
	})

	return cmd
}

func fileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Encrypt or decrypt files at rest",
	}

	newFileEncryptor := func() (*hipaa.FileEncryptor, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		key, err := hex.DecodeString(cfg.PHIEncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("decode PHI_ENCRYPTION_KEY: %w", err)
		}
		return hipaa.NewFileEncryptor(key)
	}

	encryptCmd := &cobra.Command{
		Use:   "encrypt <src> <dst>",
		Short: "Encrypt a file and delete the plaintext source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fe, err := newFileEncryptor()
			if err != nil {
				return err
			}
			if err := fe.EncryptFile(args[0], args[1]); err != nil {
				return fmt.Errorf("encrypt file: %w", err)
			}
			fmt.Printf("Encrypted %s -> %s (source removed)\n", args[0], args[1])
			return nil
		},
	}
	cmd.AddCommand(encryptCmd)

	decryptCmd := &cobra.Command{
		Use:   "decrypt <src> <dst>",
		Short: "Decrypt a previously encrypted file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fe, err := newFileEncryptor()
			if err != nil {
				return err
			}
			if err := fe.DecryptFile(args[0], args[1]); err != nil {
				return fmt.Errorf("decrypt file: %w", err)
			}
			fmt.Printf("Decrypted %s -> %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.AddCommand(decryptCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Encryption stack. Startup fails without a valid key; there is no mode
	// in which PHI flows through unencrypted.
	encSvc, err := hipaa.NewEncryptionService(cfg.PHIEncryptionKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize encryption service")
	}
	registry, err := hipaa.NewRegistry(encSvc, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize field mapping registry")
	}
	detector := hipaa.NewDetector(logger)

	// Audit pipeline: persistence sits behind a bounded queue so request
	// latency never includes an audit write.
	auditRepo := auditevent.NewRepoPG(pool)
	auditSvc := auditevent.NewService(auditRepo, logger)
	pipeline := audit.NewPipeline(auditSvc, logger, cfg.AuditQueueSize)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.Correlation())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.BodyLimitBytes))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.CorrelationHeader},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthJWTSecret)))
	}

	e.Use(middleware.Audit(logger, pipeline, registry))

	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	sanitizerHandler := sanitizer.NewHandler(detector)
	sanitizerHandler.RegisterRoutes(apiV1)

	auditHandler := auditevent.NewHandler(auditSvc)
	adminGroup := apiV1.Group("", auth.RequireRole("admin", "security-officer"))
	auditHandler.RegisterRoutes(adminGroup)

	// Start server
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Drain queued audit events before releasing the pool.
	if err := pipeline.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("audit pipeline drain timed out")
	}

	logger.Info().Msg("server stopped")
	return nil
}
