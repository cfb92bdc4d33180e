package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/background"
	"github.com/ks-hl/snailpoints/internal/clock"
	"github.com/ks-hl/snailpoints/internal/config"
	"github.com/ks-hl/snailpoints/internal/database"
	"github.com/ks-hl/snailpoints/internal/handlers"
	"github.com/ks-hl/snailpoints/internal/kvstore"
	middlewareCustom "github.com/ks-hl/snailpoints/internal/middleware"
	"github.com/ks-hl/snailpoints/internal/models"
	"github.com/ks-hl/snailpoints/internal/repositories"
	"github.com/ks-hl/snailpoints/internal/routes"
	"github.com/ks-hl/snailpoints/internal/services"
	"github.com/ks-hl/snailpoints/internal/throttle"
	pkgauth "github.com/ks-hl/snailpoints/pkg/auth"
	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Migrate(migrateCtx)
	migrateCancel()
	if err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	banStore, closeBans, err := newBanStore(cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize ban store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeBans()

	clk := clock.NewSystem()
	sec := cfg.Security
	storeConfig := kvstore.MemoryConfig{Shards: kvstore.DefaultShards, Ceiling: sec.ContentionCeiling}

	// Login throttling
	loginTiming := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   sec.LoginMinDelay,
		RandomDelay: sec.LoginRandomDelay,
	}, clk)
	guard := services.NewLoginGuard(accountRepo, accountRepo, banStore, loginTiming, clk, services.LoginGuardConfig{
		LockWait: sec.LockWait,
		Windows: []services.RateWindow{
			{Limit: sec.ShortWindowLimit, Window: sec.ShortWindow},
			{Limit: sec.LongWindowLimit, Window: sec.LongWindow},
		},
		BanThreshold:    sec.BanThreshold,
		WindowRetention: max(sec.ShortWindow, sec.LongWindow),
		Locks: throttle.LockRegistryConfig{
			IdleTimeout: sec.LockIdleTimeout,
			Capacity:    sec.LockCapacity,
			Ceiling:     sec.ContentionCeiling,
		},
		Store: storeConfig,
	}, logger)

	// Challenges
	challenges := services.NewChallengeStore(services.ChallengeStoreConfig{
		TTL:         sec.ChallengeTTL,
		MaxAttempts: sec.MaxVerifyAttempts,
		Store:       storeConfig,
	}, clk, logger)
	gate := services.NewResendGate(sec.ResendCooldown, kvstore.NewMemoryStore[time.Time](storeConfig), clk)

	mail, err := newMailTransport(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize email transport", slog.Any("error", err))
		os.Exit(1)
	}

	issuer, err := services.NewChallengeIssuer(gate, challenges, mail, services.ChallengeIssuerConfig{
		ProductName:  cfg.Email.ProductName,
		ResetURLBase: cfg.Email.ResetURLBase,
		CodeTTL:      sec.ChallengeTTL,
	}, logger)
	if err != nil {
		logger.Error("failed to initialize challenge issuer", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize token manager
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)

	// Initialize services
	forgotTiming := auth.NewTimingDelay(auth.TimingConfig{BaseDelay: sec.ForgotPasswordDelay}, clk)
	authService := services.NewAuthService(accountRepo, guard, issuer, tokenManager, cfg.Auth.BcryptCost, logger)
	verificationService := services.NewEmailVerificationService(accountRepo, challenges, issuer, logger)
	resetService := services.NewPasswordResetService(accountRepo, guard, challenges, issuer, forgotTiming, clk, cfg.Auth.BcryptCost, logger)
	accountService := services.NewAccountService(accountRepo, logger)
	adminService := services.NewAdminService(accountRepo, guard, banStore, cfg.Auth.BcryptCost, logger)

	// Initialize handlers
	ipConfig := pkghttp.NewIPConfig(cfg.Server.TrustedProxies)
	authHandler := handlers.NewAuthHandler(authService, verificationService, resetService, accountService, ipConfig)
	adminHandler := handlers.NewAdminHandler(adminService)

	// Bootstrap first admin account if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminAccount(ctx, accountRepo, cfg.Auth.BcryptCost, logger); err != nil {
		logger.Error("failed to ensure admin account", slog.Any("error", err))
	}
	cancel()

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(logger, sec.CleanupInterval,
		background.CleanupTask{Name: "login_state", Run: guard.Sweep},
		background.CleanupTask{Name: "challenges", Run: challenges.Prune},
		background.CleanupTask{Name: "resend_gate", Run: func(ctx context.Context) error {
			_, err := gate.Sweep(ctx)
			return err
		}},
	)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.RejectBanned(banStore, ipConfig, logger))
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// Register routes
	routes.RegisterRoutes(router, authHandler, adminHandler, tokenManager, accountRepo,
		middlewareCustom.RateLimitConfig{
			Requests: cfg.Server.AuthRequestsPerWindow,
			Window:   cfg.Server.AuthRequestWindow,
		}, ipConfig)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newBanStore returns the configured ban backend and a func releasing its resources
func newBanStore(cfg *config.Config, db *database.DB, logger *slog.Logger) (repositories.BanStore, func(), error) {
	if cfg.Bans.Backend != "redis" {
		return repositories.NewBannedAddressRepository(db), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
	}

	logger.Info("using redis ban store", slog.String("addr", cfg.Redis.Addr))
	return repositories.NewRedisBanRepository(client), func() { client.Close() }, nil
}

func newMailTransport(cfg *config.Config, logger *slog.Logger) (services.MailTransport, error) {
	if cfg.Email.Transport == "ses" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return services.NewSESMailTransport(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
	}

	logger.Warn("emails are logged, not sent")
	return services.NewLogMailTransport(logger), nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ensureAdminAccount creates the first admin account if ADMIN_USERNAME, ADMIN_EMAIL and
// ADMIN_PASSWORD are set
func ensureAdminAccount(ctx context.Context, repo *repositories.AccountRepository, bcryptCost int, logger *slog.Logger) error {
	username := os.Getenv("ADMIN_USERNAME")
	email := os.Getenv("ADMIN_EMAIL")
	password := os.Getenv("ADMIN_PASSWORD")

	if username == "" || email == "" || password == "" {
		logger.Info("no ADMIN_USERNAME, ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin account creation")
		return nil
	}

	// Check if admin already exists
	_, err := repo.GetByUsername(ctx, username)
	if err == nil {
		logger.Info("admin account already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return fmt.Errorf("admin password rejected: %w", err)
	}

	hashedPassword, err := pkgauth.HashPasswordWithCost(password, bcryptCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	_, err = repo.Create(ctx, &models.Account{
		Username:     username,
		Email:        email,
		PasswordHash: hashedPassword,
		Validated:    true,
		Admin:        true,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	logger.Info("admin account created")
	return nil
}
