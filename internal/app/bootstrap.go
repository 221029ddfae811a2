// Package app wires configuration, storage, and the HTTP route table.
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"contacts-api/internal/auth"
	"contacts-api/internal/cache"
	"contacts-api/internal/contact"
	"contacts-api/internal/db"
	"contacts-api/internal/mail"
	"contacts-api/internal/media"
	"contacts-api/internal/observability"
	"contacts-api/internal/user"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cloudinaryURL, err := mustEnv("CLOUDINARY_URL")
	if err != nil {
		return nil, err
	}
	resendAPIKey, err := mustEnv("RESEND_API_KEY")
	if err != nil {
		return nil, err
	}
	mailFrom, err := mustEnv("MAIL_FROM")
	if err != nil {
		return nil, err
	}
	baseURL := envOrDefault("APP_BASE_URL", "http://localhost:8080")

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), envOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret:     jwtSecret,
		Algorithm:  envOrDefault("JWT_ALGORITHM", "HS256"),
		AccessTTL:  envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		ConfirmTTL: envHoursOrDefault("CONFIRM_TOKEN_TTL_HOURS", 24),
		ResetTTL:   envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 15),
	})
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	cacheTTL := envMinutesOrDefault("USER_CACHE_TTL_MINUTES", 5)
	var userCache auth.UserCache
	var closeCache func() error
	if redisAddr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); redisAddr != "" {
		redisCache, err := cache.NewRedis(context.Background(), redisAddr, cacheTTL, logger)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		userCache = redisCache
		closeCache = redisCache.Close
	} else {
		userCache = auth.NewMemoryCache(cacheTTL)
	}

	userRepo := auth.NewRepository(database)
	mailer := mail.NewResend(resendAPIKey, mailFrom, baseURL)
	authService := auth.NewService(userRepo, tokens, mailer, userCache, logger)
	authService.RequireConfirmedEmail(envBoolOrDefault("LOGIN_REQUIRE_CONFIRMED_EMAIL", false))
	authHandler := auth.NewHandler(authService)

	cloudinaryClient, err := media.NewCloudinary(cloudinaryURL)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init cloudinary: %w", err)
	}
	userHandler := user.NewHandler(userRepo, cloudinaryClient, userCache)
	userHandler.RestrictAvatarToAdmins(envBoolOrDefault("AVATAR_ADMIN_ONLY", false))

	contactRepo := contact.NewRepository(database)
	contactHandler := contact.NewHandler(contactRepo)

	protected := auth.Middleware(tokens, userRepo, userCache)
	loginLimiter := auth.NewRateLimiter(
		envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 10),
		envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 60),
	)
	meLimiter := auth.NewRateLimiter(5, time.Minute)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", authHandler.Register)
	mux.Handle("POST /api/auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("GET /api/auth/confirmed_email/{token}", authHandler.ConfirmEmail)
	mux.HandleFunc("POST /api/auth/request_email", authHandler.RequestEmail)
	mux.HandleFunc("POST /api/auth/forgot_password", authHandler.ForgotPassword)
	mux.HandleFunc("GET /api/auth/reset_password/{token}", authHandler.ResetPasswordForm)
	mux.HandleFunc("POST /api/auth/reset_password/{token}", authHandler.ResetPassword)

	mux.Handle("GET /api/users/me", meLimiter.Middleware(protected(http.HandlerFunc(userHandler.Me))))
	mux.Handle("PATCH /api/users/avatar", protected(http.HandlerFunc(userHandler.UpdateAvatar)))

	mux.Handle("GET /api/contacts", protected(http.HandlerFunc(contactHandler.List)))
	mux.Handle("POST /api/contacts", protected(http.HandlerFunc(contactHandler.Create)))
	mux.Handle("GET /api/contacts/birthdays", protected(http.HandlerFunc(contactHandler.Birthdays)))
	mux.Handle("POST /api/contacts/seed", protected(http.HandlerFunc(contactHandler.Seed)))
	mux.Handle("GET /api/contacts/{id}", protected(http.HandlerFunc(contactHandler.Get)))
	mux.Handle("PUT /api/contacts/{id}", protected(http.HandlerFunc(contactHandler.Update)))
	mux.Handle("DELETE /api/contacts/{id}", protected(http.HandlerFunc(contactHandler.Delete)))

	mux.HandleFunc("GET /health", healthHandler(database))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			if closeCache != nil {
				_ = closeCache()
			}
			return database.Close()
		},
	}, nil
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func envBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// EnvBoolOrDefault is used by entrypoints outside this package.
func EnvBoolOrDefault(name string, fallback bool) bool {
	return envBoolOrDefault(name, fallback)
}
