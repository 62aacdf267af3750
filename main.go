package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CharterXO/CXO-App-Directory/internal/audit"
	"github.com/CharterXO/CXO-App-Directory/internal/auth"
	"github.com/CharterXO/CXO-App-Directory/internal/config"
	"github.com/CharterXO/CXO-App-Directory/internal/metrics"
	"github.com/CharterXO/CXO-App-Directory/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

// janitorInterval is how often the in-process limiter evicts idle buckets.
const janitorInterval = time.Minute

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	applied, err := ps.Migrate(ctx, migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations complete", "applied", applied)

	// Background workers stop when run() returns.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	// Redis is optional. With it, every replica shares rate limit buckets and audit
	// writes go through the queue; without it, both stay in this process.
	var (
		limiter auth.RateLimiter
		sink    auth.AuditSink = ps
		cache   auth.HealthChecker
	)
	if cfg.RedisURL != "" {
		rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to set up redis client: %w", err)
		}
		defer rdb.Close()

		rl := store.NewRedisRateLimiter(rdb)
		limiter, cache = rl, rl

		q := audit.NewQueuedSink(ps, rdb, int64(cfg.AuditQueueMax))
		workerDone := make(chan struct{})
		go func() {
			defer close(workerDone)
			q.StartWorker(bgCtx)
		}()
		// Runs before rdb.Close: the worker must be gone before its client is.
		defer func() {
			cancelBg()
			<-workerDone
		}()
		sink = q
	} else {
		slog.Warn("REDIS_URL not set; rate limiting is per instance and audit writes are synchronous")
		ml := store.NewMemoryRateLimiter()
		go ml.StartJanitor(bgCtx, janitorInterval)
		limiter = ml
	}

	reg := prometheus.NewRegistry()
	gw := newGateway(cfg, ps, ps, limiter, sink, metrics.NewCollector(reg))

	if cfg.BootstrapAdminUsername != "" {
		created, err := gw.EnsureBootstrapAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword)
		if err != nil {
			return fmt.Errorf("failed to seed bootstrap admin: %w", err)
		}
		if created {
			slog.Warn("bootstrap admin created; change its password on first login", "username", cfg.BootstrapAdminUsername)
		}
	}

	h := newHandler(cfg, gw, ps, cache)

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Session cleanup goroutine; removes sessions expired longer than the retention ago.
	go func() {
		ticker := time.NewTicker(cfg.SessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := ps.CleanupExpiredSessions(bgCtx, cfg.SessionCleanupRetention)
				if err != nil {
					slog.Warn("session cleanup failed", "error", err)
				} else {
					slog.Info("session cleanup complete", "deleted", n)
				}
			case <-bgCtx.Done():
				return
			}
		}
	}()

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("auth service listening", "addr", ln.Addr().String(), "app", cfg.AppName)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting connections and waits for in-flight requests.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// newGateway builds the Gateway from config. Stores are parameters so smoke tests
// can pass in-memory mocks.
func newGateway(cfg *config.Config, accounts auth.AccountStore, sessions auth.SessionStore,
	limiter auth.RateLimiter, sink auth.AuditSink, m auth.Metrics) *auth.Gateway {
	return &auth.Gateway{
		Accounts: accounts,
		Sessions: sessions,
		Limiter:  limiter,
		Audit:    sink,
		Metrics:  m,
		Lockout: auth.LockoutPolicy{
			Threshold: cfg.LockoutThreshold,
			Duration:  cfg.LockoutDuration,
		},
		Policy: auth.PasswordPolicy{
			MinLength:        cfg.PasswordMinLength,
			MaxLength:        cfg.PasswordMaxLength,
			RequireUppercase: cfg.PasswordRequireUpper,
			RequireDigit:     cfg.PasswordRequireDigit,
			RequireSpecial:   cfg.PasswordRequireSpecial,
		},
		TempPasswords: auth.TempPasswordPolicy{
			Length:  cfg.TempPasswordLength,
			Charset: cfg.TempPasswordCharset,
		},
		LoginLimit: store.RateLimit{MaxAttempts: cfg.RateLoginMax, Window: cfg.RateLoginWindow},
		SessionTTL: cfg.SessionTTL,
	}
}

// newHandler wraps gw with the cookie settings from cfg. cache is nil without Redis.
func newHandler(cfg *config.Config, gw *auth.Gateway, db auth.HealthChecker, cache auth.HealthChecker) *auth.AuthHandler {
	cookies := auth.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
	return &auth.AuthHandler{
		GW:      gw,
		Cookies: cookies,
		CSRF:    auth.CSRFGuard{Cookies: cookies},
		AppName: cfg.AppName,
		DB:      db,
		Cache:   cache,
	}
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.AuthHandler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(auth.SecurityHeaders)

	r.Get("/health", h.CheckHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	r.Route("/auth", func(r chi.Router) {
		// Login and logout check CSRF inside the gateway; no session is required.
		r.Get("/csrf", h.IssueCSRF)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		// Reachable while a password change is pending.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession(auth.Requirement{AllowPasswordChange: true}))
			r.Get("/session", h.CurrentSession)
			r.Post("/change-password", h.ChangePassword)
		})
	})

	r.Route("/admin/users/{id}", func(r chi.Router) {
		r.Use(h.RequireSession(auth.Requirement{Role: store.RoleSuperAdmin}))
		r.Use(h.CSRFMiddleware)
		r.Post("/reset-password", h.ResetPassword)
		r.Post("/clear-lockout", h.ClearLockout)
		r.Post("/revoke-sessions", h.RevokeSessions)
		r.Put("/active", h.SetActive)
	})

	return r
}
