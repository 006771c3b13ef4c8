// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bissquit/task-garden/internal/config"
	"github.com/bissquit/task-garden/internal/directory"
	"github.com/bissquit/task-garden/internal/notifications"
	"github.com/bissquit/task-garden/internal/notifications/email"
	notificationspostgres "github.com/bissquit/task-garden/internal/notifications/postgres"
	"github.com/bissquit/task-garden/internal/notifications/push"
	"github.com/bissquit/task-garden/internal/notifications/realtime"
	"github.com/bissquit/task-garden/internal/notifications/webhook"
	"github.com/bissquit/task-garden/internal/pkg/ctxlog"
	"github.com/bissquit/task-garden/internal/pkg/httputil"
	"github.com/bissquit/task-garden/internal/pkg/metrics"
	"github.com/bissquit/task-garden/internal/pkg/postgres"
	"github.com/bissquit/task-garden/internal/tokens"
	tokenspostgres "github.com/bissquit/task-garden/internal/tokens/postgres"
	"github.com/bissquit/task-garden/internal/version"
	"github.com/bissquit/task-garden/migrations"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc

	hub       *realtime.Hub
	scheduler *notifications.Scheduler
	sweeper   *notifications.Sweeper
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if cfg.Database.Migrate {
		if err := postgres.Migrate(cfg.Database.URL, migrations.FS); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

	router, err := app.setupRouter(metricsCtx)
	if err != nil {
		db.Close()
		metricsCancel()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	// Start main server
	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	a.metricsCancel()

	// Stop background loops before closing their store
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.hub != nil {
		a.hub.Close()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.db.Close()

	return errors.Join(errs...)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Scheduler returns the retry scheduler instance. Used in tests to
// trigger cycles without waiting for the ticker.
func (a *App) Scheduler() *notifications.Scheduler {
	return a.scheduler
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	notificationsRepo := notificationspostgres.NewRepository(a.db)
	recipientDirectory := directory.NewPostgres(a.db)

	tokensRepo := tokenspostgres.NewRepository(a.db)
	registry := tokens.NewRegistry(tokensRepo, a.config.Notifications.Push.TokenCap)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create notification renderer: %w", err)
	}

	a.hub = realtime.NewHub()

	senders := []notifications.Sender{
		realtime.NewSender(a.hub),
		webhook.NewSender(webhook.Config{
			Username: a.config.Notifications.Webhook.Username,
			Timeout:  a.config.Notifications.Webhook.Timeout,
		}),
	}

	if a.config.Notifications.Email.Enabled {
		emailSender, err := email.NewSender(email.Config{
			Enabled:      true,
			SMTPHost:     a.config.Notifications.Email.SMTPHost,
			SMTPPort:     a.config.Notifications.Email.SMTPPort,
			SMTPUser:     a.config.Notifications.Email.SMTPUser,
			SMTPPassword: a.config.Notifications.Email.SMTPPassword,
			FromAddress:  a.config.Notifications.Email.FromAddress,
			Timeout:      a.config.Notifications.Email.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create email sender: %w", err)
		}
		senders = append(senders, emailSender)
	}

	if a.config.Notifications.Push.Enabled {
		gateway := push.NewHTTPGateway(
			a.config.Notifications.Push.GatewayURL,
			a.config.Notifications.Push.ServerKey,
			a.config.Notifications.Push.Timeout,
		)
		batcher := push.NewBatcher(gateway,
			a.config.Notifications.Push.BatchSize,
			a.config.Notifications.Push.BatchDelay,
		)
		senders = append(senders, push.NewSender(batcher, registry))
	}

	dispatcher := notifications.NewDispatcher(notificationsRepo, recipientDirectory, renderer, senders...)
	escalator := notifications.NewEscalator(notificationsRepo, recipientDirectory, dispatcher)

	a.scheduler = notifications.NewScheduler(notifications.SchedulerConfig{
		Interval:          a.config.Notifications.Retry.Interval,
		MaxRetries:        a.config.Notifications.Retry.MaxRetries,
		BaseDelay:         a.config.Notifications.Retry.BaseDelay,
		BackoffMultiplier: a.config.Notifications.Retry.BackoffMultiplier,
		MaxAge:            a.config.Notifications.Retry.MaxAge,
		BatchSize:         a.config.Notifications.Retry.BatchSize,
	}, notificationsRepo, recipientDirectory, dispatcher, escalator)
	a.scheduler.Start(ctx)

	a.sweeper = notifications.NewSweeper(notifications.SweeperConfig{
		Interval:   a.config.Notifications.Cleanup.Interval,
		MaxAge:     a.config.Notifications.Cleanup.MaxAge,
		MaxRetries: a.config.Notifications.Retry.MaxRetries,
	}, notificationsRepo)
	a.sweeper.Start(ctx)

	notificationsHandler := notifications.NewHandler(dispatcher, a.scheduler)
	tokensHandler := tokens.NewHandler(registry)

	r.Route("/api/v1", func(r chi.Router) {
		notificationsHandler.RegisterRoutes(r)
		tokensHandler.RegisterRoutes(r)
		r.Get("/ws", a.hub.ServeWS)
	})

	return r, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
