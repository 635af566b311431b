// Package server wires configuration, storage and services into the
// unibox HTTP server.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/unibox/internal/api"
	"github.com/haasonsaas/unibox/internal/auth"
	"github.com/haasonsaas/unibox/internal/channels"
	"github.com/haasonsaas/unibox/internal/config"
	"github.com/haasonsaas/unibox/internal/inbox"
	"github.com/haasonsaas/unibox/internal/oauth"
	"github.com/haasonsaas/unibox/internal/observability"
	"github.com/haasonsaas/unibox/internal/profile"
	"github.com/haasonsaas/unibox/internal/relay"
	"github.com/haasonsaas/unibox/internal/settings"
	"github.com/haasonsaas/unibox/internal/storage"
	"github.com/haasonsaas/unibox/internal/sync"
	"github.com/haasonsaas/unibox/internal/tickets"
	"github.com/haasonsaas/unibox/pkg/models"
)

// Options configures New.
type Options struct {
	Config  *config.Config
	Logger  *slog.Logger
	Version string
	// Stores overrides storage selection from the database config.
	Stores *storage.StoreSet
	// HTTPClient is used for provider calls. Nil uses a 30s client.
	HTTPClient *http.Client
}

// Server owns the HTTP listener and the background sync scheduler.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	stores    storage.StoreSet
	db        *sql.DB
	metrics   *observability.Metrics
	registry  *prometheus.Registry
	tracer    *observability.Tracer
	shutdown  func(context.Context) error
	auth      *auth.Service
	bus       *relay.Bus
	syncer    *sync.Syncer
	scheduler *sync.Scheduler
	handler   http.Handler
}

// New builds every service from opts.Config. Postgres is used when a
// database URL is configured; otherwise state lives in memory.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	s := &Server{cfg: cfg, logger: logger, version: opts.Version}
	if err := s.openStores(opts.Stores); err != nil {
		return nil, err
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)
	s.tracer, s.shutdown = observability.NewTracer(observability.TraceConfig{
		ServiceName:    "unibox",
		ServiceVersion: opts.Version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})

	s.auth = auth.NewService(AuthConfig(cfg.Auth))
	hub := inbox.NewHub()
	messages := inbox.NewService(s.stores.Messages,
		inbox.WithPublisher(hub),
		inbox.WithMetrics(s.metrics),
		inbox.WithLogger(logger),
	)
	registry := channels.NewRegistry(s.stores.Channels, logger)

	exchange := oauth.NewService([]oauth.Provider{
		oauth.NewSlackProvider(providerConfig(cfg.OAuth.Slack), httpClient),
		oauth.NewDiscordProvider(providerConfig(cfg.OAuth.Discord), httpClient),
	}, s.metrics, s.tracer, logger)
	s.bus = relay.NewBus(cfg.OAuth.AppOrigin, logger)

	fetchers := map[models.ChannelType]sync.Fetcher{
		models.ChannelSlack: sync.NewSlackFetcher(cfg.Sync.Slack.Channels, httpClient),
	}
	if token := strings.TrimSpace(cfg.Sync.Discord.BotToken); token != "" {
		discord, err := sync.NewDiscordFetcher(token, cfg.Sync.Discord.ChannelIDs)
		if err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
		fetchers[models.ChannelDiscord] = discord
	}
	s.syncer = sync.NewSyncer(registry, messages, fetchers, sync.Options{
		Limit:   cfg.Sync.Limit,
		Metrics: s.metrics,
		Logger:  logger,
	})
	if cfg.Sync.Enabled {
		scheduler, err := sync.NewScheduler(s.syncer, cfg.Sync.Schedule, 5*time.Minute, logger)
		if err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
		s.scheduler = scheduler
	}

	apiHandler := api.NewHandler(api.Config{
		Inbox:          messages,
		Channels:       registry,
		Settings:       settings.NewService(s.stores.Settings, registry, logger),
		Profiles:       profile.NewService(s.stores.Profiles),
		Tickets:        tickets.NewService(s.stores.Tickets, logger),
		Sync:           s.syncer,
		Events:         hub,
		AllowedOrigins: []string{cfg.OAuth.AppOrigin},
		Logger:         logger,
	})

	protect := func(next http.Handler) http.Handler {
		return api.Chain(next, auth.Middleware(s.auth, logger), api.SessionLogMiddleware())
	}
	mux := http.NewServeMux()
	apiHandler.Register(mux, protect)
	mux.Handle("GET /api/oauth/{provider}", protect(oauth.NewHandler(exchange, oauth.RateLimit{
		PerMinute: cfg.RateLimit.ExchangePerMinute,
		Burst:     cfg.RateLimit.Burst,
	}, logger)))
	mux.Handle("GET /ws/relay", protect(relay.NewStreamHandler(s.bus, logger)))
	mux.Handle("GET /oauth/{provider}/callback", relay.NewPage(exchange, s.bus, s.metrics, logger))
	mux.HandleFunc("GET /healthz", s.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.handler = api.Chain(mux,
		api.RequestIDMiddleware(),
		api.RecoverMiddleware(logger),
		api.LoggingMiddleware(logger),
		api.CORSMiddleware([]string{cfg.OAuth.AppOrigin}),
		api.MetricsMiddleware(s.metrics),
	)
	return s, nil
}

func (s *Server) openStores(override *storage.StoreSet) error {
	if override != nil {
		s.stores = *override
		return nil
	}
	if strings.TrimSpace(s.cfg.Database.URL) == "" {
		s.logger.Warn("no database configured, using in-memory storage")
		s.stores = storage.NewMemoryStores()
		return nil
	}

	pool := storage.DefaultPostgresConfig()
	if s.cfg.Database.MaxConnections > 0 {
		pool.MaxOpenConns = s.cfg.Database.MaxConnections
	}
	if s.cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
	}
	db, err := storage.OpenPostgres(s.cfg.Database.URL, pool)
	if err != nil {
		return err
	}
	if s.cfg.Database.AutoMigrate {
		migrator, err := storage.NewMigrator(db)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("init migrator: %w", err)
		}
		applied, err := migrator.Up(context.Background(), 0)
		if err != nil {
			_ = db.Close()
			return fmt.Errorf("auto migrate: %w", err)
		}
		for _, id := range applied {
			s.logger.Info("applied migration", "id", id)
		}
	}
	s.db = db
	s.stores = storage.NewPostgresStores(db)
	return nil
}

// AuthConfig converts the auth section of the config file.
func AuthConfig(cfg config.AuthConfig) auth.Config {
	keys := make([]auth.APIKeyConfig, 0, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys = append(keys, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	return auth.Config{
		JWTSecret:   cfg.JWTSecret,
		TokenExpiry: cfg.TokenExpiry,
		APIKeys:     keys,
		DefaultUser: cfg.DefaultUser,
	}
}

func providerConfig(cfg config.OAuthProviderConfig) oauth.ProviderConfig {
	return oauth.ProviderConfig{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
	}
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Auth returns the session authenticator, used to issue dev tokens.
func (s *Server) Auth() *auth.Service {
	return s.auth
}

// Bus returns the relay bus shared by the callback page and /ws/relay.
func (s *Server) Bus() *relay.Bus {
	return s.bus
}

// Syncer returns the channel syncer.
func (s *Server) Syncer() *sync.Syncer {
	return s.syncer
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Database string `json:"database"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Version: s.version, Database: "memory"}
	status := http.StatusOK
	if s.db != nil {
		resp.Database = "ok"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully within the configured timeout and releases resources.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			_ = ln.Close()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(ln)
	}()
	s.logger.Info("unibox server started", "addr", ln.Addr().String(), "version", s.version)

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if s.scheduler != nil {
		if err := s.scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop sync: %w", err))
		}
	}
	if err := s.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("unibox server stopped")
	return errors.Join(errs...)
}

// Close releases storage and flushes traces.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		s.db = nil
	}
	if err := s.stores.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.shutdown != nil {
		if err := s.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
		s.shutdown = nil
	}
	return errors.Join(errs...)
}
