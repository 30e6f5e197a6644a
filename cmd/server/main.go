// Package main runs the vesting service:
// - HTTP API for lock, unlock and queries (/v1)
// - Websocket feed of committed vesting events (/ws/events)
// - Health, status and Prometheus metrics endpoints
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"solana-token-vesting/internal/api"
	"solana-token-vesting/internal/config"
	"solana-token-vesting/internal/custody"
	"solana-token-vesting/internal/domain"
	"solana-token-vesting/internal/feed"
	"solana-token-vesting/internal/observability"
	"solana-token-vesting/internal/solana"
	"solana-token-vesting/internal/storage"
	chstore "solana-token-vesting/internal/storage/clickhouse"
	"solana-token-vesting/internal/storage/memory"
	"solana-token-vesting/internal/storage/migrations"
	pgstore "solana-token-vesting/internal/storage/postgres"
	"solana-token-vesting/internal/vesting"
)

// Server holds all components of the service.
type Server struct {
	cfg     *config.Config
	engine  *vesting.Engine
	hub     *feed.Hub
	metrics *observability.Metrics
	logger  *log.Logger

	started       time.Time
	eventsEnabled bool
}

// stores holds the storage implementations selected by configuration.
type stores struct {
	ledger storage.Ledger
	events storage.EventStore // nil when no event backend is configured
}

func main() {
	flags := pflag.NewFlagSet("server", pflag.ExitOnError)
	config.RegisterFlags(flags)
	flags.Parse(os.Args[1:])

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load(flags)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	metrics := observability.NewMetrics("", nil)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	clock, err := createClock(cfg, metrics)
	if err != nil {
		logger.Fatalf("Failed to create clock: %v", err)
	}

	programID, err := solana.ParsePublicKey(cfg.Vesting.ProgramID)
	if err != nil {
		logger.Fatalf("Invalid program id: %v", err)
	}
	deriver, err := custody.NewDeriver(programID, custody.Scope(cfg.Vesting.CustodyScope))
	if err != nil {
		logger.Fatalf("Failed to create custody deriver: %v", err)
	}

	hub := feed.NewHub(feed.HubOptions{
		ClientBuffer: cfg.Feed.ClientBuffer,
		PingInterval: cfg.Feed.PingInterval,
		Logger:       log.New(os.Stdout, "[feed] ", log.LstdFlags|log.Lshortfile),
		Metrics:      metrics,
	})

	engine, err := vesting.NewEngine(vesting.Options{
		Ledger:             st.ledger,
		Deriver:            deriver,
		Events:             st.events,
		Publisher:          hub,
		Clock:              clock,
		DefaultShape:       domain.ScheduleShape(cfg.Vesting.DefaultShape),
		MaxConflictRetries: cfg.Vesting.MaxConflictRetries,
		Logger:             log.New(os.Stdout, "[vesting] ", log.LstdFlags|log.Lshortfile),
		Metrics:            metrics,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	server := &Server{
		cfg:           cfg,
		engine:        engine,
		hub:           hub,
		metrics:       metrics,
		logger:        logger,
		started:       time.Now(),
		eventsEnabled: st.events != nil,
	}

	handler, err := server.routes()
	if err != nil {
		logger.Fatalf("Failed to create API: %v", err)
	}

	// Channel to signal completion
	done := make(chan struct{})

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Printf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(cfg.Server.ShutdownTimeout + 5*time.Second):
			logger.Println("Graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
			// Normal shutdown completed
		}
	}()

	go server.trackUptime(ctx)

	err = server.serve(ctx, handler)
	close(done)

	if err != nil {
		logger.Fatalf("Server error: %v", err)
	}

	logger.Println("Shutdown complete")
}

// createStores builds the ledger and event store for the configured mode,
// applying migrations first when enabled.
func createStores(ctx context.Context, cfg *config.Config) (*stores, func(), error) {
	if cfg.Storage.Mode == config.StorageMemory {
		return &stores{
			ledger: memory.NewLedger(),
			events: memory.NewVestingEventStore(),
		}, func() {}, nil
	}

	migrateLogger := log.New(os.Stdout, "[migrate] ", log.LstdFlags|log.Lshortfile)

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if cfg.Storage.Migrate {
		if err := migrations.RunPostgresMigrations(ctx, pool, migrateLogger); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres migrations: %w", err)
		}
	}

	st := &stores{ledger: pgstore.NewLedger(pool)}
	if cfg.Storage.ClickHouseDSN == "" {
		return st, pool.Close, nil
	}

	// ClickHouse
	var chConn *chstore.Conn
	if cfg.Storage.Migrate {
		chConn, err = migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickHouseDSN, migrateLogger)
	} else {
		chConn, err = chstore.NewConn(ctx, cfg.Storage.ClickHouseDSN)
	}
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
	}
	st.events = chstore.NewVestingEventStore(chConn)

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return st, cleanup, nil
}

// createClock returns the time source entitlement is computed against.
func createClock(cfg *config.Config, metrics *observability.Metrics) (vesting.Clock, error) {
	switch cfg.Clock.Source {
	case config.ClockSystem:
		return vesting.SystemClock{}, nil
	case config.ClockCluster:
		rpc := solana.NewHTTPClient(cfg.Clock.RPCEndpoint,
			solana.WithTimeout(cfg.Clock.RPCTimeout),
			solana.WithCommitment(cfg.Clock.Commitment),
			solana.WithLatencyObserver(metrics.RecordRPCLatency),
		)
		return solana.NewClusterClock(rpc), nil
	default:
		return nil, fmt.Errorf("unknown clock source %q", cfg.Clock.Source)
	}
}

// routes mounts the API, the feed and the operational endpoints.
func (s *Server) routes() (http.Handler, error) {
	apiServer, err := api.NewServer(api.Options{
		Engine:  s.engine,
		Auth:    api.NewAuthenticator(s.cfg.Auth.MaxTokenAge, s.cfg.Auth.Audience),
		Feed:    s.hub,
		DevMode: s.cfg.DevMode,
		Logger:  log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lshortfile),
		Metrics: s.metrics,
	})
	if err != nil {
		return nil, err
	}

	r := apiServer.Router()

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheus metrics
	r.Handle("/metrics", observability.Handler())

	// Status endpoint
	r.Get("/status", s.handleStatus)

	return r, nil
}

// serve runs the HTTP server until ctx is cancelled, then drains it.
func (s *Server) serve(ctx context.Context, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Server.ListenAddr,
		Handler:      handler,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting HTTP server on %s (storage=%s, clock=%s, scope=%s, dev=%v)",
			s.cfg.Server.ListenAddr, s.cfg.Storage.Mode, s.cfg.Clock.Source,
			s.cfg.Vesting.CustodyScope, s.cfg.DevMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// Websocket connections are hijacked and not drained by Shutdown.
	s.hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// trackUptime feeds the uptime counter until ctx is cancelled.
func (s *Server) trackUptime(ctx context.Context) {
	const interval = 15 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.RecordUptime(interval)
		}
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	Started       time.Time `json:"started"`
	Storage       string    `json:"storage"`
	EventsEnabled bool      `json:"events_enabled"`
	Clock         string    `json:"clock"`
	ProgramID     string    `json:"program_id"`
	CustodyScope  string    `json:"custody_scope"`
	DefaultShape  string    `json:"default_shape"`
	FeedClients   int       `json:"feed_clients"`
	DevMode       bool      `json:"dev_mode"`
}

// handleStatus returns server status as JSON.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Started:       s.started,
		Storage:       s.cfg.Storage.Mode,
		EventsEnabled: s.eventsEnabled,
		Clock:         s.cfg.Clock.Source,
		ProgramID:     s.cfg.Vesting.ProgramID,
		CustodyScope:  string(s.engine.CustodyScope()),
		DefaultShape:  s.cfg.Vesting.DefaultShape,
		FeedClients:   s.hub.Clients(),
		DevMode:       s.cfg.DevMode,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
