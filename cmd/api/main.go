package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aimerfeng/CourseChain/internal/access"
	"github.com/aimerfeng/CourseChain/internal/assignment"
	"github.com/aimerfeng/CourseChain/internal/bank"
	"github.com/aimerfeng/CourseChain/internal/config"
	"github.com/aimerfeng/CourseChain/internal/database"
	"github.com/aimerfeng/CourseChain/internal/events"
	"github.com/aimerfeng/CourseChain/internal/logging"
	"github.com/aimerfeng/CourseChain/internal/marketplace"
	"github.com/aimerfeng/CourseChain/internal/models"
	"github.com/aimerfeng/CourseChain/internal/monitoring"
	"github.com/aimerfeng/CourseChain/internal/ratelimit"
	"github.com/aimerfeng/CourseChain/internal/reward"
	"github.com/aimerfeng/CourseChain/internal/server"
	"github.com/aimerfeng/CourseChain/internal/store"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Fixed ledger addresses used as the caller identity of the marketplace
// and the assignment manager when they mint rewards.
var (
	marketAddress     = models.MustParseAddress("0x000000000000000000000000000000000000c0de")
	assignmentAddress = models.MustParseAddress("0x000000000000000000000000000000000000a551")
)

const devAdminAddress = "0x00000000000000000000000000000000000000aa"

func main() {
	// Load configuration first
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logging.Setup(&cfg.Logging, cfg.Server.Env)

	log.Info().
		Str("env", cfg.Server.Env).
		Str("name", cfg.Server.Name).
		Msg("Starting CourseChain API server")

	// Initialize Prometheus metrics
	monitoring.Init()
	log.Info().Msg("Prometheus metrics initialized")

	ctx := context.Background()

	st, err := openStore(cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger store")
	}
	defer st.Close()

	recorder := events.NewRecorderWithQueue(cfg.Events.Retain, cfg.Events.QueueSize, events.NewLogSink())
	checks := map[string]server.HealthChecker{}
	var srvOpts []server.Option

	if cfg.Database.URL != "" {
		if err := database.RunMigrations(cfg.Database.URL); err != nil {
			log.Fatal().Err(err).Msg("Failed to run database migrations")
		}
		db, err := database.New(ctx, cfg.Database.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		recorder.AddSink(events.NewPostgresSink(db.Pool, nil))
		checks["postgres"] = db
		srvOpts = append(srvOpts, server.WithEventArchive(db))
	}

	if cfg.Redis.URL != "" {
		redisOpts, err := goredis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid REDIS_URL")
		}
		rdb := goredis.NewClient(redisOpts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable at startup; events will be retried per write")
		}
		recorder.AddSink(events.NewRedisSink(rdb, cfg.Redis.Stream, cfg.Redis.MaxLen, nil))
		checks["redis"] = redisHealth{rdb}
		if cfg.RateLimit.Requests > 0 {
			srvOpts = append(srvOpts, server.WithRateLimiter(ratelimit.NewRedisLimiter(rdb, &cfg.RateLimit)))
		}
	}

	ledgers, err := buildLedgers(ctx, cfg, st, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledgers")
	}

	// Start metrics server if enabled
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(cfg.Monitoring.PrometheusPort)
	}

	// Create and start server
	srv := server.NewAPIServer(cfg, ledgers, srvOpts...)
	for name, hc := range checks {
		srv.AddHealthCheck(name, hc)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Server.Port).
			Str("url", cfg.Server.URL).
			Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().
		Str("signal", sig.String()).
		Msg("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Event sinks did not drain before shutdown")
	}

	log.Info().
		Uint64("last_event_seq", recorder.LastSeq()).
		Msg("Server exited gracefully")
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Path == "" {
		log.Warn().Msg("STORE_PATH not set; ledger state is kept in memory only")
		return store.NewMemory(), nil
	}
	s, err := store.OpenBolt(cfg.Path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", cfg.Path).Msg("Ledger store opened")
	return s, nil
}

// buildLedgers wires the token, marketplace and assignment ledgers over
// one store. Bootstrap only takes effect on a fresh store.
func buildLedgers(ctx context.Context, cfg *config.Config, st store.Store, recorder *events.Recorder) (server.Ledgers, error) {
	adminStr := cfg.Ledger.AdminAddress
	if adminStr == "" {
		adminStr = devAdminAddress
		log.Warn().Str("admin", adminStr).Msg("ADMIN_ADDRESS not set; using development admin")
	}
	admin, err := models.ParseAddress(adminStr)
	if err != nil {
		return server.Ledgers{}, fmt.Errorf("ADMIN_ADDRESS: %w", err)
	}

	var treasury models.Address
	if cfg.Ledger.TreasuryAddress != "" {
		if treasury, err = models.ParseAddress(cfg.Ledger.TreasuryAddress); err != nil {
			return server.Ledgers{}, fmt.Errorf("TREASURY_ADDRESS: %w", err)
		}
	}

	tokenGate, err := access.NewGate(ctx, reward.Source, st, recorder)
	if err != nil {
		return server.Ledgers{}, err
	}
	if err := tokenGate.Bootstrap(ctx, admin); err != nil {
		return server.Ledgers{}, err
	}
	for _, granter := range []models.Address{marketAddress, assignmentAddress} {
		if tokenGate.HasRole(access.RoleRewardGranter, granter) {
			continue
		}
		if err := tokenGate.Grant(ctx, admin, access.RoleRewardGranter, granter); err != nil {
			return server.Ledgers{}, err
		}
	}
	rewards, err := reward.New(ctx, st, tokenGate, recorder, cfg.Reward.Rates())
	if err != nil {
		return server.Ledgers{}, err
	}

	marketGate, err := access.NewGate(ctx, marketplace.Source, st, recorder)
	if err != nil {
		return server.Ledgers{}, err
	}
	if err := marketGate.Bootstrap(ctx, admin); err != nil {
		return server.Ledgers{}, err
	}
	market, err := marketplace.New(ctx, st, marketGate, bank.New(), rewards, recorder, marketplace.Options{
		Address:       marketAddress,
		FeePercent:    cfg.Ledger.PlatformFeePercent,
		MaxFeePercent: cfg.Ledger.MaxFeePercent,
		RefundWindow:  cfg.Ledger.RefundWindow,
		Treasury:      treasury,
	})
	if err != nil {
		return server.Ledgers{}, err
	}

	assignments, err := assignment.New(ctx, st, market, rewards, recorder, assignment.Options{
		Address:          assignmentAddress,
		PassingThreshold: cfg.Assignment.PassingThreshold,
	})
	if err != nil {
		return server.Ledgers{}, err
	}

	log.Info().
		Str("admin", admin.String()).
		Int64("fee_percent", market.PlatformFeePercent(ctx)).
		Dur("refund_window", market.RefundWindow()).
		Msg("Ledgers ready")

	return server.Ledgers{
		Market:      market,
		Rewards:     rewards,
		Assignments: assignments,
		Events:      recorder,
	}, nil
}

type redisHealth struct {
	client *goredis.Client
}

func (r redisHealth) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func startMetricsServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", monitoring.Handler())

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Info().
		Int("port", port).
		Msg("Prometheus metrics server listening")

	if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Metrics server error")
	}
}
