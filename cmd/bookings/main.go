// cmd/bookings/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"shareit/internal/booking"
	"shareit/internal/clients"
	"shareit/internal/config"
	"shareit/internal/idempotency"
	"shareit/internal/journal"
	"shareit/internal/store/memstore"
	"shareit/internal/store/sqlstore"
	"shareit/internal/telemetry"
)

const (
	serviceName          = "shareit-bookings"
	shutdownTimeout      = 15 * time.Second
	upstreamHealthPeriod = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := telemetry.NewLogger(serviceName, os.Stdout, cfg.LogLevel, cfg.LogOTelBridge)

	if err := run(cfg, logger); err != nil {
		logger.Error("booking service stopped", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err.Error())
		}
	}()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	options := []booking.Option{
		booking.WithLogger(logger),
		booking.WithPolicy(booking.Policy{
			AllowPastStart: cfg.AllowPastStart,
			PreventOverlap: cfg.PreventOverlap,
		}),
	}

	if cfg.JournalEnabled {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open journal database: %w", err)
		}
		defer db.Close()

		j := journal.New(db)
		if err := j.Migrate(ctx); err != nil {
			return err
		}
		options = append(options, booking.WithJournal(j))
	}

	items := clients.NewItemClient(cfg.CatalogServiceURL)
	users := clients.NewUserClient(cfg.MembershipServiceURL)
	svc := booking.NewService(repo, items, users, options...)

	handlerOptions := []booking.HandlerOption{
		booking.WithHandlerLogger(logger),
		booking.WithCreateRate(cfg.CreateRatePerMinute),
		booking.WithAdminToken(cfg.AdminToken),
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach redis: %w", err)
		}
		handlerOptions = append(handlerOptions, booking.WithIdempotency(idempotency.NewRedisGuard(rdb, cfg.IdempotencyTTL)))
	}
	handler := booking.NewHandler(svc, handlerOptions...)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// admin operations get their own listener, and only when a token is set
	var adminServer *http.Server
	if cfg.AdminToken != "" {
		adminServer = &http.Server{
			Addr:              ":" + cfg.AdminPort,
			Handler:           handler.AdminRoutes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	go clients.ReportHealth(ctx, healthServer, upstreamHealthPeriod, items, users)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}

	errs := make(chan error, 3)
	if adminServer != nil {
		go func() {
			logger.Info("starting admin server", "port", cfg.AdminPort)
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
			}
		}()
	}
	go func() {
		logger.Info("starting http server", "port", cfg.Port, "store", cfg.StoreDriver)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()
	go func() {
		logger.Info("starting grpc health server", "port", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			errs <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errs:
	}

	healthServer.Shutdown()
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := httpServer.Shutdown(sctx)
	if adminServer != nil {
		shutdownErr = errors.Join(shutdownErr, adminServer.Shutdown(sctx))
	}
	grpcServer.GracefulStop()

	return errors.Join(serveErr, shutdownErr)
}

// openStore picks the repository named by STORE_DRIVER and migrates it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (booking.Repository, func(), error) {
	storeOptions := []sqlstore.Option{sqlstore.WithLogger(logger)}
	if !cfg.PreventOverlap {
		storeOptions = append(storeOptions, sqlstore.WithoutOverlapConstraint())
	}

	var (
		store   *sqlstore.Store
		closeFn func()
		err     error
	)

	switch cfg.StoreDriver {
	case config.DriverMemory:
		var memOptions []memstore.Option
		if !cfg.PreventOverlap {
			memOptions = append(memOptions, memstore.AllowOverlappingApprovals())
		}
		return memstore.New(memOptions...), func() {}, nil

	case config.DriverPGX:
		pool, perr := pgxpool.New(ctx, cfg.DatabaseURL)
		if perr != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", perr)
		}
		closeFn = pool.Close
		store, err = sqlstore.NewFromPGXPool(pool, storeOptions...)

	default:
		db, derr := sqlx.Connect(cfg.StoreDriver, cfg.DatabaseURL)
		if derr != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", derr)
		}
		closeFn = func() { _ = db.Close() }
		store, err = sqlstore.NewFromSQLX(db, storeOptions...)
	}

	if err != nil {
		closeFn()
		return nil, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Info("store migrated", "driver", cfg.StoreDriver, "dialect", store.Dialect())

	return store, closeFn, nil
}
