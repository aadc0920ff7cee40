package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"yardflow/auth"
	"yardflow/availability"
	"yardflow/db"
	"yardflow/dispute"
	"yardflow/expiry"
	"yardflow/httpapi"
	"yardflow/order"
	"yardflow/supplier"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("service exited", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return err
	}
	defer pool.Close()

	migrationsDir := os.Getenv("MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}
	if err := db.Migrate(ctx, pool, migrationsDir); err != nil {
		return err
	}

	availabilityRepo := availability.NewRepository(pool)
	availabilityService := availability.NewService(availabilityRepo)

	orderRepo := order.NewRepository(pool)
	orderService := order.NewService(pool, orderRepo, orderRepo, availabilityRepo)

	disputeService := dispute.NewService(pool, nil, orderRepo)
	authService := auth.NewService(auth.NewRepository(pool), jwtSecret)
	supplierService := supplier.NewService(supplier.NewRepository(pool))

	sweeper := expiry.NewScheduler(orderService, log.Named("expiry"))
	if raw := os.Getenv("EXPIRY_SWEEP_INTERVAL"); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil {
			return errors.New("EXPIRY_SWEEP_INTERVAL must be a duration like 30s")
		}
		sweeper = sweeper.WithInterval(interval)
	}

	server := httpapi.NewServer(
		availabilityService,
		orderService,
		disputeService,
		authService,
		supplierService,
		log.Named("http"),
	)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sweeper.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
