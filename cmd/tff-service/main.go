package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/tff-platform/internal/auth"
	"github.com/vasiliy-maslov/tff-platform/internal/billing"
	"github.com/vasiliy-maslov/tff-platform/internal/cart"
	"github.com/vasiliy-maslov/tff-platform/internal/config"
	"github.com/vasiliy-maslov/tff-platform/internal/db"
	tffHttp "github.com/vasiliy-maslov/tff-platform/internal/handler/http"
	"github.com/vasiliy-maslov/tff-platform/internal/order"
	"github.com/vasiliy-maslov/tff-platform/internal/pricing"
	"github.com/vasiliy-maslov/tff-platform/internal/stock"
	"github.com/vasiliy-maslov/tff-platform/internal/worker"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("service", cfg.App.Name).Logger()

	log.Info().Msg("Starting tff-service...")

	if err := db.ApplyMigrations(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pg.Close()

	ledger := stock.NewLedger()
	stockSvc := stock.NewService(stock.NewRepository(pg.Pool, ledger), stock.Options{
		PeerRequestTTL:   cfg.Stock.PeerRequestTTL,
		RejectDuplicates: cfg.Stock.RejectDuplicateRequests,
	})
	orderSvc := order.NewService(order.NewRepository(pg.Pool, ledger), nil)
	pricingSvc := pricing.NewService(pricing.NewRepository(pg.Pool))
	rates := billing.Rates{CGST: cfg.Billing.CGSTRate, SGST: cfg.Billing.SGSTRate}
	cartSvc := cart.NewService(cart.NewRepository(pg.Pool), pricingSvc, rates, nil)
	reporter := billing.NewReporter(pg.SQLX())

	sweeper := worker.NewSweeper(stockSvc.SweepExpired, cfg.Stock.SweepInterval)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(ctx)
	}()

	router := tffHttp.NewRouter(auth.NewTokens(cfg.Auth.JWTSecret, 24*time.Hour),
		tffHttp.NewStockHandler(stockSvc, sweeper),
		tffHttp.NewCartHandler(cartSvc),
		tffHttp.NewOrderHandler(orderSvc),
		tffHttp.NewBillingHandler(reporter, nil),
	)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("port", cfg.App.Port).Msg("Could not listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	<-sweepDone

	log.Info().Msg("tff-service stopped gracefully")
}
