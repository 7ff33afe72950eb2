package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"carshare/internal/app"
	"carshare/internal/config"
	"carshare/internal/events"
	"carshare/internal/gateway"
	"carshare/internal/geocode"
	"carshare/internal/handler"
	"carshare/internal/logger"
	internalRedis "carshare/internal/redis"
	"carshare/internal/repository/postgres"
	"carshare/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: cfg.NewRelic.AppName,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		var err error
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Warn("failed to initialize New Relic", "error", err)
		} else {
			log.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL", "host", cfg.Database.Host, "db", cfg.Database.DBName)

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	publisher := newPublisher(cfg.Kafka, log)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error("failed to close publisher", "error", err)
		}
	}()

	server := wireServer(db, redisClient, publisher, nrApp, cfg, log)

	go func() {
		log.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "error", err)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

// newPublisher returns the Kafka publisher, or a log-only publisher when no
// brokers are configured.
func newPublisher(cfg config.KafkaConfig, log *logger.Logger) events.Publisher {
	if len(cfg.Brokers) == 0 {
		log.Info("no kafka brokers configured, notifications are logged only")
		return events.NewLogPublisher(log)
	}
	p, err := events.NewKafkaPublisher(cfg, log)
	if err != nil {
		log.Fatal("failed to create kafka publisher", "error", err)
	}
	log.Info("publishing notifications to kafka", "topic", cfg.Topic, "async", cfg.Async)
	return p
}

// newGeocoder returns the cached Google geocoder, or nil when no API key is set.
func newGeocoder(cfg config.MapsConfig, cache internalRedis.PointCache, log *logger.Logger) geocode.Geocoder {
	if cfg.APIKey == "" {
		log.Warn("no maps API key configured, vehicles without coordinates cannot be verified")
		return nil
	}
	g, err := geocode.NewGoogle(cfg.APIKey)
	if err != nil {
		log.Fatal("failed to create geocoder", "error", err)
	}
	return geocode.NewCached(g, cache)
}

// wireServer wires all dependencies and returns the HTTP server.
func wireServer(db *sql.DB, redisClient *redis.Client, publisher events.Publisher, nrApp *newrelic.Application, cfg *config.Config, log *logger.Logger) *http.Server {
	// Initialize Redis stores.
	lockStore := internalRedis.NewLockStore(redisClient)
	geocodeCache := internalRedis.NewGeocodeCache(redisClient, cfg.Maps.CacheTTL)
	responseCache := internalRedis.NewResponseCache(redisClient)

	clock := service.SystemClock{}
	deps := service.Deps{
		Store:    postgres.NewStore(db),
		Gateway:  gateway.NewInstrumented(gateway.NewLocal()),
		Locker:   lockStore,
		Notifier: service.NewNotificationService(publisher, clock, log),
		Clock:    clock,
		Log:      log,
	}

	// Initialize services.
	lc := cfg.Lifecycle
	paymentService := service.NewPaymentService(deps, lc.CaptureLockTTL)
	bookingService := service.NewBookingService(deps, paymentService, lc.Currency)
	handoffService := service.NewHandoffService(deps, newGeocoder(cfg.Maps, geocodeCache, log), service.HandoffConfig{
		RadiusMeters:   lc.HandoffRadiusMeters,
		FallbackWindow: lc.FallbackWindow,
	})
	chargeService := service.NewTripChargeService(deps, lc.DisputeWindow, lc.CaptureLockTTL)
	sweepService := service.NewSweepService(deps, paymentService, cfg.Sweep.BatchSize, cfg.Sweep.LockTTL)

	if cfg.Sweep.Secret == "" {
		log.Warn("SWEEP_SECRET is empty, the sweep endpoint rejects every request")
	}

	router := app.NewRouter(app.RouterDeps{
		BookingHandler: handler.NewBookingHandler(bookingService, paymentService),
		HandoffHandler: handler.NewHandoffHandler(handoffService),
		ChargeHandler:  handler.NewChargeHandler(chargeService),
		SweepHandler:   handler.NewSweepHandler(sweepService),
		Responses:      responseCache,
		SweepSecret:    cfg.Sweep.Secret,
		NewRelicApp:    nrApp,
		Logger:         log,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
