package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"rideflow/internal/app"
	"rideflow/internal/config"
	"rideflow/internal/handler"
	"rideflow/internal/hub"
	"rideflow/internal/logging"
	internalRedis "rideflow/internal/redis"
	"rideflow/internal/repository"
	"rideflow/internal/repository/memory"
	"rideflow/internal/repository/postgres"
	"rideflow/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// New Relic comes first so the database and Redis clients can be instrumented.
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.WithError(err).Warn("failed to initialize New Relic")
		} else {
			log.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled")
		}
	}

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var db *sql.DB
	if cfg.Database.Enabled {
		db, err = app.NewDatabase(startCtx, cfg.Database, nrApp)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer db.Close()
		log.Info("connected to PostgreSQL")
	} else {
		log.Info("database disabled, keeping state in memory")
	}

	redisClient, err := app.NewRedisClient(startCtx, cfg.Redis, nrApp)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info("connected to Redis")
	}

	server, events, err := wireServer(startCtx, db, redisClient, nrApp, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to wire server")
	}

	go func() {
		if err := events.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("event bus subscription stopped")
		}
	}()

	go func() {
		log.WithField("port", cfg.Server.Port).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server error")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	events.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	log.Info("server exited")
}

type repositories struct {
	rides    repository.RideRepository
	events   repository.RideEventRepository
	payments repository.PaymentRepository
	drivers  repository.DriverRepository
}

func newRepositories(db *sql.DB) repositories {
	if db == nil {
		return repositories{
			rides:    memory.NewRideRepository(),
			events:   memory.NewRideEventRepository(),
			payments: memory.NewPaymentRepository(),
			drivers:  memory.NewDriverRepository(),
		}
	}
	return repositories{
		rides:    postgres.NewRideRepository(db),
		events:   postgres.NewRideEventRepository(db),
		payments: postgres.NewPaymentRepository(db),
		drivers:  postgres.NewDriverRepository(db),
	}
}

// wireServer wires all dependencies and returns the HTTP server and the
// event hub the caller must run and close.
func wireServer(
	ctx context.Context,
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	cfg *config.Config,
	log *logrus.Logger,
) (*http.Server, *hub.Hub, error) {
	repos := newRepositories(db)

	// Redis-backed collaborators stay nil interfaces when Redis is disabled.
	var (
		locationStore internalRedis.LocationStoreInterface
		lockStore     internalRedis.LockStoreInterface
		cacheStore    internalRedis.RideCacheInterface
		bus           hub.Bus
	)
	if redisClient != nil {
		locationStore = internalRedis.NewLocationStore(redisClient)
		lockStore = internalRedis.NewLockStore(redisClient)
		cacheStore = internalRedis.NewCacheStore(redisClient)
		bus = internalRedis.NewEventBus(redisClient)
	}

	fares := service.NewFareEngine(app.FarePolicy(cfg.Fare))
	registry := service.NewDriverRegistry(cfg.Dispatch.GeohashPrecision)
	matcher := service.NewMatcher(registry, app.MatcherConfig(cfg.Dispatch))
	driverService := service.NewDriverService(registry, repos.drivers, locationStore, log)
	if err := driverService.Restore(ctx); err != nil {
		return nil, nil, err
	}

	events := hub.New(bus, log)
	notifications := service.NewNotificationService(log)

	rides := service.NewRideController(service.RideControllerDeps{
		Rides:     repos.rides,
		Events:    repos.events,
		Fares:     fares,
		Matcher:   matcher,
		Publisher: events,
		Notifier:  notifications,
		Drivers:   driverService,
		Cache:     cacheStore,
		Log:       log,
	})
	settlement := service.NewSettlementService(
		rides,
		repos.payments,
		fares,
		service.NewSandboxPSP(),
		lockStore,
		notifications,
		log,
		service.SettlementConfig{
			CeilingMinor: cfg.Settlement.CeilingMinor,
			LockTTL:      cfg.Settlement.LockTTL,
		},
	)
	if cfg.Settlement.AutoSettle {
		rides.OnCompleted(settlement.HandleCompleted)
	}
	receipts := service.NewReceiptService(rides, settlement, driverService)

	router := app.NewRouter(app.RouterDeps{
		RideHandler:    handler.NewRideHandler(rides, settlement, receipts),
		DriverHandler:  handler.NewDriverHandler(driverService, matcher),
		PaymentHandler: handler.NewPaymentHandler(settlement),
		FareHandler:    handler.NewFareHandler(fares),
		Events:         hub.NewEndpoint(events, rides, rides, driverService, log),
		RedisClient:    redisClient,
		NewRelicApp:    nrApp,
		Log:            log,
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, events, nil
}
