package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"coursecart/backend/internal/cache"
	"coursecart/backend/internal/config"
	"coursecart/backend/internal/domain"
	"coursecart/backend/internal/events"
	"coursecart/backend/internal/fulfillment"
	"coursecart/backend/internal/httpapi"
	"coursecart/backend/internal/logging"
	"coursecart/backend/internal/metrics"
	"coursecart/backend/internal/offer"
	"coursecart/backend/internal/refund"
	"coursecart/backend/internal/service"
	"coursecart/backend/internal/store"
	"coursecart/backend/internal/store/memory"
	pgstore "coursecart/backend/internal/store/postgres"
	"coursecart/backend/internal/tracing"
	"coursecart/backend/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load configuration")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	shutdownTracing, err := tracing.InitTracerProvider("coursecart", cfg.JaegerEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("init tracing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	m := metrics.New(prometheus.NewRegistry())
	closers := make([]func() error, 0, 3)

	var repo store.Repository
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("init postgres schema")
		}
		if err := seedAdmin(ctx, pg); err != nil {
			log.Fatal().Err(err).Msg("seed admin account")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	var lookupCache cache.Cache = cache.NewMemoryCache()
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-process cache")
		} else {
			lookupCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Msg("cache: redis")
		}
	} else {
		log.Info().Msg("cache: in-process")
	}

	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second
	lookupTTL := time.Duration(cfg.Offers.LookupCacheTTLSeconds) * time.Second
	catalog := upstream.NewCatalogClient(upstream.NewClient("catalog", cfg.Upstream.CatalogURL, timeout, m), lookupCache, lookupTTL)
	enterprise := upstream.NewEnterpriseClient(upstream.NewClient("enterprise", cfg.Upstream.EnterpriseURL, timeout, m), lookupCache, lookupTTL)
	enrollments := upstream.NewEnrollmentClient(upstream.NewClient("enrollment", cfg.Upstream.EnrollmentURL, timeout, m))
	payments := upstream.NewPaymentClient(upstream.NewClient("payment", cfg.Upstream.PaymentURL, timeout, m))

	registry := offer.NewRegistry(catalog, enterprise, offer.Options{
		AllowedSeatTypes:          cfg.Offers.AllowedSeatTypes,
		ManualEnrollmentSeatTypes: cfg.Offers.ManualEnrollmentSeatTypes,
	}, m)
	applicator := offer.NewApplicator(repo, registry, m)

	modules, err := fulfillment.NewModules(cfg.Fulfillment.Modules, fulfillment.Dependencies{
		Enroller: enrollments,
		Codes:    repo,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("configure fulfillment modules")
	}
	fulfiller := fulfillment.NewEngine(modules, m)

	var publisher events.Publisher = &events.MemoryPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		publisher = kafkaPublisher
		closers = append(closers, kafkaPublisher.Close)
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("events: kafka")
	} else {
		log.Info().Msg("events: in-memory")
	}

	refunds := refund.NewEngine(repo, payments, fulfiller, publisher, m)
	svc := service.New(repo, applicator, fulfiller, refunds, publisher, service.Options{
		DefaultPartner:    cfg.Partner,
		OrderNumberPrefix: cfg.OrderNumberPrefix,
		Flags:             offer.Flags(cfg.Offers.Switches),
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, m.Handler(), cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Str("partner", cfg.Partner).Msg("commerce backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown")
	}

	log.Info().Msg("server stopped")
}

// seedAdmin creates the first admin on an empty user table. The plain password is
// rehashed by the auth manager on load.
func seedAdmin(ctx context.Context, users httpapi.UserStore) error {
	existing, err := users.ListUsers(ctx)
	if err != nil || len(existing) > 0 {
		return err
	}
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if len(password) < 8 {
		log.Warn().Msg("no users and SEED_ADMIN_PASSWORD unset or shorter than 8; nobody can log in")
		return nil
	}
	return users.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  password,
		Role:      domain.RoleAdmin,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
