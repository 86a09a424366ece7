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

	"github.com/redis/go-redis/v9"
	"github.com/sifan077/linkpay/config"
	"github.com/sifan077/linkpay/internal/app/model"
	"github.com/sifan077/linkpay/internal/app/repository"
	"github.com/sifan077/linkpay/internal/app/repository/memory"
	appserver "github.com/sifan077/linkpay/internal/app/server"
	"github.com/sifan077/linkpay/internal/app/service"
	"github.com/sifan077/linkpay/internal/http/handler"
	httpUtil "github.com/sifan077/linkpay/internal/http/util"
	infraCache "github.com/sifan077/linkpay/internal/infra/cache"
	"github.com/sifan077/linkpay/internal/infra/geoip"
	"github.com/sifan077/linkpay/internal/infra/logger"
	infraNATS "github.com/sifan077/linkpay/internal/infra/nats"
	infraPostgres "github.com/sifan077/linkpay/internal/infra/postgres"
	infraPrometheus "github.com/sifan077/linkpay/internal/infra/prometheus"
	infraRedis "github.com/sifan077/linkpay/internal/infra/redis"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// stores groups the repositories of the selected storage driver.
type stores struct {
	links      repository.LinkRepository
	clicks     repository.ClickRepository
	facets     repository.FacetRepository
	userStats  repository.UserStatsRepository
	reconciler repository.Reconciler
	checks     map[string]handler.HealthCheck
	closers    []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.MustInit(logger.Config{Development: true}).Fatal("Failed to load config", zap.Error(err))
	}

	log := logger.MustInit(logger.FromApp(cfg))
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Configuration loaded",
		zap.String("environment", cfg.Server.Environment),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("click_dispatch", cfg.Clicks.Dispatch),
		zap.String("base_url", cfg.Server.BaseURL),
	)

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open storage", zap.Error(err))
	}
	defer st.close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = infraRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		st.checks["redis"] = infraRedis.Ping(redisClient)
		log.Info("Connected to Redis", zap.String("addr", infraRedis.Addr(cfg.Redis)))
	}

	if cfg.Cache.Enabled {
		linkCache, err := infraCache.New(cfg.Cache)
		if err != nil {
			log.Fatal("Failed to create link cache", zap.Error(err))
		}
		var peers repository.CodeInvalidator
		if redisClient != nil {
			bus := infraRedis.NewCodeBus(redisClient)
			if err := bus.Listen(ctx, func(code string) { linkCache.Del(code) }); err != nil {
				log.Fatal("Failed to subscribe to link invalidations", zap.Error(err))
			}
			peers = bus
		}
		st.links = repository.NewCachedLinkRepository(st.links, linkCache, cfg.Cache.TTL, peers)
		st.closers = append(st.closers, linkCache.Close)
	}

	window, err := service.ParseUniqueWindow(cfg.Analytics.UniqueWindow, cfg.Analytics.Timezone)
	if err != nil {
		log.Fatal("Invalid unique visitor window", zap.Error(err))
	}
	unique := service.NewStoreUniqueTracker(st.clicks, window)
	pending := service.NewMemoryReconcileQueue()
	if redisClient != nil {
		if cfg.Analytics.UniqueTracker != "store" {
			unique = service.NewRedisUniqueTracker(redisClient, window, unique, log.Named("unique"))
		}
		pending = service.NewRedisReconcileQueue(redisClient)
	}

	var geo service.GeoLocator
	if cfg.GeoIP.DBPath != "" {
		reader, err := geoip.Open(cfg.GeoIP.DBPath)
		if err != nil {
			log.Fatal("Failed to open GeoIP database", zap.Error(err))
		}
		defer reader.Close()
		geo = service.NewGeoIPLocator(reader)
		log.Info("GeoIP database loaded", zap.String("path", cfg.GeoIP.DBPath))
	} else {
		log.Warn("GeoIP database not configured, click geography will be unknown")
	}

	allocator := service.NewCodeAllocator(st.links, service.AllocatorConfig{
		CodeLength:      cfg.Shortener.CodeLength,
		MaxAttempts:     cfg.Shortener.MaxAttempts,
		CustomMinLength: cfg.Shortener.CustomMinLength,
		CustomMaxLength: cfg.Shortener.CustomMaxLength,
		BloomCapacity:   cfg.Shortener.BloomCapacity,
		BloomFPRate:     cfg.Shortener.BloomFPRate,
	}, log.Named("allocator"))
	seeded, err := allocator.Seed(ctx)
	if err != nil {
		log.Fatal("Failed to seed short code filter", zap.Error(err))
	}
	log.Info("Short code filter seeded", zap.Int("codes", seeded))

	linkService := service.NewLinkService(service.LinkServiceDeps{
		Logger:        log.Named("links"),
		Links:         st.links,
		UserStats:     st.userStats,
		Allocator:     allocator,
		Reconciler:    st.reconciler,
		PublisherRate: cfg.Earnings.PublisherRate,
	})

	recorder := service.NewClickRecorder(service.RecorderDeps{
		Logger:    log.Named("recorder"),
		Links:     st.links,
		Clicks:    st.clicks,
		Facets:    st.facets,
		UserStats: st.userStats,
		Classifier: service.NewClassifier(geo, service.ClassifierConfig{
			GeoTimeout:     cfg.GeoIP.Timeout,
			BaseRateMicros: cfg.Earnings.BaseRateMicros,
		}, log.Named("classifier")),
		Unique:  unique,
		Pending: pending,
	})

	analytics := service.NewAnalyticsReader(service.AnalyticsDeps{
		Logger:      log.Named("analytics"),
		Links:       st.links,
		Clicks:      st.clicks,
		Facets:      st.facets,
		RecentLimit: cfg.Analytics.RecentLimit,
		Location:    window.Location(),
	})

	dispatcher, waitClicks, err := startClickPipeline(ctx, cfg, log, recorder, st)
	if err != nil {
		log.Fatal("Failed to start click pipeline", zap.Error(err))
	}

	worker := service.NewReconcileWorker(log.Named("reconcile"), pending, st.reconciler, cfg.Reconcile.Interval, cfg.Reconcile.Batch)
	worker.Start()

	if cfg.Prometheus.Enabled {
		promServer := infraPrometheus.NewServer(cfg.Prometheus)
		go func() {
			log.Info("Starting Prometheus metrics server", zap.Int("port", cfg.Prometheus.Port))
			if err := promServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Prometheus metrics server stopped unexpectedly", zap.Error(err))
			}
		}()
		defer func() {
			if err := promServer.Close(); err != nil {
				log.Warn("Failed to close Prometheus server", zap.Error(err))
			}
		}()
	}

	secret := []byte(cfg.Server.RedirectSecret)
	if len(secret) == 0 {
		if secret, err = httpUtil.GenerateSecret(); err != nil {
			log.Fatal("Failed to generate redirect secret", zap.Error(err))
		}
		log.Warn("REDIRECT_SECRET not set, interstitial tokens will not survive a restart")
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("JWT_SECRET not set, trusting the X-Owner-ID header for owner identity")
	}

	server := appserver.New(appserver.Dependencies{
		Logger:      log.Named("http"),
		Config:      cfg,
		LinkService: linkService,
		Analytics:   analytics,
		Dispatcher:  dispatcher,
		Redis:       redisClient,
		Secret:      secret,
		Checks:      st.checks,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Listen(fmt.Sprintf(":%d", cfg.Server.Port))
	}()
	log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err := <-serverErr:
		log.Error("Fiber server exited", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	stop()
	waitClicks()
	worker.Stop()
	if n := worker.Drain(shutdownCtx); n > 0 {
		log.Info("Reconciled pending links on shutdown", zap.Int("links", n))
	}
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		log.Warn("Using in-memory storage, data is lost on exit")
		store := memory.New()
		return &stores{
			links:      store.Links(),
			clicks:     store.Clicks(),
			facets:     store.Facets(),
			userStats:  store.UserStats(),
			reconciler: store.Reconciler(),
			checks:     map[string]handler.HealthCheck{},
		}, nil
	}

	dsn := infraPostgres.ConnString(cfg.Postgres)
	if cfg.Storage.RunMigrations {
		if err := infraPostgres.Migrate(dsn, log.Named("migrate")); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	gormDB, err := infraPostgres.NewGorm(cfg.Postgres, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql db: %w", err)
	}

	pool, err := infraPostgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Info("Connected to Postgres",
		zap.String("host", cfg.Postgres.Host),
		zap.Int("port", cfg.Postgres.Port),
		zap.String("database", cfg.Postgres.Database))

	return &stores{
		links:      repository.NewLinkRepository(gormDB),
		clicks:     repository.NewClickRepository(gormDB),
		facets:     repository.NewFacetRepository(gormDB),
		userStats:  repository.NewUserStatsRepository(gormDB),
		reconciler: repository.NewReconciler(pool),
		checks:     map[string]handler.HealthCheck{"postgres": pool.Ping},
		closers:    []func(){func() { _ = sqlDB.Close() }, pool.Close},
	}, nil
}

// startClickPipeline selects how redirects hand clicks to the recorder. With
// NATS, redirects publish and a durable consumer records; otherwise clicks are
// recorded on background goroutines. The returned func waits for in-flight work.
func startClickPipeline(ctx context.Context, cfg *config.Config, log *zap.Logger, recorder *service.ClickRecorder, st *stores) (service.ClickDispatcher, func(), error) {
	if cfg.Clicks.Dispatch != "nats" || !cfg.NATS.Enabled {
		inline := service.NewInlineDispatcher(recorder, cfg.Clicks.RecordTimeout, log.Named("dispatch"))
		return inline, inline.Wait, nil
	}

	conn, js, err := infraNATS.Connect(cfg.NATS, log.Named("nats"))
	if err != nil {
		return nil, nil, err
	}
	st.closers = append(st.closers, func() { _ = conn.Drain() })
	st.checks["nats"] = infraNATS.Ping(conn)

	if err := service.EnsureClickStream(js); err != nil {
		return nil, nil, err
	}
	consumer := service.NewClickConsumer(js, log.Named("consumer"), recorder, cfg.Clicks.RecordTimeout)
	if err := consumer.Start(ctx); err != nil {
		return nil, nil, err
	}
	log.Info("Click consumer started", zap.String("stream", model.ClickStreamName))

	return service.NewClickPublisher(js), func() { <-consumer.Done() }, nil
}
