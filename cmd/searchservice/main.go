package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/stashfind/internal/stash/domain"
	"github.com/example/stashfind/internal/stash/geoindex"
	"github.com/example/stashfind/internal/stash/handler"
	"github.com/example/stashfind/internal/stash/service"
	"github.com/example/stashfind/internal/stash/store"
	"github.com/example/stashfind/internal/stash/syncer"
	"github.com/example/stashfind/pkg/events"
	"github.com/example/stashfind/pkg/observability"
)

type appConfig struct {
	HTTPAddr        string
	PostgresDSN     string
	RedisAddr       string
	NATSURL         string
	GeoBackend      string
	DefaultRadiusKM float64
	LookupTimeout   time.Duration
	MaxLookups      int
	SyncInterval    time.Duration
	SyncTimeout     time.Duration
	ProfileCacheTTL time.Duration
	RateLimitRate   float64
	RateLimitBurst  float64
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.SetupLogger("search-service")
	defer logger.Sync() //nolint:errcheck

	shutdown, err := observability.SetupTracer(ctx, "search-service")
	if err != nil {
		logger.Warn("tracer setup failed", zap.Error(err))
	} else {
		defer shutdown(context.Background())
	}

	cfg := loadConfig()

	capacityStore := buildCapacityStore(ctx, logger, cfg)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		if conn, err := nats.Connect(cfg.NATSURL, nats.Name("searchservice")); err == nil {
			natsConn = conn
			defer conn.Drain()
		} else {
			logger.Warn("nats connection failed", zap.Error(err))
		}
	}
	publisher := events.NewPublisher(natsConn, "")

	index := buildGeoIndex(redisClient, logger, cfg)

	var profiles domain.ProfileSource = store.NewStoreProfileSource(capacityStore)
	if redisClient != nil {
		profiles = store.NewRedisProfileCache(redisClient, capacityStore, cfg.ProfileCacheTTL, logger.Named("profilecache"))
	}

	svc := service.New(index, profiles, publisher, logger.Named("search"), domain.SystemClock{}, service.Config{
		DefaultRadiusKM:      cfg.DefaultRadiusKM,
		LookupTimeout:        cfg.LookupTimeout,
		MaxConcurrentLookups: cfg.MaxLookups,
	})
	sync := syncer.New(capacityStore, index, publisher, logger.Named("syncer"), domain.SystemClock{}, syncer.Config{
		Interval:   cfg.SyncInterval,
		RunTimeout: cfg.SyncTimeout,
	})

	go func() {
		if err := sync.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("syncer stopped", zap.Error(err))
		}
	}()

	limiter := handler.NewRateLimiter(redisClient, handler.RateConfig{Rate: cfg.RateLimitRate, Burst: cfg.RateLimitBurst})
	searchHTTP := handler.NewHTTP(svc, sync, limiter)

	r := chi.NewRouter()
	r.Mount("/", searchHTTP.Router())
	r.Mount("/observability", observability.MetricsRouter(sync.Synced))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("search service listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildCapacityStore(ctx context.Context, logger *zap.Logger, cfg appConfig) domain.CapacityStore {
	if cfg.PostgresDSN == "" {
		logger.Warn("no postgres dsn configured, using empty in-memory capacity store")
		return store.NewMemory()
	}
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres connect", zap.Error(err))
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("postgres ping", zap.Error(err))
	}
	return store.NewPostgres(db)
}

func buildGeoIndex(redisClient *redis.Client, logger *zap.Logger, cfg appConfig) domain.GeoIndex {
	if cfg.GeoBackend == "redis" {
		if redisClient == nil {
			logger.Fatal("geo backend redis requires REDIS_ADDR")
		}
		return geoindex.NewRedisIndex(redisClient, "")
	}
	return geoindex.NewMemoryIndex()
}

func loadConfig() appConfig {
	return appConfig{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		PostgresDSN:     firstNonEmpty(os.Getenv("POSTGRES_DSN"), os.Getenv("DATABASE_URL")),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		NATSURL:         os.Getenv("NATS_URL"),
		GeoBackend:      getenv("GEO_BACKEND", "memory"),
		DefaultRadiusKM: parseFloatEnv("DEFAULT_RADIUS_KM", 10),
		LookupTimeout:   time.Duration(parseIntEnv("LOOKUP_TIMEOUT_MS", 2000)) * time.Millisecond,
		MaxLookups:      parseIntEnv("MAX_CONCURRENT_LOOKUPS", 8),
		SyncInterval:    time.Duration(parseIntEnv("SYNC_INTERVAL_MIN", 1440)) * time.Minute,
		SyncTimeout:     time.Duration(parseIntEnv("SYNC_TIMEOUT_SEC", 300)) * time.Second,
		ProfileCacheTTL: time.Duration(parseIntEnv("PROFILE_CACHE_TTL_SEC", 30)) * time.Second,
		RateLimitRate:   parseFloatEnv("RATE_LIMIT_RPS", 0),
		RateLimitBurst:  parseFloatEnv("RATE_LIMIT_BURST", 0),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseIntEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func parseFloatEnv(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}
