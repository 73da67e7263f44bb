// Command server starts the mixroom API HTTP service.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"mixroom/internal/api"
	"mixroom/internal/auth"
	"mixroom/internal/media"
	"mixroom/internal/objectstore"
	"mixroom/internal/observability/logging"
	"mixroom/internal/playlists"
	"mixroom/internal/presence"
	"mixroom/internal/rooms"
	"mixroom/internal/server"
	"mixroom/internal/storage"
)

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP listen address")
	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	refreshStoreDriver := flag.String("refresh-store", "", "refresh token store driver (memory or postgres)")
	refreshPostgresDSN := flag.String("refresh-postgres-dsn", "", "Postgres DSN for the refresh token store")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	tokenSecret := flag.String("token-secret", "", "HMAC secret used to sign access tokens")
	accessTTL := flag.Duration("access-token-ttl", 0, "lifetime of issued access tokens")
	refreshTTL := flag.Duration("refresh-token-ttl", 0, "lifetime of issued refresh tokens")
	youtubeAPIKey := flag.String("youtube-api-key", "", "YouTube Data API key for metadata lookups")
	presenceRedisAddr := flag.String("presence-redis-addr", "", "Redis address for the room presence store")
	presenceRedisPassword := flag.String("presence-redis-password", "", "Redis password for the room presence store")
	roomCapExempt := flag.String("room-cap-exempt", "", "account id exempt from the room ownership cap")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	loginLimit := flag.Int("rate-login-limit", 0, "maximum login attempts per window for a single IP")
	loginWindow := flag.Duration("rate-login-window", 0, "window for counting login attempts")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed login throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed login throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis rate limiter operations")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. 127.0.0.1:9000)")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	purgeInterval := flag.Duration("purge-interval", 0, "interval between expired token and search cache sweeps")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MIXROOM_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MIXROOM_LOG_FORMAT")),
	})

	serverMode := modeValue(*mode, os.Getenv("MIXROOM_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("MIXROOM_ADDR"))

	postgresDefaultDSN := resolvePostgresDSN(*postgresDSN)
	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MIXROOM_STORAGE_DRIVER"), postgresDefaultDSN)
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && driver != "postgres" {
		logger.Error("production mode requires the postgres datastore driver", "driver", driver)
		os.Exit(1)
	}

	var options []storage.Option
	if exempt := firstNonEmpty(*roomCapExempt, os.Getenv("MIXROOM_ROOM_CAP_EXEMPT")); exempt != "" {
		options = append(options, storage.WithRoomCapExemption(exempt))
	}

	var store storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("MIXROOM_DATA"))
		store, err = storage.NewStorage(dataFile, options...)
	case "postgres":
		if postgresDefaultDSN == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		migrateCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = storage.ApplyPostgresMigrations(migrateCtx, postgresDefaultDSN)
		cancel()
		if err != nil {
			logger.Error("failed to apply postgres migrations", "error", err)
			os.Exit(1)
		}
		pgOptions := append([]storage.Option(nil), options...)
		maxConns := resolveInt(*postgresMaxConns, "MIXROOM_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MIXROOM_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MIXROOM_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MIXROOM_POSTGRES_MAX_CONN_IDLE", 0)
		healthInterval := resolveDuration(*postgresHealthInterval, "MIXROOM_POSTGRES_HEALTH_INTERVAL", 0)
		if maxLifetime > 0 || maxIdle > 0 || healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithPostgresPoolDurations(maxLifetime, maxIdle, healthInterval))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MIXROOM_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithPostgresApplicationName(appName))
		}
		store, err = storage.NewPostgresRepository(postgresDefaultDSN, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	var presenceStore presence.Store
	if presenceAddr := firstNonEmpty(*presenceRedisAddr, os.Getenv("MIXROOM_PRESENCE_REDIS_ADDR")); presenceAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     presenceAddr,
			Password: firstNonEmpty(*presenceRedisPassword, os.Getenv("MIXROOM_PRESENCE_REDIS_PASSWORD")),
		})
		presenceStore = presence.NewRedisStore(client, logging.WithComponent(logger, "presence"))
	} else {
		if serverMode == "production" {
			logger.Error("production mode requires a Redis presence store, set MIXROOM_PRESENCE_REDIS_ADDR")
			os.Exit(1)
		}
		presenceStore = presence.NewMemoryStore()
	}

	apiKey := firstNonEmpty(*youtubeAPIKey, os.Getenv("MIXROOM_YOUTUBE_API_KEY"))
	if apiKey == "" {
		logger.Error("a YouTube API key is required, set MIXROOM_YOUTUBE_API_KEY")
		os.Exit(1)
	}
	provider := media.NewYouTube(apiKey)
	search := media.NewSearchCache(provider, store, logging.WithComponent(logger, "search-cache"))

	refreshConfig, err := resolveRefreshStoreConfig(
		*refreshStoreDriver,
		os.Getenv("MIXROOM_REFRESH_STORE"),
		driver,
		postgresDefaultDSN,
		*refreshPostgresDSN,
		os.Getenv("MIXROOM_REFRESH_POSTGRES_DSN"),
	)
	if err != nil {
		logger.Error("failed to resolve refresh token store", "error", err)
		os.Exit(1)
	}

	var (
		refreshStore  auth.RefreshStore
		refreshCloser func(context.Context) error
	)
	switch refreshConfig.Driver {
	case "memory":
		refreshStore = auth.NewMemoryRefreshStore()
	case "postgres":
		pgStore, err := auth.NewPostgresRefreshStore(refreshConfig.DSN)
		if err != nil {
			logger.Error("failed to open refresh token store", "error", err)
			os.Exit(1)
		}
		refreshStore = pgStore
		refreshCloser = pgStore.Close
	default:
		logger.Error("unsupported refresh token store driver", "driver", refreshConfig.Driver)
		os.Exit(1)
	}

	secret := firstNonEmpty(*tokenSecret, os.Getenv("MIXROOM_TOKEN_SECRET"))
	if secret == "" {
		if serverMode == "production" {
			logger.Error("production mode requires MIXROOM_TOKEN_SECRET to be set")
			os.Exit(1)
		}
		secret = randomSecret()
		logger.Warn("no token secret configured, generated an ephemeral one; sessions will not survive restarts")
	}

	tokenOpts := []auth.TokenOption{auth.WithRefreshStore(refreshStore)}
	if ttl := resolveDuration(*accessTTL, "MIXROOM_ACCESS_TOKEN_TTL", 0); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithAccessTTL(ttl))
	}
	if ttl := resolveDuration(*refreshTTL, "MIXROOM_REFRESH_TOKEN_TTL", 0); ttl > 0 {
		tokenOpts = append(tokenOpts, auth.WithRefreshTTL(ttl))
	}
	tokens := auth.NewTokenManager([]byte(secret), tokenOpts...)

	objects, err := resolveObjectStore(objectstore.Config{
		Endpoint:  firstNonEmpty(*objectEndpoint, os.Getenv("MIXROOM_OBJECT_ENDPOINT")),
		AccessKey: firstNonEmpty(*objectAccessKey, os.Getenv("MIXROOM_OBJECT_ACCESS_KEY")),
		SecretKey: firstNonEmpty(*objectSecretKey, os.Getenv("MIXROOM_OBJECT_SECRET_KEY")),
		Bucket:    firstNonEmpty(*objectBucket, os.Getenv("MIXROOM_OBJECT_BUCKET")),
		UseSSL:    resolveBool(*objectUseSSL, "MIXROOM_OBJECT_USE_SSL"),
	})
	if err != nil {
		logger.Error("failed to configure object storage", "error", err)
		os.Exit(1)
	}

	playlistSvc := playlists.NewService(store, provider, search, logging.WithComponent(logger, "playlists"))
	roomSvc := rooms.NewService(store, presenceStore, rooms.NewActivePlaylistSource(store), logging.WithComponent(logger, "rooms"))

	handler := api.NewHandler(store, tokens, playlistSvc, roomSvc, presenceStore, objects, logging.WithComponent(logger, "api"))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	purgeEvery := resolveDuration(*purgeInterval, "MIXROOM_PURGE_INTERVAL", 15*time.Minute)
	purgeStop := startMaintenanceWorker(workerCtx, logging.WithComponent(logger, "maintenance"), tokens, store, purgeEvery)
	defer purgeStop()

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("MIXROOM_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MIXROOM_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "MIXROOM_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "MIXROOM_RATE_GLOBAL_BURST"),
			LoginLimit:    resolveInt(*loginLimit, "MIXROOM_RATE_LOGIN_LIMIT"),
			LoginWindow:   resolveDuration(*loginWindow, "MIXROOM_RATE_LOGIN_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("MIXROOM_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("MIXROOM_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "MIXROOM_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("mixroom API listening", "addr", listenAddr, "mode", serverMode, "storage", driver)
	if err := srv.Run(runCtx); err != nil {
		logger.Error("server error", "error", err)
	}

	workerCancel()
	purgeStop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if closer, ok := store.(interface{ Close(context.Context) error }); ok {
		if err := closer.Close(ctx); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}
	if refreshCloser != nil {
		if err := refreshCloser(ctx); err != nil {
			logger.Warn("failed to close refresh token store", "error", err)
		}
	}

	logger.Info("server stopped")
}

type refreshStoreConfig struct {
	Driver string
	DSN    string
}

func resolveRefreshStoreConfig(flagDriver, envDriver, storageDriver, storageDSN, flagDSN, envDSN string) (refreshStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}

	refreshDSN := strings.TrimSpace(firstNonEmpty(flagDSN, envDSN))
	if driver == "" {
		switch {
		case refreshDSN != "":
			driver = "postgres"
		case storageDriver == "postgres":
			driver = "postgres"
		default:
			driver = "memory"
		}
	}

	switch driver {
	case "", "memory":
		return refreshStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if refreshDSN == "" {
			refreshDSN = strings.TrimSpace(storageDSN)
		}
		if refreshDSN == "" {
			return refreshStoreConfig{}, fmt.Errorf("postgres refresh token store selected without DSN")
		}
		return refreshStoreConfig{Driver: "postgres", DSN: refreshDSN}, nil
	default:
		return refreshStoreConfig{}, fmt.Errorf("unsupported refresh token store driver %q", driver)
	}
}

func resolveObjectStore(cfg objectstore.Config) (objectstore.Store, error) {
	if cfg.Endpoint == "" && cfg.Bucket == "" {
		return objectstore.Disabled{}, nil
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("object storage requires both an endpoint and a bucket")
	}
	return objectstore.NewMinioStore(cfg)
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MIXROOM_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("read random secret: %v", err))
	}
	return hex.EncodeToString(buf)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
