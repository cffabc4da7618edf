package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "mtfcascade/docs"
	"mtfcascade/internal/cache"
	"mtfcascade/internal/client/binance"
	"mtfcascade/internal/client/evaluator"
	"mtfcascade/internal/config"
	cronrunner "mtfcascade/internal/cron"
	"mtfcascade/internal/db"
	"mtfcascade/internal/handler"
	"mtfcascade/internal/logger"
	"mtfcascade/internal/metrics"
	"mtfcascade/internal/repository"
	gormrepository "mtfcascade/internal/repository/gorm"
	memoryrepository "mtfcascade/internal/repository/memory"
	"mtfcascade/internal/service"
	"mtfcascade/internal/timeframe"
)

func main() {
	cfgPath := os.Getenv("MTF_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MTF_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log, cfg.App.Name)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	var store repository.Repository
	if dbConn == nil {
		logger.Warn("using in-memory repository; state is lost on restart")
		store = memoryrepository.New()
	} else {
		if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if cfg.DB.AutoMigrate {
			if err := db.AutoMigrate(dbConn); err != nil {
				logger.Fatal("auto-migrate failed", zap.Error(err))
			}
		}
		store = gormrepository.New(dbConn.Gorm)
	}

	var redisStore *cache.RedisStore
	if strings.EqualFold(strings.TrimSpace(cfg.RunLock.Backend), "redis") {
		redisStore = cache.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.Prefix)
		defer redisStore.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		}
		cancel()
	}
	var lockCache cache.Store
	if redisStore != nil {
		lockCache = redisStore
	}

	clock := timeframe.SystemClock{}
	mtx := metrics.New()

	runLock, err := service.NewRunLock(cfg.RunLock.Backend, store, lockCache, clock)
	if err != nil {
		logger.Fatal("run lock init failed", zap.Error(err))
	}

	settingsSvc := &service.SystemSettingsService{Repo: store, Clock: clock, Logger: logger}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}
	policies := &service.PolicySource{Config: cfg.Timeframes, Settings: store, Logger: logger}

	root := parseTimeframe(logger, "cycle.start_from", cfg.Cycle.StartFrom, timeframe.H4)
	dedup := &service.EventDedupGuard{Repo: store, Clock: clock, Logger: logger, Metrics: mtx}
	router := &service.EligibilityRouter{
		Repo:                store,
		Dedup:               dedup,
		Policies:            policies,
		Clock:               clock,
		Logger:              logger,
		Metrics:             mtx,
		Root:                root,
		ExecutionTimeframes: parseTimeframes(logger, cfg.Cascade.ExecutionPreference),
	}
	query := &service.EligibilityQueryService{Repo: store, Clock: clock}

	binanceClient := binance.NewClient(&http.Client{Timeout: cfg.Binance.Timeout}, cfg.Binance.BaseURL)
	evaluatorClient := evaluator.NewClient(&http.Client{Timeout: cfg.Evaluator.Timeout}, cfg.Evaluator.BaseURL, cfg.Evaluator.APIKey)
	klines := &service.StoredKlineProvider{Repo: store, Fetcher: binanceClient, Clock: clock, Logger: logger}

	cascade := &service.CascadeOrchestrator{
		Klines:              klines,
		Evaluator:           evaluatorClient,
		Cache:               &service.ValidationCache{Repo: store, Clock: clock},
		Switches:            settingsSvc,
		Policies:            policies,
		Clock:               clock,
		Logger:              logger,
		Metrics:             mtx,
		StartFrom:           parseTimeframe(logger, "cascade.start_from", cfg.Cascade.StartFrom, root),
		ExecutionPreference: parseTimeframes(logger, cfg.Cascade.ExecutionPreference),
	}

	hub := &handler.ProgressHub{Logger: logger}
	cycles := &service.CycleRunner{
		Query:                  query,
		Cascade:                cascade,
		Recorder:               &service.SnapshotRecorder{Repo: store, Logger: logger},
		Router:                 router,
		Switches:               settingsSvc,
		Lock:                   runLock,
		Clock:                  clock,
		Logger:                 logger,
		Metrics:                mtx,
		Progress:               []service.ProgressFunc{mtx.OnProgress, hub.Publish, logProgress(logger)},
		LockKey:                cfg.RunLock.Key,
		LockTTL:                cfg.RunLock.TTL,
		Workers:                cfg.Cycle.Workers,
		Limit:                  cfg.Cycle.Limit,
		IncludeCooldownElapsed: cfg.Cycle.IncludeCooldownElapsed,
		StartFrom:              root,
	}
	maintenance := &service.Maintenance{
		Dedup:            dedup,
		Snapshots:        store,
		Clock:            clock,
		Logger:           logger,
		DedupRetention:   cfg.Maintenance.DedupRetention,
		PendingRetention: cfg.Maintenance.PendingRetention,
	}

	if len(cfg.App.Symbols) > 0 {
		if err := router.Seed(context.Background(), cfg.App.Symbols); err != nil {
			logger.Warn("seed symbols failed", zap.Error(err))
		}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{}
	if dbConn != nil {
		healthHandler.DB = dbConn.Gorm
	}
	if redisStore != nil {
		healthHandler.Redis = redisStore.Client
	}
	healthHandler.Register(engine)
	(&handler.MetricsHandler{Handler: mtx.Handler()}).Register(engine)
	hub.Register(engine)

	auth := handler.JWTAuth{Secret: []byte(cfg.Auth.JWTSecret), Issuer: cfg.Auth.Issuer}
	if !auth.Enabled() {
		logger.Warn("api authentication disabled; set auth.jwt_secret to enable")
	}
	api := engine.Group("/api/v1", auth.Middleware())
	(&handler.EligibilityHandler{Query: query, Router: router}).Register(api)
	(&handler.CascadeHandler{Cascade: cascade}).Register(api)
	(&handler.CycleHandler{Runner: cycles}).Register(api)
	(&handler.EventsHandler{Router: router}).Register(api)
	(&handler.SwitchHandler{Settings: settingsSvc}).Register(api)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if err := cronrunner.RegisterCycles(cronRunner, cycles, cfg.Cron.Cycles); err != nil {
			logger.Fatal("register cycle jobs failed", zap.Error(err))
		}
		if err := cronrunner.RegisterMaintenance(cronRunner, maintenance, cfg.Cron.DedupPrune, cfg.Cron.PendingSweep); err != nil {
			logger.Fatal("register maintenance jobs failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func parseTimeframe(logger *zap.Logger, key, raw string, fallback timeframe.Timeframe) timeframe.Timeframe {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	tf, err := timeframe.Parse(raw)
	if err != nil {
		logger.Warn("invalid timeframe in config, using fallback", zap.String("key", key), zap.String("fallback", fallback.String()), zap.Error(err))
		return fallback
	}
	return tf
}

func parseTimeframes(logger *zap.Logger, raw []string) []timeframe.Timeframe {
	out := make([]timeframe.Timeframe, 0, len(raw))
	for _, v := range raw {
		tf, err := timeframe.Parse(v)
		if err != nil {
			logger.Warn("ignoring timeframe in config", zap.String("value", v), zap.Error(err))
			continue
		}
		out = append(out, tf)
	}
	return out
}

func logProgress(logger *zap.Logger) service.ProgressFunc {
	return func(ev service.ProgressEvent) {
		logger.Debug("cycle progress",
			zap.String("cycle_id", ev.CycleID),
			zap.String("timeframe", ev.Timeframe.String()),
			zap.String("symbol", ev.Symbol),
			zap.String("result", ev.Result),
			zap.String("reason", ev.Reason),
			zap.Int("processed", ev.Processed),
			zap.Int("total", ev.Total),
		)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
