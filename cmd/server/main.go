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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"autopilot/internal/config"
	cronrunner "autopilot/internal/cron"
	"autopilot/internal/db"
	"autopilot/internal/gateway"
	"autopilot/internal/handler"
	"autopilot/internal/logger"
	"autopilot/internal/metrics"
	"autopilot/internal/notify"
	"autopilot/internal/proposal"
	gormrepository "autopilot/internal/repository/gorm"
	"autopilot/internal/risk"
	"autopilot/internal/service"
)

func main() {
	cfgPath := os.Getenv("AP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	var verdictCache risk.VerdictCache
	switch strings.ToLower(cfg.Cache.Backend) {
	case "redis":
		redisCache, err := risk.NewRedisCache(cfg.Cache.Redis, cfg.Cache.VerdictTTL)
		if err != nil {
			logger.Fatal("redis cache init failed", zap.Error(err))
		}
		defer redisCache.Close()
		verdictCache = redisCache
		logger.Info("verdict cache: redis", zap.String("addr", cfg.Cache.Redis.Addr))
	default:
		verdictCache = risk.NewMemoryCache(cfg.Cache.VerdictTTL)
		logger.Info("verdict cache: memory")
	}

	gate := risk.NewGate(store, verdictCache, cfg.Risk, logger)

	var gw gateway.Gateway
	if cfg.Gateway.DryRun {
		gw = gateway.DryRun{}
		logger.Info("order gateway: dry-run")
	} else {
		gw = gateway.NewClient(cfg.Gateway)
		logger.Info("order gateway: live", zap.String("base_url", cfg.Gateway.BaseURL))
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		kafkaNotifier, err := notify.NewKafkaNotifier(cfg.Notify, logger)
		if err != nil {
			logger.Fatal("kafka notifier init failed", zap.Error(err))
		}
		defer kafkaNotifier.Close()
		notifier = kafkaNotifier
		logger.Info("notifier: kafka",
			zap.Strings("brokers", cfg.Notify.Brokers),
			zap.String("topic", cfg.Notify.Topic))
	}

	recorder := metrics.NewRecorder()
	executor := service.NewExecutor(store, gw, notifier, recorder, cfg.Gateway, logger)
	machine := proposal.NewMachine(store, gate, executor, notifier, recorder, cfg.Pipeline, logger)
	settingsSvc := service.NewSettings(store, logger)
	blindSpotSvc := service.NewBlindSpots(store, logger)
	antiLagMonitor := service.NewAntiLagMonitor(store, cfg.AntiLag, logger)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn}
	healthHandler.Register(engine)
	proposalHandler := &handler.ProposalHandler{Machine: machine}
	proposalHandler.Register(engine)
	blindSpotHandler := &handler.BlindSpotHandler{Service: blindSpotSvc}
	blindSpotHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Service: settingsSvc}
	settingsHandler.Register(engine)
	antiLagHandler := &handler.AntiLagHandler{Monitor: antiLagMonitor}
	antiLagHandler.Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		_, err = cronRunner.Add("expiry_sweep", cfg.Cron.ExpirySweep, func(ctx context.Context) error {
			if _, err := machine.Expire(ctx, time.Time{}); err != nil {
				return err
			}
			_, err := machine.RecoverAbandoned(ctx, time.Time{})
			return err
		})
		if err != nil {
			logger.Warn("cron register expiry sweep failed", zap.Error(err))
		}
		_, err = cronRunner.Add("anti_lag_prune", cfg.Cron.AntiLagPrune, func(ctx context.Context) error {
			_, err := antiLagMonitor.Prune(ctx)
			return err
		})
		if err != nil {
			logger.Warn("cron register anti-lag prune failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 2)

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

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
