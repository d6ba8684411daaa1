package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"polyshadow/internal/client/polymarket/clob"
	polymarketdata "polyshadow/internal/client/polymarket/data"
	polymarketgamma "polyshadow/internal/client/polymarket/gamma"
	"polyshadow/internal/config"
	cronrunner "polyshadow/internal/cron"
	"polyshadow/internal/db"
	"polyshadow/internal/engine"
	"polyshadow/internal/handler"
	"polyshadow/internal/logger"
	"polyshadow/internal/pricefeed"
	"polyshadow/internal/profiler"
	gormrepository "polyshadow/internal/repository/gorm"
	"polyshadow/internal/risk"
	"polyshadow/internal/settlement"
	"polyshadow/internal/shadow"
	"polyshadow/internal/simulator"
	"polyshadow/internal/sizing"
)

func main() {
	cfgPath := os.Getenv("PS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("PS_ENV_ONLY"); envOnlyRaw != "" {
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

	dataHTTP := &http.Client{Timeout: cfg.DataAPI.Timeout}
	dataClient := polymarketdata.NewClient(dataHTTP, cfg.DataAPI.BaseURL)
	clobHTTP := &http.Client{Timeout: cfg.ClobREST.Timeout}
	clobClient := clob.NewClient(clobHTTP, cfg.ClobREST.BaseURL)
	gammaHTTP := &http.Client{Timeout: cfg.Gamma.Timeout}
	gammaClient := polymarketgamma.NewClient(gammaHTTP, cfg.Gamma.BaseURL)

	store := gormrepository.New(dbConn.Gorm)

	profiles := profiler.New(dataClient, cfg.Profiler, logger)
	riskMgr := risk.NewManager(cfg.Risk, logger)
	sizer := sizing.New(cfg.Sizing)
	sim := simulator.New(clobClient, store, cfg.Simulation, logger)
	settler := settlement.NewEngine(store, gammaClient, cfg.Settlement, logger)
	tracker := shadow.NewTracker(dataClient, clobClient, store, cfg.Shadow, logger)
	tracker.SetProfileSource(profiles)
	feed := pricefeed.New(store, cfg.ClobStream, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tracker.Restore(ctx); err != nil {
		logger.Warn("shadow restore failed", zap.Error(err))
	}

	eng := engine.New(cfg, engine.Deps{
		Trades:   dataClient,
		Profiles: profiles,
		Risk:     riskMgr,
		Sizer:    sizer,
		Sim:      sim,
		Filter:   engine.NewMarketFilter(cfg.Monitor.MarketFilter),
		Tracker:  tracker,
		Logger:   logger,
	})

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	tradeHandler := &handler.TradeHandler{Repo: store, Feed: feed}
	tradeHandler.Register(router)
	statusHandler := &handler.StatusHandler{
		Engine:   eng,
		Profiles: profiles,
		Risk:     riskMgr,
		Tracker:  tracker,
	}
	statusHandler.Register(router)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	cronRunner := cronrunner.New(logger, ctx)
	if _, err := cronRunner.Add(cfg.Settlement.Schedule, func(ctx context.Context) {
		if _, err := settler.RunOnce(ctx); err != nil {
			logger.Warn("settlement sweep failed", zap.Error(err))
		}
	}); err != nil {
		logger.Fatal("settlement schedule invalid", zap.Error(err))
	}
	if _, err := cronRunner.Add(cfg.Shadow.SnapshotSchedule, func(ctx context.Context) {
		tracker.Snapshot(ctx)
	}); err != nil {
		logger.Fatal("shadow snapshot schedule invalid", zap.Error(err))
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	if cfg.ClobStream.Enabled {
		go func() {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("price feed stopped", zap.Error(err))
			}
		}()
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	logger.Info("engine starting",
		zap.Int("targets", len(cfg.ActiveTargets())),
		zap.Int("candidates", len(cfg.Candidates)),
		zap.Ints("delays", cfg.Simulation.Delays))
	eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown failed", zap.Error(err))
	}
	logger.Info("engine stopped")
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
