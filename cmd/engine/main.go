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
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"auditgate/internal/authz"
	"auditgate/internal/client/execution"
	"auditgate/internal/client/riskscore"
	"auditgate/internal/client/treasury"
	"auditgate/internal/config"
	"auditgate/internal/coordinator"
	cronrunner "auditgate/internal/cron"
	"auditgate/internal/db"
	"auditgate/internal/gateway"
	"auditgate/internal/handler"
	"auditgate/internal/logger"
	gormrepository "auditgate/internal/repository/gorm"
	"auditgate/internal/review"
	"auditgate/internal/rules"
)

func main() {
	cfgPath := os.Getenv("AUDITGATE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AUDITGATE_ENV_ONLY"); envOnlyRaw != "" {
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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ruleStore := &rules.Store{
		Repo:   store,
		Logger: logger,
		TTL:    cfg.Rules.ReloadTTL,
	}

	riskClient := riskscore.NewClient(&http.Client{Timeout: cfg.RiskService.Timeout}, cfg.RiskService.BaseURL)
	treasuryClient := treasury.NewClient(&http.Client{Timeout: cfg.Treasury.Timeout}, cfg.Treasury.BaseURL)
	execClient := execution.NewClient(&http.Client{Timeout: cfg.Execution.Timeout}, cfg.Execution.BaseURL)

	riskCoord := &coordinator.RiskCoordinator{
		Scorer:  riskClient,
		Logger:  logger,
		Timeout: cfg.RiskService.Timeout,
		Breaker: newBreaker("risk-service", logger),
	}
	budgetCoord := &coordinator.BudgetCoordinator{
		Service: treasuryClient,
		Logger:  logger,
		Timeout: cfg.Treasury.Timeout,
		Breaker: newBreaker("treasury", logger),
	}

	publisher := &gateway.Publisher{
		Redis:  rdb,
		Logger: logger,
		Config: cfg.Gateway,
	}

	engine := &review.Engine{
		Repo:      store,
		Rules:     ruleStore,
		Risk:      riskCoord,
		Budget:    budgetCoord,
		Exec:      execClient,
		Publisher: publisher,
		Logger:    logger,
		Config:    cfg.Review,
	}

	gw := &gateway.Gateway{
		Redis:  rdb,
		Repo:   store,
		Sink:   engine,
		Logger: logger,
		Config: cfg.Gateway,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(authz.Middleware(cfg.Auth))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	decisionHandler := &handler.DecisionHandler{
		Repo:   store,
		Engine: engine,
		Auth:   &authz.RoleAuthorizer{SeniorRole: cfg.Auth.SeniorRole},
	}
	decisionHandler.Register(router)
	ruleHandler := &handler.RuleHandler{Repo: store, Rules: ruleStore}
	ruleHandler.Register(router)
	quarantineHandler := &handler.QuarantineHandler{Repo: store}
	quarantineHandler.Register(router)
	pipelineHandler := &handler.PipelineHandler{Repo: store}
	pipelineHandler.Register(router)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("gateway stopped", zap.Error(err))
		}
	}()

	cronRunner := cronrunner.New(logger, ctx)

	_, err = cronRunner.Add(cfg.Review.SweepInterval, func(ctx context.Context) {
		if err := engine.Sweep(ctx, cfg.Review.SweepHoldAge, cfg.Review.SweepLimit); err != nil {
			logger.Warn("held package sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("cron register sweep failed", zap.Error(err))
	}

	_, err = cronRunner.Add(cfg.Quarantine.PurgeSchedule, func(ctx context.Context) {
		cutoff := time.Now().UTC().Add(-cfg.Quarantine.Retention)
		n, err := store.DeleteQuarantinedMessagesBefore(ctx, cutoff)
		if err != nil {
			logger.Warn("quarantine purge failed", zap.Error(err))
			return
		}
		if n > 0 {
			logger.Info("purged quarantined messages", zap.Int64("count", n))
		}
	})
	if err != nil {
		logger.Warn("cron register quarantine purge failed", zap.Error(err))
	}

	cronRunner.Start()
	defer cronRunner.Stop()

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

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	})
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
