package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/presshub/internal/automation"
	"github.com/presshub/internal/cache"
	"github.com/presshub/internal/config"
	"github.com/presshub/internal/db"
	"github.com/presshub/internal/handler"
	"github.com/presshub/internal/logging"
	"github.com/presshub/internal/router"
	"github.com/presshub/internal/service"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFile)
	gin.SetMode(cfg.GinMode)

	if err := db.Init(cfg.DatabaseDSN); err != nil {
		log.WithError(err).Fatal("初始化数据库失败")
	}
	if _, err := db.EnsureDefaultSite(cfg.DefaultSiteSlug, cfg.DefaultSiteName); err != nil {
		log.WithError(err).Fatal("初始化默认站点失败")
	}
	if cfg.SuperRootUserName != "" && cfg.SuperRootPassword != "" {
		if err := db.EnsureUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
			log.WithError(err).Fatal("初始化管理员账号失败")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store := buildCacheStore(cfg, registry)

	subscribers := service.NewSubscriberService(db.DB)
	outbox := service.NewOutboxService(db.DB, nil)
	sites := service.NewSiteService(db.DB)
	articles := service.NewArticleService(db.DB)
	ads := service.NewAdService(db.DB)
	analytics := service.NewAnalyticsService(db.DB)

	engine := automation.New(db.DB, automation.Config{
		PollInterval:  cfg.Automation.PollInterval,
		MaxConcurrent: cfg.Automation.MaxConcurrent,
		MissedWindow:  cfg.Automation.MissedWindow,
	}, subscribers, outbox, sites, automation.NewMetrics(registry))

	sweeper := automation.NewSweeper(automation.SweeperConfig{}, articles, ads, analytics, outbox, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopEngine := engine.Start(ctx)
	stopSweeper := sweeper.Start(ctx)
	if mem, ok := store.(*cache.MemoryStore); ok {
		stopJanitor := mem.StartJanitor(ctx, cfg.Cache.JanitorInterval)
		defer stopJanitor()
	}

	api := handler.NewAPI(db.DB, cfg, engine, store)
	r := router.SetupRouter(api, cfg, registry)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("HTTP 服务启动")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP 服务异常退出")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，开始优雅关闭")

	stopEngine()
	stopSweeper()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP 服务关闭超时")
	}
	log.Info("服务已退出")
}

// buildCacheStore 根据配置选择 Redis 或内存缓存。
// Redis 连接失败时回退到内存实现，保证单机部署开箱即用。
func buildCacheStore(cfg config.AppConfig, registry *prometheus.Registry) cache.Store {
	if !cfg.Cache.Enabled {
		return nil
	}
	metrics := cache.NewMetrics(registry)
	if cfg.RedisURL != "" {
		redisStore, err := cache.NewRedisStore(cfg.RedisURL, "presshub:page")
		if err != nil {
			log.WithError(err).Warn("连接 Redis 失败，页面缓存改用内存实现")
		} else {
			log.Info("页面缓存使用 Redis")
			return redisStore.WithMetrics(metrics)
		}
	}
	return cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.MaxBytes).WithMetrics(metrics)
}
