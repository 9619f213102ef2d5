package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/lk2023060901/vidgrab-bot/internal/bot"
	"github.com/lk2023060901/vidgrab-bot/internal/conf"
	"github.com/lk2023060901/vidgrab-bot/internal/data"
	downloadbiz "github.com/lk2023060901/vidgrab-bot/internal/download/biz"
	downloaddata "github.com/lk2023060901/vidgrab-bot/internal/download/data"
	"github.com/lk2023060901/vidgrab-bot/internal/downloader"
	"github.com/lk2023060901/vidgrab-bot/internal/gate"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/logger"
	"github.com/lk2023060901/vidgrab-bot/internal/pkg/workerpool"
	"github.com/lk2023060901/vidgrab-bot/internal/platform"
	"github.com/lk2023060901/vidgrab-bot/internal/ratelimit"
	"github.com/lk2023060901/vidgrab-bot/internal/retention"
	"github.com/lk2023060901/vidgrab-bot/internal/server"
	"github.com/lk2023060901/vidgrab-bot/internal/session"
	statsbiz "github.com/lk2023060901/vidgrab-bot/internal/stats/biz"
	statsdata "github.com/lk2023060901/vidgrab-bot/internal/stats/data"
	statsservice "github.com/lk2023060901/vidgrab-bot/internal/stats/service"
	"github.com/lk2023060901/vidgrab-bot/internal/telegram"
	userbiz "github.com/lk2023060901/vidgrab-bot/internal/user/biz"
	userdata "github.com/lk2023060901/vidgrab-bot/internal/user/data"
	"go.uber.org/zap"
)

var (
	configFile = flag.String("config", "config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("config loaded successfully", zap.String("file", *configFile))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize repositories and use cases
	userUseCase := userbiz.NewUserUseCase(userdata.NewUserRepo(d.DB))
	aggregator := statsbiz.NewAggregator(statsdata.NewStatsRepo(d.DB))
	store := downloadbiz.NewStore(downloaddata.NewRequestRepo(d.DB), aggregator, d.DB)

	detector := platform.NewDetector(config.Download.Domains)
	log.Info("supported platforms", zap.Strings("domains", detector.Domains()))
	ytdlp, err := downloader.New(&downloader.Config{
		Binary:  config.Download.Binary,
		Timeout: config.Download.Timeout,
		Cookies: config.Download.Cookies,
	}, detector, log)
	if err != nil {
		log.Fatal("failed to initialize downloader", zap.Error(err))
	}

	pool, err := workerpool.New(&config.WorkerPool, log.Named("workerpool").Logger)
	if err != nil {
		log.Fatal("failed to initialize worker pool", zap.Error(err))
	}
	defer pool.Shutdown()

	limiter, memory := newLimiter(config, d, log)
	var pruners []retention.Pruner
	if memory != nil {
		pruners = append(pruners, memory)
	}

	sweeper := retention.NewSweeper(retention.Config{
		Days:          config.Retention.Days,
		Interval:      config.Retention.Interval,
		RetryInterval: config.Retention.RetryInterval,
	}, store, aggregator, log, pruners...)

	sessions := session.NewRegistry()
	orchestrator := bot.New(bot.Config{
		DownloadDir: config.Download.Dir,
		MaxMB:       config.Download.MaxMB,
		PremiumMB:   config.Download.PremiumMB,
		AdminIDs:    config.Bot.AdminIDs,
	}, bot.Deps{
		Detector:   detector,
		Limiter:    limiter,
		Gate:       gate.New(config.Limits.MaxConcurrent),
		Sessions:   sessions,
		Requests:   store,
		Downloader: ytdlp,
		Users:      userUseCase,
		Stats:      aggregator,
		Pool:       pool,
		Sweeper:    sweeper,
		Logger:     log,
	})

	client, err := telegram.New(telegram.Config{
		AppID:       config.Bot.AppID,
		AppHash:     config.Bot.AppHash,
		Token:       config.Bot.Token,
		SessionFile: config.Bot.SessionFile,
	}, orchestrator, log)
	if err != nil {
		log.Fatal("failed to initialize telegram client", zap.Error(err))
	}

	go sweeper.Run(ctx)

	var httpServer *server.HTTPServer
	if config.Server.Enabled {
		statsService := statsservice.NewStatsService(aggregator, store, log.Logger)
		checks := map[string]server.Check{
			"database": d.DB.HealthCheck,
			"telegram": func(context.Context) error {
				if !client.Ready() {
					return errors.New("not logged in")
				}
				return nil
			},
		}
		httpServer = server.NewHTTPServer(config.Server, log, statsService, checks, runtimeGauges(sessions, pool, memory))

		go func() {
			if err := httpServer.Start(); err != nil {
				log.Error("HTTP server failed", zap.Error(err))
				stop()
			}
		}()
	}

	log.Info("bot starting")
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("telegram client stopped", zap.Error(err))
	}

	log.Info("shutting down...")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			log.Error("HTTP server forced to shutdown", zap.Error(err))
		}
	}

	log.Info("bot exited")
}

// newLimiter builds the configured rate limiter. The in-memory limiter is
// also returned so the sweeper can prune it; it is nil for redis.
func newLimiter(config *conf.Config, d *data.Data, log *logger.Logger) (ratelimit.Limiter, *ratelimit.MemoryLimiter) {
	cfg := ratelimit.Config{
		MaxRequests: config.Limits.MaxRequests,
		Period:      config.Limits.Period,
	}

	if config.Limits.Backend == "redis" {
		if d.Redis == nil {
			log.Fatal("limits.backend is redis but redis is not enabled")
		}
		log.Info("using redis rate limiter")
		return ratelimit.NewRedisLimiter(d.Redis, cfg, ""), nil
	}

	memory := ratelimit.NewMemoryLimiter(cfg)
	return memory, memory
}

// runtimeGauges feeds the ops server's /api/v1/runtime endpoint
func runtimeGauges(sessions *session.Registry, pool *workerpool.Pool, memory *ratelimit.MemoryLimiter) map[string]server.Gauge {
	gauges := map[string]server.Gauge{
		"active_downloads": func() int64 { return int64(sessions.Active()) },
		"pool_running":     func() int64 { return int64(pool.Running()) },
		"pool_free":        func() int64 { return int64(pool.Free()) },
		"pool_capacity":    func() int64 { return int64(pool.Cap()) },
		"pool_submitted":   func() int64 { return pool.Stats().Submitted },
		"pool_completed":   func() int64 { return pool.Stats().Completed },
		"pool_failed":      func() int64 { return pool.Stats().Failed },
		"pool_panicked":    func() int64 { return pool.Stats().Panicked },
	}
	if memory != nil {
		gauges["rate_limit_windows"] = func() int64 { return int64(memory.Len()) }
	}
	return gauges
}
