package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/server-doctor/internal/api"
	"github.com/nidhogg/server-doctor/internal/config"
	"github.com/nidhogg/server-doctor/internal/doctor"
	"github.com/nidhogg/server-doctor/internal/guide"
	"github.com/nidhogg/server-doctor/internal/health"
	"github.com/nidhogg/server-doctor/internal/logs"
	"github.com/nidhogg/server-doctor/internal/mcp"
	"github.com/nidhogg/server-doctor/internal/metrics"
	"github.com/nidhogg/server-doctor/internal/notify"
	"github.com/nidhogg/server-doctor/internal/provider"
	"github.com/nidhogg/server-doctor/internal/registry"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Server Doctor...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/doctor.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Server registry: PostgreSQL when configured, in-memory otherwise
	var reg registry.Registry
	var pg *registry.Postgres
	if cfg.Database.Postgres.DSN != "" {
		p, pgErr := registry.NewPostgres(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, falling back to in-memory registry", zap.Error(pgErr))
		} else {
			if mErr := p.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			pg = p
			reg = p
		}
	}
	if reg == nil {
		reg = registry.NewMemory(logger)
	}

	// In-memory telemetry windows
	logAgg := logs.NewAggregator(cfg.Buffers.Logs, logger)
	metricAgg := metrics.NewAggregator(cfg.Buffers.Metrics, metrics.TrendThresholds{
		CPUHigh: cfg.Thresholds.CPUHighPercent,
		MemHigh: cfg.Thresholds.MemHighPercent,
	}, logger)
	healthTracker := health.NewTracker(cfg.Buffers.Health, reg, logger)

	// Webhook transport
	var transport notify.Transport
	switch cfg.Notify.Platform {
	case "slack":
		transport = notify.NewSlackWebhook(logger)
	default:
		t, dErr := notify.NewDiscordWebhook(logger)
		if dErr != nil {
			logger.Fatal("discord transport init failed", zap.Error(dErr))
		}
		transport = t
	}

	// Cooldown store: Redis shares the window across replicas
	var cooldowns notify.CooldownStore
	var redisCooldowns *notify.RedisCooldowns
	if cfg.Notify.RedisURL != "" {
		rc, rErr := notify.NewRedisCooldowns(cfg.Notify.RedisURL)
		if rErr != nil {
			logger.Warn("Redis unavailable, using in-process cooldowns", zap.Error(rErr))
		} else {
			redisCooldowns = rc
			cooldowns = rc
		}
	}
	if cooldowns == nil {
		cooldowns = notify.NewMemoryCooldowns()
	}

	notifier := notify.NewDispatcher(transport, cooldowns,
		time.Duration(cfg.Notify.CooldownMinutes)*time.Minute, logger)
	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	notifier.Start(notifyCtx)

	// LLM provider is optional; diagnosis degrades without it
	var llm provider.Provider
	if cfg.LLM.Type != "" {
		p, pErr := provider.New(provider.Config{
			Type:     cfg.LLM.Type,
			Name:     cfg.LLM.Name,
			Endpoint: cfg.LLM.Endpoint,
			APIKey:   cfg.LLM.APIKey,
			Model:    cfg.LLM.Model,
		}, logger)
		if pErr != nil {
			logger.Warn("LLM provider init failed, diagnosis will degrade", zap.Error(pErr))
		} else {
			llm = p
		}
	}

	doc := doctor.New(logAgg, metricAgg, llm, notifier, logger)
	guideGen := guide.New(cfg.Server.PublicURL, cfg.ForwarderImage)

	demos := make([]mcp.DemoServer, len(cfg.DemoServers))
	for i, d := range cfg.DemoServers {
		demos[i] = mcp.DemoServer{Name: d.Name, Description: d.Description}
	}

	tools := mcp.NewToolbox(doc, logAgg, metricAgg, reg, healthTracker, guideGen, demos)
	sessions := mcp.NewSessionManager(true, logger)
	rpc := mcp.NewServer(sessions, tools, logger)

	handler := api.NewHandler(reg, logAgg, metricAgg, healthTracker, notifier, doc, rpc,
		cfg.Server.PublicURL, cfg.Notify.DefaultWebhook, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Server Doctor listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Server Doctor...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	sessions.CloseAll()
	notifyCancel()
	if redisCooldowns != nil {
		redisCooldowns.Close()
	}
	if pg != nil {
		pg.Close()
	}
}
