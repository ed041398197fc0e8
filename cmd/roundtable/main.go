package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/roundtable-ai/roundtable/internal/agentmem"
	"github.com/roundtable-ai/roundtable/internal/api"
	"github.com/roundtable-ai/roundtable/internal/config"
	"github.com/roundtable-ai/roundtable/internal/database"
	"github.com/roundtable-ai/roundtable/internal/directive"
	"github.com/roundtable-ai/roundtable/internal/events"
	"github.com/roundtable-ai/roundtable/internal/gateway"
	"github.com/roundtable-ai/roundtable/internal/gemini"
	"github.com/roundtable-ai/roundtable/internal/history"
	"github.com/roundtable-ai/roundtable/internal/hub"
	"github.com/roundtable-ai/roundtable/internal/middleware"
	"github.com/roundtable-ai/roundtable/internal/orchestrator"
	iredis "github.com/roundtable-ai/roundtable/internal/redis"
	"github.com/roundtable-ai/roundtable/internal/roster"
	"github.com/roundtable-ai/roundtable/internal/scheduler"
	"github.com/roundtable-ai/roundtable/internal/selector"
	"github.com/roundtable-ai/roundtable/internal/server"
	"github.com/roundtable-ai/roundtable/internal/transcript"

	"github.com/jackc/pgx/v5/pgxpool"
)

const migrationsPath = "migrations"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis: agent short-term memory and the join rate limiter.
	redisClient, err := iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		slog.Error("connecting to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Transcript backend: Postgres or a local JSON-lines file.
	var (
		sink history.Sink
		repo transcript.Repository
		pool *pgxpool.Pool
	)
	switch cfg.Transcript.Backend {
	case "postgres":
		if err := database.RunMigrations(cfg.DB.DSN(), migrationsPath); err != nil {
			slog.Error("running migrations", "error", err)
			os.Exit(1)
		}
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			slog.Error("connecting to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		r := transcript.NewRepository(pool)
		sink, repo = r, r
	default:
		fs, err := transcript.NewFileSink(cfg.Transcript.Path)
		if err != nil {
			slog.Error("opening transcript file", "error", err)
			os.Exit(1)
		}
		defer fs.Close()
		sink, repo = fs, fs
	}

	// NATS is optional; without it events are simply not mirrored.
	var (
		natsClient *events.Client
		publisher  *events.Publisher
	)
	if cfg.NATS.URL != "" {
		natsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			slog.Error("connecting to NATS", "error", err)
			os.Exit(1)
		}
		defer natsClient.Close()
		publisher = events.NewPublisher(natsClient.JetStream())
	}

	// Generation pipeline.
	backend := gemini.NewClient(cfg.Gemini)
	gw := gateway.New(backend, cfg.Gateway.MaxInFlight, cfg.Gateway.DispatchDelay)
	go gw.Start(ctx)

	hist := history.NewStore(history.Options{
		MaxLength:     cfg.Context.MaxLength,
		TargetLength:  cfg.Context.TargetLength,
		MinRecentKeep: cfg.Context.MinRecentKeep,
	}, sink, &orchestrator.Condenser{GW: gw})

	ros := roster.New()
	directives := directive.NewStore(cfg.Turns.DirectiveTTL)
	sel := selector.New(cfg.Turns, ros, directives)
	mem := agentmem.NewStore(redisClient, cfg.Room.MemorySize, cfg.Room.MemoryTTLSec)

	engine := orchestrator.NewEngine(cfg, gw, hist, ros, sel, directives, mem)
	engine.SetPublisher(publisher)

	sched := scheduler.New(scheduler.Options{
		MaxQueuedFollowUps: cfg.Turns.MaxQueuedFollowUps,
		QueueCeiling:       cfg.Turns.QueueCeiling,
	}, engine)
	engine.SetQueue(sched)
	go sched.Run(ctx)

	roomHub := hub.New(cfg.Room, ros, engine, mem, publisher)
	engine.SetBroadcaster(roomHub)

	go engine.RunTopicSummaries(ctx)

	wsLimiter := middleware.NewRateLimiter(redisClient, 30, 60)

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.CORS.AllowedOrigins,
		WSRateLimiter:      wsLimiter.Middleware,
	}, api.Deps{
		WS:         roomHub.ServeWS,
		Roster:     ros,
		History:    hist,
		Scheduler:  sched,
		Transcript: repo,
		Pool:       pool,
		Events:     natsClient,
	})

	srv := server.New(cfg.Server, router)
	if err := srv.Start(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
