package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"cv-adapter/internal/adaptation"
	"cv-adapter/internal/documents"
	"cv-adapter/internal/events"
	"cv-adapter/internal/llm"
	"cv-adapter/internal/llm/gemini"
	"cv-adapter/internal/llm/openai"
	"cv-adapter/internal/llm/prompts"
	"cv-adapter/internal/pipeline"
	"cv-adapter/internal/queue"
	"cv-adapter/internal/review"
	"cv-adapter/internal/services/health"
	"cv-adapter/internal/shared/config"
	"cv-adapter/internal/shared/server"
	"cv-adapter/internal/shared/storage/db"
	"cv-adapter/internal/shared/telemetry"
	"cv-adapter/internal/tasks"
	"cv-adapter/internal/usage"
	"cv-adapter/internal/versions"
)

// Role selects which process the dependencies are built for.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
)

// Options tune Build.
type Options struct {
	Role Role
	// LLM replaces the configured provider client when set.
	LLM llm.Client
}

// App holds shared dependencies.
type App struct {
	Config config.Config
	Role   Role
	Router *gin.Engine
	DB     *sql.DB
	Redis  *redis.Client

	Bus       *events.Bus
	Relay     *events.RedisRelay
	Canceller *tasks.RemoteCanceller
	Scheduler *tasks.Scheduler

	DocumentsRepo documents.DocumentsRepo
	TasksRepo     tasks.Repo
	Documents     *documents.Service
	Usage         *usage.Service
	Review        *review.Service
	Versions      *versions.Service
	Adaptation    *adaptation.Service
	Orchestrator  *pipeline.Orchestrator
	Health        *health.Service
}

// Build prepares every dependency for the given role. Without DATABASE_URL, dev environments
// run on in-memory repositories.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if opts.Role == "" {
		opts.Role = RoleAPI
	}
	app := &App{Config: cfg, Role: opts.Role, Health: health.NewService()}

	sqlDB, err := buildDB(ctx, cfg, opts.Role)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB

	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		app.Redis = redis.NewClient(redisOpts)
	}

	client := opts.LLM
	if client == nil {
		client, err = buildLLM(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
	}
	catalog, err := prompts.Default()
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("load prompt catalogue: %w", err)
	}

	if err := buildServices(ctx, app, client, catalog); err != nil {
		app.Close()
		return nil, err
	}
	registerHealth(app)

	if opts.Role == RoleAPI {
		app.Router = server.NewRouter(cfg, server.Deps{
			Health:     app.Health,
			Documents:  documents.NewHandler(app.Documents),
			Adaptation: adaptation.NewHandler(app.Adaptation),
			Tasks:      tasks.NewHandler(app.Scheduler),
			Review:     review.NewHandler(app.Review),
			Versions:   versions.NewHandler(app.Versions),
			Events:     events.NewHandler(app.Bus, app.Scheduler),
			Usage:      usage.NewHandler(app.Usage),
		})
	}
	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config, role Role) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Info("bootstrap.memory_repositories", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, errors.New("DATABASE_URL is required")
	}

	opts := db.DefaultServerOptions()
	if role == RoleWorker {
		opts = db.DefaultWorkerOptions(cfg.Worker.Concurrency)
	}
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(opts))
	if err != nil {
		if isDevLike(cfg.Env) {
			telemetry.Error("bootstrap.db_connect_failed", map[string]any{"error": err.Error(), "fallback": "memory"})
			return nil, nil
		}
		return nil, err
	}
	if cfg.DBAutoMigrate {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return sqlDB, nil
}

func buildLLM(ctx context.Context, cfg config.Config) (llm.Client, error) {
	var (
		base llm.Client
		err  error
	)
	switch cfg.LLM.Provider {
	case "gemini":
		if cfg.LLM.GeminiAPIKey == "" && isDevLike(cfg.Env) {
			return unconfiguredLLM{provider: "gemini"}, nil
		}
		base, err = gemini.NewClient(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
	case "openai", "":
		if cfg.LLM.OpenAIAPIKey == "" && isDevLike(cfg.Env) {
			return unconfiguredLLM{provider: "openai"}, nil
		}
		base, err = openai.NewClient(cfg.LLM.OpenAIAPIKey, cfg.LLM.Model, cfg.LLM.OpenAITimeout)
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLM.Provider)
	}
	if err != nil {
		return nil, err
	}
	return llm.NewRetrying(base, llm.DefaultRetryOptions), nil
}

func buildServices(ctx context.Context, app *App, client llm.Client, catalog *prompts.Catalog) error {
	cfg := app.Config

	var (
		docRepo     documents.DocumentsRepo
		taskRepo    tasks.Repo
		reviewRepo  review.Repo
		versionRepo versions.Repo
	)
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		taskRepo = &tasks.PGRepo{DB: app.DB}
		reviewRepo = &review.PGRepo{DB: app.DB}
		versionRepo = &versions.PGRepo{DB: app.DB}
		app.Usage = usage.NewPostgresService(usage.NewPGStore(app.DB, cfg.CreditLimit))
	} else {
		memDocs := documents.NewMemoryRepo()
		docRepo = memDocs
		taskRepo = tasks.NewMemoryRepo()
		reviewRepo = review.NewMemoryRepo()
		versionRepo = versions.NewMemoryRepo(memDocs)
		app.Usage = usage.NewService(cfg.CreditLimit)
	}
	app.DocumentsRepo = docRepo
	app.TasksRepo = taskRepo

	app.Bus = events.NewBus()
	var publisher events.Publisher = app.Bus
	if app.Redis != nil {
		local := app.Bus
		if app.Role == RoleWorker {
			local = nil
		}
		app.Relay = events.NewRedisRelay(app.Redis, local)
		publisher = app.Relay
	}

	concurrency := cfg.Tasks.MaxConcurrency
	if app.Role == RoleWorker {
		concurrency = cfg.Worker.Concurrency
	}
	scheduler := tasks.NewScheduler(taskRepo, concurrency)
	scheduler.Usage = app.Usage
	scheduler.Events = publisher
	if app.Redis != nil {
		app.Canceller = tasks.NewRemoteCanceller(app.Redis, scheduler.Registry)
		scheduler.Remote = app.Canceller
	}
	if app.Role == RoleAPI && strings.TrimSpace(cfg.Worker.QueueURL) != "" {
		sqsClient, err := queue.NewSQSClient(ctx, cfg.Worker.QueueURL, cfg.Worker.AWSRegion)
		if err != nil {
			return fmt.Errorf("sqs client: %w", err)
		}
		scheduler.Queue = sqsClient
	}
	app.Scheduler = scheduler

	app.Documents = &documents.Service{Repo: docRepo}
	app.Review = &review.Service{Repo: reviewRepo, Documents: docRepo}
	app.Versions = &versions.Service{Repo: versionRepo, Documents: docRepo, Review: app.Review}
	if dir := strings.TrimSpace(cfg.VersionsGitDir); dir != "" {
		app.Versions.Mirror = versions.NewGitMirror(dir)
	}

	app.Orchestrator = &pipeline.Orchestrator{
		LLM:         client,
		Catalog:     catalog,
		Subtasks:    taskRepo,
		Events:      publisher,
		FanOutLimit: cfg.Pipeline.FanOutLimit,
		Model:       cfg.LLM.Model,
	}
	// Both roles register the job: the API runs it in-process without a queue, and cancelling a
	// still-queued task finalizes it wherever the cancel lands.
	scheduler.Register(adaptation.Kind, &adaptation.Job{
		Pipeline:  app.Orchestrator,
		Documents: docRepo,
		Lock:      app.Documents,
		Versions:  app.Versions,
		Review:    app.Review,
	})
	app.Adaptation = &adaptation.Service{
		Documents:   docRepo,
		Lock:        app.Documents,
		Tasks:       scheduler,
		Credits:     cfg.AdaptationCreditCost,
		DefaultMode: cfg.Pipeline.Mode,
	}
	return nil
}

func registerHealth(app *App) {
	if app.DB != nil {
		sqlDB := app.DB
		app.Health.Register("database", func(ctx context.Context) error {
			return sqlDB.PingContext(ctx)
		})
	}
	if app.Redis != nil {
		client := app.Redis
		app.Health.Register("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
}

// Start runs the background loops the role needs until ctx is done: the event relay, the
// cross-process cancel listener and, when tasks execute in this process, startup reconciliation.
func (a *App) Start(ctx context.Context, reconcile bool) error {
	g, gctx := errgroup.WithContext(ctx)
	if a.Relay != nil && a.Role == RoleAPI {
		g.Go(func() error { return ignoreCancel(a.Relay.Run(gctx)) })
	}
	if a.Canceller != nil {
		g.Go(func() error { return ignoreCancel(a.Canceller.Run(gctx)) })
	}
	if reconcile {
		n, err := a.Scheduler.Reconcile(ctx)
		if err != nil {
			telemetry.Error("tasks.reconcile_failed", map[string]any{"error": err.Error()})
		} else {
			telemetry.Info("tasks.reconciled", map[string]any{"count": n})
		}
	}
	return g.Wait()
}

// ExecutesLocally reports whether this process runs tasks it enqueues.
func (a *App) ExecutesLocally() bool {
	return a.Scheduler != nil && a.Scheduler.Queue == nil
}

// Close waits for in-flight tasks and releases connections.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Wait()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			telemetry.Error("bootstrap.redis_close_failed", map[string]any{"error": err.Error()})
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			telemetry.Error("bootstrap.db_close_failed", map[string]any{"error": err.Error()})
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

type unconfiguredLLM struct {
	provider string
}

func (u unconfiguredLLM) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{}, fmt.Errorf("llm provider %s not configured", u.provider)
}
