package container

import (
	"context"
	"fmt"

	"rapport/adapters/llm"
	"rapport/adapters/postgres"
	"rapport/adapters/scenario"
	"rapport/adapters/sqlite"
	"rapport/app"
	"rapport/internal"
	"rapport/internal/config"
	"rapport/internal/mirror"
	"rapport/internal/progress"
	"rapport/internal/session"
	"rapport/internal/usage"
	"rapport/ports"

	"github.com/jmoiron/sqlx"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	DB         *sqlx.DB
	ActorStore *sqlite.SessionStore

	// Repositories (data access layer)
	MirrorRepo   ports.SessionMirrorRepository
	ProgressRepo ports.ProgressRepository
	UsageRepo    ports.UsageRepository

	// Session pipeline
	MirrorWriter *mirror.Writer
	Registry     *session.Registry
	Aggregator   *progress.Aggregator

	// Domain services
	Inference    ports.InferenceClient
	Catalog      ports.ScenarioCatalog
	UsageService *usage.Service
	Practice     *app.PracticeService
}

// New creates a new dependency injection container
func New(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Container{
		Config: cfg,
		Logger: internal.NewDefaultLogger(),
	}, nil
}

// InitWithDatabase initializes components that require database access.
// The mirror writer and registry are started here; the caller owns Shutdown.
func (c *Container) InitWithDatabase(db *sqlx.DB) error {
	if db == nil {
		return fmt.Errorf("database connection cannot be nil")
	}

	c.DB = db

	if err := db.Ping(); err != nil {
		return fmt.Errorf("database connection test failed: %w", err)
	}

	if err := c.initActorStore(); err != nil {
		return fmt.Errorf("failed to initialize actor store: %w", err)
	}

	c.initRepositories()
	c.initPipeline()
	c.initServices()

	c.Logger.Info("[Container] initialized, %d scenarios loaded", len(c.Catalog.List()))
	return nil
}

func (c *Container) initActorStore() error {
	store, err := sqlite.NewSessionStore(c.Config.ActorStore.Path)
	if err != nil {
		return err
	}
	c.ActorStore = store
	return nil
}

func (c *Container) initRepositories() {
	c.MirrorRepo = postgres.NewSessionMirrorRepository(c.DB)
	c.ProgressRepo = postgres.NewProgressRepository(c.DB)
	c.UsageRepo = postgres.NewUsageRepository(c.DB)
}

func (c *Container) initPipeline() {
	c.MirrorWriter = mirror.NewWriter(
		c.MirrorRepo,
		c.Logger,
		c.Config.Mirror.MaxAttempts,
		c.Config.Mirror.RetryBackoff,
	)
	c.MirrorWriter.Start()

	c.Registry = session.NewRegistry(
		c.ActorStore,
		c.MirrorWriter,
		c.Logger,
		c.Config.Session.IdleTTL,
		c.Config.Session.JanitorInterval,
	)
	c.Registry.Start()

	c.Aggregator = progress.NewAggregator(c.ProgressRepo, c.Logger, c.Config.Aggregation.MaxRetries)
}

func (c *Container) initServices() {
	c.Inference = llm.New(c.Config.Inference, c.Logger)
	c.Catalog = scenario.NewCatalog()
	c.UsageService = usage.NewService(c.UsageRepo)

	c.Practice = app.NewPracticeService(
		c.Registry,
		c.Catalog,
		c.Inference,
		c.Aggregator,
		c.ProgressRepo,
		c.MirrorRepo,
		c.UsageService,
		c.Logger,
	)
}

// Shutdown gracefully shuts down all components. The registry closes first so
// its final lifecycle facts reach the mirror writer before the writer drains.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Registry != nil {
		c.Registry.Close()
	}
	if c.MirrorWriter != nil {
		if err := c.MirrorWriter.Flush(ctx); err != nil {
			c.Logger.Warn("[Container] mirror drain incomplete: %v", err)
		}
		c.MirrorWriter.Close()
	}
	if c.ActorStore != nil {
		if err := c.ActorStore.Close(); err != nil {
			c.Logger.Warn("[Container] actor store close failed: %v", err)
		}
	}
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}
