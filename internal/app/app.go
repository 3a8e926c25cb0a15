// Package app builds and holds the long-lived services every command runs
// on: the remote service client, the progress hub and its sinks, the crawl
// journal, report archiving, the runner, the scheduler, and the API server.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/crawlops/crawlpilot/internal/api"
	"github.com/crawlops/crawlpilot/internal/config"
	"github.com/crawlops/crawlpilot/internal/harvest"
	"github.com/crawlops/crawlpilot/internal/journal"
	jmemory "github.com/crawlops/crawlpilot/internal/journal/memory"
	jpostgres "github.com/crawlops/crawlpilot/internal/journal/postgres"
	"github.com/crawlops/crawlpilot/internal/logging"
	"github.com/crawlops/crawlpilot/internal/progress"
	"github.com/crawlops/crawlpilot/internal/progress/sinks"
	pubmemory "github.com/crawlops/crawlpilot/internal/publisher/memory"
	pubgcp "github.com/crawlops/crawlpilot/internal/publisher/pubsub"
	"github.com/crawlops/crawlpilot/internal/report"
	"github.com/crawlops/crawlpilot/internal/rest"
	"github.com/crawlops/crawlpilot/internal/runner"
	"github.com/crawlops/crawlpilot/internal/scheduler"
	"github.com/crawlops/crawlpilot/internal/seed"
	gcsstorage "github.com/crawlops/crawlpilot/internal/storage/gcs"
	localstorage "github.com/crawlops/crawlpilot/internal/storage/local"
	memstorage "github.com/crawlops/crawlpilot/internal/storage/memory"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	client    *rest.Client
	hub       *progress.Hub
	journal   journal.Store
	journalPG *jpostgres.Store
	gcsClient *storage.Client
	publisher report.Publisher
	pubGCP    *pubgcp.Publisher
	archiver  *report.Archiver
	runner    *runner.Runner
	sched     *scheduler.Scheduler
	server    *api.Server
}

// Build creates the application's dependencies from configuration. It fails
// fast: any service that is configured but cannot be initialized aborts
// startup.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.LogLevel(), cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("remote", cfg.Remote.BaseURL),
		zap.Int("port", cfg.Server.Port),
	)

	a.client, err = rest.New(rest.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Timeout:   cfg.Remote.Timeout(),
		UserAgent: cfg.Remote.UserAgent,
		APIKey:    cfg.Remote.APIKey,
	}, logger.Named("rest"))
	if err != nil {
		return nil, fmt.Errorf("remote client init failed: %w", err)
	}

	if err := a.setupJournal(ctx); err != nil {
		return nil, err
	}
	store, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if store != nil {
		a.archiver = report.NewArchiver(store, a.publisher, cfg.PubSub.Topic, logger.Named("archiver"))
	}
	a.setupHub(ctx)

	a.runner, err = runner.New(runner.Config{
		Service:       a.client,
		Seeds:         seed.NewUploader(a.client, logger.Named("seed")),
		Hub:           a.hub,
		Archiver:      a.archiver,
		DefaultRounds: cfg.Crawl.Rounds,
		PollInterval:  cfg.Crawl.PollInterval(),
		MaxConcurrent: cfg.Crawl.MaxConcurrent,
		Logger:        logger.Named("runner"),
	})
	if err != nil {
		return nil, fmt.Errorf("runner init failed: %w", err)
	}

	a.sched, err = scheduler.New(a.runner, cfg.Schedules, logger.Named("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler init failed: %w", err)
	}

	apiCfg := api.Config{RequestTimeout: cfg.Server.RequestTimeout()}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	a.server, err = api.NewServer(a.runner, a.client, a.client, a.journal, apiCfg, logger.Named("api"))
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}

	return a, nil
}

func (a *App) setupJournal(ctx context.Context) error {
	switch a.cfg.Journal.Backend {
	case "postgres":
		a.logger.Info("using postgres journal")
		store, err := jpostgres.New(ctx, a.cfg.Journal.DSN)
		if err != nil {
			return fmt.Errorf("journal init failed: %w", err)
		}
		a.journalPG = store
		a.journal = store
	case "memory":
		a.logger.Info("using in-memory journal")
		a.journal = jmemory.New()
	default:
		a.logger.Info("journal disabled")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) (report.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		a.logger.Info("using GCS report storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case "local":
		a.logger.Info("using local report storage", zap.String("dir", a.cfg.Storage.LocalDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case "memory":
		a.logger.Info("using in-memory report storage")
		return memstorage.NewBlobStore(), nil
	default:
		a.logger.Info("report archiving disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled() {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = pubmemory.New()
		return nil
	}
	pub, err := pubgcp.Connect(ctx, a.cfg.PubSub.ProjectID, a.logger.Named("pubsub"))
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	a.pubGCP = pub
	a.publisher = pub
	return nil
}

func (a *App) setupHub(ctx context.Context) {
	sinkList := []progress.Sink{sinks.NewLogSink(a.logger.Named("progress_log"))}
	if promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer); err != nil {
		a.logger.Warn("prometheus progress sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if a.journal != nil {
		sinkList = append(sinkList, sinks.NewJournalSink(a.journal, a.logger.Named("progress_journal")))
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Client returns the remote crawl service client.
func (a *App) Client() *rest.Client { return a.client }

// Hub returns the progress hub.
func (a *App) Hub() *progress.Hub { return a.hub }

// Journal returns the job-run store, or nil when the journal is disabled.
func (a *App) Journal() journal.Store { return a.journal }

// Archiver returns the report archiver, or nil when archiving is disabled.
func (a *App) Archiver() *report.Archiver { return a.archiver }

// Runner returns the crawl runner.
func (a *App) Runner() *runner.Runner { return a.runner }

// Scheduler returns the cron scheduler over the configured entries.
func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }

// Server returns the control-plane API server.
func (a *App) Server() *api.Server { return a.server }

// HarvestConfig translates the harvest section into the harvester's knobs.
func (a *App) HarvestConfig() harvest.Config {
	h := a.cfg.Harvest
	return harvest.Config{
		UserAgent:         h.UserAgent,
		RequestTimeout:    time.Duration(h.TimeoutSeconds) * time.Second,
		Concurrency:       h.Concurrency,
		DomainQPS:         h.DomainQPS,
		RespectRobots:     h.RespectRobots,
		SameHostOnly:      h.SameHostOnly,
		MaxLinks:          h.MaxLinks,
		RenderEnabled:     h.RenderEnabled,
		RenderTimeout:     time.Duration(h.RenderTimeoutSeconds) * time.Second,
		RenderConcurrency: h.RenderMaxParallel,
	}
}

// Close gracefully shuts down the services in dependency order: the runner
// drains first so the hub still accepts its final events, then the hub
// flushes into its sinks, then the external clients close.
func (a *App) Close(ctx context.Context) error {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			a.logger.Warn("runner shutdown incomplete", zap.Error(err))
		}
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubGCP != nil {
		if err := a.pubGCP.Close(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.journalPG != nil {
		a.journalPG.Close()
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	return nil
}
