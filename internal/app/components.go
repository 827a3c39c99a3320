package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"resume-mail-import/internal/config"
	"resume-mail-import/internal/db"
	"resume-mail-import/internal/mailbox"
	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/parser"
	"resume-mail-import/internal/queue/rabbitmq"
	"resume-mail-import/internal/repository"
	"resume-mail-import/internal/service"
	"resume-mail-import/internal/storage"
)

// Components is the wired service graph shared by the API server and the
// queue worker
type Components struct {
	DB         *gorm.DB
	Metrics    *metrics.Metrics
	Runs       *service.RunService
	Scans      *service.ScanService
	Worker     *service.Worker
	Dispatcher *service.Dispatcher
	Pipeline   *service.Pipeline

	closers []func() error
}

// Close releases external clients in reverse order of creation
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logrus.Errorf("Failed to close component: %v", err)
		}
	}
}

// configureLogging applies the JSON formatter and the configured level
func configureLogging(cfg config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		logrus.Warnf("Unknown log level %q, using info", cfg.Level)
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// loadConfig loads and validates configuration, then configures logging
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	configureLogging(cfg.Log)
	return cfg, nil
}

// Build connects to every backing service and wires the pipeline.
// withTrigger controls whether enqueues notify a dispatcher.
func Build(ctx context.Context, cfg *config.Config, withTrigger bool) (*Components, error) {
	c := &Components{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	c.DB = dbConn
	if sqlDB, err := dbConn.DB(); err == nil {
		c.closers = append(c.closers, sqlDB.Close)
	}

	c.Metrics = metrics.NewMetrics(prometheus.DefaultRegisterer)

	open, err := newMailboxOpener(ctx, cfg.Mailbox)
	if err != nil {
		return nil, err
	}

	files, err := storage.NewMinioStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment store: %w", err)
	}
	if err := files.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare attachment bucket: %w", err)
	}

	generator, err := parser.NewGeminiGenerator(ctx, cfg.AI)
	if err != nil {
		return nil, fmt.Errorf("failed to create resume model client: %w", err)
	}
	c.closers = append(c.closers, generator.Close)

	repo := repository.New(dbConn)
	resumeParser := parser.NewModelParser(repo, files, generator)

	progress := service.NewProgressService(repo)
	finalizer := service.NewFinalizer(repo, nil, c.Metrics)
	c.Scans = service.NewScanService(repo, open, files, progress, finalizer, c.Metrics)
	c.Worker = service.NewWorker(repo, resumeParser, progress, finalizer, c.Metrics, service.WorkerSettingsFromConfig(cfg.Worker))
	c.Dispatcher = service.NewDispatcher(repo, c.Metrics)
	c.Pipeline = service.NewPipeline(repo, c.Dispatcher, c.Scans, c.Worker, service.PipelineSettings{
		Concurrency:    cfg.Worker.Concurrency,
		PerJobTimeout:  cfg.Worker.JobTimeout,
		ScanStaleAfter: cfg.Worker.ScanStaleAfter,
	})

	var trigger service.DispatchTrigger = service.NoopTrigger{}
	if withTrigger {
		trigger, err = c.newTrigger(cfg)
		if err != nil {
			return nil, err
		}
	}
	c.Runs = service.NewRunService(repo, trigger, c.Metrics)

	ok = true
	return c, nil
}

func newMailboxOpener(ctx context.Context, cfg config.MailboxConfig) (mailbox.OpenFunc, error) {
	switch cfg.Provider {
	case "gmail":
		svc, err := mailbox.NewGmailService(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail API client: %w", err)
		}
		logrus.Info("Using Gmail API for mailbox scans")
		return mailbox.GmailOpener(svc), nil
	default:
		logrus.Info("Using IMAP for mailbox scans")
		return mailbox.IMAPOpener(cfg), nil
	}
}

func (c *Components) newTrigger(cfg *config.Config) (service.DispatchTrigger, error) {
	switch cfg.Dispatch.Trigger {
	case "rabbitmq":
		pub, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue)
		if err != nil {
			return nil, fmt.Errorf("failed to create dispatch publisher: %w", err)
		}
		c.closers = append(c.closers, pub.Close)
		logrus.Info("Enqueued runs are announced over RabbitMQ")
		return pub, nil
	case "local":
		logrus.Info("Enqueued runs are dispatched in-process")
		return service.NewLocalTrigger(c.Pipeline.Tick), nil
	default:
		return service.NoopTrigger{}, nil
	}
}
