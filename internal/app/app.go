// Package app wires the collaborators shared by the Lambdas and the CLI.
package app

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/dylan-vpa/serambienteai-sub000/internal/config"
	"github.com/dylan-vpa/serambienteai-sub000/internal/db"
	"github.com/dylan-vpa/serambienteai-sub000/internal/extract"
	"github.com/dylan-vpa/serambienteai-sub000/internal/llm"
	"github.com/dylan-vpa/serambienteai-sub000/internal/logging"
	"github.com/dylan-vpa/serambienteai-sub000/internal/notify"
	"github.com/dylan-vpa/serambienteai-sub000/internal/pipeline"
	"github.com/dylan-vpa/serambienteai-sub000/internal/queue"
	"github.com/dylan-vpa/serambienteai-sub000/internal/report"
	"github.com/dylan-vpa/serambienteai-sub000/internal/secrets"
	"github.com/dylan-vpa/serambienteai-sub000/internal/storage"
	"github.com/dylan-vpa/serambienteai-sub000/internal/store"
)

// App is a fully wired service.
type App struct {
	Config   config.Config
	Logger   *zap.Logger
	DB       *db.PgxDB
	Store    *store.PG
	Bucket   storage.Bucket
	Queue    queue.Dispatcher
	Notifier notify.Sink
	Reports  *report.Generator
	Pipeline *pipeline.Pipeline

	inline *queue.Inline
}

// New loads the configuration and AWS clients and builds every collaborator.
// Without QUEUE_URL, jobs run in-process.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, eris.Wrap(err, "read config")
	}
	logger := logging.Must(cfg.LogLevel)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "load AWS config")
	}
	sp := secrets.NewCached(secretsmanager.NewFromConfig(awsCfg))

	database := db.New(cfg.DBCredentials(sp), cfg.DBMaxConns)
	st := store.NewPG(database)
	bucket := storage.NewS3Bucket(s3.NewFromConfig(awsCfg), cfg.Bucket)
	notifier := notify.NewStore(st, logger)

	llmCfg, err := cfg.LLM(ctx, sp)
	if err != nil {
		logger.Warn("language model credentials unavailable", zap.Error(err))
	}
	model, embedder := llm.New(ctx, llmCfg, logger)

	templates := report.NewTemplates(bucket, cfg.TemplatePrefix)
	pdf := report.NewPDF(logger, report.WithSofficePath(cfg.SofficePath), report.WithChromePath(cfg.ChromePath))
	reports := report.NewGenerator(st, bucket, templates, report.NewDocx(templates), pdf, notifier, logger)

	p := pipeline.New(pipeline.Deps{
		Store:     st,
		Bucket:    bucket,
		Extractor: extract.New(model, logger, extract.WithMutoolPath(cfg.MutoolPath)),
		Model:     model,
		Embedder:  embedder,
		Notifier:  notifier,
		Reports:   reports,
		Logger:    logger,
	})

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       database,
		Store:    st,
		Bucket:   bucket,
		Notifier: notifier,
		Reports:  reports,
		Pipeline: p,
	}
	if cfg.QueueURL != "" {
		a.Queue = queue.NewSQSDispatcher(sqs.NewFromConfig(awsCfg), cfg.QueueURL)
	} else {
		logger.Info("QUEUE_URL not set, running jobs in-process")
		a.inline = queue.NewInline(p.HandleJob, logger)
		a.Queue = a.inline
	}
	p.SetQueue(a.Queue)
	return a, nil
}

// Close waits for in-process jobs, then releases the pool and flushes logs.
func (a *App) Close() {
	if a.inline != nil {
		a.inline.Wait()
	}
	a.DB.Close()
	_ = a.Logger.Sync()
}
