package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/mohans/helpdesk/asyncx"
	"github.com/mohans/helpdesk/internal/ai"
	"github.com/mohans/helpdesk/internal/config"
	"github.com/mohans/helpdesk/internal/dispatch"
	"github.com/mohans/helpdesk/internal/helpdesk"
	"github.com/mohans/helpdesk/internal/jobs"
	"github.com/mohans/helpdesk/internal/metrics"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	redisOpt asynq.RedisClientOpt
	rdb      *redis.Client
	db       *sql.DB

	store   helpdesk.Store
	results asyncx.Store
	metrics *metrics.Collector
	client  *asyncx.Client
	facade  *dispatch.Facade
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: cfg.NewLogger()}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	if a.redisOpt, err = cfg.AsynqRedisOpt(); err != nil {
		return nil, err
	}
	a.rdb = redis.NewClient(redisOpts)

	switch cfg.Stores.Backend {
	case "redis":
		a.store = helpdesk.NewRedisStore(a.rdb, "")
	default:
		a.store = helpdesk.NewMemoryStore()
	}

	if err := a.openResults(ctx); err != nil {
		a.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(registry)

	a.client = asyncx.NewClient(a.redisOpt, a.results, asyncx.ClientOptions{
		Queue:       cfg.Queue.Name,
		TaskTimeout: cfg.Queue.TaskTimeout,
		Observer:    a.metrics,
		Logger:      a.log,
	})
	a.facade = dispatch.NewFacade(a.store, a.client, a.client, a.log)
	return a, nil
}

func (a *app) openResults(ctx context.Context) error {
	cfg := a.cfg.Results
	switch cfg.Backend {
	case "redis":
		a.results = asyncx.NewRedisStore(a.rdb, asyncx.RedisStoreOptions{Retention: cfg.Retention})
		return nil
	case "sqlite", "postgres":
		driver, dialect := "sqlite", asyncx.DialectSQLite
		if cfg.Backend == "postgres" {
			driver, dialect = "postgres", asyncx.DialectPostgres
		}
		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return fmt.Errorf("open %s results store: %w", cfg.Backend, err)
		}
		if dialect == asyncx.DialectSQLite {
			db.SetMaxOpenConns(1)
		}
		a.db = db
		store := asyncx.NewSQLStore(db, dialect)
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate results store: %w", err)
		}
		a.results = store
		return nil
	}
	return fmt.Errorf("unknown results backend %q", cfg.Backend)
}

// newProcessor builds a worker with both jobs registered.
func (a *app) newProcessor() *asyncx.Processor {
	p := asyncx.NewProcessor(a.redisOpt, a.results, asyncx.ProcessorConfig{
		Concurrency: a.cfg.Queue.Concurrency,
		Queues:      map[string]int{a.cfg.Queue.Name: 1},
		Observer:    a.metrics,
		Logger:      a.log,
		LogLevel:    a.cfg.AsynqLogLevel(),
	})
	completer := ai.NewLazyOpenAI(ai.Config{APIKey: a.cfg.OpenAI.APIKey, BaseURL: a.cfg.OpenAI.BaseURL})
	jobs.NewRunner(a.store, a.store, completer, jobs.Options{Model: a.cfg.OpenAI.Model, Logger: a.log}).Register(p)
	return p
}

// newJanitor evicts old SQL results and fails tasks whose worker was lost.
// Redis results expire on their own, so they get no purger.
func (a *app) newJanitor() (*asyncx.Janitor, error) {
	var purger asyncx.Purger
	if p, ok := a.results.(asyncx.Purger); ok && a.cfg.Results.Retention > 0 {
		purger = p
	}
	j, err := asyncx.NewJanitor(purger, a.cfg.Results.Retention, a.cfg.Results.PurgeSchedule, a.log)
	if err != nil {
		return nil, err
	}
	return j.WithReconciler(asyncx.NewReconciler(a.redisOpt, a.results, a.cfg.Queue.Name, a.log)), nil
}

func (a *app) Close() {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.WithError(err).Warn("error while closing resources")
	}
}
