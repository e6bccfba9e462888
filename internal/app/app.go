// Package app wires the helpbot components together from a Config. The App
// owns every long-lived resource; nothing is kept in package globals.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/davidhoung2/helpbot/internal/advisor"
	"github.com/davidhoung2/helpbot/internal/advisor/claude"
	"github.com/davidhoung2/helpbot/internal/advisor/openai"
	"github.com/davidhoung2/helpbot/internal/config"
	"github.com/davidhoung2/helpbot/internal/db"
	"github.com/davidhoung2/helpbot/internal/expiry"
	"github.com/davidhoung2/helpbot/internal/logger"
	"github.com/davidhoung2/helpbot/internal/metrics"
	"github.com/davidhoung2/helpbot/internal/outcome"
	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/davidhoung2/helpbot/internal/store"
	"github.com/davidhoung2/helpbot/internal/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// App is the application context shared by the CLI, chat daemon and HTTP
// server.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *gorm.DB
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Store     *store.Store
	Service   *pipeline.Service
	Scheduler *expiry.Scheduler
}

// Opts configures New.
type Opts struct {
	Config *config.Config
	// LogOut receives structured logs. Defaults to stderr.
	LogOut io.Writer
	// DB overrides the configured database, for tests.
	DB *gorm.DB
	// Advisor overrides the configured advisory provider, for tests.
	Advisor advisor.Advisor
}

// New opens the database and builds every component.
func New(opts Opts) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	root := logger.New(cfg.Log, opts.LogOut)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	gdb := opts.DB
	if gdb == nil {
		var err error
		gdb, err = db.Open(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	} else if err := db.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	st, err := store.New(store.Opts{DB: gdb, Logger: logger.Component(root, "store"), Metrics: m})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	adv := opts.Advisor
	if adv == nil {
		adv, err = NewAdvisor(cfg.Advisory)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	loc := cfg.Location()
	svc, err := pipeline.New(pipeline.Opts{
		Store: st,
		Validator: validator.New(validator.Opts{
			Advisor: adv,
			Timeout: cfg.AdvisoryTimeout(),
			Logger:  logger.Component(root, "validator"),
			Metrics: m,
		}),
		Reporter:        outcome.NewReporter(),
		Location:        loc,
		PerChannelLists: cfg.Chat.PerChannelLists,
		Logger:          logger.Component(root, "pipeline"),
		Metrics:         m,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	sched, err := expiry.New(expiry.Opts{
		Purger:     st,
		Schedule:   cfg.Expiry.Schedule,
		Location:   loc,
		RunTimeout: cfg.ExpiryRunTimeout(),
		Logger:     logger.Component(root, "expiry"),
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	return &App{
		Config:    cfg,
		Log:       root,
		DB:        gdb,
		Registry:  reg,
		Metrics:   m,
		Store:     st,
		Service:   svc,
		Scheduler: sched,
	}, nil
}

// NewAdvisor builds the configured advisory provider. Provider "none"
// returns a nil Advisor, which accepts every complete draft unvalidated.
func NewAdvisor(cfg config.AdvisoryConfig) (advisor.Advisor, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "claude":
		c, err := claude.New(claude.ClientOpts{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	case "openai":
		c, err := openai.New(openai.ClientOpts{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("advisory provider %q is not supported", cfg.Provider)
	}
}

// StartBackground starts the expiry scheduler. It stops when ctx is done.
func (a *App) StartBackground(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

// Close stops the scheduler and closes the database.
func (a *App) Close() error {
	a.Scheduler.Stop()
	if err := db.Close(a.DB); err != nil {
		return fmt.Errorf("app: close: %w", err)
	}
	return nil
}
