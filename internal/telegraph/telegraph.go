package telegraph

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent message handling when DaemonOpts.Workers
// is unset.
const DefaultWorkers = 8

// Background is a component started alongside the daemon, such as the
// expiry scheduler. It must stop on its own when ctx is done.
type Background interface {
	Start(ctx context.Context)
}

// Daemon is the main telegraph process. It connects to a chat platform via
// an Adapter and pumps inbound messages through the Router, handling up to
// Workers messages at once.
type Daemon struct {
	adapter    Adapter
	svc        DispatchService
	background []Background
	ignore     []string
	workers    int
	log        zerolog.Logger
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Adapter        Adapter
	Service        DispatchService
	Background     []Background // optional; started after Connect
	IgnoreChannels []string
	Workers        int // defaults to DefaultWorkers
	Logger         zerolog.Logger
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: adapter is required")
	}
	if opts.Service == nil {
		return nil, fmt.Errorf("telegraph: service is required")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Daemon{
		adapter:    opts.Adapter,
		svc:        opts.Service,
		background: opts.Background,
		ignore:     opts.IgnoreChannels,
		workers:    workers,
		log:        opts.Logger,
	}, nil
}

// Run connects the adapter, starts background components and blocks until
// the context is cancelled or the adapter closes its inbound channel.
// In-flight messages are finished before the adapter is closed.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info().Msg("telegraph connecting")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("telegraph: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	router, err := NewRouter(RouterOpts{
		Service:        d.svc,
		Adapter:        d.adapter,
		BotUserID:      botUserID,
		IgnoreChannels: d.ignore,
		Logger:         d.log,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("telegraph: listen: %w", err)
	}

	for _, b := range d.background {
		b.Start(ctx)
	}

	d.log.Info().Int("workers", d.workers).Msg("telegraph online")

	var g errgroup.Group
	g.SetLimit(d.workers)

loop:
	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("telegraph shutting down")
			break loop
		case msg, ok := <-inbound:
			if !ok {
				d.log.Info().Msg("telegraph inbound channel closed")
				break loop
			}
			g.Go(func() error {
				router.Handle(context.WithoutCancel(ctx), msg)
				return nil
			})
		}
	}

	_ = g.Wait()
	if err := d.adapter.Close(); err != nil {
		d.log.Error().Err(err).Msg("close adapter")
	}
	d.log.Info().Msg("telegraph stopped")
	return nil
}
