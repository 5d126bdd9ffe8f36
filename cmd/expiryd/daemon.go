package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/consentframework/expiryd/internal/config"
	"github.com/consentframework/expiryd/internal/consents"
	"github.com/consentframework/expiryd/internal/events"
	"github.com/consentframework/expiryd/internal/expiry"
	"github.com/consentframework/expiryd/internal/logging"
	"github.com/consentframework/expiryd/internal/metadata"
	"github.com/consentframework/expiryd/internal/metadata/oxia"
	"github.com/consentframework/expiryd/internal/metadata/pebblestore"
	"github.com/consentframework/expiryd/internal/metrics"
)

// DaemonOptions contains the configuration for creating a daemon.
type DaemonOptions struct {
	Config *config.Config
	Logger *logging.Logger

	// Registry receives the daemon's metrics. Nil means the default
	// Prometheus registry.
	Registry *prometheus.Registry

	// MetaStore replaces the configured metadata backend when set. The
	// daemon takes ownership and closes it on Shutdown.
	MetaStore metadata.MetadataStore

	// Producer replaces the Kafka client for expiry events when set.
	Producer events.Producer

	Version   string
	GitCommit string
	BuildTime string
}

// Daemon wires the expiry sweeper to its store, metrics and event sinks.
type Daemon struct {
	opts   DaemonOptions
	logger *logging.Logger

	metaStore     metadata.MetadataStore
	repo          *consents.Repository
	sweeper       *expiry.Sweeper
	worker        *expiry.Worker
	sweepMetrics  *metrics.SweepMetrics
	storeMetrics  *metrics.StoreMetrics
	metricsServer *metrics.Server
	publisher     *events.Publisher

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewDaemon opens the metadata store and builds every component. Nothing
// runs until Start or RunOnce.
func NewDaemon(ctx context.Context, opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("daemon: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger()
	}
	cfg := opts.Config

	d := &Daemon{
		opts:   opts,
		logger: opts.Logger,
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if opts.Registry != nil {
		reg = opts.Registry
	}
	d.sweepMetrics = metrics.NewSweepMetricsWithRegistry(reg)
	d.storeMetrics = metrics.NewStoreMetricsWithRegistry(reg)

	backend := opts.MetaStore
	if backend == nil {
		var err error
		backend, err = openMetaStore(ctx, cfg.Metadata)
		if err != nil {
			return nil, err
		}
	}
	d.metaStore = metadata.NewInstrumentedStore(backend, d.storeMetrics)

	d.repo = consents.NewRepository(d.metaStore, consents.Config{PageSize: cfg.Sweep.PageSize})

	observers := []expiry.Observer{d.sweepMetrics}
	if cfg.Events.Enabled {
		eventsCfg := events.Config{Brokers: cfg.Events.Brokers, Topic: cfg.Events.Topic}
		if opts.Producer != nil {
			d.publisher = events.NewPublisher(opts.Producer, eventsCfg)
		} else {
			publisher, err := events.NewKafkaPublisher(eventsCfg)
			if err != nil {
				_ = d.metaStore.Close()
				return nil, err
			}
			d.publisher = publisher
		}
		d.publisher.SetFailureRecorder(d.sweepMetrics)
		observers = append(observers, d.publisher)
	}

	d.sweeper = expiry.NewSweeper(d.repo, d.repo)
	d.sweeper.SetObserver(expiry.Observers(observers...))

	d.worker = expiry.NewWorker(d.sweeper, expiry.WorkerConfig{
		LookbackHours: cfg.Sweep.LookbackHours,
		Interval:      cfg.Sweep.Interval(),
		RunTimeout:    cfg.Sweep.RunTimeout(),
	})
	d.worker.SetRunRecorder(d.sweepMetrics)
	d.worker.SetLogger(d.logger.WithComponent("expiry-worker"))

	return d, nil
}

// openMetaStore opens the configured metadata backend.
func openMetaStore(ctx context.Context, cfg config.MetadataConfig) (metadata.MetadataStore, error) {
	switch cfg.Backend {
	case config.BackendOxia:
		store, err := oxia.New(ctx, oxia.Config{
			ServiceAddress: cfg.OxiaEndpoint,
			Namespace:      cfg.Namespace,
			RequestTimeout: cfg.RequestTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open oxia store: %w", err)
		}
		return store, nil
	case config.BackendPebble:
		store, err := pebblestore.New(pebblestore.Config{Dir: cfg.PebbleDir})
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}

// Start starts the metrics server and the periodic sweep worker.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	cfg := d.opts.Config
	d.logger.Infof("starting expiryd", map[string]any{
		"version":       d.opts.Version,
		"gitCommit":     d.opts.GitCommit,
		"backend":       cfg.Metadata.Backend,
		"lookbackHours": cfg.Sweep.LookbackHours,
		"intervalMs":    cfg.Sweep.IntervalMs,
		"eventsEnabled": cfg.Events.Enabled,
	})

	if cfg.Observability.MetricsAddr != "" {
		if d.opts.Registry != nil {
			d.metricsServer = metrics.NewServerWithRegistry(cfg.Observability.MetricsAddr, d.opts.Registry)
		} else {
			d.metricsServer = metrics.NewServer(cfg.Observability.MetricsAddr)
		}
		if err := d.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		d.logger.Infof("metrics server started", map[string]any{
			"addr": d.metricsServer.Addr(),
		})
	}

	d.worker.Start(ctx)
	return nil
}

// RunOnce runs a single sweep synchronously.
func (d *Daemon) RunOnce(ctx context.Context) error {
	return d.worker.RunOnce(ctx)
}

// Shutdown stops the worker, waiting for an in-flight run up to ctx's
// deadline, then releases every resource.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		d.worker.Stop()
		close(stopped)
	}()

	var errs []error
	select {
	case <-stopped:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("worker did not stop: %w", ctx.Err()))
	}

	if d.metricsServer != nil {
		if err := d.metricsServer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if d.publisher != nil {
		d.publisher.Close()
	}
	if err := d.metaStore.Close(); err != nil {
		errs = append(errs, fmt.Errorf("metadata store: %w", err))
	}
	return errors.Join(errs...)
}
