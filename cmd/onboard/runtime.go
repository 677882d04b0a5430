package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/config"
	"github.com/johndauphine/onboard-sync/internal/exitcodes"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/metrics"
	"github.com/johndauphine/onboard-sync/internal/notify"
	"github.com/johndauphine/onboard-sync/internal/remote"
	"github.com/johndauphine/onboard-sync/internal/review"
	"github.com/johndauphine/onboard-sync/internal/synchronizer"
	"github.com/johndauphine/onboard-sync/internal/upload"
)

// runtime owns every adapter a command needs. Close releases them in
// reverse order of construction.
type runtime struct {
	cfg       *config.Config
	userID    string
	local     checkpoint.Backend
	remote    remote.Store
	publisher review.Publisher
	sink      *upload.RedisProgressSink
	notifier  *notify.Notifier
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	sync      *synchronizer.Synchronizer
}

// loadConfig reads --config, or falls back to defaults plus environment.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, exitcodes.NewExitError(fmt.Errorf("loading config: %w", err), exitcodes.ConfigError)
	}
	if sf := c.String("state-file"); sf != "" {
		cfg.Local.Backend = "file"
		cfg.Local.StateFile = sf
	}
	if u := c.String("user"); u != "" {
		cfg.Onboarding.UserID = u
	}
	return cfg, nil
}

func openLocal(cfg *config.Config) (checkpoint.Backend, error) {
	if cfg.Local.Backend == "file" {
		logging.Debug("Using YAML state file %s", cfg.Local.StateFile)
		return checkpoint.NewFileState(cfg.Local.StateFile)
	}
	logging.Debug("Using SQLite store in %s", cfg.Local.DataDir)
	return checkpoint.New(cfg.Local.DataDir)
}

// openRemote returns the remote store. PostgreSQL is connected lazily so an
// offline start still saves locally.
func openRemote(cfg *config.Config) remote.Store {
	if cfg.Remote.Type != "postgres" {
		logging.Debug("Using in-memory remote store")
		return remote.NewMemoryStore()
	}
	dsn, maxConns := cfg.RemoteDSN(), cfg.Remote.MaxConns
	return remote.NewLazyStore(func(ctx context.Context) (remote.Store, error) {
		return remote.NewPostgresStore(ctx, dsn, maxConns)
	})
}

func openPublisher(ctx context.Context, cfg *config.Config) review.Publisher {
	if len(cfg.Review.Brokers) == 0 {
		return review.NopPublisher{}
	}
	p, err := review.NewKafkaPublisher(ctx, cfg.Review.Brokers, cfg.Review.Topic)
	if err != nil {
		// Submissions still land in the status document
		logging.Warn("Review publisher unavailable: %v", err)
		return review.NopPublisher{}
	}
	return p
}

// newRuntime builds the adapters. Only a local store failure is fatal.
func newRuntime(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, userID: cfg.Onboarding.UserID}

	rt.local, err = openLocal(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	rt.remote = openRemote(cfg)

	if cfg.Redis.URL != "" {
		sink, err := upload.NewRedisProgressSinkFromURL(ctx, cfg.Redis.URL)
		if err != nil {
			logging.Warn("Upload progress mirror disabled: %v", err)
		} else {
			rt.sink = sink
		}
	}

	rt.publisher = openPublisher(ctx, cfg)
	rt.notifier = notify.New(&cfg.Slack)

	rt.registry = prometheus.NewRegistry()
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rt.metrics = metrics.New(rt.registry)

	rt.sync = synchronizer.New(rt.local, rt.remote, synchronizer.StaticIdentity(rt.userID),
		synchronizer.WithCollections(cfg.Remote.ProgressCollection, cfg.Remote.StatusCollection),
		synchronizer.WithTotalSteps(cfg.Onboarding.TotalSteps),
		synchronizer.WithWorkers(cfg.Sync.Workers),
		synchronizer.WithPublisher(rt.publisher),
		synchronizer.WithNotifier(rt.notifier),
		synchronizer.WithMetrics(rt.metrics),
	)
	return rt, nil
}

// requireUser fails with an auth error when no driver is signed in.
func (rt *runtime) requireUser() error {
	if rt.userID == "" {
		return exitcodes.NewExitError(errors.New("no driver signed in: pass --user or set ONBOARD_USER_ID"), exitcodes.AuthError)
	}
	return nil
}

// uploadManager builds the upload manager for the configured bucket.
func (rt *runtime) uploadManager() (*upload.Manager, error) {
	bucket, err := upload.NewDirBucket(rt.cfg.Upload.BucketDir, rt.cfg.Upload.BaseURL, rt.cfg.Upload.MaxFileSize)
	if err != nil {
		return nil, err
	}
	opts := []upload.Option{
		upload.WithMaxAttempts(rt.cfg.Upload.MaxAttempts),
		upload.WithBaseDelay(rt.cfg.Upload.BaseDelay),
		upload.WithMetrics(rt.metrics),
	}
	if rt.sink != nil {
		opts = append(opts, upload.WithProgressSink(rt.sink))
	}
	return upload.NewManager(bucket, opts...), nil
}

// Close releases adapters in reverse order of construction.
func (rt *runtime) Close() error {
	var errs []error
	if rt.publisher != nil {
		errs = append(errs, rt.publisher.Close())
	}
	if rt.sink != nil {
		errs = append(errs, rt.sink.Close())
	}
	if rt.remote != nil {
		errs = append(errs, rt.remote.Close())
	}
	if rt.local != nil {
		errs = append(errs, rt.local.Close())
	}
	return errors.Join(errs...)
}

// withRuntime wraps a command action with adapter setup, teardown and
// SIGINT/SIGTERM cancellation.
func withRuntime(fn func(ctx context.Context, c *cli.Context, rt *runtime) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newRuntime(ctx, c)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := rt.Close(); cerr != nil {
				logging.Warn("Closing adapters: %v", cerr)
			}
		}()
		return fn(ctx, c, rt)
	}
}
