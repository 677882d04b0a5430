// Package agent runs the background side of the sync engine: it probes the
// remote store, sweeps pending records when connectivity returns and serves
// health and metrics over HTTP.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/johndauphine/onboard-sync/internal/checkpoint"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/metrics"
	"github.com/johndauphine/onboard-sync/internal/synchronizer"
)

// DefaultProbeInterval is used when no interval is configured.
const DefaultProbeInterval = 30 * time.Second

// Pinger is the part of the remote store the agent probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sweeper pushes pending records to the remote store.
type Sweeper interface {
	SyncPendingData(ctx context.Context) (*synchronizer.SweepResult, error)
}

// ProbeResult is the outcome of one connectivity probe.
type ProbeResult struct {
	Online bool
	// Reconnected is true when this probe is the first online one after an
	// offline probe, or the first probe of the agent.
	Reconnected bool
	Sweep       *synchronizer.SweepResult
	SweepErr    error
}

// Agent watches connectivity and triggers sweeps.
type Agent struct {
	local        checkpoint.Backend
	remote       Pinger
	sweeper      Sweeper
	interval     time.Duration
	checkTimeout time.Duration
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer

	mu          sync.Mutex
	probed      bool
	online      bool
	lastProbeAt time.Time
	lastSweep   *synchronizer.SweepResult
	lastSweepAt time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithMetrics sets the collectors to update.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *Agent) { a.gatherer = g }
}

// WithCheckTimeout bounds each health and connectivity check.
func WithCheckTimeout(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.checkTimeout = d
		}
	}
}

// New creates an Agent.
func New(local checkpoint.Backend, remote Pinger, sweeper Sweeper, opts ...Option) *Agent {
	a := &Agent{
		local:        local,
		remote:       remote,
		sweeper:      sweeper,
		interval:     DefaultProbeInterval,
		checkTimeout: 10 * time.Second,
		gatherer:     prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Online reports the result of the last probe.
func (a *Agent) Online() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online
}

// LastSweep returns the most recent sweep result and when it finished.
func (a *Agent) LastSweep() (*synchronizer.SweepResult, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSweep, a.lastSweepAt
}

// Probe pings the remote store once and sweeps pending records when the store
// has just become reachable.
func (a *Agent) Probe(ctx context.Context) ProbeResult {
	pingCtx, cancel := context.WithTimeout(ctx, a.checkTimeout)
	err := a.remote.Ping(pingCtx)
	cancel()

	online := err == nil
	a.mu.Lock()
	reconnected := online && (!a.probed || !a.online)
	wentOffline := !online && (!a.probed || a.online)
	a.probed = true
	a.online = online
	a.lastProbeAt = time.Now()
	a.mu.Unlock()
	a.metrics.SetOnline(online)

	result := ProbeResult{Online: online, Reconnected: reconnected}
	if wentOffline {
		logging.Warn("Remote store unreachable, saves stay local: %v", err)
	}
	if !reconnected {
		return result
	}

	if ps := poolStats(a.remote); ps != nil {
		logging.Debug("Remote pool: %s", ps)
	}
	logging.Info("Remote store reachable, syncing pending data")
	result.Sweep, result.SweepErr = a.Sweep(ctx)
	return result
}

// Sweep runs SyncPendingData and records the result.
func (a *Agent) Sweep(ctx context.Context) (*synchronizer.SweepResult, error) {
	res, err := a.sweeper.SyncPendingData(ctx)
	if err != nil {
		logging.Error("Sync sweep failed: %v", err)
	}
	if res != nil {
		a.mu.Lock()
		a.lastSweep = res
		a.lastSweepAt = time.Now()
		a.mu.Unlock()
	}
	return res, err
}

// Run probes immediately and then every interval until ctx is done.
func (a *Agent) Run(ctx context.Context) error {
	logging.Info("Connectivity watcher started (interval %s)", a.interval)
	a.Probe(ctx)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logging.Info("Connectivity watcher stopped")
			return nil
		case <-ticker.C:
			a.Probe(ctx)
		}
	}
}
