package agent

import (
	"context"
	"sync"
	"time"

	"github.com/johndauphine/onboard-sync/internal/stats"
)

// HealthCheckResult reports store reachability. The agent is healthy while
// the local store works; an unreachable remote store is an expected state.
type HealthCheckResult struct {
	Timestamp       string `json:"timestamp"`
	Healthy         bool   `json:"healthy"`
	LocalOK         bool   `json:"local_ok"`
	LocalError      string `json:"local_error,omitempty"`
	LocalLatencyMs  int64  `json:"local_latency_ms"`
	PendingRecords  int    `json:"pending_records"`
	RemoteConnected bool   `json:"remote_connected"`
	RemoteError     string `json:"remote_error,omitempty"`
	RemoteLatencyMs int64  `json:"remote_latency_ms"`
	LastSweepAt     string `json:"last_sweep_at,omitempty"`
	LastSweepFailed int    `json:"last_sweep_failed,omitempty"`

	LocalPool  *stats.PoolStats `json:"local_pool,omitempty"`
	RemotePool *stats.PoolStats `json:"remote_pool,omitempty"`
}

// HealthCheck tests the local and remote stores.
// Both checks run in parallel, each with its own timeout, so a slow remote
// cannot starve the local check.
func (a *Agent) HealthCheck(ctx context.Context) *HealthCheckResult {
	result := &HealthCheckResult{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		start := time.Now()
		localCtx, cancel := context.WithTimeout(ctx, a.checkTimeout)
		defer cancel()

		pending, err := a.local.ListPending(localCtx)
		if err != nil {
			result.LocalError = err.Error()
		} else {
			result.LocalOK = true
			result.PendingRecords = len(pending)
		}
		result.LocalLatencyMs = time.Since(start).Milliseconds()
	}()

	go func() {
		defer wg.Done()
		start := time.Now()
		remoteCtx, cancel := context.WithTimeout(ctx, a.checkTimeout)
		defer cancel()

		if err := a.remote.Ping(remoteCtx); err != nil {
			result.RemoteError = err.Error()
		} else {
			result.RemoteConnected = true
		}
		result.RemoteLatencyMs = time.Since(start).Milliseconds()
	}()

	wg.Wait()

	if sweep, at := a.LastSweep(); sweep != nil {
		result.LastSweepAt = at.UTC().Format(time.RFC3339)
		result.LastSweepFailed = sweep.Failed
	}
	result.LocalPool = poolStats(a.local)
	result.RemotePool = poolStats(a.remote)
	result.Healthy = result.LocalOK
	return result
}

func poolStats(v any) *stats.PoolStats {
	r, ok := v.(stats.Reporter)
	if !ok {
		return nil
	}
	ps := r.PoolStats()
	return &ps
}
