package stats

import "fmt"

// PoolStats is a connection pool snapshot for logging and health output.
type PoolStats struct {
	Store       string `json:"store"`
	MaxConns    int    `json:"max_conns"`
	ActiveConns int    `json:"active_conns"`
	IdleConns   int    `json:"idle_conns"`
	WaitCount   int64  `json:"wait_count"`
	WaitTimeMs  int64  `json:"wait_time_ms"`
}

// String returns a formatted string for logging pool stats.
func (s PoolStats) String() string {
	return fmt.Sprintf("%s: %d/%d active, %d idle, %d waits (%.1fms avg)",
		s.Store, s.ActiveConns, s.MaxConns, s.IdleConns,
		s.WaitCount, float64(s.WaitTimeMs)/float64(max(s.WaitCount, 1)))
}

// Reporter is implemented by stores backed by a connection pool.
type Reporter interface {
	PoolStats() PoolStats
}
