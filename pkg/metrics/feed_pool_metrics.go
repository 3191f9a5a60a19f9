package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStats is a driver-independent view of a connection pool.
type PoolStats struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	Max          int           `json:"max"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

// SQLPoolStats reads the statistics of a database/sql pool.
func SQLPoolStats(db *sql.DB) PoolStats {
	if db == nil {
		return PoolStats{}
	}
	s := db.Stats()
	return PoolStats{
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		Max:          s.MaxOpenConnections,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// PgxPoolStats reads the statistics of a pgx pool.
func PgxPoolStats(pool *pgxpool.Pool) PoolStats {
	if pool == nil {
		return PoolStats{}
	}
	s := pool.Stat()
	return PoolStats{
		Open:         int(s.TotalConns()),
		InUse:        int(s.AcquiredConns()),
		Idle:         int(s.IdleConns()),
		Max:          int(s.MaxConns()),
		WaitCount:    s.EmptyAcquireCount(),
		WaitDuration: s.AcquireDuration(),
	}
}

// PoolHealthStatus indicates the health of a connection pool.
type PoolHealthStatus string

const (
	PoolHealthy   PoolHealthStatus = "healthy"
	PoolDegraded  PoolHealthStatus = "degraded"
	PoolUnhealthy PoolHealthStatus = "unhealthy"
)

// PoolHealth represents the health assessment of a pool.
type PoolHealth struct {
	Status      PoolHealthStatus `json:"status"`
	Utilization float64          `json:"utilization"`
	Stats       PoolStats        `json:"stats"`
	Message     string           `json:"message,omitempty"`
}

// AssessPoolHealth grades a pool by utilization and accumulated wait time.
func AssessPoolHealth(stats PoolStats) PoolHealth {
	if stats.Max == 0 {
		return PoolHealth{Status: PoolHealthy, Stats: stats, Message: "unlimited connections"}
	}

	utilization := float64(stats.InUse) / float64(stats.Max)
	health := PoolHealth{Status: PoolHealthy, Utilization: utilization, Stats: stats}

	switch {
	case utilization >= 0.95:
		health.Status = PoolUnhealthy
		health.Message = "pool nearly exhausted"
	case utilization >= 0.80:
		health.Status = PoolDegraded
		health.Message = "high pool utilization"
	}

	if stats.WaitCount > 0 && stats.WaitDuration > 5*time.Second && health.Status == PoolHealthy {
		health.Status = PoolDegraded
		health.Message = "elevated connection wait times"
	}
	return health
}

// PoolMonitor tracks named pools.
type PoolMonitor struct {
	mu      sync.RWMutex
	sources map[string]func() PoolStats
}

// NewPoolMonitor creates an empty monitor.
func NewPoolMonitor() *PoolMonitor {
	return &PoolMonitor{sources: make(map[string]func() PoolStats)}
}

// Register adds a pool under name. stats is called on every read.
func (m *PoolMonitor) Register(name string, stats func() PoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[name] = stats
}

// Names returns the registered pool names in order.
func (m *PoolMonitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllHealth assesses every registered pool.
func (m *PoolMonitor) AllHealth() map[string]PoolHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]PoolHealth, len(m.sources))
	for name, stats := range m.sources {
		result[name] = AssessPoolHealth(stats())
	}
	return result
}
