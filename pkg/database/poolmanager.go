package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
	"github.com/modforge-io/modforge-platform/pkg/logging"
	"github.com/modforge-io/modforge-platform/pkg/models"
	"github.com/modforge-io/modforge-platform/pkg/retry"
)

const (
	DefaultPoolTTLMinutes  = 5
	DefaultCleanupInterval = 1 * time.Minute
	DefaultMaxPools        = 50
	DefaultPoolMaxConns    = 10
	DefaultPoolMinConns    = 1
)

// PoolManagerConfig holds configuration for the tenant pool manager.
type PoolManagerConfig struct {
	TTLMinutes   int
	MaxPools     int
	PoolMaxConns int32
	PoolMinConns int32
}

// PoolManagerConfigFrom maps the application tenant-pool settings onto the
// manager's own config.
func PoolManagerConfigFrom(cfg config.TenantPoolConfig) PoolManagerConfig {
	return PoolManagerConfig{
		TTLMinutes:   cfg.ConnectionTTLMinutes,
		MaxPools:     cfg.MaxPools,
		PoolMaxConns: cfg.PoolMaxConns,
		PoolMinConns: cfg.PoolMinConns,
	}
}

// PoolManager manages one connection pool per tenant solution database with
// TTL-based expiry and automatic cleanup. Every solution owns exactly one
// physical database, so pools are keyed by solution name.
type PoolManager struct {
	mu       sync.RWMutex
	pools    map[string]*managedPool // key: solution name
	ttl      time.Duration
	maxPools int
	maxConns int32
	minConns int32
	stopped  bool
	stopChan chan struct{}
	logger   *zap.Logger
}

// managedPool represents a pooled tenant connection with usage tracking.
type managedPool struct {
	pool     *pgxpool.Pool
	lastUsed time.Time
	mu       sync.Mutex
}

// NewPoolManager creates a tenant pool manager with the given configuration.
// Starts a background cleanup goroutine that runs until Close() is called.
func NewPoolManager(cfg PoolManagerConfig, logger *zap.Logger) *PoolManager {
	if cfg.TTLMinutes <= 0 {
		cfg.TTLMinutes = DefaultPoolTTLMinutes
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = DefaultMaxPools
	}
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinConns <= 0 {
		cfg.PoolMinConns = DefaultPoolMinConns
	}

	manager := &PoolManager{
		pools:    make(map[string]*managedPool),
		ttl:      time.Duration(cfg.TTLMinutes) * time.Minute,
		maxPools: cfg.MaxPools,
		maxConns: cfg.PoolMaxConns,
		minConns: cfg.PoolMinConns,
		stopChan: make(chan struct{}),
		logger:   logger,
	}

	go manager.cleanupExpiredPools()
	return manager
}

// GetOrCreatePool returns the connection pool for the given solution's
// database, creating it on first use. Cached pools are health-checked before
// being handed out and recreated when unhealthy.
func (m *PoolManager) GetOrCreatePool(
	ctx context.Context,
	solutionName string,
	dbcfg models.TenantDatabaseConfig,
) (*pgxpool.Pool, error) {
	// Try existing pool with read lock (fast path)
	m.mu.RLock()
	managed, exists := m.pools[solutionName]
	m.mu.RUnlock()

	if exists {
		managed.mu.Lock()

		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := retry.Do(healthCtx, retry.DefaultConfig(), func() error {
			return managed.pool.Ping(healthCtx)
		})

		if err != nil {
			m.logger.Warn("tenant pool unhealthy, recreating",
				zap.String("solution", solutionName),
				zap.String("error", logging.SanitizeError(err)),
			)
			managed.mu.Unlock() // Unlock before calling removePool
			m.removePool(solutionName)
			return m.createNewPool(ctx, solutionName, dbcfg)
		}

		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.pool, nil
	}

	return m.createNewPool(ctx, solutionName, dbcfg)
}

// createNewPool creates a new tenant connection pool with retry logic.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *PoolManager) createNewPool(
	ctx context.Context,
	solutionName string,
	dbcfg models.TenantDatabaseConfig,
) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := m.pools[solutionName]; exists && managed != nil {
		managed.mu.Lock()
		defer managed.mu.Unlock()
		managed.lastUsed = time.Now()
		return managed.pool, nil
	}

	if len(m.pools) >= m.maxPools {
		m.logger.Warn("tenant pool limit reached",
			zap.Int("current", len(m.pools)),
			zap.Int("max", m.maxPools),
		)
		return nil, fmt.Errorf("tenant pool limit reached (%d), not opening pool for %s", m.maxPools, solutionName)
	}

	// Containerized deployments reach host-local tenant databases through
	// the Docker host alias.
	dbcfg.Host = config.ResolveHostForDocker(dbcfg.Host)

	poolConfig, err := pgxpool.ParseConfig(dbcfg.ConnectionString())
	if err != nil {
		m.logger.Error("failed to parse tenant connection string",
			zap.String("solution", solutionName),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to parse connection string for %s: %w", solutionName, err)
	}
	poolConfig.MaxConns = m.maxConns
	poolConfig.MinConns = m.minConns
	poolConfig.MaxConnIdleTime = m.ttl

	pool, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*pgxpool.Pool, error) {
		return pgxpool.NewWithConfig(ctx, poolConfig)
	})
	if err != nil {
		m.logger.Error("failed to create tenant pool after retries",
			zap.String("solution", solutionName),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool for %s after retries: %w", solutionName, err)
	}

	m.pools[solutionName] = &managedPool{
		pool:     pool,
		lastUsed: time.Now(),
	}

	m.logger.Info("created tenant connection pool",
		zap.String("solution", solutionName),
		zap.String("database", dbcfg.Database),
		zap.Int("totalPools", len(m.pools)),
	)

	return pool, nil
}

// Invalidate closes and forgets the pool for a solution. Used when a solution
// is deactivated or its stored credentials change.
func (m *PoolManager) Invalidate(solutionName string) {
	m.removePool(solutionName)
}

// removePool removes a pool from the cache and closes it.
// Caller must NOT hold m.mu lock (this method acquires write lock).
func (m *PoolManager) removePool(solutionName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[solutionName]; exists && managed != nil {
		if managed.pool != nil {
			managed.pool.Close()
		}
		delete(m.pools, solutionName)
		m.logger.Debug("removed tenant pool",
			zap.String("solution", solutionName),
		)
	}
}

// cleanupExpiredPools runs periodically to remove expired pools.
// Runs in a background goroutine until stopChan is closed.
func (m *PoolManager) cleanupExpiredPools() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes pools that haven't been used within TTL.
// Lock ordering: manager lock, then per-pool lock.
func (m *PoolManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	expiredKeys := []string{}

	for key, managed := range m.pools {
		if managed != nil {
			managed.mu.Lock()
			expired := now.Sub(managed.lastUsed) > m.ttl
			idleTime := now.Sub(managed.lastUsed)
			managed.mu.Unlock()

			if expired {
				expiredKeys = append(expiredKeys, key)
				m.logger.Debug("marking tenant pool for cleanup",
					zap.String("solution", key),
					zap.Duration("idleTime", idleTime),
					zap.Duration("ttl", m.ttl),
				)
			}
		}
	}

	for _, key := range expiredKeys {
		if managed, exists := m.pools[key]; exists && managed != nil {
			if managed.pool != nil {
				managed.pool.Close()
			}
			delete(m.pools, key)
		}
	}

	if len(expiredKeys) > 0 {
		m.logger.Info("cleaned up expired tenant pools",
			zap.Int("count", len(expiredKeys)),
			zap.Int("remaining", len(m.pools)),
		)
	}
}

// Close closes all pools and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *PoolManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for _, managed := range m.pools {
		if managed != nil && managed.pool != nil {
			managed.pool.Close()
		}
	}

	m.pools = make(map[string]*managedPool)
	m.logger.Info("tenant pool manager closed")
	return nil
}

// GetStats returns statistics about the tenant pool cache.
// Safe to call concurrently.
func (m *PoolManager) GetStats() PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := PoolStats{
		TotalPools:        len(m.pools),
		MaxPools:          m.maxPools,
		TTLMinutes:        int(m.ttl.Minutes()),
		Solutions:         make([]string, 0, len(m.pools)),
		OldestIdleSeconds: 0,
	}

	for key, managed := range m.pools {
		stats.Solutions = append(stats.Solutions, key)

		if managed != nil {
			managed.mu.Lock()
			idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
			managed.mu.Unlock()
			if idleSeconds > stats.OldestIdleSeconds {
				stats.OldestIdleSeconds = idleSeconds
			}
		}
	}

	return stats
}

// PoolStats contains statistics about the tenant pool cache.
type PoolStats struct {
	TotalPools        int      `json:"total_pools"`
	MaxPools          int      `json:"max_pools"`
	TTLMinutes        int      `json:"ttl_minutes"`
	Solutions         []string `json:"solutions"`
	OldestIdleSeconds int      `json:"oldest_idle_seconds"`
}
