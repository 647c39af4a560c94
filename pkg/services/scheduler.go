package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/modforge-io/modforge-platform/pkg/config"
)

// scheduledRefreshTimeout bounds one scheduled discovery pass.
const scheduledRefreshTimeout = 15 * time.Minute

// RefreshScheduler runs discovery refreshes on operator-configured cron
// schedules, one entry per domain. Nothing else triggers refreshes; reads
// always serve the cache. With no schedules configured the scheduler is
// disabled and Start is a no-op.
type RefreshScheduler struct {
	cron      *cron.Cron
	discovery DiscoveryService
	entries   map[string]cron.EntryID
	logger    *zap.Logger
}

// NewRefreshScheduler registers one cron entry per configured domain.
// Standard five-field expressions and descriptors like @hourly are accepted.
func NewRefreshScheduler(cfg *config.SchedulerConfig, discovery DiscoveryService, logger *zap.Logger) (*RefreshScheduler, error) {
	s := &RefreshScheduler{
		cron:      cron.New(),
		discovery: discovery,
		entries:   make(map[string]cron.EntryID),
		logger:    logger,
	}

	for domain, expr := range cfg.RefreshSchedules {
		domain := domain
		id, err := s.cron.AddFunc(expr, func() { s.refreshNow(domain) })
		if err != nil {
			return nil, fmt.Errorf("failed to schedule refresh for domain %s (%q): %w", domain, expr, err)
		}
		s.entries[domain] = id
	}
	return s, nil
}

// Start begins running the configured schedules.
func (s *RefreshScheduler) Start() {
	if len(s.entries) == 0 {
		s.logger.Info("Discovery refresh scheduler disabled, no schedules configured")
		return
	}
	s.cron.Start()
	s.logger.Info("Discovery refresh scheduler started",
		zap.Strings("domains", s.Domains()),
	)
}

// Stop halts the schedules and waits for a running refresh to finish.
func (s *RefreshScheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("Discovery refresh scheduler stopped")
}

// Domains returns the scheduled domains in sorted order.
func (s *RefreshScheduler) Domains() []string {
	domains := make([]string, 0, len(s.entries))
	for domain := range s.entries {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

func (s *RefreshScheduler) refreshNow(domain string) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRefreshTimeout)
	defer cancel()

	result, err := s.discovery.RefreshDomain(ctx, domain)
	if err != nil && result == nil {
		s.logger.Error("Scheduled discovery refresh failed",
			zap.String("domain", domain),
			zap.Error(err),
		)
		return
	}

	entities := 0
	for _, stats := range result.Stats {
		entities += stats.Total()
	}
	if err != nil {
		s.logger.Warn("Scheduled discovery refresh partially failed",
			zap.String("domain", domain),
			zap.Int("entities", entities),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Scheduled discovery refresh completed",
		zap.String("domain", domain),
		zap.String("serverVersion", result.ServerVersion),
		zap.Int("entities", entities),
		zap.Duration("duration", result.Duration),
	)
}
