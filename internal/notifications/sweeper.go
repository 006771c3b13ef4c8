package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweeperConfig contains cleanup sweeper configuration.
type SweeperConfig struct {
	Interval   time.Duration
	MaxAge     time.Duration
	MaxRetries int
}

// DefaultSweeperConfig returns default sweeper configuration.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   1 * time.Hour,
		MaxAge:     30 * 24 * time.Hour,
		MaxRetries: 3,
	}
}

// Sweeper periodically deletes old terminal notification records and
// refreshes the state gauges.
type Sweeper struct {
	config SweeperConfig
	repo   Repository

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a new cleanup sweeper.
func NewSweeper(config SweeperConfig, repo Repository) *Sweeper {
	return &Sweeper{
		config: config,
		repo:   repo,
		stopCh: make(chan struct{}),
	}
}

// Start launches the sweeper goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("starting cleanup sweeper",
		"interval", s.config.Interval,
		"max_age", s.config.MaxAge,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("cleanup sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup pass. Records older than MaxAge are deleted
// only once they are terminal: escalated, retries exhausted, or
// delivered on every channel. Anything still eligible for retry is
// left alone regardless of age.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MaxAge)

	deleted, err := s.repo.DeleteTerminal(ctx, cutoff, s.config.MaxRetries)
	if err != nil {
		slog.Error("cleanup sweep failed", "error", err)
		return
	}

	if deleted > 0 {
		cleanupDeleted.Add(float64(deleted))
		slog.Info("cleanup sweep deleted records", "count", deleted, "cutoff", cutoff)
	}

	stats, err := s.repo.Stats(ctx)
	if err != nil {
		slog.Error("failed to collect notification stats", "error", err)
		return
	}
	RecordStats(stats)
}
