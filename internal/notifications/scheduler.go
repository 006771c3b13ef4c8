package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// SchedulerConfig contains retry scheduler configuration.
type SchedulerConfig struct {
	Interval          time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	BackoffMultiplier float64
	MaxAge            time.Duration
	BatchSize         int
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:          5 * time.Minute,
		MaxRetries:        3,
		BaseDelay:         1 * time.Minute,
		BackoffMultiplier: 2.0,
		MaxAge:            7 * 24 * time.Hour,
		BatchSize:         100,
	}
}

// Scheduler periodically re-attempts failed channel deliveries and
// escalates notifications that exhaust their retries.
type Scheduler struct {
	config     SchedulerConfig
	repo       Repository
	directory  RecipientDirectory
	dispatcher *Dispatcher
	escalator  *Escalator

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a new retry scheduler.
func NewScheduler(config SchedulerConfig, repo Repository, directory RecipientDirectory, dispatcher *Dispatcher, escalator *Escalator) *Scheduler {
	return &Scheduler{
		config:     config,
		repo:       repo,
		directory:  directory,
		dispatcher: dispatcher,
		escalator:  escalator,
		stopCh:     make(chan struct{}),
	}
}

// Start launches the scheduler goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("starting retry scheduler",
		"interval", s.config.Interval,
		"max_retries", s.config.MaxRetries,
		"base_delay", s.config.BaseDelay,
	)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	slog.Info("retry scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
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
			s.ProcessRetries(ctx)
		}
	}
}

// ProcessRetries runs one retry cycle: it scans for due candidates and
// re-attempts each one's failed channels. Per-record errors are logged
// and never abort the cycle.
func (s *Scheduler) ProcessRetries(ctx context.Context) {
	retryCycles.Inc()

	candidates, err := s.repo.ListRetryCandidates(ctx, RetryQuery{
		MaxRetries: s.config.MaxRetries,
		MaxAge:     s.config.MaxAge,
		Limit:      s.config.BatchSize,
		Now:        time.Now(),
	})
	if err != nil {
		slog.Error("failed to list retry candidates", "error", err)
		return
	}

	if len(candidates) == 0 {
		return
	}

	slog.Debug("processing retry candidates", "count", len(candidates))

	for _, n := range candidates {
		s.processRecord(ctx, n)
	}
}

// RetryNow re-attempts one notification immediately, outside the ticker
// cycle. It shares the atomic claim with scheduled retries so the two
// paths never process a record at the same time.
func (s *Scheduler) RetryNow(ctx context.Context, id string) error {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return err
	}
	if err := s.retryEligible(n); err != nil {
		return err
	}

	claimed, err := s.repo.ClaimRetry(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("claim retry: %w", err)
	}
	if !claimed {
		return ErrRetryInProgress
	}

	// A scheduled cycle may have completed between the eligibility check
	// and the claim; re-read and re-check under the claim.
	fresh, err := s.repo.GetNotification(ctx, n.ID)
	if err != nil {
		s.release(ctx, n.ID)
		return err
	}
	if err := s.retryEligible(fresh); err != nil {
		s.release(ctx, n.ID)
		return err
	}

	s.processClaimed(ctx, fresh)
	return nil
}

// retryEligible mirrors the candidate-scan predicate for manual retries.
func (s *Scheduler) retryEligible(n *domain.Notification) error {
	if n.Escalated || n.Type == domain.TypeDeliveryFailure || !n.HasRetryableFailures() {
		return ErrNotRetryEligible
	}
	if n.RetryCount >= s.config.MaxRetries {
		return ErrNotRetryEligible
	}
	if time.Since(n.CreatedAt) > s.config.MaxAge {
		return ErrNotRetryEligible
	}
	return nil
}

func (s *Scheduler) processRecord(ctx context.Context, n *domain.Notification) {
	claimed, err := s.repo.ClaimRetry(ctx, n.ID)
	if err != nil {
		slog.Error("failed to claim retry", "notification_id", n.ID, "error", err)
		return
	}
	if !claimed {
		// Another cycle holds the record.
		return
	}

	// The candidate snapshot may predate a concurrent cycle that already
	// released the record; process only its state as of the claim.
	fresh, err := s.repo.GetNotification(ctx, n.ID)
	if err != nil {
		slog.Error("failed to reload claimed record", "notification_id", n.ID, "error", err)
		s.release(ctx, n.ID)
		return
	}

	s.processClaimed(ctx, fresh)
}

// processClaimed re-attempts a claimed record's retryable channels,
// advances its retry bookkeeping and escalates it when retries are
// exhausted or only permanent failures remain. The caller must hold the
// retry claim; processClaimed always releases it through FinishRetry or
// ReleaseRetry.
func (s *Scheduler) processClaimed(ctx context.Context, n *domain.Notification) {
	retriedRecords.Inc()

	if !n.HasFailures() {
		// Delivered by a concurrent cycle between the scan and the claim.
		s.release(ctx, n.ID)
		return
	}

	retryable := n.RetryableChannels()
	if len(retryable) == 0 {
		// Every remaining failure is permanent; re-attempting cannot
		// succeed, so the record goes straight to the escalator without
		// spending its retry budget.
		s.release(ctx, n.ID)
		if err := s.escalator.Escalate(ctx, n); err != nil {
			slog.Error("failed to escalate notification", "notification_id", n.ID, "error", err)
		}
		return
	}

	profile, err := s.directory.Resolve(ctx, n.Recipient)
	if err != nil {
		slog.Error("failed to resolve recipient for retry",
			"notification_id", n.ID,
			"recipient", n.Recipient,
			"error", err,
		)
		s.release(ctx, n.ID)
		return
	}

	s.dispatcher.deliver(ctx, profile, n, retryable)

	// One retry cycle counts once no matter how many channels it touched.
	n.RetryCount++
	n.IsRetrying = false
	n.NextRetryAt = nil

	exhausted := n.RetryCount >= s.config.MaxRetries
	if n.HasRetryableFailures() && !exhausted {
		next := s.nextAttempt(n.RetryCount)
		n.NextRetryAt = &next
	}

	if err := s.repo.FinishRetry(ctx, n.ID, n.RetryCount, n.NextRetryAt); err != nil {
		slog.Error("failed to finish retry", "notification_id", n.ID, "error", err)
		return
	}

	slog.Info("retry cycle finished",
		"notification_id", n.ID,
		"retry_count", n.RetryCount,
		"remaining_failures", len(n.FailedChannels()),
		"next_retry_at", n.NextRetryAt,
	)

	if n.HasFailures() && (exhausted || !n.HasRetryableFailures()) {
		if err := s.escalator.Escalate(ctx, n); err != nil {
			slog.Error("failed to escalate notification", "notification_id", n.ID, "error", err)
		}
	}
}

// release drops the retry claim without advancing the retry count.
func (s *Scheduler) release(ctx context.Context, id string) {
	if err := s.repo.ReleaseRetry(ctx, id); err != nil {
		slog.Error("failed to release retry claim", "notification_id", id, "error", err)
	}
}

// nextAttempt computes the next retry time from the retry count after
// the just-finished cycle: base delay times multiplier to the power of
// that count.
func (s *Scheduler) nextAttempt(retryCount int) time.Time {
	backoff := float64(s.config.BaseDelay)
	for i := 0; i < retryCount; i++ {
		backoff *= s.config.BackoffMultiplier
	}
	return time.Now().Add(time.Duration(backoff))
}
