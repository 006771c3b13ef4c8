package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

const (
	defaultBatchSize  = 500
	defaultBatchDelay = 100 * time.Millisecond
)

// Outcome is the merged result of one aggregated push send.
type Outcome struct {
	// Delivered counts tokens the gateway accepted across all batches.
	Delivered int

	// Invalid lists tokens that are permanently dead: rejected by format
	// validation up front or reported invalid by the gateway.
	Invalid []string

	// LastErr is the last transient batch error, if any batch failed
	// outright.
	LastErr error
}

// Batcher partitions token sets into bounded batches and sends them
// sequentially, pacing calls to stay under upstream rate limits.
type Batcher struct {
	gateway   Gateway
	batchSize int
	limiter   *rate.Limiter
}

// NewBatcher creates a batcher over the given gateway. delay is the
// minimum spacing between consecutive batch calls.
func NewBatcher(gateway Gateway, batchSize int, delay time.Duration) *Batcher {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if delay <= 0 {
		delay = defaultBatchDelay
	}
	return &Batcher{
		gateway:   gateway,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Every(delay), 1),
	}
}

// Send pushes a message to every token. Tokens with an invalid shape are
// rejected up front without a gateway call. Remaining tokens go out in
// fixed-size batches, sequentially; one batch's transient failure does
// not stop the next.
func (b *Batcher) Send(ctx context.Context, msg Message, tokens []string) (*Outcome, error) {
	outcome := &Outcome{}

	valid := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if domain.ValidDeviceToken(token) {
			valid = append(valid, token)
		} else {
			outcome.Invalid = append(outcome.Invalid, token)
		}
	}

	for start := 0; start < len(valid); start += b.batchSize {
		end := min(start+b.batchSize, len(valid))
		batch := valid[start:end]

		if err := b.limiter.Wait(ctx); err != nil {
			outcome.LastErr = notifications.NewRetryableError(fmt.Errorf("batch pacing: %w", err))
			break
		}

		result, err := b.gateway.SendBatch(ctx, msg, batch)
		if err != nil {
			slog.Warn("push batch failed",
				"batch_start", start,
				"batch_size", len(batch),
				"error", err,
			)
			outcome.LastErr = err
			continue
		}

		outcome.Delivered += result.Delivered
		outcome.Invalid = append(outcome.Invalid, result.InvalidTokens...)
	}

	return outcome, b.channelError(outcome, len(tokens))
}

// channelError derives the channel-level result: any delivered token is
// a success, anything else surfaces the most specific failure.
func (b *Batcher) channelError(outcome *Outcome, total int) error {
	if outcome.Delivered > 0 {
		return nil
	}
	if outcome.LastErr != nil {
		return outcome.LastErr
	}
	if total > 0 && len(outcome.Invalid) == total {
		return notifications.NewNonRetryableError(errors.New("every device token is invalid"))
	}
	if total > 0 {
		return notifications.NewRetryableError(errors.New("no device token accepted the push"))
	}
	return nil
}
