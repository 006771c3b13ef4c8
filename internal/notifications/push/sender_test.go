package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/bissquit/task-garden/internal/notifications"
)

// fakeTokenSource is an in-memory TokenSource.
type fakeTokenSource struct {
	tokens  []domain.DeviceToken
	listErr error

	markedUsed []string
	cleaned    []string
	cleanupErr error
}

func (f *fakeTokenSource) ListForRecipient(_ context.Context, _ string) ([]domain.DeviceToken, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tokens, nil
}

func (f *fakeTokenSource) MarkUsed(_ context.Context, tokens []string, _ time.Time) error {
	f.markedUsed = append(f.markedUsed, tokens...)
	return nil
}

func (f *fakeTokenSource) CleanupInvalidTokens(_ context.Context, tokens []string) (int64, error) {
	if f.cleanupErr != nil {
		return 0, f.cleanupErr
	}
	f.cleaned = append(f.cleaned, tokens...)
	return int64(len(tokens)), nil
}

func deviceTokens(tokens []string) []domain.DeviceToken {
	out := make([]domain.DeviceToken, len(tokens))
	for i, token := range tokens {
		out[i] = domain.DeviceToken{
			Recipient: "user-1",
			Token:     token,
			Platform:  domain.PlatformAndroid,
		}
	}
	return out
}

func pushDelivery() notifications.Delivery {
	return notifications.Delivery{
		Notification: &domain.Notification{
			ID:       "n-1",
			Title:    "Review the deploy plan",
			Message:  "You were assigned as a reviewer.",
			Priority: domain.PriorityHigh,
		},
		Profile: &domain.RecipientProfile{ID: "user-1"},
	}
}

func TestSender_Send_NoDevicesIsNoOp(t *testing.T) {
	gw := &fakeGateway{}
	src := &fakeTokenSource{}
	s := NewSender(NewBatcher(gw, 100, time.Millisecond), src)

	err := s.Send(context.Background(), pushDelivery())

	require.NoError(t, err)
	assert.Empty(t, gw.calls())
}

func TestSender_Send_ListFailureIsRetryable(t *testing.T) {
	src := &fakeTokenSource{listErr: errors.New("db down")}
	s := NewSender(NewBatcher(&fakeGateway{}, 100, time.Millisecond), src)

	err := s.Send(context.Background(), pushDelivery())

	var re *notifications.RetryableError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.IsRetryable())
}

func TestSender_Send_DeliversAndMarksUsed(t *testing.T) {
	tokens := testTokens(3)
	gw := &fakeGateway{}
	src := &fakeTokenSource{tokens: deviceTokens(tokens)}
	s := NewSender(NewBatcher(gw, 100, time.Millisecond), src)

	err := s.Send(context.Background(), pushDelivery())

	require.NoError(t, err)
	require.Len(t, gw.calls(), 1)
	assert.Equal(t, tokens, gw.calls()[0])
	assert.Equal(t, tokens, src.markedUsed)
}

func TestSender_Send_EvictsGatewayRejectedTokens(t *testing.T) {
	tokens := testTokens(3)
	gw := &fakeGateway{
		results: []*BatchResult{
			{Delivered: 2, InvalidTokens: []string{tokens[2]}},
		},
	}
	src := &fakeTokenSource{tokens: deviceTokens(tokens)}
	s := NewSender(NewBatcher(gw, 100, time.Millisecond), src)

	err := s.Send(context.Background(), pushDelivery())

	require.NoError(t, err)
	assert.Equal(t, []string{tokens[2]}, src.cleaned)
}

func TestSender_Send_CleanupFailureDoesNotFailDelivery(t *testing.T) {
	tokens := testTokens(2)
	gw := &fakeGateway{
		results: []*BatchResult{
			{Delivered: 1, InvalidTokens: []string{tokens[0]}},
		},
	}
	src := &fakeTokenSource{tokens: deviceTokens(tokens), cleanupErr: errors.New("db down")}
	s := NewSender(NewBatcher(gw, 100, time.Millisecond), src)

	assert.NoError(t, s.Send(context.Background(), pushDelivery()))
}

func TestSender_Send_PropagatesBatchFailure(t *testing.T) {
	tokens := testTokens(2)
	batchErr := notifications.NewRetryableError(errors.New("gateway 503"))
	gw := &fakeGateway{errs: []error{batchErr}}
	src := &fakeTokenSource{tokens: deviceTokens(tokens)}
	s := NewSender(NewBatcher(gw, 100, time.Millisecond), src)

	err := s.Send(context.Background(), pushDelivery())

	require.Error(t, err)
	assert.Empty(t, src.markedUsed, "failed delivery must not refresh last-use markers")
}

func TestSender_Type(t *testing.T) {
	s := NewSender(NewBatcher(&fakeGateway{}, 100, time.Millisecond), &fakeTokenSource{})
	assert.Equal(t, domain.ChannelTypePush, s.Type())
}
