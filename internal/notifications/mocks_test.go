package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
)

// mockRepository is an in-memory Repository for unit tests.
type mockRepository struct {
	mu      sync.Mutex
	records map[string]*domain.Notification

	createErr error
	updateErr error
	claimErr  error
	listErr   error

	claimCalls    int
	finishCalls   int
	releaseCalls  int
	deleteCalls   int
	deletedCutoff time.Time
	deleteCount   int64
	statsResult   *Stats
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		records: make(map[string]*domain.Notification),
	}
}

func copyNotification(n *domain.Notification) *domain.Notification {
	cp := *n
	cp.Channels = make(map[domain.ChannelType]*domain.ChannelState, len(n.Channels))
	for ch, state := range n.Channels {
		s := *state
		cp.Channels[ch] = &s
	}
	return &cp
}

func (m *mockRepository) CreateNotification(_ context.Context, n *domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.records[n.ID] = copyNotification(n)
	return nil
}

func (m *mockRepository) GetNotification(_ context.Context, id string) (*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return copyNotification(n), nil
}

func (m *mockRepository) ListByRecipient(_ context.Context, recipient string, _, _ int) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Notification, 0)
	for _, n := range m.records {
		if n.Recipient == recipient {
			result = append(result, *copyNotification(n))
		}
	}
	return result, nil
}

func (m *mockRepository) UpdateChannelState(_ context.Context, id string, channel domain.ChannelType, state domain.ChannelState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	n, ok := m.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	s := state
	n.Channels[channel] = &s
	n.UpdatedAt = time.Now()
	return nil
}

func (m *mockRepository) MarkRead(_ context.Context, id, recipient string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok || n.Recipient != recipient {
		return ErrNotificationNotFound
	}
	n.IsRead = true
	return nil
}

func (m *mockRepository) UnreadCount(_ context.Context, recipient string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, n := range m.records {
		if n.Recipient == recipient && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *mockRepository) ListRetryCandidates(_ context.Context, q RetryQuery) ([]*domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]*domain.Notification, 0)
	for _, n := range m.records {
		if n.Type == domain.TypeDeliveryFailure || n.Escalated || n.IsRetrying {
			continue
		}
		if n.RetryCount >= q.MaxRetries {
			continue
		}
		if !n.CreatedAt.After(q.Now.Add(-q.MaxAge)) {
			continue
		}
		if n.NextRetryAt != nil && n.NextRetryAt.After(q.Now) {
			continue
		}
		if !n.HasFailures() {
			continue
		}
		result = append(result, copyNotification(n))
		if len(result) >= q.Limit {
			break
		}
	}
	return result, nil
}

func (m *mockRepository) ClaimRetry(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimCalls++
	if m.claimErr != nil {
		return false, m.claimErr
	}
	n, ok := m.records[id]
	if !ok || n.IsRetrying || n.Escalated {
		return false, nil
	}
	n.IsRetrying = true
	return true, nil
}

func (m *mockRepository) FinishRetry(_ context.Context, id string, retryCount int, nextRetryAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishCalls++
	n, ok := m.records[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.IsRetrying = false
	n.RetryCount = retryCount
	n.NextRetryAt = nextRetryAt
	return nil
}

func (m *mockRepository) ReleaseRetry(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	if n, ok := m.records[id]; ok {
		n.IsRetrying = false
	}
	return nil
}

func (m *mockRepository) MarkEscalated(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok || n.Escalated {
		return false, nil
	}
	n.Escalated = true
	n.EscalatedAt = &at
	n.NextRetryAt = nil
	return true, nil
}

func (m *mockRepository) DeleteTerminal(_ context.Context, cutoff time.Time, maxRetries int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls++
	m.deletedCutoff = cutoff

	var deleted int64
	for id, n := range m.records {
		if !n.CreatedAt.Before(cutoff) {
			continue
		}
		terminal := n.Escalated || n.RetryCount >= maxRetries || !n.HasFailures() && allAttempted(n)
		if terminal {
			delete(m.records, id)
			deleted++
		}
	}
	m.deleteCount = deleted
	return deleted, nil
}

func allAttempted(n *domain.Notification) bool {
	for _, state := range n.Channels {
		if !state.Sent {
			return false
		}
	}
	return true
}

func (m *mockRepository) Stats(_ context.Context) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.statsResult != nil {
		return m.statsResult, nil
	}
	return &Stats{Total: int64(len(m.records))}, nil
}

func (m *mockRepository) get(id string) *domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.records[id]
	if !ok {
		return nil
	}
	return copyNotification(n)
}

func (m *mockRepository) put(n *domain.Notification) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[n.ID] = copyNotification(n)
}

// mockDirectory is an in-memory RecipientDirectory.
type mockDirectory struct {
	profiles     map[string]*domain.RecipientProfile
	operators    []domain.RecipientProfile
	resolveErr   error
	operatorsErr error
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		profiles: make(map[string]*domain.RecipientProfile),
	}
}

func (m *mockDirectory) Resolve(_ context.Context, recipientID string) (*domain.RecipientProfile, error) {
	if m.resolveErr != nil {
		return nil, m.resolveErr
	}
	p, ok := m.profiles[recipientID]
	if !ok {
		return nil, ErrRecipientNotFound
	}
	return p, nil
}

func (m *mockDirectory) Operators(_ context.Context) ([]domain.RecipientProfile, error) {
	if m.operatorsErr != nil {
		return nil, m.operatorsErr
	}
	return m.operators, nil
}

// fakeSender records calls and returns a scripted outcome.
type fakeSender struct {
	mu      sync.Mutex
	channel domain.ChannelType
	err     error
	panics  bool
	calls   int
}

func (f *fakeSender) Type() domain.ChannelType {
	return f.channel
}

func (f *fakeSender) Send(_ context.Context, _ Delivery) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("sender blew up")
	}
	return f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// allChannelPrefs enables every channel for every notification type.
func allChannelPrefs() domain.Preferences {
	prefs := make(domain.Preferences)
	for _, ch := range domain.AllChannelTypes {
		prefs[ch] = domain.ChannelPreference{Enabled: true}
	}
	return prefs
}
