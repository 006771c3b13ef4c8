package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/task-garden/internal/notifications"
)

func testTokens(n int) []string {
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = "device-token-" + strings.Repeat("a", 32) + string(rune('a'+i))
	}
	return tokens
}

func TestHTTPGateway_SendBatch(t *testing.T) {
	tokens := testTokens(3)

	var received gatewayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		resp := map[string]any{
			"success": 2,
			"failure": 1,
			"results": []map[string]string{
				{},
				{"error": "NotRegistered"},
				{},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "secret", 0)
	result, err := g.SendBatch(context.Background(), Message{
		Title:    "Review the deploy plan",
		Body:     "You were assigned as a reviewer.",
		Priority: "urgent",
	}, tokens)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Delivered)
	assert.Equal(t, []string{tokens[1]}, result.InvalidTokens)

	assert.Equal(t, tokens, received.RegistrationIDs)
	assert.Equal(t, "Review the deploy plan", received.Notification.Title)
	assert.Equal(t, "high", received.Priority)
}

func TestHTTPGateway_TransientTokenErrorsAreNotInvalid(t *testing.T) {
	tokens := testTokens(2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"success": 1,
			"failure": 1,
			"results": []map[string]string{
				{"error": "Unavailable"},
				{},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()

	g := NewHTTPGateway(server.URL, "", 0)
	result, err := g.SendBatch(context.Background(), Message{}, tokens)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Delivered)
	assert.Empty(t, result.InvalidTokens)
}

func TestHTTPGateway_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"unauthorized is permanent", http.StatusUnauthorized, false},
		{"bad request is permanent", http.StatusBadRequest, false},
		{"rate limited is retryable", http.StatusTooManyRequests, true},
		{"server error is retryable", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			g := NewHTTPGateway(server.URL, "secret", 0)
			_, err := g.SendBatch(context.Background(), Message{}, testTokens(1))

			var re *notifications.RetryableError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.retryable, re.IsRetryable())
		})
	}
}

func TestNewHTTPGateway_Timeout(t *testing.T) {
	g := NewHTTPGateway("http://gateway.local", "key", 3*time.Second)
	assert.Equal(t, 3*time.Second, g.httpClient.Timeout)

	g = NewHTTPGateway("http://gateway.local", "key", 0)
	assert.Equal(t, defaultGatewayTimeout, g.httpClient.Timeout)
}

func TestGatewayPriority(t *testing.T) {
	assert.Equal(t, "high", gatewayPriority("urgent"))
	assert.Equal(t, "high", gatewayPriority("high"))
	assert.Equal(t, "normal", gatewayPriority("medium"))
	assert.Equal(t, "normal", gatewayPriority("low"))
	assert.Equal(t, "normal", gatewayPriority(""))
}
