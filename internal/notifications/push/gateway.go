// Package push provides mobile push notification sending through an
// HTTP delivery gateway, with batching and invalid-token feedback.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bissquit/task-garden/internal/notifications"
)

// Message is the payload sent to the gateway for a token batch.
type Message struct {
	Title    string
	Body     string
	Data     map[string]string
	Priority string
}

// BatchResult is the merged outcome of one gateway batch call.
type BatchResult struct {
	// Delivered counts tokens the gateway accepted.
	Delivered int

	// InvalidTokens lists tokens the gateway rejected as permanently
	// invalid. They must be evicted from the registry.
	InvalidTokens []string
}

// Gateway delivers one batch of push messages. Implementations classify
// per-token failures into permanently invalid tokens versus transient
// errors.
type Gateway interface {
	SendBatch(ctx context.Context, msg Message, tokens []string) (*BatchResult, error)
}

const defaultGatewayTimeout = 15 * time.Second

// HTTPGateway talks to an FCM-style legacy HTTP delivery endpoint.
type HTTPGateway struct {
	url        string
	serverKey  string
	httpClient *http.Client
}

// NewHTTPGateway creates a gateway client for the given endpoint. A zero
// timeout falls back to the default.
func NewHTTPGateway(url, serverKey string, timeout time.Duration) *HTTPGateway {
	if timeout == 0 {
		timeout = defaultGatewayTimeout
	}
	return &HTTPGateway{
		url:       url,
		serverKey: serverKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type gatewayRequest struct {
	RegistrationIDs []string            `json:"registration_ids"`
	Notification    gatewayNotification `json:"notification"`
	Data            map[string]string   `json:"data,omitempty"`
	Priority        string              `json:"priority,omitempty"`
}

type gatewayNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type gatewayResponse struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Results []struct {
		Error string `json:"error,omitempty"`
	} `json:"results"`
}

// Gateway error codes that mean the token is dead, not the request.
var permanentTokenErrors = map[string]bool{
	"NotRegistered":       true,
	"InvalidRegistration": true,
	"MismatchSenderId":    true,
}

// SendBatch posts one token batch to the gateway.
func (g *HTTPGateway) SendBatch(ctx context.Context, msg Message, tokens []string) (*BatchResult, error) {
	payload := gatewayRequest{
		RegistrationIDs: tokens,
		Notification: gatewayNotification{
			Title: msg.Title,
			Body:  msg.Body,
		},
		Data:     msg.Data,
		Priority: gatewayPriority(msg.Priority),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, notifications.NewNonRetryableError(fmt.Errorf("create gateway request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if g.serverKey != "" {
		req.Header.Set("Authorization", "key="+g.serverKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, notifications.NewRetryableError(fmt.Errorf("gateway request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, notifications.NewRetryableError(fmt.Errorf("read gateway response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// Parsed below.
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, notifications.NewNonRetryableError(fmt.Errorf("gateway rejected server key"))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, notifications.NewRetryableError(fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(respBody)))
	default:
		return nil, notifications.NewNonRetryableError(fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed gatewayResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, notifications.NewRetryableError(fmt.Errorf("decode gateway response: %w", err))
	}

	result := &BatchResult{Delivered: parsed.Success}
	for i, r := range parsed.Results {
		if i >= len(tokens) {
			break
		}
		if r.Error != "" && permanentTokenErrors[r.Error] {
			result.InvalidTokens = append(result.InvalidTokens, tokens[i])
		}
	}
	return result, nil
}

// gatewayPriority maps notification priorities onto the gateway's
// two-level scheme.
func gatewayPriority(p string) string {
	switch p {
	case "high", "urgent":
		return "high"
	default:
		return "normal"
	}
}
