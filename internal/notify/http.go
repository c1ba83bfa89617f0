package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"riskengine/internal/retry"
)

// HTTPConfig configures the HTTP notifier.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPNotifier posts alert messages to a remote endpoint. 5xx responses
// and transport failures are retryable; 4xx responses are terminal since
// resending the same payload cannot succeed.
type HTTPNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

type httpPayload struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// NewHTTPNotifier creates an HTTP notifier.
func NewHTTPNotifier(cfg HTTPConfig) (*HTTPNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notifier URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Send posts one alert message.
func (n *HTTPNotifier) Send(ctx context.Context, subject, message string) error {
	body, err := json.Marshal(httpPayload{Subject: subject, Message: message})
	if err != nil {
		return retry.Terminal(fmt.Errorf("marshal notification: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return retry.Terminal(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return retry.Unavailable(fmt.Errorf("post notification: %w", err))
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500:
		return retry.Unavailable(fmt.Errorf("notification endpoint returned %s", resp.Status))
	default:
		return retry.Terminal(fmt.Errorf("notification rejected with %s", resp.Status))
	}
}

// Close releases HTTP resources.
func (n *HTTPNotifier) Close() error {
	return nil
}
