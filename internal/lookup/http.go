package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"riskengine/internal/retry"
	"riskengine/pkg/models"
)

// HTTPConfig configures the HTTP lookup client.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPClient resolves checks against a remote describe-style endpoint.
type HTTPClient struct {
	base    string
	headers map[string]string
	client  *http.Client
}

// NewHTTPClient creates an HTTP lookup client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("lookup URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		base:    cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Lookup fetches one check outcome for an entity.
func (c *HTTPClient) Lookup(ctx context.Context, entity *models.Entity, check string) (string, error) {
	q := url.Values{}
	q.Set("entity_type", string(entity.Type))
	q.Set("entity_id", entity.ID)
	q.Set("check", check)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"?"+q.Encode(), nil)
	if err != nil {
		return "", retry.Terminal(fmt.Errorf("create lookup request: %w", err))
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", retry.Unavailable(fmt.Errorf("lookup request: %w", err))
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500:
		return "", retry.Unavailable(fmt.Errorf("lookup endpoint returned %s", resp.Status))
	case resp.StatusCode >= 300:
		return "", retry.Terminal(fmt.Errorf("lookup rejected with %s", resp.Status))
	}

	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", retry.Terminal(fmt.Errorf("decode lookup response: %w", err))
	}
	return body.Outcome, nil
}
