package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c360/natsbridge/errors"
	"github.com/c360/natsbridge/pkg/retry"
)

// WebhookConfig configures a Webhook sink
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retries int

	// TLSConfig is used for https URLs; nil uses the system defaults
	TLSConfig *tls.Config
}

// Webhook POSTs each record as JSON to a URL. Network errors and 5xx
// responses are retried with exponential backoff; 4xx responses are not.
type Webhook struct {
	url     string
	headers map[string]string
	client  *http.Client
	retry   retry.Config
}

// NewWebhook creates a webhook sink
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Webhook", "NewWebhook", "url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Webhook", "NewWebhook", "retries cannot be negative")
	}

	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Retries + 1

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.TLSConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = cfg.TLSConfig
		client.Transport = transport
	}

	return &Webhook{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  client,
		retry:   rc,
	}, nil
}

// Deliver posts rec, retrying transient failures
func (h *Webhook) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return errors.WrapInvalid(err, "Webhook", "Deliver", "marshal record")
	}

	err = retry.Do(ctx, h.retry, func(ctx context.Context) error {
		return h.post(ctx, body)
	})
	switch {
	case err == nil:
		return nil
	case retry.IsNonRetryable(err):
		return errors.WrapInvalid(err, "Webhook", "Deliver", fmt.Sprintf("post to %s", h.url))
	default:
		return errors.WrapTransient(err, "Webhook", "Deliver", fmt.Sprintf("post to %s", h.url))
	}
}

func (h *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return retry.NonRetryable(err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range h.headers {
		req.Header.Set(key, value)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// Read and discard body to reuse connection
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.NonRetryable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	default:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
}

// Close releases idle connections
func (h *Webhook) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
