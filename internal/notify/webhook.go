package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	"github.com/NordCoder/Pulsewatch/internal/obs"
)

const (
	TypeWebhook = "webhook"
	TypeSlack   = "slack"
)

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func (c RetryConfig) normalize() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = 10 * c.BaseDelay
	}
	return c
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

//nolint:bodyclose // the generic parameter is not a live response
func newHTTPExecutor(cfg RetryConfig) failsafe.Executor[*http.Response] {
	cfg = cfg.normalize()
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(shouldRetry).
		ReturnLastFailure().
		Build()
	return failsafe.With[*http.Response](policy)
}

type webhookPayload struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type slackPayload struct {
	WebhookURL string `json:"webhookUrl"`
}

// Webhook posts a JSON document to an arbitrary URL.
type Webhook struct {
	client *http.Client
	exec   failsafe.Executor[*http.Response]
	kind   string
}

func NewWebhook(timeout time.Duration, retry RetryConfig) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: timeout, Transport: obs.HTTPTransport(nil)},
		exec:   newHTTPExecutor(retry),
		kind:   TypeWebhook,
	}
}

// NewSlack posts to a Slack incoming webhook.
func NewSlack(timeout time.Duration, retry RetryConfig) *Webhook {
	w := NewWebhook(timeout, retry)
	w.kind = TypeSlack
	return w
}

func (w *Webhook) Type() string { return w.kind }

func (w *Webhook) Send(ctx context.Context, ch notification.Channel, msg notification.Message) error {
	var (
		url     string
		headers map[string]string
		doc     any
	)
	switch w.kind {
	case TypeSlack:
		var p slackPayload
		if err := ch.Decode(&p); err != nil {
			return err
		}
		url, doc = p.WebhookURL, map[string]string{"text": msg.Body}
	default:
		var p webhookPayload
		if err := ch.Decode(&p); err != nil {
			return err
		}
		url, headers = p.URL, p.Headers
		doc = map[string]string{"title": msg.Title, "body": msg.Body}
	}
	if url == "" {
		return fmt.Errorf("%s: url is required", w.kind)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	resp, err := w.exec.WithContext(ctx).Get(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		if shouldRetry(resp, nil) {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%s: unexpected status code %d", w.kind, resp.StatusCode)
	}
	return nil
}
