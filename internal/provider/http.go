package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

const defaultHTTPTimeout = 30 * time.Second

type httpPayload struct {
	URL                 string            `json:"url"`
	Method              string            `json:"method"`
	Headers             map[string]string `json:"headers"`
	ContentType         string            `json:"contentType"`
	BodyValue           string            `json:"bodyValue"`
	Body                string            `json:"body"`
	Timeout             int               `json:"timeout"`
	MaxRedirects        *int              `json:"maxRedirects"`
	IgnoreTLS           bool              `json:"ignoreTLS"`
	AcceptedStatusCodes []string          `json:"acceptedStatusCodes"`
}

// requestBody prefers bodyValue; body is still read for older definitions.
func (p httpPayload) requestBody() string {
	if p.BodyValue != "" {
		return p.BodyValue
	}
	return p.Body
}

// HTTP probes a URL and reports the response latency in milliseconds.
type HTTP struct {
	client    *http.Client
	insecure  *http.Client
	status    monitor.StatusRepo
	userAgent string
	clock     monitor.Clock
	log       *zap.Logger
}

func NewHTTP(cfg HTTPClientConfig, status monitor.StatusRepo, clock monitor.Clock, log *zap.Logger) *HTTP {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &HTTP{
		client:    NewHTTPClient(cfg, false),
		insecure:  NewHTTPClient(cfg, true),
		status:    status,
		userAgent: cfg.UserAgent,
		clock:     clock,
		log:       log,
	}
}

func (h *HTTP) Run(ctx context.Context, m *monitor.Monitor) (float64, error) {
	var p httpPayload
	if err := m.Payload.Decode(&p); err != nil {
		return 0, err
	}
	url := normalizeURL(p.URL)
	if url == "" {
		return 0, errors.New("url is required")
	}

	ctx, cancel := context.WithTimeout(ctx, secondsOr(p.Timeout, defaultHTTPTimeout))
	defer cancel()
	if p.MaxRedirects != nil {
		ctx = withMaxRedirects(ctx, *p.MaxRedirects)
	}

	method := strings.ToUpper(strings.TrimSpace(p.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if raw := p.requestBody(); raw != "" {
		body = strings.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	if ct := strings.TrimSpace(p.ContentType); ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	client := h.client
	if p.IgnoreTLS {
		client = h.insecure
	}

	start := h.clock.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	elapsed := h.clock.Now().Sub(start)

	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		h.saveTLS(ctx, m.ID, resp)
	}

	if !statusAccepted(resp.StatusCode, p.AcceptedStatusCodes) {
		return 0, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return latencyValue(elapsed), nil
}

func (h *HTTP) saveTLS(ctx context.Context, monitorID string, resp *http.Response) {
	if h.status == nil {
		return
	}
	cert := resp.TLS.PeerCertificates[0]
	now := h.clock.Now()
	info := monitor.TLSInfo{
		Valid:         len(resp.TLS.VerifiedChains) > 0 && now.After(cert.NotBefore) && now.Before(cert.NotAfter),
		Subject:       cert.Subject.String(),
		Issuer:        cert.Issuer.String(),
		NotBefore:     cert.NotBefore,
		NotAfter:      cert.NotAfter,
		DaysRemaining: int(cert.NotAfter.Sub(now).Hours() / 24),
	}
	b, err := json.Marshal(info)
	if err != nil {
		return
	}
	if err := h.status.Upsert(ctx, monitorID, monitor.StatusNameTLS, b); err != nil {
		h.log.Warn("save tls status", zap.String("monitor_id", monitorID), zap.Error(err))
	}
}

// statusAccepted matches code against entries like "200-299" or "404".
// An empty list accepts 200-399.
func statusAccepted(code int, accepted []string) bool {
	if len(accepted) == 0 {
		return code >= 200 && code <= 399
	}
	for _, a := range accepted {
		lo, hi, found := strings.Cut(strings.TrimSpace(a), "-")
		from, err := strconv.Atoi(lo)
		if err != nil {
			continue
		}
		to := from
		if found {
			if to, err = strconv.Atoi(hi); err != nil {
				continue
			}
		}
		if code >= from && code <= to {
			return true
		}
	}
	return false
}

func normalizeURL(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return t
	}
	if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
		return t
	}
	return "http://" + t
}
