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

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
)

const creditMinInterval = 300 * time.Second

type creditPayload struct {
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Field     string            `json:"field"`
	Threshold float64           `json:"threshold"`
}

// Credit polls a billing API and reports the remaining balance.
type Credit struct {
	client *http.Client
}

func NewCredit(cfg HTTPClientConfig) *Credit {
	return &Credit{client: NewHTTPClient(cfg, false)}
}

func (c *Credit) MinInterval() time.Duration { return creditMinInterval }

func (c *Credit) Run(ctx context.Context, m *monitor.Monitor) (float64, error) {
	var p creditPayload
	if err := m.Payload.Decode(&p); err != nil {
		return 0, err
	}
	if p.URL == "" {
		return 0, errors.New("url is required")
	}
	if p.Field == "" {
		p.Field = "balance"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalizeURL(p.URL), nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return 0, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var doc any
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	balance, err := lookupNumber(doc, p.Field)
	if err != nil {
		return 0, err
	}
	if balance <= p.Threshold {
		return -1, fmt.Errorf("balance %v is at or below %v", balance, p.Threshold)
	}
	return balance, nil
}

// lookupNumber walks a dotted path such as "data.0.balance".
func lookupNumber(doc any, path string) (float64, error) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return 0, fmt.Errorf("field %q not found", path)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return 0, fmt.Errorf("field %q not found", path)
			}
			cur = node[i]
		default:
			return 0, fmt.Errorf("field %q not found", path)
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("field %q is not a number", path)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("field %q is not a number", path)
	}
}
