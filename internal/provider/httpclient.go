package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/NordCoder/Pulsewatch/internal/obs"
)

type HTTPClientConfig struct {
	Timeout   time.Duration
	UserAgent string
	VerifyTLS bool
}

type maxRedirectsKey struct{}

func withMaxRedirects(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, maxRedirectsKey{}, n)
}

// NewHTTPClient builds a traced client. The redirect limit is read per request
// from the context; 0 returns the redirect response itself.
func NewHTTPClient(cfg HTTPClientConfig, insecure bool) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecure || !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: obs.HTTPTransport(transport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			limit, ok := req.Context().Value(maxRedirectsKey{}).(int)
			if !ok {
				limit = 10
			}
			if limit == 0 {
				return http.ErrUseLastResponse
			}
			if len(via) > limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		},
	}
}
