package connectivity

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
)

// Prober answers whether the remote service can be reached right now.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber issues a HEAD request against a fixed URL. Any HTTP response,
// whatever its status, counts as reachable.
type HTTPProber struct {
	client *resty.Client
	url    string
}

func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Cache-Control", "no-cache")
	return &HTTPProber{client: client, url: url}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	_, err := p.client.R().SetContext(ctx).Head(p.url)
	return err
}
