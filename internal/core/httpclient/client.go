// Package httpclient configures the HTTP client used to call upstream services.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

type Option func(*http.Client, *http.Transport)

// WithTimeout bounds a whole exchange including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client, _ *http.Transport) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

func WithMaxIdleConnsPerHost(n int) Option {
	return func(_ *http.Client, t *http.Transport) {
		if n > 0 {
			t.MaxIdleConnsPerHost = n
		}
	}
}

// NewOutbound creates a new outbound http client
func NewOutbound(opts ...Option) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c := &http.Client{
		Transport: transport,
		Timeout:   10 * time.Second,
	}
	for _, o := range opts {
		o(c, transport)
	}
	return c
}
