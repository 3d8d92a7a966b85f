package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/torosent/loadgen/internal/config"
)

// NewClient builds the HTTP client for the configured transport.
//
// HTTP1 never negotiates HTTP/2. HTTP2 speaks h2 over TLS and prior-knowledge
// h2c over plain TCP. FCGI has no client and fails with ErrUnsupportedTransport.
func NewClient(cfg config.RunConfig) (*http.Client, error) {
	timeout := cfg.Timeout
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	// Every simulated user keeps its own connection warm.
	idle := cfg.Users() * max(cfg.ChannelsPerUser, 1)
	if idle < 32 {
		idle = 32
	}

	switch cfg.Transport {
	case config.TransportHTTP1:
		transport := &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     false,
			TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
			MaxIdleConns:          idle,
			MaxIdleConnsPerHost:   idle,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
		return &http.Client{Timeout: timeout, Transport: transport}, nil

	case config.TransportHTTP2:
		transport := &http2.Transport{
			ReadIdleTimeout: 30 * time.Second,
			PingTimeout:     15 * time.Second,
		}
		if cfg.Scheme == "http" {
			transport.AllowHTTP = true
			transport.DialTLSContext = func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialer.DialContext(ctx, network, addr)
			}
		}
		return &http.Client{Timeout: timeout, Transport: transport}, nil

	case config.TransportFCGI:
		return nil, fmt.Errorf("%s: %w", cfg.Transport.Describe(cfg.Scheme), ErrUnsupportedTransport)

	default:
		return nil, fmt.Errorf("%q: %w", cfg.Transport, ErrUnsupportedTransport)
	}
}

// closeIdle releases pooled connections held by c's transport.
func closeIdle(c *http.Client) {
	if c == nil {
		return
	}
	c.CloseIdleConnections()
}
