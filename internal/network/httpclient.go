// internal/network/httpclient.go
package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/autowait/internal/config"
)

// Defaults for page fetching.
const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 8
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxRedirects          = 10
)

// ClientConfig configures the transport and clients used to fetch documents.
type ClientConfig struct {
	IgnoreTLSErrors bool

	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxRedirects        int

	ForceHTTP2 bool

	Logger *zap.Logger
}

// NewDefaultClientConfig returns the defaults above.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxRedirects:          DefaultMaxRedirects,
		ForceHTTP2:            true,
	}
}

// ConfigFromBrowser derives fetch settings from the browser section so both
// drivers honour the same TLS and navigation timeout knobs.
func ConfigFromBrowser(cfg config.BrowserConfig) *ClientConfig {
	c := NewDefaultClientConfig()
	c.IgnoreTLSErrors = cfg.IgnoreTLSErrors
	if cfg.NavigationTimeout > 0 {
		c.RequestTimeout = cfg.NavigationTimeout
	}
	return c
}

// NewTransport builds a transport that can be shared between clients.
func NewTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: DefaultKeepAliveInterval}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.IgnoreTLSErrors}, //nolint:gosec
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}
	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	}
	return transport
}

// NewClient returns a client with its own cookie jar over transport. Each
// execution context gets one so cookies never leak between contexts.
func NewClient(cfg *ClientConfig, transport http.RoundTripper) *http.Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	// cookiejar.New never returns an error.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})

	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Transport: transport,
		Jar:       jar,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
