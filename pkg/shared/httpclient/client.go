// Package http builds *http.Client instances with the timeout and
// transport tuning the backplane's outbound callers need — the source
// connectors and the evaluation tool-run case each get a client sized
// for their traffic shape instead of sharing http.DefaultClient.
// ClientConfig.MaxRetries is carried on the config only: NewClient does
// not read it, and the clients it builds make no retries.
package http

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig tunes a constructed *http.Client and its transport.
type ClientConfig struct {
	Timeout                 time.Duration
	MaxRetries               int
	DisableSSLVerification   bool
	MaxIdleConns             int
	IdleConnTimeout          time.Duration
	TLSHandshakeTimeout      time.Duration
	ResponseHeaderTimeout    time.Duration
}

// DefaultClientConfig is a generic, moderately conservative baseline.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:               30 * time.Second,
		MaxRetries:            3,
		DisableSSLVerification: false,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
}

// NewClient builds an *http.Client from config.
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          config.MaxIdleConns,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
	}
	if config.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for internal/dev source connectors only
	}
	return &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client from defaults with one override.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	config := DefaultClientConfig()
	config.Timeout = timeout
	return NewClient(config)
}

// NewDefaultClient builds a client from DefaultClientConfig().
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// SlackClientConfig tunes a client for the Slack alert notifier: short
// timeout, MaxRetries of 2 (not applied by NewClient), small connection
// pool (low-volume traffic).
func SlackClientConfig() ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = 10 * time.Second
	config.MaxRetries = 2
	config.MaxIdleConns = 3
	return config
}

// LLMClientConfig tunes a client for the ML classifier / embedding
// provider: long timeout (model latency), response-header timeout at a
// third of the overall budget to fail fast on a hung connection.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 3
	return config
}

// ConnectorClientConfig tunes a client for source connectors (Google
// Drive et al.): response-header timeout at half the overall budget,
// since connector APIs are expected to ack quickly even on large
// downloads.
func ConnectorClientConfig(timeout time.Duration) ClientConfig {
	config := DefaultClientConfig()
	config.Timeout = timeout
	config.ResponseHeaderTimeout = timeout / 2
	return config
}
