package client

/*
blockcrack — recovers obfuscated domains from Mastodon instance block lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package client provides the shared HTTP client blockcrack uses to talk to
Mastodon instances. Every request carries a browser user agent: some instances
answer 404 to anything that does not look like a browser.
*/

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	defaultDialTimeout      = 5 * time.Second
	defaultKeepAliveTimeout = 30 * time.Second
	defaultIdleConnTimeout  = 90 * time.Second
	// A fetch touches a handful of hosts, one request each.
	defaultMaxIdleConns        = 16
	defaultMaxIdleConnsPerHost = 2
	defaultRequestTimeout      = 30 * time.Second

	sharedClient      *http.Client
	sharedClientLock  sync.RWMutex
	clientInitialized bool
)

// Config holds configuration parameters for the HTTP client.
// A zero-value Config results in default settings.
type Config struct {
	DialTimeout         time.Duration
	KeepAliveTimeout    time.Duration
	IdleConnTimeout     time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	// RequestTimeout bounds a whole request, body included. Block lists of
	// large instances run to several megabytes.
	RequestTimeout time.Duration
	// UserAgent is set on requests that do not carry one.
	UserAgent string
}

// DefaultConfig returns the default client settings with the given user agent.
func DefaultConfig(userAgent string) *Config {
	return &Config{
		DialTimeout:         defaultDialTimeout,
		KeepAliveTimeout:    defaultKeepAliveTimeout,
		IdleConnTimeout:     defaultIdleConnTimeout,
		MaxIdleConns:        defaultMaxIdleConns,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
		RequestTimeout:      defaultRequestTimeout,
		UserAgent:           userAgent,
	}
}

// userAgentTransport fills in the User-Agent header.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.userAgent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// New builds a client from config without touching the shared one.
func New(config *Config) *http.Client {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = defaultDialTimeout
	}
	if config.KeepAliveTimeout == 0 {
		config.KeepAliveTimeout = defaultKeepAliveTimeout
	}
	if config.IdleConnTimeout == 0 {
		config.IdleConnTimeout = defaultIdleConnTimeout
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = defaultMaxIdleConns
	}
	if config.MaxIdleConnsPerHost == 0 {
		config.MaxIdleConnsPerHost = defaultMaxIdleConnsPerHost
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaultRequestTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAliveTimeout,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: &userAgentTransport{base: transport, userAgent: config.UserAgent},
		Timeout:   config.RequestTimeout,
	}
}

// InitHTTPClient initializes or reconfigures the shared HTTP client.
// This function is thread-safe.
func InitHTTPClient(config *Config) {
	sharedClientLock.Lock()
	defer sharedClientLock.Unlock()

	// Avoid leaking idle keep-alive connections across reconfigs.
	if sharedClient != nil {
		if old, ok := sharedClient.Transport.(*userAgentTransport); ok {
			if tr, ok := old.base.(*http.Transport); ok {
				tr.CloseIdleConnections()
			}
		}
	}

	sharedClient = New(config)
	clientInitialized = true
}

// GetHTTPClient returns the shared HTTP client, initialising it with defaults
// on first use. This function is thread-safe.
func GetHTTPClient() *http.Client {
	sharedClientLock.RLock()
	if !clientInitialized {
		sharedClientLock.RUnlock()
		InitHTTPClient(nil)
		sharedClientLock.RLock()
	}
	client := sharedClient
	sharedClientLock.RUnlock()
	return client
}
