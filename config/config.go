// Copyright 2023 The httpq Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads HTTP transport configuration from TOML and
// builds the http.Client the engine uses as its transport
// collaborator.
//
// Unrecognized configuration keys are a hard rejection, not a silent
// ignore: Load and Decode fail if the document contains any key this
// package does not understand.
package config

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gogama/httpq/fault"
)

// DefaultFollowRedirects is the redirect hop limit used when
// follow_redirects is not configured.
const DefaultFollowRedirects = 10

// A Config describes how to build the HTTP transport. The zero value
// is valid and produces a client equivalent to http.DefaultClient with
// a bounded redirect policy.
type Config struct {
	// Timeout bounds every request made through the client, unless the
	// request descriptor sets its own timeout. Zero means no limit.
	Timeout Duration `toml:"timeout"`
	// ConnectTimeout bounds connection establishment, including the
	// TLS handshake. Zero means no limit.
	ConnectTimeout Duration `toml:"connect_timeout"`
	// PoolIdleTimeout is how long an idle connection is kept in the
	// pool. Zero uses the transport default.
	PoolIdleTimeout Duration `toml:"pool_idle_timeout"`
	// PoolMaxIdlePerHost caps idle connections kept per host. Zero
	// uses the transport default.
	PoolMaxIdlePerHost int `toml:"pool_max_idle_per_host"`
	// FollowRedirects is the maximum number of redirect hops to
	// follow. Nil means DefaultFollowRedirects; zero disables
	// redirect following entirely.
	FollowRedirects *int `toml:"follow_redirects"`
	// Proxy is the URL of a proxy to route all requests through. Empty
	// means use the environment proxy settings.
	Proxy string `toml:"proxy"`
	// RootCertificates lists paths of PEM files with additional root
	// certificates to trust.
	RootCertificates []string `toml:"root_certificates"`
	// UseBuiltInRootCerts controls whether the system certificate pool
	// is trusted. Nil means true.
	UseBuiltInRootCerts *bool `toml:"use_built_in_root_certs"`
}

// Load reads a TOML configuration file from path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads a TOML configuration document from r.
func Decode(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undecoded[0].String())
	}
	return &cfg, nil
}

// HTTPClient builds an http.Client from the configuration. The client
// is safe for concurrent use and should be shared across requests.
func (cfg *Config) HTTPClient() (*http.Client, error) {
	base, _ := http.DefaultTransport.(*http.Transport)
	var transport *http.Transport
	if base != nil {
		transport = base.Clone()
	} else {
		transport = &http.Transport{}
	}

	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("config: bad proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if cfg.ConnectTimeout > 0 {
		transport.TLSHandshakeTimeout = time.Duration(cfg.ConnectTimeout)
		transport.DialContext = defaultDialer(time.Duration(cfg.ConnectTimeout))
	}
	if cfg.PoolIdleTimeout > 0 {
		transport.IdleConnTimeout = time.Duration(cfg.PoolIdleTimeout)
	}
	if cfg.PoolMaxIdlePerHost > 0 {
		transport.MaxIdleConnsPerHost = cfg.PoolMaxIdlePerHost
	}

	tlsConfig, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	maxRedirects := DefaultFollowRedirects
	if cfg.FollowRedirects != nil {
		maxRedirects = *cfg.FollowRedirects
	}

	return &http.Client{
		Transport:     transport,
		Timeout:       time.Duration(cfg.Timeout),
		CheckRedirect: redirectPolicy(maxRedirects),
	}, nil
}

func (cfg *Config) tlsConfig() (*tls.Config, error) {
	builtIn := cfg.UseBuiltInRootCerts == nil || *cfg.UseBuiltInRootCerts
	if builtIn && len(cfg.RootCertificates) == 0 {
		return nil, nil
	}

	var pool *x509.CertPool
	if builtIn {
		system, err := x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("config: system cert pool: %w", err)
		}
		pool = system
	} else {
		pool = x509.NewCertPool()
	}
	for _, path := range cfg.RootCertificates {
		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: root certificate: %w", err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("config: no certificates found in %s", path)
		}
	}
	return &tls.Config{RootCAs: pool}, nil
}

// redirectPolicy returns a CheckRedirect that fails with a classified
// fault.Redirect error once the hop limit is exceeded, so the engine's
// error taxonomy can surface the transport's redirect classification
// 1:1.
func redirectPolicy(max int) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) > max {
			return fault.New(fault.Redirect, fmt.Sprintf("stopped after %d redirects", max))
		}
		return nil
	}
}

func defaultDialer(timeout time.Duration) func(context.Context, string, string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return d.DialContext
}

// A Duration is a time.Duration that decodes from a TOML string such
// as "30s" or "1m30s". Construct one from a time.Duration with a plain
// conversion when building a Config programmatically.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
