// Package proxy builds HTTP clients that route model and speech API calls
// through a SOCKS5 proxy.
package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

const DefaultTimeout = 120 * time.Second

// NewSocksClient dials every connection through socksAddr, given either as
// host:port or as a socks5:// URL that may carry credentials.
func NewSocksClient(socksAddr string, timeout time.Duration) (*http.Client, error) {
	addr, auth, err := parseAddr(socksAddr)
	if err != nil {
		return nil, err
	}

	dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", addr, err)
	}
	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 %s: dialer does not support contexts", addr)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        20,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 15 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}

func parseAddr(raw string) (string, *proxy.Auth, error) {
	if raw == "" {
		return "", nil, fmt.Errorf("empty proxy address")
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		if u.Scheme != "socks5" && u.Scheme != "socks5h" {
			return "", nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
		var auth *proxy.Auth
		if u.User != nil {
			pw, _ := u.User.Password()
			auth = &proxy.Auth{User: u.User.Username(), Password: pw}
		}
		return u.Host, auth, nil
	}
	return raw, nil, nil
}
