// Package transport provides the HTTP round trippers used by the remote cart
// client: a Chrome-fingerprinted TLS transport and a client-side rate limiter.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// NewChromeTransport returns a RoundTripper that presents Chrome's TLS
// fingerprint to the storefront API. The first request to a host learns the
// protocol the server picks through ALPN; later requests go straight to the
// matching HTTP/2 or HTTP/1.1 transport. A failed request is never replayed on
// the other protocol, since cart mutations are not idempotent.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	t := &chromeTransport{
		dialer: &net.Dialer{Timeout: timeout},
		protos: make(map[string]string),
	}
	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			conn, _, err := t.dial(ctx, network, addr)
			return conn, err
		},
	}
	t.h1 = &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, _, err := t.dial(ctx, network, addr)
			return conn, err
		},
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: timeout,
	}
	return t
}

type chromeTransport struct {
	dialer *net.Dialer
	h1     *http.Transport
	h2     *http2.Transport

	mu     sync.Mutex
	protos map[string]string // host:port -> negotiated ALPN protocol
}

func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}

	proto, err := t.protocol(req.Context(), hostPort(req))
	if err != nil {
		return nil, err
	}
	if proto == http2.NextProtoTLS {
		return t.h2.RoundTrip(req)
	}
	return t.h1.RoundTrip(req)
}

// protocol returns the ALPN protocol addr negotiates, probing it once.
func (t *chromeTransport) protocol(ctx context.Context, addr string) (string, error) {
	t.mu.Lock()
	proto, ok := t.protos[addr]
	t.mu.Unlock()
	if ok {
		return proto, nil
	}

	conn, proto, err := t.dial(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	conn.Close()

	t.mu.Lock()
	t.protos[addr] = proto
	t.mu.Unlock()
	return proto, nil
}

func (t *chromeTransport) dial(ctx context.Context, network, addr string) (net.Conn, string, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, "", fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("tls handshake with %s: %w", host, err)
	}
	return tlsConn, tlsConn.ConnectionState().NegotiatedProtocol, nil
}

func hostPort(req *http.Request) string {
	host := req.URL.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		return net.JoinHostPort(host, "443")
	}
	return host
}
