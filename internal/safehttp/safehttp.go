// Package safehttp hardens outbound HTTP. Upstream targets normally come
// from the operator's own configuration; deployments that accept them
// from less trusted hands can refuse dials into their own network.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// GuardedTransport returns a transport whose dials reject loopback,
// private and link-local destinations. The check runs after the dial so
// it covers whatever address the name actually resolved to.
func GuardedTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 5 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}

			host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			ip := net.ParseIP(host)
			if ip == nil {
				conn.Close()
				return nil, fmt.Errorf("cannot determine remote IP for %q", addr)
			}
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
				conn.Close()
				return nil, fmt.Errorf("dial %s: private address %s is blocked", addr, ip)
			}
			return conn, nil
		},
	}
}

// Client returns an HTTP client on the guarded transport.
func Client(timeout time.Duration) *http.Client {
	return &http.Client{Transport: GuardedTransport(), Timeout: timeout}
}
