package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tjfontaine/gantry/internal/config"
	"github.com/tjfontaine/gantry/pkg/call"
	"github.com/tjfontaine/gantry/pkg/fault"
)

// BuildRouteHandler constructs the handler for one configured route.
func BuildRouteHandler(route config.RouteConfig, client *http.Client) (RouteHandler, error) {
	switch route.Kind {
	case "", "static":
		return StaticHandler(route), nil
	case "echo":
		return EchoHandler(), nil
	case "upstream":
		return UpstreamHandler(route, client), nil
	default:
		return nil, fault.Newf(fault.KindInternal, "unknown route kind %q", route.Kind)
	}
}

// StaticHandler serves the configured body verbatim.
func StaticHandler(route config.RouteConfig) RouteHandler {
	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := route.ContentType
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	body := []byte(route.Body)
	return func(ctx context.Context, c *call.Call) error {
		return c.Respond(ctx, &call.OutgoingContent{
			Status:      status,
			ContentType: contentType,
			Body:        body,
		})
	}
}

type echoPayload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   url.Values        `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// EchoHandler reflects the request back as JSON. It pulls the body through
// the receive pipeline, so installed receive transforms apply.
func EchoHandler() RouteHandler {
	return func(ctx context.Context, c *call.Call) error {
		body, err := c.ReceiveBytes(ctx)
		if err != nil {
			return err
		}
		headers := make(map[string]string, len(c.Request.Header))
		for k := range c.Request.Header {
			headers[k] = c.Request.Header.Get(k)
		}
		return c.Respond(ctx, &echoPayload{
			Method:  c.Request.Method,
			Path:    c.Request.Path,
			Query:   c.Request.Query,
			Headers: headers,
			Body:    string(body),
		})
	}
}

// Hop-by-hop headers are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// UpstreamHandler forwards the call to another HTTP server and relays the
// response. Transport failures surface as upstream faults so the boundary
// can map them to 502-class statuses.
func UpstreamHandler(route config.RouteConfig, client *http.Client) RouteHandler {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	target := route.Upstream
	return func(ctx context.Context, c *call.Call) error {
		u, err := url.Parse(target)
		if err != nil {
			return fault.Wrap(fault.KindInternal, "bad upstream url", err)
		}
		if q := c.Request.Query.Encode(); q != "" {
			u.RawQuery = q
		}

		body, err := c.ReceiveBytes(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, c.Request.Method, u.String(), bytes.NewReader(body))
		if err != nil {
			return fault.Wrap(fault.KindInternal, "build upstream request", err)
		}
		copyHeaders(req.Header, c.Request.Header)

		resp, err := client.Do(req)
		if err != nil {
			return classifyUpstreamError(err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fault.Wrap(fault.KindUpstream, "read upstream response", err)
		}

		copyHeaders(c.Response.Header, resp.Header)
		c.Response.Header.Del("Content-Type")

		return c.Respond(ctx, &call.OutgoingContent{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        data,
		})
	}
}

func copyHeaders(dst, src http.Header) {
	if src == nil {
		return
	}
	for k, vals := range src {
		if isHopHeader(k) {
			continue
		}
		for _, v := range vals {
			dst.Add(k, v)
		}
	}
}

func isHopHeader(name string) bool {
	for _, h := range hopHeaders {
		if http.CanonicalHeaderKey(name) == h {
			return true
		}
	}
	return false
}

func classifyUpstreamError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ue *url.Error
	if (errors.As(err, &ue) && ue.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindUpstreamTimeout, "upstream timed out", err)
	}
	return fault.Wrap(fault.KindUpstreamUnavailable, "upstream unreachable", err)
}
