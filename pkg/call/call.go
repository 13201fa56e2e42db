package call

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
)

// ErrAlreadyResponded is returned by Respond when a response has already
// been sent for the call.
var ErrAlreadyResponded = errors.New("call: response already sent")

// Request is the transport-independent view of an incoming request.
type Request struct {
	Method     string
	Path       string
	Host       string
	RemoteAddr string
	Header     http.Header
	Query      url.Values
	Body       io.Reader
}

// Response accumulates what will be, and then what was, sent to the client.
// Handlers set headers here before the response is produced; the engine
// fills Status and Bytes after the write.
type Response struct {
	Status int
	Bytes  int64
	Header http.Header
}

// Call is one client call moving through a pipeline set. A call is confined
// to the goroutine serving it.
type Call struct {
	Request  *Request
	Response *Response
	Attrs    *Attributes

	pipes     *Pipelines
	received  bool
	payload   any
	responded bool
}

// New creates a call that will run through the given pipeline set.
func New(pipes *Pipelines, req *Request) *Call {
	return &Call{
		Request:  req,
		Response: &Response{Header: make(http.Header)},
		Attrs:    NewAttributes(),
		pipes:    pipes,
	}
}

// Pipelines returns the pipeline set the call runs through.
func (c *Call) Pipelines() *Pipelines {
	return c.pipes
}

// Responded reports whether a response has been sent for this call.
func (c *Call) Responded() bool {
	return c.responded
}

// Receive runs the receive pipeline over the request body and returns the
// transformed payload. The raw body can be consumed only once; the result
// is cached, so receiving again returns the same payload.
func (c *Call) Receive(ctx context.Context) (any, error) {
	if c.received {
		return c.payload, nil
	}
	raw := &RawContent{Body: c.Request.Body}
	if c.Request.Header != nil {
		raw.ContentType = c.Request.Header.Get("Content-Type")
	}
	out, err := c.pipes.Receive.Execute(ctx, c, raw)
	if err != nil {
		return nil, err
	}
	c.received = true
	c.payload = out
	return out, nil
}

// ReceiveBytes receives the body and returns it as raw bytes. It fails if
// the receive pipeline produced something else.
func (c *Call) ReceiveBytes(ctx context.Context) ([]byte, error) {
	out, err := c.Receive(ctx)
	if err != nil {
		return nil, err
	}
	switch v := out.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("call: received payload is not bytes")
	}
}

// Respond runs the respond pipeline over payload, ending with the engine
// write. A call can respond at most once.
func (c *Call) Respond(ctx context.Context, payload any) error {
	if c.responded {
		return ErrAlreadyResponded
	}
	if _, err := c.pipes.Respond.Execute(ctx, c, payload); err != nil {
		return err
	}
	c.responded = true
	return nil
}

// RespondText responds with a plain-text body and the given status code.
func (c *Call) RespondText(ctx context.Context, status int, text string) error {
	return c.Respond(ctx, &OutgoingContent{
		Status:      status,
		ContentType: "text/plain; charset=utf-8",
		Body:        []byte(text),
	})
}
