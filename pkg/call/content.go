package call

import "io"

// RawContent is the initial subject of the receive pipeline: the request
// body as the transport delivered it. Receive transforms turn it into
// whatever the application asked for.
type RawContent struct {
	ContentType string
	Body        io.Reader
}

// OutgoingContent is the terminal subject of the respond pipeline: what the
// engine writes to the client. Render transforms produce it from whatever
// value the application responded with.
type OutgoingContent struct {
	// Status is the response status code. Zero means 200.
	Status      int
	ContentType string
	Body        []byte
}

// StatusOrDefault returns the status code, defaulting to 200.
func (o *OutgoingContent) StatusOrDefault() int {
	if o.Status == 0 {
		return 200
	}
	return o.Status
}
