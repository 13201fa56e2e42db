// Package fault provides classified errors for call processing. Faults
// carry a Kind, and kinds form a hierarchy: handlers that care about a
// broad category match an ancestor kind, handlers that care about one
// failure mode match a leaf. Matching walks from the most derived kind
// upward, so the most specific registration wins.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a category of call-processing failure. Kinds compare by
// identity; the name is for diagnostics and logging.
type Kind struct {
	name   string
	parent *Kind
}

// NewKind creates a kind derived from parent. Pass KindAny to root a new
// top-level category.
func NewKind(name string, parent *Kind) *Kind {
	return &Kind{name: name, parent: parent}
}

// Name returns the diagnostic name of the kind.
func (k *Kind) Name() string {
	return k.name
}

func (k *Kind) String() string {
	return k.name
}

// Parent returns the kind this kind derives from, or nil for the root.
func (k *Kind) Parent() *Kind {
	return k.parent
}

// Is reports whether k is ancestor or derives from it.
func (k *Kind) Is(ancestor *Kind) bool {
	for cur := k; cur != nil; cur = cur.parent {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// The built-in kinds.
var (
	// KindAny is the root of the hierarchy; every kind derives from it.
	KindAny = &Kind{name: "any"}

	// KindBadRequest indicates a malformed or invalid request.
	KindBadRequest = NewKind("bad_request", KindAny)

	// KindUnauthorized indicates missing or rejected credentials.
	KindUnauthorized = NewKind("unauthorized", KindAny)

	// KindNotFound indicates the requested resource does not exist.
	KindNotFound = NewKind("not_found", KindAny)

	// KindThrottled indicates the caller exceeded a rate limit.
	KindThrottled = NewKind("throttled", KindAny)

	// KindTimeout indicates the call ran out of time locally.
	KindTimeout = NewKind("timeout", KindAny)

	// KindUpstream indicates a failure while talking to an upstream.
	KindUpstream = NewKind("upstream", KindAny)

	// KindUpstreamTimeout indicates the upstream did not answer in time.
	KindUpstreamTimeout = NewKind("upstream_timeout", KindUpstream)

	// KindUpstreamUnavailable indicates the upstream refused or dropped
	// the connection.
	KindUpstreamUnavailable = NewKind("upstream_unavailable", KindUpstream)

	// KindInternal indicates a bug or an unclassified failure.
	KindInternal = NewKind("internal", KindAny)
)

// statusByKind maps kinds to HTTP status codes. Kinds without an entry
// inherit the status of their nearest ancestor.
var statusByKind = map[*Kind]int{
	KindBadRequest:          http.StatusBadRequest,
	KindUnauthorized:        http.StatusUnauthorized,
	KindNotFound:            http.StatusNotFound,
	KindThrottled:           http.StatusTooManyRequests,
	KindTimeout:             http.StatusGatewayTimeout,
	KindUpstream:            http.StatusBadGateway,
	KindUpstreamTimeout:     http.StatusGatewayTimeout,
	KindUpstreamUnavailable: http.StatusServiceUnavailable,
	KindInternal:            http.StatusInternalServerError,
	KindAny:                 http.StatusInternalServerError,
}

// Error is a classified call-processing failure.
type Error struct {
	Kind    *Kind
	Message string
	Err     error
}

// New creates a fault of the given kind.
func New(kind *Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a fault of the given kind with a formatted message.
func Newf(kind *Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a fault of the given kind around an underlying error.
func Wrap(kind *Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status for the fault's kind, walking up
// the hierarchy for kinds that do not carry their own status.
func (e *Error) HTTPStatusCode() int {
	for k := e.Kind; k != nil; k = k.parent {
		if status, ok := statusByKind[k]; ok {
			return status
		}
	}
	return http.StatusInternalServerError
}

// KindOf returns the kind of err. A nil error has no kind; errors that are
// not faults classify as KindInternal.
func KindOf(err error) *Kind {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err classifies as the given kind, directly or
// through a derived kind.
func IsKind(err error, kind *Kind) bool {
	k := KindOf(err)
	return k != nil && k.Is(kind)
}
