// Package errors provides the caller-facing error taxonomy for source sampling.
// Every stage of the pipeline reports failures as *Error so the server can map
// them to one status code and one message without inspecting library errors.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Kind classifies a failure for callers.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalidSource
	KindUnsupportedType
	KindTransport
	KindAuthentication
	KindUpstream
	KindRemoteApplication
	KindMalformedPayload
	KindUndeterminedFormat
	KindConfiguration
)

var kindNames = []string{
	"InternalError",
	"InvalidSource",
	"UnsupportedType",
	"TransportError",
	"AuthenticationError",
	"UpstreamError",
	"RemoteApplicationError",
	"MalformedPayload",
	"UndeterminedFormat",
	"ConfigurationError",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "InternalError"
}

// Status returns the HTTP status code reported for this kind.
func (k Kind) Status() int {
	switch k {
	case KindInternal, KindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// PipelineStage reports whether the kind is produced while transferring or
// decoding source bytes, as opposed to request validation or server setup.
func (k Kind) PipelineStage() bool {
	switch k {
	case KindTransport, KindAuthentication, KindUpstream, KindRemoteApplication,
		KindMalformedPayload, KindUndeterminedFormat:
		return true
	default:
		return false
	}
}

// Error is the error type returned by every sampling stage.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// WithContext attaches a diagnostic key/value. Context is logged, not shown
// to callers.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ContextString renders the context in a stable order for log lines.
func (e *Error) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(" ")
		}
		fmt.Fprintf(&sb, "%s=%v", k, e.Context[k])
	}
	return sb.String()
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with a kind and message.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, kind Kind, format string, args ...interface{}) *Error {
	return Wrap(err, kind, fmt.Sprintf(format, args...))
}

// --- Constructors ---

// InvalidSource reports a source URI that cannot be parsed.
func InvalidSource(raw string, err error) *Error {
	if err == nil {
		return Newf(KindInvalidSource, "invalid source: %s", raw)
	}
	return Wrapf(err, KindInvalidSource, "invalid source %q", raw)
}

// Unsupported reports a scheme or suffix that no adapter handles.
func Unsupported(raw string) *Error {
	return New(KindUnsupportedType, "Unsupported type").WithContext("source", raw)
}

// Transport reports a connection-level failure; the cause is kept verbatim.
func Transport(uri string, err error) *Error {
	return Wrapf(err, KindTransport, "error connecting to %s", uri)
}

// Authentication reports a rejected FTP login.
func Authentication(uri string, err error) *Error {
	return Wrapf(err, KindAuthentication, "could not log in to %s", uri)
}

// Upstream reports a non-2xx HTTP response. body is included only when the
// caller decided it is safe to echo (text/plain).
func Upstream(uri string, status int, body string) *Error {
	body = strings.TrimSpace(body)
	var msg string
	if body != "" {
		msg = fmt.Sprintf("error retrieving file %s: %s (%d)", uri, body, status)
	} else {
		msg = fmt.Sprintf("error retrieving file %s: (%d)", uri, status)
	}
	return New(KindUpstream, msg).WithContext("status", status)
}

// RemoteApplication reports a well-formed response that encodes an error.
func RemoteApplication(code int, message string) *Error {
	return Newf(KindRemoteApplication, "error from remote service: %s (%d)", message, code).
		WithContext("code", code)
}

// Malformed reports a payload the named decoder could not parse.
func Malformed(decoder string, err error) *Error {
	return Wrapf(err, KindMalformedPayload, "error parsing %s", decoder).
		WithContext("decoder", decoder)
}

// MalformedArchive reports a corrupt or non-zip archive stream.
func MalformedArchive(err error) *Error {
	return Malformed("zip", err)
}

// Undetermined reports an archive with no entry of a supported format.
func Undetermined(uri string) *Error {
	return Newf(KindUndeterminedFormat, "Could not determine type from zip file %s", uri)
}

// Configuration reports missing server-side configuration.
func Configuration(message string) *Error {
	return New(KindConfiguration, message)
}

// Internal reports an unexpected failure.
func Internal(err error) *Error {
	return Wrap(err, KindInternal, "internal error")
}

// --- Error checking utilities ---

// KindOf extracts the kind from an error chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind checks if an error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Classify maps any error onto the taxonomy. Typed errors pass through.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, KindTransport, "request timed out")
	case errors.Is(err, context.Canceled):
		return Wrap(err, KindInternal, "request canceled")
	default:
		return Internal(err)
	}
}
