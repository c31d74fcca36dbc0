package floe

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leonunix/floe/internal/backend"
)

var (
	// ErrConfiguration marks invalid construction arguments. It is returned
	// before any engine round-trip.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrEngineUnavailable marks a round-trip that could not complete.
	ErrEngineUnavailable = errors.New("engine unavailable")
	// ErrBulkWriteFailed marks a flush with per-item or whole-request failure.
	// The buffer is kept for retry.
	ErrBulkWriteFailed = errors.New("bulk write failed")
	// ErrScrollFailed marks an invalid response while enumerating.
	ErrScrollFailed = errors.New("scroll failed")
	ErrCountFailed  = errors.New("count failed")
	ErrSearchFailed = errors.New("search failed")
	ErrIndexFailed  = errors.New("index operation failed")
	// ErrScrollClosed is returned when a scroll is used after End.
	ErrScrollClosed = errors.New("scroll closed")
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("client closed")
)

// OpError describes a failed operation. errors.Is matches both Kind and
// the underlying cause.
type OpError struct {
	Op    string // write, flush, scroll, search, count, ...
	Index string // target index or pattern, if any
	Kind  error
	// Diagnostic is the engine's raw payload, or the cause's message when
	// the engine never answered.
	Diagnostic string
	// Items holds rejected documents of a bulk flush.
	Items []backend.BulkItemResult
	Err   error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString("floe: ")
	b.WriteString(e.Op)
	if e.Index != "" {
		b.WriteString(" ")
		b.WriteString(e.Index)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Diagnostic != "" {
		b.WriteString(": ")
		b.WriteString(e.Diagnostic)
	}
	return b.String()
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// classify maps an engine error onto the taxonomy: an engine that answered
// with an error status yields kind, anything else is EngineUnavailable.
func classify(op, index string, kind error, err error) *OpError {
	var httpErr *backend.HTTPStatusError
	if errors.As(err, &httpErr) {
		return &OpError{Op: op, Index: index, Kind: kind, Diagnostic: httpErr.Body, Err: err}
	}
	return &OpError{Op: op, Index: index, Kind: ErrEngineUnavailable, Diagnostic: err.Error(), Err: err}
}

func configError(format string, args ...interface{}) error {
	return &OpError{Op: "configure", Kind: ErrConfiguration, Diagnostic: fmt.Sprintf(format, args...)}
}

func bulkError(op, index string, submitted int, failed []backend.BulkItemResult) error {
	diag := fmt.Sprintf("%d of %d items rejected", len(failed), submitted)
	if len(failed) > 0 {
		first := failed[0]
		diag += fmt.Sprintf(", first: id=%q status=%d %s: %s", first.ID, first.Status, first.ErrorType, first.Reason)
	}
	return &OpError{Op: op, Index: index, Kind: ErrBulkWriteFailed, Diagnostic: diag, Items: failed}
}
