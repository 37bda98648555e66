// Package apierr defines the error-kind taxonomy shared by the synchronous
// HTTP surface and the asynchronous pipeline. A handler or worker classifies
// a failure once, at the point it is detected, and everything downstream —
// HTTP status mapping, retry/nack decisions, DLQ routing — dispatches on the
// Kind rather than re-inspecting the underlying error.
package apierr

import "fmt"

// Kind classifies a failure along the axis that matters to its caller: can
// retrying help, and if not, whose fault is it.
type Kind string

const (
	// KindValidation means the request was malformed or failed a business
	// rule (a suspects-only job with no files, empty upload). Never
	// retried.
	KindValidation Kind = "validation"

	// KindAuthorization means the caller is authenticated but not permitted
	// to act on the target resource (RBAC scope mismatch).
	KindAuthorization Kind = "authorization"

	// KindNotFound means the target resource does not exist or is outside
	// the caller's visible scope — the two are intentionally
	// indistinguishable to the caller, to avoid leaking existence.
	KindNotFound Kind = "not-found"

	// KindConflict means the operation lost an optimistic-concurrency race
	// (job counter CAS) or collided with a uniqueness constraint.
	KindConflict Kind = "conflict"

	// KindTransientIO means a dependency (blobstore, queue, database) is
	// temporarily unavailable. Safe to retry with backoff.
	KindTransientIO Kind = "transient-io"

	// KindStageFailed means a pipeline stage's collaborator call returned a
	// domain-level failure (e.g. unsupported codec). Retried a bounded
	// number of times before the artifact is marked failed.
	KindStageFailed Kind = "stage-failed"

	// KindPoison means the work item itself is unprocessable — retrying
	// will never succeed (corrupt file, malformed work-item payload). Moved
	// to the DLQ immediately without consuming the normal retry budget.
	KindPoison Kind = "poison"

	// KindFatal means an invariant was violated (programmer error,
	// impossible state). Never retried; always logged at error level.
	KindFatal Kind = "fatal"
)

// Error wraps an underlying error with a Kind, so both the HTTP layer and
// the pipeline can dispatch on classification without type-switching on
// concrete error values.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind wrapping an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Retryable reports whether a failure of this kind is worth retrying at
// all — used by pipeline.Runner to decide between nack-with-backoff and an
// immediate DLQ move.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransientIO, KindStageFailed:
		return true
	default:
		return false
	}
}
