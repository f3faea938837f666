package errors

import "errors"

// Kind is the discriminated error-kind taxonomy: every error that
// crosses a component boundary in the retrieval/ingestion core carries
// one of these kinds plus a message, rather than being caught by type or
// sentinel comparison at the call site.
type Kind string

const (
	// KindInput covers bad-file-type, oversize, and empty-query
	// rejections caught at admission, before any pipeline work starts.
	KindInput Kind = "input"
	// KindParse covers Parser failures; the owning document moves to
	// status failed and indexes are left untouched.
	KindParse Kind = "parse"
	// KindTransient covers embedding/rerank/generation timeouts or
	// exceptions. No automatic retry; callers fall back.
	KindTransient Kind = "transient"
	// KindInconsistency covers index disagreement detected by
	// check_consistency; recoverable via rebuild_all.
	KindInconsistency Kind = "inconsistency"
	// KindPersistence covers sparse-index/database write failures; the
	// in-memory state remains authoritative until the next successful
	// persist.
	KindPersistence Kind = "persistence"
	// KindConcurrency covers a rejected second concurrent stream on one
	// conversation id, surfaced as a retryable busy error.
	KindConcurrency Kind = "concurrency"
)

// KindError pairs a Kind with a message and optional cause, so that
// "errors crossing component boundaries carry a kind and a message."
type KindError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *KindError) Error() string {
	if e.Cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *KindError) Unwrap() error { return e.Cause }

// String renders the kind as its wire/log value.
func (k Kind) String() string { return string(k) }

// NewKind builds a KindError. cause may be nil.
func NewKind(kind Kind, message string, cause error) *KindError {
	return &KindError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *KindError; ok is false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}

// IsRetryableKind reports whether kind is treated as retryable
// by the caller rather than fatal to the operation (transient model
// calls, and the concurrency busy-error).
func IsRetryableKind(kind Kind) bool {
	switch kind {
	case KindTransient, KindConcurrency:
		return true
	default:
		return false
	}
}
