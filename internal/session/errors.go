package session

import "fmt"

// ErrorKind categorizes session failures. Terminal kinds close the session;
// recoverable kinds are surfaced and the session stays open.
type ErrorKind string

const (
	KindPermissionDenied        ErrorKind = "permission_denied"
	KindConnectionError         ErrorKind = "connection_error"
	KindProviderError           ErrorKind = "provider_error"
	KindClassificationAmbiguous ErrorKind = "classification_ambiguous"
	KindDownstreamFailure       ErrorKind = "downstream_failure"
	KindTimeout                 ErrorKind = "timeout"
	KindDedupGap                ErrorKind = "dedup_gap"
)

// Error is a session failure tagged with its kind.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Terminal reports whether this kind closes the session.
func (e *Error) Terminal() bool {
	switch e.Kind {
	case KindPermissionDenied, KindConnectionError, KindProviderError, KindTimeout:
		return true
	}
	return false
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
