package dal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a dal.Error so callers can branch on the kind of
// failure rather than parsing messages.
type ErrorKind int

const (
	// KindUnexpected covers anything not classified below.
	KindUnexpected ErrorKind = iota
	// KindNotFound indicates the path does not exist.
	KindNotFound
	// KindAlreadyExists indicates the target already exists and the
	// operation required it not to.
	KindAlreadyExists
	// KindPermissionDenied indicates the backend refused access.
	KindPermissionDenied
	// KindConfigInvalid indicates a backend was misconfigured.
	KindConfigInvalid
	// KindUnsupported indicates the accessor does not implement the
	// requested operation; callers can check Capability first to avoid
	// this entirely.
	KindUnsupported
	// KindRateLimited indicates the backend asked the caller to slow
	// down; Error.Temporary is true for this kind.
	KindRateLimited
	// KindConditionNotMatch indicates an If-Match/If-None-Match style
	// precondition failed.
	KindConditionNotMatch
	// KindRangeNotSatisfied indicates a Range read could not be
	// satisfied.
	KindRangeNotSatisfied
	// KindIsADirectory indicates an operation that expects an object
	// was given a directory path.
	KindIsADirectory
	// KindNotADirectory indicates the inverse of KindIsADirectory.
	KindNotADirectory
	// KindIsSameFile indicates src and dst resolved to the same object.
	KindIsSameFile
)

// String returns a short lower_snake_case name for the kind, used in
// log context and error messages.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindAlreadyExists:
		return "already_exists"
	case KindPermissionDenied:
		return "permission_denied"
	case KindConfigInvalid:
		return "config_invalid"
	case KindUnsupported:
		return "unsupported"
	case KindRateLimited:
		return "rate_limited"
	case KindConditionNotMatch:
		return "condition_not_match"
	case KindRangeNotSatisfied:
		return "range_not_satisfied"
	case KindIsADirectory:
		return "is_a_directory"
	case KindNotADirectory:
		return "not_a_directory"
	case KindIsSameFile:
		return "is_same_file"
	default:
		return "unexpected"
	}
}

// KV is an ordered context key/value pair attached to an Error.
type KV struct {
	Key   string
	Value string
}

// Error is the error type returned by every Accessor/Layer/multipart
// operation. Kind is never rewritten as an error crosses a layer
// boundary; only Context may be enriched.
type Error struct {
	Kind      ErrorKind
	Message   string
	Context   []KV
	Source    error
	Temporary bool
}

// NewError creates an Error of the given kind with a message.
// RateLimited errors are temporary by default; callers may override via
// WithTemporary.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Temporary: kind == KindRateLimited,
	}
}

// Errorf creates an Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return NewError(kind, fmt.Sprintf(format, args...))
}

// Wrap creates an Unexpected Error wrapping err, unless err is already
// a *dal.Error, in which case it is returned enriched with ctx but with
// its Kind and Temporary flag left untouched (kinds are never
// rewritten as they cross a layer).
func Wrap(err error, ctx ...KV) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de.WithContext(ctx...)
	}
	return &Error{
		Kind:    KindUnexpected,
		Message: err.Error(),
		Source:  err,
		Context: append([]KV(nil), ctx...),
	}
}

// WithContext returns a copy of e with the given key/value pairs
// appended to its context.
func (e *Error) WithContext(ctx ...KV) *Error {
	if e == nil || len(ctx) == 0 {
		return e
	}
	out := *e
	out.Context = append(append([]KV(nil), e.Context...), ctx...)
	return &out
}

// WithTemporary returns a copy of e with Temporary set.
func (e *Error) WithTemporary(temp bool) *Error {
	if e == nil {
		return e
	}
	out := *e
	out.Temporary = temp
	return &out
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dal: ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	for _, kv := range e.Context {
		b.WriteString(" ")
		b.WriteString(kv.Key)
		b.WriteString("=")
		b.WriteString(kv.Value)
	}
	if e.Source != nil {
		b.WriteString(": ")
		b.WriteString(e.Source.Error())
	}
	return b.String()
}

// Unwrap exposes the source error for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Source
}

// Is reports whether target is a *dal.Error with the same Kind,
// allowing errors.Is(err, dal.NewError(dal.KindNotFound, "")) checks.
func (e *Error) Is(target error) bool {
	var de *Error
	if !errors.As(target, &de) {
		return false
	}
	return e.Kind == de.Kind
}

// kindOf reports the ErrorKind of err, defaulting to KindUnexpected if
// err is not a *dal.Error.
func kindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnexpected
}

// IsNotFound reports whether err is a dal.Error of kind NotFound.
func IsNotFound(err error) bool { return kindOf(err) == KindNotFound }

// IsAlreadyExists reports whether err is a dal.Error of kind AlreadyExists.
func IsAlreadyExists(err error) bool { return kindOf(err) == KindAlreadyExists }

// IsPermissionDenied reports whether err is a dal.Error of kind PermissionDenied.
func IsPermissionDenied(err error) bool { return kindOf(err) == KindPermissionDenied }

// IsUnsupported reports whether err is a dal.Error of kind Unsupported.
func IsUnsupported(err error) bool { return kindOf(err) == KindUnsupported }

// IsConditionNotMatch reports whether err is a dal.Error of kind ConditionNotMatch.
func IsConditionNotMatch(err error) bool { return kindOf(err) == KindConditionNotMatch }

// IsTemporary reports whether err carries Temporary == true, i.e. the
// caller may retry.
func IsTemporary(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Temporary
	}
	return false
}
