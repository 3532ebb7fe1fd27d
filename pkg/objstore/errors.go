package objstore

import (
	"errors"
	"fmt"

	"github.com/hashmap-kz/objstore/pkg/opath"
)

// Kind classifies a store error independently of the backend that produced it.
type Kind int

const (
	// KindGeneric wraps a backend-specific error with no finer classification.
	KindGeneric Kind = iota
	// KindNotFound means the object does not exist.
	KindNotFound
	// KindAlreadyExists means a create-mode write or *IfNotExists operation
	// found the destination occupied.
	KindAlreadyExists
	// KindInvalidPath means a raw path string could not be parsed.
	KindInvalidPath
	// KindPrecondition means a conditional check (etag/version/timestamp)
	// failed against current server state.
	KindPrecondition
	// KindNotModified is the short-circuit result of a conditional get.
	KindNotModified
	// KindNotSupported means the operation is unavailable on this backend.
	KindNotSupported
	// KindPermissionDenied means the caller is authenticated but not allowed.
	KindPermissionDenied
	// KindUnauthenticated means the backend rejected the credentials.
	KindUnauthenticated
	// KindUnknownConfigurationKey means an unrecognized configuration key was
	// passed to a builder.
	KindUnknownConfigurationKey
	// KindAlreadyConsumed means a one-shot result (a GetResult body, a
	// finished multipart writer) was used a second time. This is a
	// programming-contract violation, distinct from any backend failure.
	KindAlreadyConsumed
	// KindJoin means a concurrent worker failed in a way that is not a plain
	// operation error (cancellation mid-flight, worker panic).
	KindJoin
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindInvalidPath:
		return "invalid path"
	case KindPrecondition:
		return "precondition failed"
	case KindNotModified:
		return "not modified"
	case KindNotSupported:
		return "not supported"
	case KindPermissionDenied:
		return "permission denied"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindUnknownConfigurationKey:
		return "unknown configuration key"
	case KindAlreadyConsumed:
		return "already consumed"
	case KindJoin:
		return "concurrent task failure"
	default:
		return "generic"
	}
}

// Error is the typed error returned by every store operation. Backend errors
// are never downgraded to success; decorators pass them through unchanged.
type Error struct {
	Kind  Kind
	Store string // store display name, e.g. "AmazonS3(bucket)"
	Path  string // object path the operation targeted, if any
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Path != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Path)
	}
	if e.Store != "" {
		msg = fmt.Sprintf("%s: %s", e.Store, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match two *Error values by kind.
func (e *Error) Is(target error) bool {
	var oe *Error
	if errors.As(target, &oe) {
		return e.Kind == oe.Kind
	}
	return false
}

// ErrKind extracts the Kind from err, or KindGeneric when err is not an
// *Error.
func ErrKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindGeneric
}

func isKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsNotFound reports whether err carries KindNotFound.
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsAlreadyExists reports whether err carries KindAlreadyExists.
func IsAlreadyExists(err error) bool { return isKind(err, KindAlreadyExists) }

// IsPrecondition reports whether err carries KindPrecondition.
func IsPrecondition(err error) bool { return isKind(err, KindPrecondition) }

// IsNotModified reports whether err carries KindNotModified.
func IsNotModified(err error) bool { return isKind(err, KindNotModified) }

// IsNotSupported reports whether err carries KindNotSupported.
func IsNotSupported(err error) bool { return isKind(err, KindNotSupported) }

// IsAlreadyConsumed reports whether err carries KindAlreadyConsumed.
func IsAlreadyConsumed(err error) bool { return isKind(err, KindAlreadyConsumed) }

func newErr(kind Kind, store string, path opath.Path, err error) *Error {
	return &Error{Kind: kind, Store: store, Path: path.String(), Err: err}
}

func notFoundErr(store string, path opath.Path, err error) *Error {
	return newErr(KindNotFound, store, path, err)
}

func alreadyExistsErr(store string, path opath.Path, err error) *Error {
	return newErr(KindAlreadyExists, store, path, err)
}

func preconditionErr(store string, path opath.Path, err error) *Error {
	return newErr(KindPrecondition, store, path, err)
}

func notModifiedErr(store string, path opath.Path, err error) *Error {
	return newErr(KindNotModified, store, path, err)
}

func notSupportedErr(store, op string) *Error {
	return &Error{Kind: KindNotSupported, Store: store, Err: fmt.Errorf("operation %s is not supported", op)}
}

func genericErr(store string, path opath.Path, err error) *Error {
	return newErr(KindGeneric, store, path, err)
}
