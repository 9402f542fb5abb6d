// Package cacheerr defines the failure kinds surfaced by the local CVE cache.
//
// Every error returned by the store, sync and query packages carries exactly
// one Kind. Callers branch on it with errors.Is against the sentinels below:
//
//	if errors.Is(err, cacheerr.ErrNotFound) {
//	    // expected miss, not a failure
//	}
package cacheerr

import (
	"errors"
	"fmt"
)

// Kind identifies the class of a cache failure.
type Kind int

const (
	// KindUnknown is reported for errors that did not originate in the cache.
	KindUnknown Kind = iota
	// KindStorage covers schema, connection and transaction failures.
	KindStorage
	// KindTransport covers failures propagated from a feed source.
	KindTransport
	// KindMetadataFormat covers malformed partition metadata text.
	KindMetadataFormat
	// KindSerialization covers payload encode and decode failures.
	KindSerialization
	// KindNotFound is a query miss.
	KindNotFound
)

// Sentinels, one per kind. An *Error matches the sentinel of its kind.
var (
	// ErrStorage is matched by every KindStorage error.
	ErrStorage = errors.New("storage failure")

	// ErrTransport is matched by every KindTransport error.
	ErrTransport = errors.New("transport failure")

	// ErrMetadataFormat is matched by every KindMetadataFormat error.
	ErrMetadataFormat = errors.New("malformed partition metadata")

	// ErrSerialization is matched by every KindSerialization error.
	ErrSerialization = errors.New("serialization failure")

	// ErrNotFound is matched when a lookup finds nothing.
	ErrNotFound = errors.New("not found")
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindStorage:
		return "storage"
	case KindTransport:
		return "transport"
	case KindMetadataFormat:
		return "metadata-format"
	case KindSerialization:
		return "serialization"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindStorage:
		return ErrStorage
	case KindTransport:
		return ErrTransport
	case KindMetadataFormat:
		return ErrMetadataFormat
	case KindSerialization:
		return ErrSerialization
	case KindNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

// Error is a tagged cache failure. Op names the operation that failed and
// Err holds the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.sentinel().Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New builds an *Error of the given kind.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Storage wraps err as a KindStorage failure of op.
func Storage(op string, err error) error { return New(KindStorage, op, err) }

// Transport wraps err as a KindTransport failure of op.
func Transport(op string, err error) error { return New(KindTransport, op, err) }

// MetadataFormat wraps err as a KindMetadataFormat failure of op.
func MetadataFormat(op string, err error) error { return New(KindMetadataFormat, op, err) }

// Serialization wraps err as a KindSerialization failure of op.
func Serialization(op string, err error) error { return New(KindSerialization, op, err) }

// NotFound reports a miss for the given key.
func NotFound(op, key string) error {
	return New(KindNotFound, op, fmt.Errorf("%q", key))
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsNotFound returns true if err is a query miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal returns true if err should abort the current operation. Every
// failure except a query miss is fatal; nothing in the cache is retried.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !IsNotFound(err)
}
