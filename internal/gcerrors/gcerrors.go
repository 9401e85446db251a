// Package gcerrors defines the error kinds that cross component boundaries
// in the sweeper: the Object Store Client, Registry Driver, Scanner, Sweep
// Engine, and History Reporter all return errors wrapped in one of these
// kinds so a caller (or the CLI's top-level handler) can decide on an exit
// code without string-matching error text. The Graph Store's FromJSON error
// is a plain error that its caller wraps.
package gcerrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for exit-code selection and retry decisions.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	// KindTransport covers network, DNS, and timeout failures talking to
	// the object store.
	KindTransport
	// KindStore covers a non-2xx response parsed from the object store.
	KindStore
	// KindAuth covers missing credentials or a signing precondition that
	// was not met.
	KindAuth
	// KindParse covers malformed JSON/XML bodies.
	KindParse
	// KindGraph covers a repository or tag referencing a layer id absent
	// from the graph.
	KindGraph
	// KindConfig covers a malformed or incomplete configuration file.
	KindConfig
	// KindState covers a sweep-state file that could not be read or
	// written.
	KindState
	// KindScan covers a scan pass aborted after exceeding the dead-letter
	// limit for re-enqueued work items.
	KindScan
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStore:
		return "store"
	case KindAuth:
		return "auth"
	case KindParse:
		return "parse"
	case KindGraph:
		return "graph"
	case KindConfig:
		return "config"
	case KindState:
		return "state"
	case KindScan:
		return "scan"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "objectstore.Fetch"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a kind-tagged error.
func New(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: cause}
}

// StoreStatus is attached to a KindStore error so retry policy can inspect
// the HTTP status without re-parsing the error string.
type StoreStatus struct {
	*storeError
	StatusCode int
}

// storeError names the embedded *Error so that StoreStatus keeps the
// promoted Error() method instead of a field called Error shadowing it.
type storeError = Error

// NewStoreStatus constructs a KindStore error carrying the HTTP status that
// produced it.
func NewStoreStatus(op, message string, status int, cause error) *StoreStatus {
	return &StoreStatus{
		storeError: New(KindStore, op, message, cause),
		StatusCode: status,
	}
}

// Retryable reports whether status is eligible for retry under the policy
// in spec: 5xx and 429 retry, other 4xx do not.
func (s *StoreStatus) Retryable() bool {
	return s.StatusCode == 429 || (s.StatusCode >= 500 && s.StatusCode < 600)
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error, and KindUnknown otherwise.
func KindOf(err error) Kind {
	var s *StoreStatus
	if errors.As(err, &s) {
		return s.Kind
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
