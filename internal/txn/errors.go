package txn

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound reports a document absent from the store. For assertion
	// lookups absence is data, for queue entries it is skip-and-log; only
	// a missing owner document is fatal.
	ErrNotFound = errors.New("document not found")

	// ErrUnknownState reports a well-formed transaction record whose state
	// code is outside the lifecycle table. Fatal: the log is newer than
	// this tool or corrupt, and guessing would misreport everything after.
	ErrUnknownState = errors.New("unknown transaction state")
)

// DecodeError reports a log record whose shape does not match the
// transaction layout. It is a per-record error: the walk records it
// against that item and continues with the next one.
type DecodeError struct {
	ID     string // best-effort transaction id, empty when unreadable
	Field  string // offending field path ("s", "o[2].c", ...), may be empty
	Reason string // what was wrong with it
	Err    error  // underlying decode failure, optional
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	id := e.ID
	if id == "" {
		id = "<unknown>"
	}

	msg := fmt.Sprintf("malformed transaction record %s", id)
	if e.Field != "" {
		msg = fmt.Sprintf("%s: field %q", msg, e.Field)
	}

	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}

	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

// Unwrap returns the underlying decode failure, if any.
func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError returns true if the error is a per-record decode error.
// Uses errors.As to handle wrapped errors.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
