package txn

import (
	"strings"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// DefaultCollection is the conventional name of the transaction log collection.
const DefaultCollection = "txns"

// QueueField is the owner-document field holding the pending transaction queue.
const QueueField = "txn-queue"

// State is the lifecycle state of a transaction record.
type State int

// Lifecycle states in the order a transaction moves through them.
// Aborted and applied are terminal.
const (
	StatePreparing State = 1 // ops being assembled
	StatePrepared  State = 2 // ops frozen, queued on owners
	StateAborting  State = 3 // rollback in progress
	StateApplying  State = 4 // commit in progress
	StateAborted   State = 5 // terminal: preconditions failed
	StateApplied   State = 6 // terminal: fully applied
)

// StateFromCode classifies a raw state code from a log record.
// Codes outside the table are ErrUnknownState; callers must treat that
// as fatal rather than guessing.
func StateFromCode(code int) (State, error) {
	switch s := State(code); s {
	case StatePreparing, StatePrepared, StateAborting, StateApplying, StateAborted, StateApplied:
		return s, nil
	default:
		return 0, errors.Wrapf(ErrUnknownState, "code %d", code)
	}
}

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StatePreparing:
		return "preparing"
	case StatePrepared:
		return "prepared"
	case StateAborting:
		return "aborting"
	case StateApplying:
		return "applying"
	case StateAborted:
		return "aborted"
	case StateApplied:
		return "applied"
	default:
		return "unknown"
	}
}

// Code returns the numeric state code as stored in the log.
func (s State) Code() int { return int(s) }

// Assertion is a sealed interface for the precondition recorded on an
// operation. Only AssertNone, AssertMissing, AssertExists and AssertQuery
// implement it.
type Assertion interface {
	assertion() // Sealed - only the four kinds implement it

	// Kind returns the assertion kind name: "none", "doc-missing",
	// "doc-exists" or "query".
	Kind() string
}

// AssertNone is the absent assertion: the operation had no precondition.
type AssertNone struct{}

func (AssertNone) assertion()   {}
func (AssertNone) Kind() string { return "none" }

// AssertMissing requires the target document to be absent ("d-").
type AssertMissing struct{}

func (AssertMissing) assertion()   {}
func (AssertMissing) Kind() string { return "doc-missing" }

// AssertExists requires the target document to exist ("d+").
type AssertExists struct{}

func (AssertExists) assertion()   {}
func (AssertExists) Kind() string { return "doc-exists" }

// AssertQuery requires the target document to match a query fragment.
// The fragment never includes the target id; evaluation merges it with
// the operation's document id.
type AssertQuery struct {
	Fragment bson.D
}

func (AssertQuery) assertion()   {}
func (AssertQuery) Kind() string { return "query" }

// Op is a single operation recorded inside a transaction.
type Op struct {
	Collection string        // target collection ("c")
	DocID      bson.RawValue // target document id ("d"), opaque
	Assertion  Assertion     // decoded precondition ("a"), never nil
	Insert     bson.Raw      // insert payload ("i"), nil when absent
	Update     bson.Raw      // update payload ("u"), nil when absent
	Remove     bool          // remove marker ("r")
}

// Kind returns what the operation was going to do: "insert", "update",
// "remove", or "assert" for assert-only operations.
func (o Op) Kind() string {
	switch {
	case o.Insert != nil:
		return "insert"
	case o.Update != nil:
		return "update"
	case o.Remove:
		return "remove"
	default:
		return "assert"
	}
}

// Transaction is a decoded transaction log record.
type Transaction struct {
	ID    bson.RawValue // "_id", opaque
	State State         // classified from "s"
	Ops   []Op          // "o", original order preserved
	Nonce string        // "n", empty when absent
	Raw   bson.Raw      // the record exactly as stored
}

// DisplayID returns the transaction id in display form.
func (t *Transaction) DisplayID() string { return FormatDocID(t.ID) }

// FormatDocID renders an opaque document id for display: ObjectIds as
// 24-char hex, strings verbatim, anything else as extended JSON.
func FormatDocID(v bson.RawValue) string {
	if v.Type == 0 && v.Value == nil {
		return "<none>"
	}

	switch v.Type {
	case bsontype.ObjectID:
		return v.ObjectID().Hex()
	case bsontype.String:
		return v.StringValue()
	default:
		return v.String()
	}
}

// QueueEntry is one slot of an owner document's txn-queue field.
type QueueEntry struct {
	Token string // raw token, "<transactionId>_<nonce>"
	ID    string // transaction id portion
	Nonce string // nonce portion, empty when the token carries none
}

// ParseQueueToken splits a txn-queue token into id and nonce. Ids are
// opaque and may contain underscores, so the split happens at the LAST
// underscore; nonces never contain one. A token without an underscore
// is all id.
func ParseQueueToken(token string) QueueEntry {
	i := strings.LastIndex(token, "_")
	if i < 0 {
		return QueueEntry{Token: token, ID: token}
	}

	return QueueEntry{Token: token, ID: token[:i], Nonce: token[i+1:]}
}

// OpResult is the outcome of replaying one operation's assertion against
// the current store state.
type OpResult struct {
	Index    int      // position in the transaction's op array
	Op       Op       // the operation as recorded
	Passed   bool     // whether the assertion holds today
	Existing bson.Raw // current target document, nil when absent
	Err      error    // store read failure for this op, nil otherwise
}

// Failed reports whether the assertion conclusively failed. An op whose
// lookup errored is undecided, not failed.
func (r OpResult) Failed() bool { return r.Err == nil && !r.Passed }

// Report is the replay outcome for a single visited transaction.
//
// A report with Err set describes a record that could not be evaluated
// at all: a queue entry whose transaction was garbage collected
// (ErrNotFound) or a record that failed shape validation (*DecodeError).
// Such reports carry no results; the walk records them and continues.
type Report struct {
	Entry   *QueueEntry  // queue slot that referenced the transaction, nil in scan mode
	Txn     *Transaction // nil when Err is set
	ID      string       // display id, always set (best effort for malformed records)
	Results []OpResult   // one per op, original order
	Err     error        // ErrNotFound or *DecodeError for this record
}

// Failures counts conclusively failed assertions in the report.
func (r *Report) Failures() int {
	n := 0

	for _, res := range r.Results {
		if res.Failed() {
			n++
		}
	}

	return n
}

// Errored counts operations whose lookup failed.
func (r *Report) Errored() int {
	n := 0

	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}

	return n
}
