// Package engine implements the diagnostic walk over a transaction log.
//
// The walk answers one question per transaction: which of its recorded
// preconditions hold against the store as it is right now. It replays
// assertions, it never applies operations.
//
// ARCHITECTURE:
//
// Single-threaded sequential pipeline:
// Transactions are visited strictly in input order (owner queue order, or
// scan cursor order) and each transaction's operations strictly in array
// order. There is no worker pool and no concurrent store access - the
// report is evidence, and evidence needs a deterministic order. Two walks
// over an unchanged store yield identical report sequences.
//
// Builder/renderer split:
// The Walker builds complete, in-memory txn.Report values and hands each
// one to a Sink callback. Rendering lives with the caller. Because a sink
// only ever sees finished reports, partial transaction blocks cannot leak
// into output no matter how rendering is interleaved.
//
// Failure discipline:
//   - A queue entry whose record was garbage collected, or a record that
//     fails shape validation, becomes a report with Err set; the walk
//     logs it and continues. One rotten record must not hide the rest.
//   - A store read failure while evaluating one operation attaches to
//     that operation's result; remaining ops still evaluate.
//   - An unknown state code aborts the whole walk. So does a sink error.
//   - Assertion failures are not errors at all: they are the findings.
//
// Cancellation is coarse: ctx is checked between transactions, never
// inside one, so a cancelled walk still ends on a transaction boundary.
package engine
