// Package store provides read-only MongoDB access for the diagnostic walk.
//
// The client exposes exactly two query shapes - FindOne by filter and a
// lazy Find cursor - behind the Reader interface so the engine can be
// exercised against an in-memory fake. Nothing in this package writes:
// the transaction log under inspection belongs to a live application.
//
// Connection settings come from an explicit Config (flags or a YAML file),
// never from ambient process state. Absent documents surface as
// txn.ErrNotFound so callers can distinguish "not there" (which is data
// for an assertion replay) from "could not ask" (an I/O failure).
package store
