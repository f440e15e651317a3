// Package txn models the on-disk layout of a client-side multi-document
// transaction log and classifies its records.
//
// The log lives in a single collection (conventionally "txns"). Each record
// uses short BSON keys:
//
//	{
//	  "_id": <ObjectId|string>,   // transaction id (opaque)
//	  "s":   <int>,               // lifecycle state code
//	  "o":   [ <op>, ... ],       // ordered operations, never empty
//	  "n":   <string>,            // nonce (optional)
//	  "r":   [ <int64>, ... ]     // revnos (opaque, kept only in raw dumps)
//	}
//
// An operation is:
//
//	{
//	  "c": <string>,              // target collection
//	  "d": <any>,                 // target document id (opaque)
//	  "a": "d-" | "d+" | <doc>,   // assertion (optional)
//	  "i": <doc>,                 // insert payload (optional)
//	  "u": <doc>,                 // update payload (optional)
//	  "r": <bool>                 // remove marker (optional)
//	}
//
// Assertions are the preconditions the original writer demanded before
// applying the operation: "d-" requires the target document to be absent,
// "d+" requires it to exist, and an embedded document is a query fragment
// the target document must match. At most one of "i"/"u" may be set.
//
// Documents participating in transactions carry a "txn-queue" array of
// tokens "<transactionId>_<nonce>" naming, in order, the transactions
// queued against them.
//
// Decoding is strict: a record that does not match the layout produces a
// *DecodeError identifying the offending field, so a walk can skip it and
// keep going. The one exception is a well-formed record with a state code
// outside the table above, which is ErrUnknownState and fatal - it means
// the log was written by something newer than this tool, and guessing at
// lifecycle semantics would corrupt every diagnosis after it.
package txn
