package txn

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
)

// Assertion sentinels as stored in the "a" field.
const (
	assertMissingSentinel = "d-"
	assertExistsSentinel  = "d+"
)

// DecodeTransaction validates and decodes a raw log record.
//
// Shape violations (missing or mistyped fields, both payloads on one op,
// unusable assertion values) return a *DecodeError: that record is
// unusable but the walk can continue. A well-formed record whose state
// code is outside the lifecycle table returns ErrUnknownState instead,
// which callers must treat as fatal.
func DecodeTransaction(raw bson.Raw) (*Transaction, error) {
	if err := raw.Validate(); err != nil {
		return nil, &DecodeError{Reason: "unreadable BSON", Err: err}
	}

	id := bestEffortID(raw)

	idVal, err := raw.LookupErr("_id")
	if err != nil {
		return nil, &DecodeError{ID: id, Field: "_id", Reason: "missing"}
	}

	stateVal, err := raw.LookupErr("s")
	if err != nil {
		return nil, &DecodeError{ID: id, Field: "s", Reason: "missing"}
	}

	code, ok := stateVal.AsInt64OK()
	if !ok {
		return nil, &DecodeError{ID: id, Field: "s", Reason: fmt.Sprintf("type %s, want integer", stateVal.Type)}
	}

	state, err := StateFromCode(int(code))
	if err != nil {
		// ErrUnknownState, not a shape problem: propagate as fatal.
		return nil, err
	}

	ops, derr := decodeOps(raw)
	if derr != nil {
		derr.ID = id
		return nil, derr
	}

	t := &Transaction{
		ID:    idVal,
		State: state,
		Ops:   ops,
		Raw:   raw,
	}

	if nonce, ok := raw.Lookup("n").StringValueOK(); ok {
		t.Nonce = nonce
	}

	return t, nil
}

// decodeOps reads and validates the "o" array.
func decodeOps(raw bson.Raw) ([]Op, *DecodeError) {
	opsVal, err := raw.LookupErr("o")
	if err != nil {
		return nil, &DecodeError{Field: "o", Reason: "missing"}
	}

	arr, ok := opsVal.ArrayOK()
	if !ok {
		return nil, &DecodeError{Field: "o", Reason: fmt.Sprintf("type %s, want array", opsVal.Type)}
	}

	vals, err := arr.Values()
	if err != nil {
		return nil, &DecodeError{Field: "o", Reason: "unreadable array", Err: err}
	}

	if len(vals) == 0 {
		return nil, &DecodeError{Field: "o", Reason: "empty"}
	}

	ops := make([]Op, 0, len(vals))

	for i, v := range vals {
		op, derr := decodeOp(v)
		if derr != nil {
			if derr.Field == "" {
				derr.Field = fmt.Sprintf("o[%d]", i)
			} else {
				derr.Field = fmt.Sprintf("o[%d].%s", i, derr.Field)
			}

			return nil, derr
		}

		ops = append(ops, op)
	}

	return ops, nil
}

// decodeOp decodes a single element of the "o" array. Field paths in the
// returned error are relative to the operation.
func decodeOp(v bson.RawValue) (Op, *DecodeError) {
	doc, ok := v.DocumentOK()
	if !ok {
		return Op{}, &DecodeError{Reason: fmt.Sprintf("type %s, want document", v.Type)}
	}

	var op Op

	coll, ok := doc.Lookup("c").StringValueOK()
	if !ok || coll == "" {
		return Op{}, &DecodeError{Field: "c", Reason: "missing or not a non-empty string"}
	}

	op.Collection = coll

	docID, err := doc.LookupErr("d")
	if err != nil {
		return Op{}, &DecodeError{Field: "d", Reason: "missing"}
	}

	op.DocID = docID

	if av, err := doc.LookupErr("a"); err == nil {
		assertion, derr := decodeAssertion(av)
		if derr != nil {
			return Op{}, derr
		}

		op.Assertion = assertion
	} else {
		op.Assertion = AssertNone{}
	}

	if iv, err := doc.LookupErr("i"); err == nil {
		ins, ok := iv.DocumentOK()
		if !ok {
			return Op{}, &DecodeError{Field: "i", Reason: fmt.Sprintf("type %s, want document", iv.Type)}
		}

		op.Insert = ins
	}

	if uv, err := doc.LookupErr("u"); err == nil {
		upd, ok := uv.DocumentOK()
		if !ok {
			return Op{}, &DecodeError{Field: "u", Reason: fmt.Sprintf("type %s, want document", uv.Type)}
		}

		op.Update = upd
	}

	if op.Insert != nil && op.Update != nil {
		return Op{}, &DecodeError{Field: "i", Reason: "insert and update on the same operation"}
	}

	if rv, err := doc.LookupErr("r"); err == nil {
		rm, ok := rv.BooleanOK()
		if !ok {
			return Op{}, &DecodeError{Field: "r", Reason: fmt.Sprintf("type %s, want bool", rv.Type)}
		}

		op.Remove = rm
	}

	return op, nil
}

// decodeAssertion classifies the "a" value into the sealed Assertion set.
func decodeAssertion(v bson.RawValue) (Assertion, *DecodeError) {
	switch v.Type {
	case bsontype.String:
		switch s := v.StringValue(); s {
		case assertMissingSentinel:
			return AssertMissing{}, nil
		case assertExistsSentinel:
			return AssertExists{}, nil
		default:
			return nil, &DecodeError{Field: "a", Reason: fmt.Sprintf("unknown sentinel %q", s)}
		}
	case bsontype.EmbeddedDocument:
		var fragment bson.D
		if err := v.Unmarshal(&fragment); err != nil {
			return nil, &DecodeError{Field: "a", Reason: "unreadable query document", Err: err}
		}

		return AssertQuery{Fragment: fragment}, nil
	default:
		// A filter must be a sentinel or a document. Guessing at anything
		// else would corrupt the diagnosis.
		return nil, &DecodeError{Field: "a", Reason: fmt.Sprintf("type %s, want sentinel string or document", v.Type)}
	}
}

// DecodeQueue reads the txn-queue field of an owner document, preserving
// order. An owner without the field has nothing pending: the result is an
// empty slice, not an error.
func DecodeQueue(owner bson.Raw) ([]QueueEntry, error) {
	qv, err := owner.LookupErr(QueueField)
	if err != nil {
		return []QueueEntry{}, nil
	}

	arr, ok := qv.ArrayOK()
	if !ok {
		return nil, &DecodeError{ID: bestEffortID(owner), Field: QueueField, Reason: fmt.Sprintf("type %s, want array", qv.Type)}
	}

	vals, err := arr.Values()
	if err != nil {
		return nil, &DecodeError{ID: bestEffortID(owner), Field: QueueField, Reason: "unreadable array", Err: err}
	}

	entries := make([]QueueEntry, 0, len(vals))

	for i, v := range vals {
		token, ok := v.StringValueOK()
		if !ok {
			return nil, &DecodeError{
				ID:     bestEffortID(owner),
				Field:  fmt.Sprintf("%s[%d]", QueueField, i),
				Reason: fmt.Sprintf("type %s, want string", v.Type),
			}
		}

		entries = append(entries, ParseQueueToken(token))
	}

	return entries, nil
}

// bestEffortID extracts a display id from a possibly malformed record.
func bestEffortID(raw bson.Raw) string {
	v, err := raw.LookupErr("_id")
	if err != nil {
		return ""
	}

	return FormatDocID(v)
}
