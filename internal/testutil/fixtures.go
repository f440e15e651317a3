package testutil

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/mawkee/txndoctor/internal/txn"
)

// TxnDoc builds a raw transaction log record with the short keys the log
// uses. Nonce is omitted when empty. Panics on marshal failure.
func TxnDoc(id any, state int, nonce string, ops ...bson.D) bson.Raw {
	opArr := make(bson.A, 0, len(ops))
	for _, op := range ops {
		opArr = append(opArr, op)
	}

	doc := bson.D{
		{Key: "_id", Value: id},
		{Key: "s", Value: int32(state)},
		{Key: "o", Value: opArr},
	}

	if nonce != "" {
		doc = append(doc, bson.E{Key: "n", Value: nonce})
	}

	return mustMarshal(doc)
}

// OwnerDoc builds a document carrying a txn-queue field, plus any extra
// fields supplied.
func OwnerDoc(id any, tokens []string, extra ...bson.E) bson.Raw {
	queue := make(bson.A, 0, len(tokens))
	for _, tok := range tokens {
		queue = append(queue, tok)
	}

	doc := bson.D{{Key: "_id", Value: id}}
	doc = append(doc, extra...)
	doc = append(doc, bson.E{Key: txn.QueueField, Value: queue})

	return mustMarshal(doc)
}

// InsertOp builds an "o" array element for an insert. assert may be nil
// (no precondition), a sentinel string, or a query fragment bson.D.
func InsertOp(collection string, docID, assert any, payload bson.D) bson.D {
	return opDoc(collection, docID, assert, bson.E{Key: "i", Value: payload})
}

// UpdateOp builds an "o" array element for an update.
func UpdateOp(collection string, docID, assert any, update bson.D) bson.D {
	return opDoc(collection, docID, assert, bson.E{Key: "u", Value: update})
}

// RemoveOp builds an "o" array element for a remove.
func RemoveOp(collection string, docID, assert any) bson.D {
	return opDoc(collection, docID, assert, bson.E{Key: "r", Value: true})
}

// AssertOp builds an assert-only "o" array element.
func AssertOp(collection string, docID, assert any) bson.D {
	return opDoc(collection, docID, assert)
}

func opDoc(collection string, docID, assert any, payload ...bson.E) bson.D {
	doc := bson.D{
		{Key: "c", Value: collection},
		{Key: "d", Value: docID},
	}

	if assert != nil {
		doc = append(doc, bson.E{Key: "a", Value: assert})
	}

	doc = append(doc, payload...)

	return doc
}

// Doc marshals an arbitrary document, panicking on failure. Handy for
// target-collection fixtures.
func Doc(elems ...bson.E) bson.Raw {
	return mustMarshal(bson.D(elems))
}

func mustMarshal(doc bson.D) bson.Raw {
	b, err := bson.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal fixture: %v", err))
	}

	return bson.Raw(b)
}
