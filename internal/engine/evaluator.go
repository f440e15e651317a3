package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/mawkee/txndoctor/internal/txn"
)

// evaluateOps replays every operation's assertion against live store
// state, in array order. A lookup failure on one operation attaches to
// that result and evaluation moves on to the next.
func (w *Walker) evaluateOps(ctx context.Context, t *txn.Transaction) []txn.OpResult {
	results := make([]txn.OpResult, 0, len(t.Ops))

	for i := range t.Ops {
		results = append(results, w.evaluateOp(ctx, i, t.Ops[i]))
	}

	return results
}

// evaluateOp fetches the operation's target document and checks the
// assertion against what is there now. Document absence is data here,
// not an error.
func (w *Walker) evaluateOp(ctx context.Context, index int, op txn.Op) txn.OpResult {
	res := txn.OpResult{Index: index, Op: op}

	existing, err := w.store.FindOne(ctx, op.Collection, bson.D{{Key: "_id", Value: op.DocID}})
	switch {
	case err == nil:
		res.Existing = existing
	case errors.Is(err, txn.ErrNotFound):
		// Leave Existing nil.
	default:
		res.Err = errors.Wrapf(err, "fetch %s/%s", op.Collection, txn.FormatDocID(op.DocID))
		w.log.Warn("operation target lookup failed",
			zap.String("collection", op.Collection),
			zap.String("doc", txn.FormatDocID(op.DocID)),
			zap.Error(err))

		return res
	}

	switch a := op.Assertion.(type) {
	case txn.AssertNone:
		res.Passed = true
	case txn.AssertMissing:
		res.Passed = res.Existing == nil
	case txn.AssertExists:
		res.Passed = res.Existing != nil
	case txn.AssertQuery:
		if res.Existing == nil {
			// A query over a missing document can never match.
			res.Passed = false
			break
		}

		passed, err := w.queryMatches(ctx, op, a.Fragment)
		if err != nil {
			res.Err = err
			return res
		}

		res.Passed = passed
	}

	return res
}

// queryMatches re-runs the assertion's query fragment against the store,
// pinned to the operation's document id. The fragment's own _id, if any,
// is dropped; the operation addresses exactly one document.
func (w *Walker) queryMatches(ctx context.Context, op txn.Op, fragment bson.D) (bool, error) {
	filter := bson.D{{Key: "_id", Value: op.DocID}}

	for _, el := range fragment {
		if el.Key == "_id" {
			continue
		}

		filter = append(filter, el)
	}

	_, err := w.store.FindOne(ctx, op.Collection, filter)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, txn.ErrNotFound):
		return false, nil
	default:
		return false, errors.Wrapf(err, "query %s/%s", op.Collection, txn.FormatDocID(op.DocID))
	}
}
