package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mawkee/txndoctor/internal/store"
	"github.com/mawkee/txndoctor/internal/txn"
)

// item is one unit of walk input: a transaction ready for evaluation, or
// a record that could not be fetched or decoded. A non-nil err marks the
// item as a skip; the walk keeps going.
type item struct {
	entry *txn.QueueEntry
	txn   *txn.Transaction
	id    string
	err   error
}

// fetchEntry looks up the transaction a queue entry points at. Entries
// referencing pruned or unreadable records become skip items rather than
// aborting the walk; pruning is routine on a live log.
func (w *Walker) fetchEntry(ctx context.Context, entry txn.QueueEntry) (item, error) {
	raw, err := w.store.FindOne(ctx, w.opts.TxnsCollection, store.IDFilter(entry.ID))
	if err != nil {
		if errors.Is(err, txn.ErrNotFound) {
			return item{
				entry: &entry,
				id:    entry.ID,
				err:   errors.Wrapf(txn.ErrNotFound, "transaction %s", entry.ID),
			}, nil
		}

		return item{
			entry: &entry,
			id:    entry.ID,
			err:   errors.Wrapf(err, "fetch transaction %s", entry.ID),
		}, nil
	}

	return w.decodeItem(raw, &entry)
}

// decodeItem turns a raw log record into a walk item. Malformed records
// become skip items; a recognizable record in an unknown lifecycle state
// is fatal, because it means the log format has moved past what this
// tool understands.
func (w *Walker) decodeItem(raw bson.Raw, entry *txn.QueueEntry) (item, error) {
	t, err := txn.DecodeTransaction(raw)
	if err != nil {
		if errors.Is(err, txn.ErrUnknownState) {
			return item{}, errors.Wrapf(err, "transaction %s", txn.FormatDocID(raw.Lookup("_id")))
		}

		id := "<unknown>"
		var de *txn.DecodeError
		if errors.As(err, &de) && de.ID != "" {
			id = de.ID
		} else if entry != nil {
			id = entry.ID
		}

		return item{entry: entry, id: id, err: err}, nil
	}

	return item{entry: entry, txn: t, id: t.DisplayID()}, nil
}
