package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/mawkee/txndoctor/internal/store"
	"github.com/mawkee/txndoctor/internal/txn"
)

// ResolveQueue fetches an owner document and decodes its pending
// transaction queue. A missing owner is fatal to the walk: there is
// nothing to diagnose without it.
func (w *Walker) ResolveQueue(ctx context.Context, ownerCollection, ownerID string) ([]txn.QueueEntry, error) {
	raw, err := w.store.FindOne(ctx, ownerCollection, store.IDFilter(ownerID))
	if err != nil {
		if errors.Is(err, txn.ErrNotFound) {
			return nil, errors.Wrapf(txn.ErrNotFound, "owner document %s/%s", ownerCollection, ownerID)
		}

		return nil, errors.Wrapf(err, "fetch owner document %s/%s", ownerCollection, ownerID)
	}

	entries, err := txn.DecodeQueue(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "owner document %s/%s", ownerCollection, ownerID)
	}

	w.log.Debug("resolved owner queue",
		zap.String("owner", ownerCollection+"/"+ownerID),
		zap.Int("entries", len(entries)))

	return entries, nil
}
