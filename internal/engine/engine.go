package engine

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/mawkee/txndoctor/internal/store"
	"github.com/mawkee/txndoctor/internal/txn"
)

// Options configures a Walker.
type Options struct {
	// TxnsCollection is the transaction log collection. Defaults to
	// txn.DefaultCollection.
	TxnsCollection string

	// Limit caps how many transactions a walk visits. Once reached, the
	// walk stops cleanly between transactions: no lookup, no decode, no
	// cursor read happens for the record past the limit. 0 is unlimited.
	Limit int
}

// Summary aggregates what a walk saw.
type Summary struct {
	Transactions int // reports emitted, including skipped records
	Operations   int // operations evaluated
	Failures     int // assertions that conclusively fail today
	Errors       int // skipped records plus per-operation lookup failures
}

// Sink receives each finished report, strictly in input order. Returning
// an error aborts the walk.
type Sink func(*txn.Report) error

// Walker replays transaction assertions against current store state.
type Walker struct {
	store store.Reader
	log   *zap.Logger
	opts  Options
}

// New creates a Walker on top of a read-only store view.
func New(st store.Reader, logger *zap.Logger, opts Options) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}

	if opts.TxnsCollection == "" {
		opts.TxnsCollection = txn.DefaultCollection
	}

	return &Walker{store: st, log: logger, opts: opts}
}

// WalkQueue resolves an owner document's pending queue and replays each
// referenced transaction in queue order.
func (w *Walker) WalkQueue(ctx context.Context, ownerCollection, ownerID string, sink Sink) (*Summary, error) {
	entries, err := w.ResolveQueue(ctx, ownerCollection, ownerID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{}

	for i := range entries {
		if err := ctx.Err(); err != nil {
			return sum, errors.Wrap(err, "walk cancelled")
		}

		if w.limitReached(sum) {
			break
		}

		it, err := w.fetchEntry(ctx, entries[i])
		if err != nil {
			return sum, err
		}

		if err := w.emit(ctx, it, sink, sum); err != nil {
			return sum, err
		}
	}

	return sum, nil
}

// WalkLog scans the transaction log with a lazy cursor. A non-zero state
// narrows the scan to records in that lifecycle state; zero visits
// everything.
func (w *Walker) WalkLog(ctx context.Context, state txn.State, sink Sink) (*Summary, error) {
	filter := bson.D{}
	if state != 0 {
		filter = bson.D{{Key: "s", Value: int32(state)}}
	}

	cur, err := w.store.Find(ctx, w.opts.TxnsCollection, filter)
	if err != nil {
		return nil, errors.Wrapf(err, "open scan on %s", w.opts.TxnsCollection)
	}

	defer func() {
		if cerr := cur.Close(ctx); cerr != nil {
			w.log.Warn("close scan cursor", zap.Error(cerr))
		}
	}()

	sum := &Summary{}

	for {
		if err := ctx.Err(); err != nil {
			return sum, errors.Wrap(err, "walk cancelled")
		}

		if w.limitReached(sum) {
			return sum, nil
		}

		if !cur.Next(ctx) {
			break
		}

		// The cursor's buffer is only valid until the next Next call,
		// and reports outlive the iteration.
		raw := bson.Raw(append([]byte(nil), cur.Current()...))

		it, err := w.decodeItem(raw, nil)
		if err != nil {
			return sum, err
		}

		if err := w.emit(ctx, it, sink, sum); err != nil {
			return sum, err
		}
	}

	if err := cur.Err(); err != nil {
		return sum, errors.Wrap(err, "scan cursor")
	}

	return sum, nil
}

// emit evaluates a fetched item, builds its report, and hands it to the
// sink. Items carrying a fetch or decode error become skip reports.
func (w *Walker) emit(ctx context.Context, it item, sink Sink, sum *Summary) error {
	report := &txn.Report{
		Entry: it.entry,
		Txn:   it.txn,
		ID:    it.id,
		Err:   it.err,
	}

	if it.err != nil {
		w.log.Warn("skipping transaction record",
			zap.String("txn", it.id),
			zap.Error(it.err))

		sum.Errors++
	} else {
		report.Results = w.evaluateOps(ctx, it.txn)
		sum.Operations += len(report.Results)
		sum.Failures += report.Failures()
		sum.Errors += report.Errored()
	}

	sum.Transactions++

	return sink(report)
}

func (w *Walker) limitReached(sum *Summary) bool {
	return w.opts.Limit > 0 && sum.Transactions >= w.opts.Limit
}
