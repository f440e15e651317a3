package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mawkee/txndoctor/internal/engine"
	"github.com/mawkee/txndoctor/internal/txn"
)

// reportRenderer streams walk reports as human-readable text. A report
// arrives complete, so a transaction block is always printed whole, never
// interleaved with store reads.
type reportRenderer struct {
	w             io.Writer
	includePasses bool
	dump          bool
	rendered      int
}

func newReportRenderer(w io.Writer, includePasses, dump bool) *reportRenderer {
	return &reportRenderer{w: w, includePasses: includePasses, dump: dump}
}

// Render is an engine.Sink. Reports whose assertions all pass are skipped
// unless passing assertions were asked for; records that could not be
// fetched or decoded always render.
func (r *reportRenderer) Render(report *txn.Report) error {
	if report.Err != nil {
		fmt.Fprintf(r.w, "txn %s (unavailable)\n", report.ID)
		fmt.Fprintf(r.w, "  error: %v\n", report.Err)
		fmt.Fprintln(r.w)
		r.rendered++
		return nil
	}

	if !r.includePasses && report.Failures() == 0 && report.Errored() == 0 {
		return nil
	}

	t := report.Txn

	fmt.Fprintf(r.w, "txn %s (%s, code %d)", report.ID, t.State, t.State.Code())
	if t.Nonce != "" {
		fmt.Fprintf(r.w, " nonce %s", t.Nonce)
	}
	fmt.Fprintln(r.w)

	if r.dump {
		if err := r.writeDoc(2, "record", t.Raw); err != nil {
			return err
		}
	}

	for _, res := range report.Results {
		if !r.includePasses && res.Err == nil && res.Passed {
			continue
		}

		fmt.Fprintf(r.w, "  [%d] %s/%s %s (%s) %s\n",
			res.Index, res.Op.Collection, txn.FormatDocID(res.Op.DocID),
			res.Op.Kind(), res.Op.Assertion.Kind(), verdict(res))

		if res.Err != nil {
			fmt.Fprintf(r.w, "      error: %v\n", res.Err)
		}

		if !r.dump {
			continue
		}

		if q, ok := res.Op.Assertion.(txn.AssertQuery); ok {
			if err := r.writeFragment(q.Fragment); err != nil {
				return err
			}
		}
		if res.Existing != nil {
			if err := r.writeDoc(6, "current", res.Existing); err != nil {
				return err
			}
		}
		if res.Op.Insert != nil {
			if err := r.writeDoc(6, "insert", res.Op.Insert); err != nil {
				return err
			}
		}
		if res.Op.Update != nil {
			if err := r.writeDoc(6, "update", res.Op.Update); err != nil {
				return err
			}
		}
	}

	fmt.Fprintln(r.w)
	r.rendered++

	return nil
}

// Finish prints the walk summary footer.
func (r *reportRenderer) Finish(sum *engine.Summary) {
	if r.rendered == 0 {
		if sum.Transactions == 0 {
			fmt.Fprintln(r.w, "No transactions to inspect.")
		} else {
			fmt.Fprintln(r.w, "No failing assertions.")
		}
		fmt.Fprintln(r.w)
	}

	fmt.Fprintln(r.w, "=== Summary ===")
	fmt.Fprintf(r.w, "  Transactions: %d\n", sum.Transactions)
	fmt.Fprintf(r.w, "  Operations:   %d\n", sum.Operations)
	fmt.Fprintf(r.w, "  Failures:     %d\n", sum.Failures)
	fmt.Fprintf(r.w, "  Errors:       %d\n", sum.Errors)
}

func (r *reportRenderer) writeDoc(indent int, label string, doc bson.Raw) error {
	js, err := canonicalJSON(doc)
	if err != nil {
		return err
	}

	fmt.Fprintf(r.w, "%*s%s: %s\n", indent, "", label, js)
	return nil
}

func (r *reportRenderer) writeFragment(fragment bson.D) error {
	raw, err := bson.Marshal(fragment)
	if err != nil {
		return errors.Wrap(err, "encode assertion fragment")
	}

	return r.writeDoc(6, "assert", bson.Raw(raw))
}

// verdict classifies an operation result for display.
func verdict(res txn.OpResult) string {
	switch {
	case res.Err != nil:
		return "ERROR"
	case res.Passed:
		return "PASS"
	default:
		return "FAIL"
	}
}

// canonicalJSON renders a BSON document as canonical extended JSON.
func canonicalJSON(doc bson.Raw) (json.RawMessage, error) {
	b, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return nil, errors.Wrap(err, "encode document")
	}

	return json.RawMessage(b), nil
}
