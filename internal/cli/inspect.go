package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mawkee/txndoctor/internal/engine"
	"github.com/mawkee/txndoctor/internal/store"
	"github.com/mawkee/txndoctor/internal/txn"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions

	// Walk behavior
	State           int
	AllStates       bool
	Count           int
	DumpTransaction bool
	IncludePasses   bool

	// Store connection
	Database       string
	TxnsCollection string
	Host           string
	Port           int
	Username       string
	Password       string
	AuthDatabase   string
	TLS            bool
	TLSCAFile      string
	URI            string
	ConfigFile     string
}

// InspectResult holds the complete diagnosis output.
type InspectResult struct {
	Mode    string       `json:"mode"`            // "queue" or "scan"
	Owner   string       `json:"owner,omitempty"` // collection/id in queue mode
	State   string       `json:"state,omitempty"` // scan filter, empty when scanning all states
	Reports []ReportJSON `json:"reports"`
	Stats   InspectStats `json:"stats"`
}

// InspectStats summarizes a finished walk.
type InspectStats struct {
	Transactions int `json:"transactions"`
	Operations   int `json:"operations"`
	Failures     int `json:"failures"`
	Errors       int `json:"errors"`
}

// ReportJSON is one transaction's outcome in JSON output.
type ReportJSON struct {
	ID     string          `json:"id"`
	State  string          `json:"state,omitempty"`
	Code   int             `json:"code,omitempty"`
	Nonce  string          `json:"nonce,omitempty"`
	Error  string          `json:"error,omitempty"`
	Record json.RawMessage `json:"record,omitempty"` // canonical extended JSON, --dump-transaction only
	Ops    []OpJSON        `json:"ops,omitempty"`
}

// OpJSON is one operation's verdict in JSON output.
type OpJSON struct {
	Index      int             `json:"index"`
	Collection string          `json:"collection"`
	DocID      string          `json:"doc_id"`
	Kind       string          `json:"kind"`
	Assert     string          `json:"assert"`
	Result     string          `json:"result"` // "pass", "fail", "error"
	Error      string          `json:"error,omitempty"`
	Existing   json.RawMessage `json:"existing,omitempty"` // --dump-transaction only
	Document   json.RawMessage `json:"document,omitempty"` // insert/update payload, --dump-transaction only
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [<owner-collection> <owner-id>]",
		Short: "Replay transaction assertions against current data",
		Long: `Replay the assertions recorded in a transaction log against the data
as it currently exists.

With an owner collection and document id, the pending transaction queue
of that document (its "txn-queue" field) is resolved and each referenced
transaction is checked in queue order. With no positional arguments the
whole log is scanned lazily, filtered to one lifecycle state.

For every operation the target document is fetched and the recorded
precondition (document must exist, must be missing, or must match a
query) is evaluated against it. Assertions that no longer hold are
findings, not errors: the exit code stays 0 whenever the walk completes.

Examples:
  txndoctor inspect --db ledger accounts acct-42
  txndoctor inspect --db ledger --state 5 --count 20
  txndoctor inspect --db ledger --all-states --format json
  txndoctor inspect --db ledger --dump-transaction accounts acct-42`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts either no arguments or <owner-collection> <owner-id>, received %d", len(args))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd, args)
		},
	}

	cmd.Flags().IntVar(&opts.State, "state", txn.StateAborted.Code(), "lifecycle state code to scan for")
	cmd.Flags().BoolVar(&opts.AllStates, "all-states", false, "scan every lifecycle state")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "stop after this many transactions (0 = unlimited)")
	cmd.Flags().BoolVar(&opts.DumpTransaction, "dump-transaction", false, "print raw records and current documents")
	cmd.Flags().BoolVar(&opts.IncludePasses, "include-passes", false, "also report passing assertions")

	cmd.Flags().StringVar(&opts.Database, "db", "", "database holding the transaction log (required unless set via --config)")
	cmd.Flags().StringVar(&opts.TxnsCollection, "txns-collection", "", `transaction log collection (default "txns")`)
	cmd.Flags().StringVar(&opts.Host, "host", "", `server host (default "localhost")`)
	cmd.Flags().IntVar(&opts.Port, "port", 0, "server port (default 27017)")
	cmd.Flags().StringVar(&opts.Username, "username", "", "username for authentication")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password for authentication")
	cmd.Flags().StringVar(&opts.AuthDatabase, "auth-database", "", `database to authenticate against (default "admin")`)
	cmd.Flags().BoolVar(&opts.TLS, "tls", false, "connect over TLS")
	cmd.Flags().StringVar(&opts.TLSCAFile, "tls-ca-file", "", "PEM file with CA certificates to trust")
	cmd.Flags().StringVar(&opts.URI, "uri", "", "full connection URI (overrides host/port/credential flags)")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML connection config file")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// Assemble store configuration, config file first, flags overriding.
	cfg, err := buildStoreConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	if cfg.TxnsCollection == "" {
		cfg.TxnsCollection = txn.DefaultCollection
	}

	// Resolve the scan filter before any connection is made.
	var state txn.State
	if len(args) == 0 && !opts.AllStates {
		state, err = txn.StateFromCode(opts.State)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --state", err)
		}
	}

	log, err := newLogger(opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build logger", err)
	}
	defer func() { _ = log.Sync() }()

	if len(args) == 2 && cmd.Flags().Changed("state") {
		// Queue order drives targeted mode; a state filter has no meaning there.
		log.Warn("--state is ignored when inspecting an owner queue")
	}

	cfg.Logger = log

	st, err := store.Open(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect", err)
	}
	defer func() {
		if cerr := st.Close(ctx); cerr != nil {
			log.Warn("disconnect", zap.Error(cerr))
		}
	}()

	walker := engine.New(st, log, engine.Options{
		TxnsCollection: cfg.TxnsCollection,
		Limit:          opts.Count,
	})

	walk := func(sink engine.Sink) (*engine.Summary, error) {
		if len(args) == 2 {
			return walker.WalkQueue(ctx, args[0], args[1], sink)
		}
		return walker.WalkLog(ctx, state, sink)
	}

	// Output results
	if opts.Format == "json" {
		collector := newReportCollector(opts.IncludePasses, opts.DumpTransaction)

		sum, err := walk(collector.Collect)
		if err != nil {
			return wrapWalkError(err)
		}

		result := InspectResult{
			Reports: collector.reports,
			Stats: InspectStats{
				Transactions: sum.Transactions,
				Operations:   sum.Operations,
				Failures:     sum.Failures,
				Errors:       sum.Errors,
			},
		}
		if len(args) == 2 {
			result.Mode = "queue"
			result.Owner = args[0] + "/" + args[1]
		} else {
			result.Mode = "scan"
			if state != 0 {
				result.State = state.String()
			}
		}

		return outputInspectJSON(cmd, result)
	}

	out := cmd.OutOrStdout()

	switch {
	case len(args) == 2:
		fmt.Fprintf(out, "Inspecting queue of %s/%s\n\n", args[0], args[1])
	case opts.AllStates:
		fmt.Fprintf(out, "Scanning %s (all states)\n\n", cfg.TxnsCollection)
	default:
		fmt.Fprintf(out, "Scanning %s for state %s (code %d)\n\n", cfg.TxnsCollection, state, state.Code())
	}

	renderer := newReportRenderer(out, opts.IncludePasses, opts.DumpTransaction)

	sum, err := walk(renderer.Render)
	if err != nil {
		return wrapWalkError(err)
	}

	renderer.Finish(sum)
	return nil
}

// buildStoreConfig assembles the store configuration from the config file
// and flags. Explicitly set flags win over file values.
func buildStoreConfig(opts *InspectOptions) (store.Config, error) {
	var cfg store.Config

	if opts.ConfigFile != "" {
		loaded, err := store.LoadFile(opts.ConfigFile)
		if err != nil {
			return store.Config{}, err
		}
		cfg = loaded
	}

	if opts.URI != "" {
		cfg.URI = opts.URI
	}
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	if opts.Port != 0 {
		cfg.Port = strconv.Itoa(opts.Port)
	}
	if opts.Username != "" {
		cfg.Username = opts.Username
	}
	if opts.Password != "" {
		cfg.Password = opts.Password
	}
	if opts.AuthDatabase != "" {
		cfg.AuthDatabase = opts.AuthDatabase
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.TxnsCollection != "" {
		cfg.TxnsCollection = opts.TxnsCollection
	}
	if opts.TLS {
		cfg.TLS = true
	}
	if opts.TLSCAFile != "" {
		cfg.TLSCAFile = opts.TLSCAFile
	}

	return cfg, nil
}

// wrapWalkError maps a walk failure to its exit code: data problems that
// make diagnosis impossible are ExitFailure, environment problems are
// ExitCommandError.
func wrapWalkError(err error) error {
	switch {
	case errors.Is(err, txn.ErrNotFound):
		return WrapExitError(ExitFailure, "owner document not found", err)
	case errors.Is(err, txn.ErrUnknownState):
		return WrapExitError(ExitFailure, "unrecognized transaction state", err)
	case txn.IsDecodeError(err):
		return WrapExitError(ExitFailure, "malformed owner document", err)
	default:
		return WrapExitError(ExitCommandError, "walk failed", err)
	}
}

// reportCollector accumulates walk reports for the JSON envelope.
type reportCollector struct {
	includePasses bool
	dump          bool
	reports       []ReportJSON
}

func newReportCollector(includePasses, dump bool) *reportCollector {
	return &reportCollector{
		includePasses: includePasses,
		dump:          dump,
		reports:       []ReportJSON{},
	}
}

// Collect is an engine.Sink.
func (c *reportCollector) Collect(report *txn.Report) error {
	if report.Err != nil {
		c.reports = append(c.reports, ReportJSON{
			ID:    report.ID,
			Error: report.Err.Error(),
		})
		return nil
	}

	if !c.includePasses && report.Failures() == 0 && report.Errored() == 0 {
		return nil
	}

	t := report.Txn

	rj := ReportJSON{
		ID:    report.ID,
		State: t.State.String(),
		Code:  t.State.Code(),
		Nonce: t.Nonce,
	}

	if c.dump {
		record, err := canonicalJSON(t.Raw)
		if err != nil {
			return err
		}
		rj.Record = record
	}

	for _, res := range report.Results {
		if !c.includePasses && res.Err == nil && res.Passed {
			continue
		}

		oj := OpJSON{
			Index:      res.Index,
			Collection: res.Op.Collection,
			DocID:      txn.FormatDocID(res.Op.DocID),
			Kind:       res.Op.Kind(),
			Assert:     res.Op.Assertion.Kind(),
			Result:     strings.ToLower(verdict(res)),
		}

		if res.Err != nil {
			oj.Error = res.Err.Error()
		}

		if c.dump {
			if res.Existing != nil {
				existing, err := canonicalJSON(res.Existing)
				if err != nil {
					return err
				}
				oj.Existing = existing
			}

			payload := res.Op.Insert
			if payload == nil {
				payload = res.Op.Update
			}
			if payload != nil {
				doc, err := canonicalJSON(payload)
				if err != nil {
					return err
				}
				oj.Document = doc
			}
		}

		rj.Ops = append(rj.Ops, oj)
	}

	c.reports = append(c.reports, rj)
	return nil
}

// outputInspectJSON outputs the inspection result as JSON.
func outputInspectJSON(cmd *cobra.Command, result InspectResult) error {
	response := CLIResponse{
		Status:  "ok",
		Data:    result,
		TraceID: uuid.Must(uuid.NewV7()).String(),
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
