package cli

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/statestore/internal/config"
	"github.com/roach88/statestore/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	StoreID string // optional - filter to one store
	Action  string // optional - filter to one action type
}

// TraceResult holds the journal listing.
type TraceResult struct {
	Stores  []string        `json:"stores"`
	Entries []journal.Entry `json:"entries"`
	Stats   TraceStats      `json:"stats"`
}

// TraceStats counts entries by status.
type TraceStats struct {
	Total   int `json:"total"`
	OK      int `json:"ok"`
	Timeout int `json:"timeout"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Nested  int `json:"nested"` // dispatched from inside an async action
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "List journaled dispatches",
		Long: `List the dispatches recorded in a journal, in issuance order per store.

Each entry shows the instruction sequence number, its status, the action
type, the async action that dispatched it (if any) and the digest of the
state tree it published.

The journal path defaults to STATESTORE_JOURNAL.

Examples:
  statestore trace --journal ./trace.db
  statestore trace --journal ./trace.db --store 0192f3c4-...
  statestore trace --journal ./trace.db --action add --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to the SQLite journal")
	cmd.Flags().StringVar(&opts.StoreID, "store", "", "only list entries of this store")
	cmd.Flags().StringVar(&opts.Action, "action", "", "only list entries of this action type")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := commandContext(cmd)
	formatter := newFormatter(cmd, opts.RootOptions)

	path := opts.Journal
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		path = cfg.Journal
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal given: use --journal or STATESTORE_JOURNAL")
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	stores, err := j.Stores(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list stores", err)
	}
	entries, err := j.Entries(ctx, opts.StoreID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list entries", err)
	}

	// Group by store; the journal orders by seq across stores.
	slices.SortStableFunc(entries, func(a, b journal.Entry) int {
		return cmp.Compare(a.StoreID, b.StoreID)
	})

	result := TraceResult{Stores: stores, Entries: make([]journal.Entry, 0, len(entries))}
	if opts.StoreID != "" {
		result.Stores = []string{opts.StoreID}
	}
	for _, e := range entries {
		if opts.Action != "" && e.ActionType != opts.Action {
			continue
		}
		result.Entries = append(result.Entries, e)
		result.Stats.add(e)
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}
	writeTraceText(cmd.OutOrStdout(), result)
	return nil
}

func (s *TraceStats) add(e journal.Entry) {
	s.Total++
	switch e.Status {
	case journal.StatusOK:
		s.OK++
	case journal.StatusTimeout:
		s.Timeout++
	case journal.StatusFailed:
		s.Failed++
	case journal.StatusPending:
		s.Pending++
	}
	if e.ParentID != "" {
		s.Nested++
	}
}

func writeTraceText(w io.Writer, result TraceResult) {
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No dispatches recorded.")
		return
	}

	current := ""
	for _, e := range result.Entries {
		if e.StoreID != current {
			current = e.StoreID
			fmt.Fprintf(w, "Store %s\n", current)
		}
		fmt.Fprintf(w, "  #%-4d %-7s %s", e.Seq, e.Status, e.ActionType)
		if e.ParentID != "" {
			fmt.Fprintf(w, " (from %s)", e.ParentID)
		}
		if e.Error != "" {
			fmt.Fprintf(w, " error=%s", e.Error)
		}
		if e.Digest != "" {
			fmt.Fprintf(w, " digest=%s", shortDigest(e.Digest))
		}
		fmt.Fprintln(w)
	}

	s := result.Stats
	fmt.Fprintf(w, "\n%d dispatches: %d ok, %d timeout, %d failed, %d pending, %d nested\n",
		s.Total, s.OK, s.Timeout, s.Failed, s.Pending, s.Nested)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
