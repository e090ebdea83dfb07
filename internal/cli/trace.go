package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database    string
	Correlation string
	Fetch       string
}

// Call status labels.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusPending   = "pending"
)

// TraceEvent is one journaled entry in a call's timeline.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	ID      string `json:"id"`
	Type    string `json:"type"`
	Payload any    `json:"payload"`
	Meta    any    `json:"meta"`
}

// CallTrace is the timeline of one correlated call.
type CallTrace struct {
	Correlation string       `json:"correlation"`
	Fetch       string       `json:"fetch"`
	Resource    string       `json:"resource,omitempty"`
	Status      string       `json:"status"`
	Events      []TraceEvent `json:"events"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int `json:"total_events"`
	Calls       int `json:"calls"`
	Succeeded   int `json:"succeeded"`
	Failed      int `json:"failed"`
	Pending     int `json:"pending"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Calls []CallTrace `json:"calls"`
	Stats TraceStats  `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show journaled calls grouped by correlation",
		Long: `Show the journaled channel entries grouped by the call that produced them.

Each call is listed with its intent and settlement entries. A call with
an intent but no settlement is reported as pending.

Examples:
  mutate trace --db ./mutate.db
  mutate trace --db ./mutate.db --correlation 0192f0c4-...
  mutate trace --db ./mutate.db --fetch update --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Correlation, "correlation", "", "trace a single call")
	cmd.Flags().StringVar(&opts.Fetch, "fetch", "", "only calls to this operation")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer st.Close()

	var entries []channel.Entry
	switch {
	case opts.Correlation != "":
		entries, err = st.ReadCorrelation(ctx, opts.Correlation)
	case opts.Fetch != "":
		entries, err = st.ReadFetch(ctx, opts.Fetch)
	default:
		entries, err = st.ReadJournal(ctx)
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("reading journal: %v", err), nil)
	}

	result := buildTrace(entries)
	if opts.Format == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(CLIResponse{Status: "ok", Data: result})
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

// openExistingStore refuses to create a database as a side effect of a
// read-only command.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return st, nil
}

// buildTrace groups entries by correlation in order of first appearance.
// Uncorrelated entries, dispatched directly on the channel, form their
// own group under an empty correlation.
func buildTrace(entries []channel.Entry) TraceResult {
	result := TraceResult{Calls: []CallTrace{}}
	index := map[string]int{}

	for _, e := range entries {
		a := e.Action
		i, ok := index[a.Correlation]
		if !ok {
			i = len(result.Calls)
			index[a.Correlation] = i
			result.Calls = append(result.Calls, CallTrace{
				Correlation: a.Correlation,
				Fetch:       a.Meta.Fetch,
				Resource:    a.Meta.Resource,
				Status:      StatusPending,
			})
		}
		call := &result.Calls[i]
		call.Events = append(call.Events, TraceEvent{
			Seq:     e.Seq,
			ID:      e.ID,
			Type:    a.Type,
			Payload: ir.ToAny(a.Payload),
			Meta:    ir.ToAny(a.Meta.Object()),
		})
		switch a.Type {
		case ir.ActionCustomFetchSuccess:
			call.Status = StatusSucceeded
		case ir.ActionCustomFetchFailure:
			call.Status = StatusFailed
		}
		result.Stats.TotalEvents++
	}

	for _, c := range result.Calls {
		if c.Correlation == "" {
			continue
		}
		result.Stats.Calls++
		switch c.Status {
		case StatusSucceeded:
			result.Stats.Succeeded++
		case StatusFailed:
			result.Stats.Failed++
		default:
			result.Stats.Pending++
		}
	}
	return result
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	if len(result.Calls) == 0 {
		fmt.Fprintln(w, "No journaled entries found")
		return nil
	}

	for _, call := range result.Calls {
		name := call.Correlation
		if name == "" {
			name = "(uncorrelated)"
		}
		target := call.Fetch
		if call.Resource != "" {
			target += " " + call.Resource
		}
		fmt.Fprintf(w, "%s  %s  [%s]\n", name, target, call.Status)

		for _, ev := range call.Events {
			payload, err := ir.MarshalCanonical(ev.Payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "  [%d] %s %s\n", ev.Seq, ev.Type, payload)
			if verbose {
				meta, err := ir.MarshalCanonical(ev.Meta)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "       meta: %s\n", meta)
				fmt.Fprintf(w, "       id:   %s\n", truncateID(ev.ID))
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%d event(s), %d call(s): %d succeeded, %d failed, %d pending\n",
		result.Stats.TotalEvents, result.Stats.Calls,
		result.Stats.Succeeded, result.Stats.Failed, result.Stats.Pending)
	return nil
}

// truncateID shortens an entry id for display.
func truncateID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
