package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/mutate/internal/admin"
	"github.com/roach88/mutate/internal/channel"
	"github.com/roach88/mutate/internal/compiler"
	"github.com/roach88/mutate/internal/engine"
	"github.com/roach88/mutate/internal/ir"
	"github.com/roach88/mutate/internal/metrics"
	"github.com/roach88/mutate/internal/provider"
	"github.com/roach88/mutate/internal/store"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Resource      string
	Payload       string
	Database      string
	Decls         string
	Decl          string
	Concurrency   int
	ReturnPromise bool
	Timeout       time.Duration
}

// CallOutcome is the settlement of one call, read back from the channel.
type CallOutcome struct {
	Correlation string `json:"correlation"`
	Outcome     string `json:"outcome"`
	Data        any    `json:"data,omitempty"`
	Total       *int64 `json:"total,omitempty"`
	Error       string `json:"error,omitempty"`
	Status      int    `json:"status,omitempty"`
}

// InvokeResult is the output of the invoke command.
type InvokeResult struct {
	Operation string        `json:"operation"`
	Resource  string        `json:"resource,omitempty"`
	Calls     []CallOutcome `json:"calls"`
	Final     CallState     `json:"state"`
}

// CallState is the mutation state after every call settled.
type CallState struct {
	Loaded bool   `json:"loaded"`
	Data   any    `json:"data"`
	Error  string `json:"error,omitempty"`
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke [operation]",
		Short: "Trigger a mutation against the SQLite reference adapter",
		Long: `Trigger a mutation against the SQLite reference adapter and journal
every channel entry to the database.

The declaration is either built from flags, with the operation as the
argument, or taken from a catalog with --decls and --decl. An operation
argument given together with --decl overrides the declared type.

Examples:
  mutate invoke create --resource posts --payload '{"data":{"title":"Hello"}}'
  mutate invoke --decls ./decls --decl approvePost --payload '{"id":3}'
  mutate invoke update --resource posts --payload '{"id":1,"data":{"views":1}}' --concurrency 4`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			operation := ""
			if len(args) == 1 {
				operation = args[0]
			}
			return runInvoke(cmd.Context(), opts, operation, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Resource, "resource", "", "resource name")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "payload as a JSON object")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite database path (defaults to store.path from config)")
	cmd.Flags().StringVar(&opts.Decls, "decls", "", "directory of CUE declarations")
	cmd.Flags().StringVar(&opts.Decl, "decl", "", "name of the declared mutation to trigger")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 1, "number of overlapping triggers")
	cmd.Flags().BoolVar(&opts.ReturnPromise, "return-promise", false, "wait on each call's result")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "time allowed for every call to settle")

	return cmd
}

func runInvoke(ctx context.Context, opts *InvokeOptions, operation string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	logger := opts.logger()

	if opts.Concurrency < 1 {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "--concurrency must be at least 1", nil)
	}

	decl, err := resolveInvokeDeclaration(opts, operation)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, err.Error(), nil)
	}
	payload, err := ir.ParseObject([]byte(opts.Payload))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, fmt.Sprintf("invalid --payload: %v", err), nil)
	}
	ov := ir.Override{Payload: payload}
	if opts.ReturnPromise {
		ov.Options.ReturnPromise = ir.BoolPtr(true)
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = opts.Config.Store.Path
	}
	if dbPath == "" {
		return formatter.fail(ExitCommandError, ErrCodeInvalidInput, "--db is required when no store.path is configured", nil)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("opening database: %v", err), nil)
	}
	defer st.Close()

	ch, stopMetrics, err := buildJournaledChannel(ctx, opts, st, logger)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStore, err.Error(), nil)
	}
	defer stopMetrics()
	startSeq := ch.Clock().Current()

	env, err := admin.New(ctx, admin.Config{
		Adapter:    provider.New(st, provider.WithLogger(logger)),
		Channel:    ch,
		Logger:     logger,
		FlowGen:    engine.UUIDv7Generator{},
		LatestOnly: opts.Config.Mutation.LatestOnly,
	})
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfiguration, err.Error(), nil)
	}
	m := env.Mutation(decl)
	defer m.Dispose()

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// Rejections are read back from the channel; only a trigger that never
	// reached the channel fails the group. The adapter gets ctx rather than
	// the group's context, which is cancelled as soon as Wait returns.
	var g errgroup.Group
	for i := 0; i < opts.Concurrency; i++ {
		g.Go(func() error {
			call, err := m.Trigger(ctx, ov)
			if err != nil {
				return err
			}
			if call != nil {
				_, _ = call.Wait(ctx)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var ce *ir.ConfigurationError
		if errors.As(err, &ce) {
			return formatter.fail(ExitCommandError, string(ce.Code), ce.Error(), nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeInvokeFailed, err.Error(), nil)
	}
	if err := m.Drain(ctx); err != nil {
		return formatter.fail(ExitFailure, ErrCodeInvokeFailed, fmt.Sprintf("calls did not settle: %v", err), nil)
	}

	result := InvokeResult{
		Operation: decl.Type,
		Resource:  decl.Resource,
		Calls:     outcomesAfter(ch.Entries(), startSeq),
		Final:     callState(m.State()),
	}
	logger.Debug("invoke settled",
		"operation", decl.Type,
		"resource", decl.Resource,
		"calls", len(result.Calls),
		"last_seq", ch.Clock().Current(),
	)

	if err := outputInvokeResult(formatter, result); err != nil {
		return err
	}
	for _, c := range result.Calls {
		if c.Outcome == OutcomeFailure {
			return NewExitError(ExitFailure, fmt.Sprintf("call %s rejected: %s", c.Correlation, c.Error))
		}
	}
	return nil
}

func resolveInvokeDeclaration(opts *InvokeOptions, operation string) (ir.Declaration, error) {
	var decl ir.Declaration
	switch {
	case opts.Decls != "" || opts.Decl != "":
		if opts.Decls == "" || opts.Decl == "" {
			return ir.Declaration{}, errors.New("--decls and --decl must be given together")
		}
		catalog, errs := compiler.LoadDir(opts.Decls, compiler.LoadModeFailFast)
		if len(errs) > 0 {
			return ir.Declaration{}, fmt.Errorf("loading %s: %w", opts.Decls, errors.Join(errs...))
		}
		named, ok := catalog.Lookup(opts.Decl)
		if !ok {
			return ir.Declaration{}, fmt.Errorf("mutation %q not declared in %s", opts.Decl, opts.Decls)
		}
		decl = named.Declaration
	case operation == "":
		return ir.Declaration{}, errors.New("an operation argument or --decls with --decl is required")
	}

	if operation != "" {
		decl.Type = operation
	}
	if opts.Resource != "" {
		decl.Resource = opts.Resource
	}
	return decl, nil
}

// buildJournaledChannel creates a channel that continues the journal's
// sequence and persists every entry. With metrics enabled it also counts
// entries and, when an address is set, serves them until the returned
// stop func runs.
func buildJournaledChannel(ctx context.Context, opts *InvokeOptions, st *store.Store, logger *slog.Logger) (*channel.Channel, func(), error) {
	clock, err := st.ResumeClock(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("reading journal: %w", err)
	}

	mw := []channel.Middleware{store.JournalMiddleware(st, logger)}
	stop := func() {}

	if opts.Config.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		met, err := metrics.New(reg)
		if err != nil {
			return nil, nil, fmt.Errorf("registering metrics: %w", err)
		}
		mw = append(mw, met.Middleware())

		if addr := opts.Config.Metrics.Addr; addr != "" {
			srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg)}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", "addr", addr, "error", err)
				}
			}()
			logger.Info("serving metrics", "addr", addr)
			stop = func() {
				if pending := met.Pending(); pending > 0 {
					logger.Warn("calls still in flight at exit", "pending", pending)
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}
		}
	}

	ch := channel.New(
		channel.WithClock(clock),
		channel.WithLogger(logger),
		channel.WithMiddleware(mw...),
	)
	return ch, stop, nil
}

// Outcome labels used in invoke output.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// outcomesAfter pairs each settlement committed after seq with its call.
func outcomesAfter(entries []channel.Entry, seq int64) []CallOutcome {
	var out []CallOutcome
	for _, e := range entries {
		if e.Seq <= seq {
			continue
		}
		a := e.Action
		switch a.Type {
		case ir.ActionCustomFetchSuccess:
			c := CallOutcome{Correlation: a.Correlation, Outcome: OutcomeSuccess, Data: ir.ToAny(a.Payload.Get("data"))}
			if total, ok := a.Payload.Get("total").(ir.Int); ok {
				n := int64(total)
				c.Total = &n
			}
			out = append(out, c)
		case ir.ActionCustomFetchFailure:
			c := CallOutcome{Correlation: a.Correlation, Outcome: OutcomeFailure}
			if msg, ok := a.Meta.Options.Get(ir.MetaKeyError).(ir.String); ok {
				c.Error = string(msg)
			}
			if status, ok := a.Meta.Options.Get(engine.MetaKeyStatus).(ir.Int); ok {
				c.Status = int(status)
			}
			out = append(out, c)
		}
	}
	return out
}

func callState(s ir.State) CallState {
	cs := CallState{Loaded: s.Loaded, Data: ir.ToAny(s.Data)}
	if s.Error != nil {
		cs.Error = s.Error.Error()
	}
	return cs
}

func outputInvokeResult(formatter *OutputFormatter, result InvokeResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	target := result.Operation
	if result.Resource != "" {
		target += " " + result.Resource
	}
	fmt.Fprintf(formatter.Writer, "%s: %d call(s)\n", target, len(result.Calls))
	for _, c := range result.Calls {
		if c.Outcome == OutcomeFailure {
			status := ""
			if c.Status != 0 {
				status = fmt.Sprintf(" (status %d)", c.Status)
			}
			fmt.Fprintf(formatter.Writer, "  ✗ %s: %s%s\n", c.Correlation, c.Error, status)
			continue
		}
		data, err := ir.MarshalCanonical(c.Data)
		if err != nil {
			return err
		}
		fmt.Fprintf(formatter.Writer, "  ✓ %s: %s\n", c.Correlation, data)
	}
	return nil
}
