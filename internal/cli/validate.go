package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mutate/internal/compiler"
	"github.com/roach88/mutate/internal/provider"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	CheckOperations bool
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Count  int                        `json:"count"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <decls-dir>",
		Short: "Validate a declaration catalog without writing output",
		Long: `Validate the CUE mutation declarations in a directory.

Stops at the first load or compile error, then reports every validation
problem. With --operations, each declared type must also be an operation
the reference SQLite adapter serves.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.CheckOperations, "operations", false, "check types against the reference adapter's operations")

	return cmd
}

func runValidate(opts *ValidateOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	catalog, errs := compiler.LoadDir(dir, compiler.LoadModeFailFast)
	if catalog == nil {
		code, message := parseCompileError(errs[0])
		return formatter.fail(ExitCommandError, code, message, nil)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", catalog.FileCount, dir)

	var problems []compiler.ValidationError
	for _, err := range errs {
		problems = append(problems, toValidationError(err))
	}
	problems = append(problems, compiler.Validate(catalog.Declarations)...)
	if opts.CheckOperations {
		// The provider only needs its store once an operation runs.
		problems = append(problems, compiler.ValidateOperations(catalog.Declarations, provider.New(nil))...)
	}

	if len(problems) > 0 {
		return outputValidationErrors(formatter, problems)
	}
	return outputValidateSuccess(formatter, len(catalog.Declarations))
}

// toValidationError folds a load or compile error into the validation
// report.
func toValidationError(err error) compiler.ValidationError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ValidationError{
			Field:   compileErr.Field,
			Message: compileErr.Message,
			Code:    compiler.ErrCompile,
		}
	}
	code, message := parseCompileError(err)
	return compiler.ValidationError{Field: "load", Message: message, Code: code}
}

func outputValidateSuccess(formatter *OutputFormatter, count int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Count: count})
	}

	fmt.Fprintf(formatter.Writer, "✓ All %d declaration(s) valid\n", count)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s\n", err.Error())
	}

	// Validation failures are exit code 1, like failed scenarios.
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
