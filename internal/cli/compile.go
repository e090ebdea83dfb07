package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/mutate/internal/compiler"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the compiled catalog.
type CompilationResult struct {
	Declarations []compiler.Named `json:"declarations"`
	FileCount    int              `json:"files"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <decls-dir>",
		Short: "Compile a CUE declaration catalog",
		Long: `Compile the CUE mutation declarations in a directory.

Every entry under "mutation" is compiled and validated. The catalog is
printed, or written as JSON to --output.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	catalog, errs := compiler.LoadDir(dir, compiler.LoadModeCollectAll)
	if catalog == nil {
		code, message := parseCompileError(errs[0])
		return formatter.fail(ExitCommandError, code, message, nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", catalog.FileCount, dir)
	for _, n := range catalog.Declarations {
		formatter.VerboseLog("Compiled mutation: %s", n.Name)
	}

	for _, ve := range compiler.Validate(catalog.Declarations) {
		errs = append(errs, ve)
	}
	if len(errs) > 0 {
		return outputCompileErrors(formatter, errs)
	}

	result := &CompilationResult{
		Declarations: catalog.Declarations,
		FileCount:    catalog.FileCount,
	}

	if opts.Output != "" {
		if err := writeCatalogFile(result, opts.Output); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d mutation(s) from %d file(s)\n\n",
		len(result.Declarations), result.FileCount)

	for _, n := range result.Declarations {
		resource := n.Declaration.Resource
		if resource == "" {
			resource = "-"
		}
		suffix := ""
		if n.Declaration.Options.WantsPromise() {
			suffix = " (return_promise)"
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s %s%s\n", n.Name, n.Declaration.Type, resource, suffix)
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote catalog to %s\n", outputFile)
	}
	return nil
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseCompileError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		code, message := parseCompileError(err)
		if pos := errorPosition(err); pos != "" {
			fmt.Fprintln(formatter.Writer, pos)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseCompileError extracts the error code and message from a load,
// compile or validation error.
func parseCompileError(err error) (string, string) {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return compiler.ErrCompile, fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message)
	}
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	var validationErr compiler.ValidationError
	if errors.As(err, &validationErr) {
		field := validationErr.Field
		if validationErr.Name != "" {
			field = validationErr.Name + "." + field
		}
		return validationErr.Code, fmt.Sprintf("%s: %s", field, validationErr.Message)
	}
	return compiler.ErrCodeGeneric, err.Error()
}

// errorPosition renders file:line:col for errors that carry a position.
func errorPosition(err error) string {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d", compileErr.Pos.Filename(), compileErr.Pos.Line(), compileErr.Pos.Column())
	}
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
	}
	return ""
}

func writeCatalogFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
