package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/chartsync/internal/chart"
	"github.com/roach88/chartsync/internal/render"
	"github.com/roach88/chartsync/internal/specload"
)

// ValidationError is one problem found in a spec.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool              `json:"valid"`
	Format     string            `json:"format,omitempty"`
	Selections map[string]string `json:"selections,omitempty"`
	Params     []string          `json:"params,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
	Initial    map[string]any    `json:"initial,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <spec>",
		Short: "Check that a spec loads and builds",
		Long: `Load a spec, build its graph and analyze its params without embedding it.

Reports the selections (with their types) and parameters a bridge would
watch. Exit code 1 when the spec loads but does not build; 2 when it cannot
be loaded at all.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, specPath string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	loaded, err := specload.Load(specPath)
	if err != nil {
		var loadErr *specload.LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Error(), nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}
	formatter.VerboseLog("Loaded %s spec from %s", loaded.Format, loaded.Path)

	var errs []ValidationError
	if _, err := render.BuildContext(loaded.Spec); err != nil {
		errs = append(errs, ValidationError{Code: ErrCodeGraph, Message: err.Error()})
	}
	analysis, err := chart.Analyze(loaded.Spec)
	if err != nil {
		errs = append(errs, ValidationError{Code: ErrCodeParams, Message: err.Error()})
	}
	if len(errs) > 0 {
		return outputValidationErrors(formatter, errs)
	}

	result := ValidationResult{
		Valid:      true,
		Format:     string(loaded.Format),
		Selections: make(map[string]string, len(analysis.SelectionTypes)),
		Params:     analysis.ParamWatches,
		Initial:    analysis.Params,
	}
	for name, typ := range analysis.SelectionTypes {
		result.Selections[name] = string(typ)
	}
	return outputValidateSuccess(formatter, result)
}

func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Spec valid (%s)\n", result.Format)
	for _, name := range chart.Names(result.Selections) {
		fmt.Fprintf(w, "  selection %s (%s)\n", name, result.Selections[name])
	}
	for _, name := range result.Params {
		fmt.Fprintf(w, "  param %s\n", name)
	}
	return nil
}

// outputValidateError reports a spec that could not be loaded.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors reports a spec that loaded but does not build.
func outputValidationErrors(formatter *OutputFormatter, errs []ValidationError) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Format == "json" {
		err := writeJSON(formatter.Writer, CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		})
		if err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}
	return failure
}
