package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/vmsync/internal/registry"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Types  []string                   `json:"types,omitempty"`
	Errors []registry.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <types>",
		Short: "Validate type descriptors",
		Long: `Load a YAML or CUE descriptor file, or a directory holding one CUE
package, and report every problem found with its error code and line.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	reg, err := registry.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "descriptors not found", err)
		}
		return outputValidationErrors(formatter, toValidationErrors(err))
	}

	ids := reg.TypeIDs()
	formatter.VerboseLog("validated %d type(s) in %s", len(ids), path)
	return outputValidateSuccess(formatter, ids)
}

// toValidationErrors flattens a load failure into ValidationErrors.
func toValidationErrors(err error) []registry.ValidationError {
	var verrs registry.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	var ce *registry.CompileError
	if errors.As(err, &ce) {
		line := 0
		if ce.Pos.IsValid() {
			line = ce.Pos.Line()
		}
		return []registry.ValidationError{{Field: ce.Field, Message: ce.Message, Code: registry.ErrMalformedDocument, Line: line}}
	}
	return []registry.ValidationError{{Field: "load", Message: err.Error(), Code: registry.ErrGeneric}}
}

func outputValidateSuccess(formatter *OutputFormatter, ids []string) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Types: ids})
	}

	fmt.Fprintf(formatter.Writer, "✓ All descriptors valid (%d types)\n", len(ids))
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []registry.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
