package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/vmsync/internal/coerce"
	"github.com/roach88/vmsync/internal/ir"
)

// CoerceOptions holds flags for the coerce command.
type CoerceOptions struct {
	*RootOptions
	typedInput
	Previous string
}

// CoerceResult is the JSON payload of the coerce command.
type CoerceResult struct {
	State   json.RawMessage `json:"state"`
	Reused  []string        `json:"reused,omitempty"`
	Changed []string        `json:"changed,omitempty"`
}

// NewCoerceCommand creates the coerce command.
func NewCoerceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CoerceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "coerce <input.json>",
		Short: "Coerce wire JSON against a declared type",
		Long: `Coerce untyped wire JSON against a declared type and print the canonical
snapshot.

With --previous, the previous snapshot is used as the structural-sharing
hint and the command reports which top-level properties were reused.

Example:
  vmsync coerce --types types.yaml --type Root input.json
  vmsync coerce --types types.yaml --type Root --previous old.json input.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCoerce(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Types, "types", "", "descriptor file or directory (required)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "root type reference, e.g. Root or []Item (required)")
	cmd.Flags().StringVar(&opts.Previous, "previous", "", "previous snapshot used as the reuse hint")
	_ = cmd.MarkFlagRequired("types")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runCoerce(opts *CoerceOptions, input string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	reg, t, err := opts.resolve(formatter, nil)
	if err != nil {
		return err
	}
	c := coerce.New(reg)

	var previous ir.Node
	if opts.Previous != "" {
		raw, err := readNode(formatter, opts.Previous)
		if err != nil {
			return err
		}
		previous, err = c.Coerce(raw, t, nil)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeCoercion, "previous snapshot does not fit "+t.String(), err)
		}
	}

	raw, err := readNode(formatter, input)
	if err != nil {
		return err
	}
	typed, err := c.Coerce(raw, t, previous)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeCoercion, "input does not fit "+t.String(), err)
	}

	body, err := ir.MarshalCanonical(typed)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "cannot encode result", err)
	}
	result := CoerceResult{State: body}
	if previous != nil {
		result.Reused, result.Changed = compareTopLevel(typed, previous)
		formatter.VerboseLog("reused %d, changed %d top-level value(s)", len(result.Reused), len(result.Changed))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintln(formatter.Writer, string(body))
	if previous != nil {
		if ir.Same(typed, previous) {
			fmt.Fprintln(formatter.Writer, "unchanged: previous snapshot reused")
		} else {
			fmt.Fprintf(formatter.Writer, "reused: %v\nchanged: %v\n", result.Reused, result.Changed)
		}
	}
	return nil
}

// compareTopLevel splits the top-level properties (or indices) of next by
// whether they share identity with prev.
func compareTopLevel(next, prev ir.Node) (reused, changed []string) {
	reused, changed = []string{}, []string{}
	switch nv := next.(type) {
	case *ir.Object:
		po, _ := prev.(*ir.Object)
		for _, k := range nv.Keys() {
			cur, _ := nv.Get(k)
			var old ir.Node
			if po != nil {
				old, _ = po.Get(k)
			}
			if old != nil && ir.Same(cur, old) {
				reused = append(reused, k)
			} else {
				changed = append(changed, k)
			}
		}
	case *ir.Array:
		pa, _ := prev.(*ir.Array)
		for i, cur := range nv.Elements() {
			if pa != nil && i < pa.Len() && ir.Same(cur, pa.At(i)) {
				reused = append(reused, fmt.Sprint(i))
			} else {
				changed = append(changed, fmt.Sprint(i))
			}
		}
	}
	return reused, changed
}
