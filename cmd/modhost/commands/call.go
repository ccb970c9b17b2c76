package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newCallCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <identity> <method> [args...]",
		Short: "Dispatch a capability on a controller",
		Long: `Boot the runtime and dispatch method on the controller registered under
identity. Arguments are parsed as YAML scalars or flow collections, so 3 is an
integer, true a bool and '{a: 1}' a mapping.

A method no tier provides prints nothing and is reported as a diagnostic.`,
		Example: `  # Call a helper method
  modhost call Acme format "hello"

  # Call with structured arguments
  modhost call Acme render '{title: Home}' '[1, 2]' --json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			identity, method := args[0], args[1]

			callArgs, err := parseArgs(args[2:])
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			if err := rt.Boot(ctx); err != nil {
				return err
			}

			log.Debug().Str("controller", identity).Str("method", method).Int("args", len(callArgs)).Msg("Dispatching")
			result, err := rt.Registry.Dispatch(ctx, identity, method, callArgs...)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}
			if result != nil {
				fmt.Println(result)
			}
			return nil
		},
	}

	return cmd
}

// parseArgs decodes each command-line argument as a YAML value.
func parseArgs(raw []string) ([]any, error) {
	out := make([]any, len(raw))
	for i, arg := range raw {
		var v any
		if err := yaml.Unmarshal([]byte(arg), &v); err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = normalize(v)
	}
	return out, nil
}

// normalize converts decoded YAML into the argument types dispatch understands.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case map[string]any:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}
