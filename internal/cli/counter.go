package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// CounterOptions holds flags for the counter commands.
type CounterOptions struct {
	*RootOptions
	Amount int64
}

// NewCounterCommand creates the counter command group.
func NewCounterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CounterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "counter",
		Short: "Increment shared counters",
	}

	next := &cobra.Command{
		Use:   "next <counter-id>",
		Short: "Increment a counter and print the new value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			v, err := sess.svc.IncrementCounter(cmd.Context(), args[0], opts.Amount)
			if err != nil {
				return err
			}
			result := map[string]any{"counter_id": args[0], "value": v}
			return output(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, v)
				return err
			})
		},
	}
	next.Flags().Int64Var(&opts.Amount, "amount", 1, "amount to add")

	cmd.AddCommand(next)
	return cmd
}
