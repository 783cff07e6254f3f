package cli

import (
	"fmt"
	"io"

	rootpkg "github.com/getpup/configsync"
	"github.com/spf13/cobra"
)

// ActionOptions holds flags for the action run command.
type ActionOptions struct {
	*RootOptions
	Target string
}

// NewActionCommand creates the action command group.
func NewActionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Publish cluster actions",
	}
	cmd.AddCommand(newActionRunCommand(rootOpts))
	return cmd
}

func newActionRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ActionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <action-id>",
		Short: "Publish an action to every process, or to one process ID",
		Long: `Publish an action record. Every process whose ID matches --target picks it up
on its next pull; without --target every process does.

Example:
  configsync action run flush_cache
  configsync action run rebuild_index --target worker`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.RunAction(cmd.Context(), args[0], opts.Target); err != nil {
				return err
			}

			target := opts.Target
			if target == "" {
				target = rootpkg.Wildcard
			}
			result := map[string]string{"action_id": args[0], "target": target}
			return output(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "published %s to %s\n", args[0], target)
				return err
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "process ID to address (default: every process)")

	return cmd
}
