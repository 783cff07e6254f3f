package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

// ProfilesOptions holds flags for the profiles commands.
type ProfilesOptions struct {
	*RootOptions
	Details bool
	TTL     time.Duration
}

// NewProfilesCommand creates the profiles command group.
func NewProfilesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProfilesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Inspect registered process profiles",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the process IDs of every registered profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if opts.Details {
				recs, err := sess.svc.Profiles(cmd.Context())
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts.Format, recs, func(w io.Writer) error {
					for _, rec := range recs {
						fmt.Fprintf(w, "%s\t%s\n", rec.ProcessID, rec.LastHeartbeat.UTC().Format(time.RFC3339))
					}
					return nil
				})
			}

			ids, err := sess.svc.ListProfiles(cmd.Context())
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, ids, func(w io.Writer) error {
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&opts.Details, "details", false, "include the last heartbeat of each profile")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove profiles whose heartbeat is older than --ttl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.svc.PruneProfiles(cmd.Context(), opts.TTL)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, map[string]int{"pruned": n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "pruned %d profiles\n", n)
				return err
			})
		},
	}
	prune.Flags().DurationVar(&opts.TTL, "ttl", 10*time.Minute, "maximum heartbeat age to keep")

	cmd.AddCommand(list, prune)
	return cmd
}
