package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	rootpkg "github.com/getpup/configsync"
	"github.com/spf13/cobra"
)

// AlternativeOptions holds flags for the alternative commands.
type AlternativeOptions struct {
	*RootOptions
	Options string
	Skip    int
	Limit   int
}

// NewAlternativeCommand creates the alternative command group.
func NewAlternativeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AlternativeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:     "alternative",
		Aliases: []string{"alt"},
		Short:   "Inspect and edit alternative configurations",
	}

	cmd.AddCommand(newAlternativeGetCommand(opts))
	cmd.AddCommand(newAlternativeSetCommand(opts))
	cmd.AddCommand(newAlternativeListCommand(opts))
	cmd.AddCommand(newAlternativeCountCommand(opts))
	cmd.AddCommand(newAlternativeRemoveCommand(opts))

	return cmd
}

func newAlternativeGetCommand(opts *AlternativeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <endpoint-id>",
		Short: "Print the effective configuration of an endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			cfg, err := sess.svc.GetAlternativeConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, cfg, func(w io.Writer) error {
				return writeConfig(w, cfg)
			})
		},
	}
}

func newAlternativeSetCommand(opts *AlternativeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <endpoint-id>",
		Short: "Merge options into the configuration of an endpoint and publish it",
		Long: `Merge the options given as a JSON object into the effective configuration of
an endpoint and publish the result to every process.

Example:
  configsync alternative set search --options '{"method":"probability","probability":{"classic":0.2,"ranked":0.8}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var partial rootpkg.Config
			if err := json.Unmarshal([]byte(opts.Options), &partial); err != nil {
				return fmt.Errorf("invalid --options JSON: %w", err)
			}

			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.UpdateAlternativeConfig(cmd.Context(), args[0], partial); err != nil {
				return err
			}
			cfg, err := sess.svc.GetAlternativeConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, cfg, func(w io.Writer) error {
				return writeConfig(w, cfg)
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Options, "options", "o", "{}", "options to merge, as a JSON object")

	return cmd
}

func newAlternativeListCommand(opts *AlternativeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List known endpoints and their overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			items, err := sess.svc.ListAlternatives(cmd.Context(), opts.Skip, opts.Limit)
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, items, func(w io.Writer) error {
				for _, it := range items {
					if it.Override {
						encoded, err := json.Marshal(it.Config)
						if err != nil {
							return err
						}
						fmt.Fprintf(w, "%s\toverride\t%s\n", it.EndpointID, encoded)
						continue
					}
					fmt.Fprintf(w, "%s\tlocal\t%s\n", it.EndpointID, strings.Join(it.Methods, ","))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "number of endpoints to skip")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of endpoints (0: no limit)")

	return cmd
}

func newAlternativeCountCommand(opts *AlternativeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count known endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.svc.CountAlternatives(cmd.Context())
			if err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, map[string]int{"count": n}, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, n)
				return err
			})
		},
	}
}

func newAlternativeRemoveCommand(opts *AlternativeOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <endpoint-id>",
		Aliases: []string{"rm"},
		Short:   "Delete the stored override of an endpoint",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd.Context(), opts.RootOptions, false)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.svc.RemoveAlternative(cmd.Context(), args[0]); err != nil {
				return err
			}
			return output(cmd.OutOrStdout(), opts.Format, map[string]string{"removed": args[0]}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "removed %s\n", args[0])
				return err
			})
		},
	}
}

// writeConfig prints one option per line, sorted by name.
func writeConfig(w io.Writer, cfg rootpkg.Config) error {
	for _, k := range slices.Sorted(maps.Keys(cfg)) {
		encoded, err := json.Marshal(cfg[k])
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, encoded); err != nil {
			return err
		}
	}
	return nil
}
