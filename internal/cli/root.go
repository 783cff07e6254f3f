// Package cli implements the configsync command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/getpup/configsync/config"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	ProcessID  string
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the configsync CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "configsync",
		Short: "configsync - coordinator-free cluster actions and alternative configuration",
		Long: `Run a configsync process, or administer the shared store it synchronizes through:
publish actions, edit alternative configurations, inspect profiles and counters.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to the YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.ProcessID, "process-id", "", "override the configured process ID")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewActionCommand(opts))
	cmd.AddCommand(NewAlternativeCommand(opts))
	cmd.AddCommand(NewProfilesCommand(opts))
	cmd.AddCommand(NewCounterCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

// loadConfig reads the configuration file, or the defaults when none is given.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.ConfigPath == "" {
		def := config.Default()
		cfg = &def
	} else {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.ProcessID != "" {
		cfg.ProcessID = opts.ProcessID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
