package main

import (
	"github.com/spf13/cobra"
)

// options holds the persistent flags. Empty values leave the configured
// ones alone.
type options struct {
	configFile string
	storePath  string
	inMemory   bool
	libraries  []string
	logLevel   string
	sceneName  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "liboverride",
		Short: "Override linked library data and keep the overrides in sync",
		Long: `liboverride links entities from library files (YAML or TOML), creates
local overrides of them, records the edits made to the overrides as rules,
and replays those rules when the libraries change.

Overrides are kept in a local store between runs.`,
		SilenceUsage: true,
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.configFile, "config", "c", "", "config file (default liboverride.{yaml,toml} in the working directory)")
	f.StringVar(&opts.storePath, "store", "", "override store directory")
	f.BoolVar(&opts.inMemory, "in-memory", false, "keep overrides in memory only")
	f.StringSliceVarP(&opts.libraries, "lib", "l", nil, "library file to link, added to the configured ones")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error, disabled)")
	f.StringVar(&opts.sceneName, "scene", "Scene", "local collection new overrides are instanced in")

	root.AddCommand(
		newCreateCmd(opts),
		newDeleteCmd(opts),
		newMakeLocalCmd(opts),
		newSetCmd(opts),
		newGetCmd(opts),
		newDiffCmd(opts),
		newApplyCmd(opts),
		newResyncCmd(opts),
		newResetCmd(opts),
		newCheckCmd(opts),
		newShowCmd(opts),
		newExportCmd(opts),
		newWatchCmd(opts),
	)
	return root
}
