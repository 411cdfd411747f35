package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	_ "github.com/open-edge-platform/mirror-sync/internal/provider/debian"
	_ "github.com/open-edge-platform/mirror-sync/internal/provider/ubuntu"
	"github.com/open-edge-platform/mirror-sync/internal/utils/config"
	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
)

// Global flags
var (
	configFile string
	logLevel   string
	verbose    bool
)

// configDir is the directory of the loaded config file; relative keyring
// paths resolve against it.
var configDir = "."

func main() {
	if err := createRootCommand().Execute(); err != nil {
		logger.Logger().Errorf("%v", err)
		os.Exit(1)
	}
}

func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mirror-sync",
		Short: "Keeps a local Debian package mirror in sync with a remote archive",
		Long: `mirror-sync fetches the Packages indices of the configured repositories,
computes what changed since the last run and downloads new and upgraded
packages with a bounded worker pool. Every artifact is checked against the
SHA256 its index lists before it is moved into the mirror.`,
		SilenceUsage: true,
	}

	bindGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(createSyncCommand())
	rootCmd.AddCommand(createDiffCommand())
	rootCmd.AddCommand(createValidateCommand())
	rootCmd.AddCommand(createReposCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

func bindGlobalFlags(fs *pflag.FlagSet) {
	fs.StringVar(&configFile, "config", "", "Path to the config file (default: $XDG_CONFIG_HOME/"+config.DefaultConfigName+")")
	fs.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	fs.BoolVarP(&verbose, "verbose", "v", false, "Shorthand for --log-level debug")
}

// attachLoggingHooks gives every subcommand a pre-run that loads the config
// and initializes the logger before the command body runs.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			return initConfigAndLogger(cmd)
		}
	}
}

func initConfigAndLogger(cmd *cobra.Command) error {
	if err := loadGlobalConfig(); err != nil {
		return err
	}

	level := resolveRequestedLogLevel(cmd)
	if level == "" {
		level = config.GlConfig.Logging.Level
	}
	if _, err := logger.Init(level); err != nil {
		return err
	}
	return nil
}

// loadGlobalConfig loads --config, or the XDG default when present. Without
// either the built-in defaults stay in place.
func loadGlobalConfig() error {
	path := configFile
	if path == "" {
		found, err := config.DefaultConfigPath()
		if err != nil {
			return nil
		}
		path = found
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	config.GlConfig = cfg
	configDir = filepath.Dir(path)
	return nil
}

// resolveRequestedLogLevel returns the level asked for on the command line,
// or "" to fall back to the config file.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if f := cmd.Flags().Lookup("verbose"); f != nil && f.Changed && f.Value.String() == "true" {
		return "debug"
	}
	return ""
}

// writeOut prints to the command's output stream.
func writeOut(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
