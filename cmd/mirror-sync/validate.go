package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/mirror-sync/internal/provider"
	"github.com/open-edge-platform/mirror-sync/internal/utils/config"
	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
)

// createValidateCommand creates the validate subcommand
func createValidateCommand() *cobra.Command {
	validateCmd := &cobra.Command{
		Use:   "validate [flags] [CONFIG_FILE]",
		Short: "Validate a mirror-sync config file",
		Long: `Validate a config file against the config schema without syncing anything.
Without CONFIG_FILE the file given by --config (or the XDG default) is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: executeValidate,
	}

	return validateCmd
}

// executeValidate handles the validate command logic
func executeValidate(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	cfg := config.GlConfig
	source := "built-in defaults"
	if len(args) == 1 {
		var err error
		cfg, err = config.Load(args[0])
		if err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
		source = args[0]
	} else if configFile != "" {
		source = configFile
	}

	for _, repo := range cfg.Repositories {
		if _, ok := provider.Get(repo.Vendor); !ok {
			return fmt.Errorf("config validation failed: repository %s: unknown vendor %q (known: %v)",
				repo.Name, repo.Vendor, provider.Names())
		}
	}

	log.Infof("config validation successful for %s", source)
	writeOut(cmd, "%s: %d repositories, %d workers, mirror root %s\n",
		source, len(cfg.Repositories), cfg.Workers, cfg.MirrorRoot)

	if verbose {
		for _, repo := range cfg.Repositories {
			writeOut(cmd, "  %s (%s) %s dists=%v sections=%v archs=%v\n",
				repo.Name, repo.Vendor, repo.URL, repo.Dists, repo.Sections, repo.Archs)
		}
	}
	return nil
}
