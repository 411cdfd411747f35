package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/mirror-sync/internal/changeset"
	"github.com/open-edge-platform/mirror-sync/internal/ospackage"
	"github.com/open-edge-platform/mirror-sync/internal/ospackage/debutils"
	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
)

// Diff command flags
var (
	diffFormat string
	diffKinds  []string
)

func createDiffCommand() *cobra.Command {
	diffCmd := &cobra.Command{
		Use:   "diff [flags] DESIRED_INDEX CURRENT_INDEX",
		Short: "Show the change set between two Packages indices",
		Long: `Diff reads two Packages indices (plain, .gz, .xz, .bz2 or .zst) and prints
the entries a sync would apply to turn CURRENT_INDEX into DESIRED_INDEX.
An empty or missing CURRENT_INDEX stands for an empty mirror.`,
		Args: cobra.ExactArgs(2),
		RunE: executeDiff,
	}

	diffCmd.Flags().StringVar(&diffFormat, "format", "text", "Output format: text or json")
	diffCmd.Flags().StringSliceVar(&diffKinds, "kind", nil, "Only show these kinds: new, upgrade, remove")
	return diffCmd
}

func parseKinds(names []string) ([]changeset.Kind, error) {
	if len(names) == 0 {
		return []changeset.Kind{changeset.New, changeset.Upgrade, changeset.Remove}, nil
	}
	kinds := make([]changeset.Kind, 0, len(names))
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "new":
			kinds = append(kinds, changeset.New)
		case "upgrade":
			kinds = append(kinds, changeset.Upgrade)
		case "remove":
			kinds = append(kinds, changeset.Remove)
		default:
			return nil, fmt.Errorf("invalid --kind %q (expected new|upgrade|remove)", name)
		}
	}
	return kinds, nil
}

// readIndexFile loads a Packages index from disk. A missing file is an empty catalog.
func readIndexFile(path string, allowMissing bool) ([]ospackage.PackageInfo, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) && allowMissing {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()
	return debutils.ReadIndex(filepath.Base(path), f)
}

func executeDiff(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	format := strings.ToLower(diffFormat)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid --format %q (expected text|json)", diffFormat)
	}
	kinds, err := parseKinds(diffKinds)
	if err != nil {
		return err
	}

	desired, err := readIndexFile(args[0], false)
	if err != nil {
		return err
	}
	current, err := readIndexFile(args[1], true)
	if err != nil {
		return err
	}
	log.Debugf("diffing %d desired against %d current packages", len(desired), len(current))

	entries := changeset.Filter(changeset.Compute(desired, current), kinds...)
	summary := changeset.Summarize(entries)

	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), struct {
			Summary changeset.Summary `json:"summary"`
			Entries []changeset.Entry `json:"entries"`
		}{Summary: summary, Entries: nonNil(entries)})
	}

	for _, e := range entries {
		writeOut(cmd, "%s\n", e)
	}
	writeOut(cmd, "%s\n", entryCounts(summary))
	return nil
}

func nonNil(entries []changeset.Entry) []changeset.Entry {
	if entries == nil {
		return []changeset.Entry{}
	}
	return entries
}
