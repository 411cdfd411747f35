package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-edge-platform/mirror-sync/internal/provider"
	"github.com/open-edge-platform/mirror-sync/internal/utils/config"
)

var reposFormat string

func createReposCommand() *cobra.Command {
	reposCmd := &cobra.Command{
		Use:   "repos",
		Short: "List the configured repositories and supported vendors",
		Args:  cobra.NoArgs,
		RunE:  executeRepos,
	}
	reposCmd.Flags().StringVar(&reposFormat, "format", "text", "Output format: text or json")
	return reposCmd
}

func executeRepos(cmd *cobra.Command, args []string) error {
	cfg := config.GlConfig
	if strings.ToLower(reposFormat) == "json" {
		return writeJSON(cmd.OutOrStdout(), struct {
			Vendors      []string            `json:"vendors"`
			Repositories []config.Repository `json:"repositories"`
		}{provider.Names(), cfg.Repositories})
	}

	writeOut(cmd, "vendors: %s\n", strings.Join(provider.Names(), ", "))
	for _, repo := range cfg.Repositories {
		writeOut(cmd, "%s\t%s\t%s\t%s\n", repo.Name, repo.Vendor, repo.URL, strings.Join(repo.Dists, ","))
	}
	return nil
}
