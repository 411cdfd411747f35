package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/open-edge-platform/mirror-sync/internal/changeset"
	"github.com/open-edge-platform/mirror-sync/internal/mirror"
	"github.com/open-edge-platform/mirror-sync/internal/utils/config"
	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
)

// Sync command flags
var (
	syncRepos    []string
	syncWorkers  int
	syncDryRun   bool
	syncProgress bool
	syncFormat   string
)

type repoSyncer interface {
	Sync(ctx context.Context, repo config.Repository) (*mirror.Report, error)
}

// newSyncer is swapped out by tests.
var newSyncer = func(cfg *config.GlobalConfig, opts ...mirror.Option) (repoSyncer, error) {
	return mirror.NewSyncer(cfg, opts...)
}

func createSyncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync [flags]",
		Short: "Synchronize the local mirror with the configured repositories",
		Long: `Sync fetches the remote Packages index of every dist/section/arch of the
selected repositories, downloads new and upgraded packages and removes
packages no index references any more. Packages that still fail after the
configured retry rounds are listed in a report under reportDir.`,
		Args: cobra.NoArgs,
		RunE: executeSync,
	}
	bindSyncFlags(syncCmd.Flags())
	return syncCmd
}

func bindSyncFlags(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&syncRepos, "repo", "r", nil, "Repository to sync (repeatable, default: all)")
	fs.IntVarP(&syncWorkers, "workers", "w", 0, "Concurrent downloads (overrides config)")
	fs.BoolVar(&syncDryRun, "dry-run", false, "Report the change set without downloading or removing anything")
	fs.BoolVar(&syncProgress, "progress", false, "Show a progress bar per fetch round")
	fs.StringVar(&syncFormat, "format", "text", "Output format: text or json")
}

// selectRepositories returns the repositories named in names, or all of them.
func selectRepositories(cfg *config.GlobalConfig, names []string) ([]config.Repository, error) {
	if len(names) == 0 {
		if len(cfg.Repositories) == 0 {
			return nil, fmt.Errorf("no repositories configured")
		}
		return cfg.Repositories, nil
	}
	repos := make([]config.Repository, 0, len(names))
	for _, name := range names {
		repo, ok := cfg.Repository(name)
		if !ok {
			return nil, fmt.Errorf("repository %q is not configured", name)
		}
		repos = append(repos, repo)
	}
	return repos, nil
}

func executeSync(cmd *cobra.Command, args []string) error {
	log := logger.Logger()

	format := strings.ToLower(syncFormat)
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid --format %q (expected text|json)", syncFormat)
	}

	cfg := *config.GlConfig
	if syncWorkers != 0 {
		cfg.Workers = syncWorkers
	}
	helpers := config.NewConfigHelpers(&cfg)

	repos, err := selectRepositories(&cfg, syncRepos)
	if err != nil {
		return err
	}

	opts := []mirror.Option{
		mirror.WithDryRun(syncDryRun),
		mirror.WithConfigDir(configDir),
	}
	if syncProgress {
		opts = append(opts, mirror.WithProgress(cmd.ErrOrStderr()))
	}
	if !syncDryRun {
		root, err := helpers.CreateMirrorRoot()
		if err != nil {
			return err
		}
		cfg.MirrorRoot = root
	}

	s, err := newSyncer(&cfg, opts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		errs    error
		reports []*mirror.Report
	)
	for _, repo := range repos {
		report, err := s.Sync(ctx, repo)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("repository %s: %w", repo.Name, err))
		}
		if report == nil {
			continue
		}
		reports = append(reports, report)

		reportDir, dirErr := helpers.ReportDir()
		if dirErr != nil {
			errs = multierr.Append(errs, dirErr)
			continue
		}
		path, writeErr := report.WriteFailures(reportDir)
		if writeErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("writing failure report: %w", writeErr))
		} else if path != "" {
			log.Warnf("failed artifacts of %s listed in %s", repo.Name, path)
		}
		if ctx.Err() != nil {
			break
		}
	}

	if format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), reports); err != nil {
			return err
		}
	} else {
		for _, report := range reports {
			renderReportText(cmd.OutOrStdout(), report, verbose)
		}
	}
	return errs
}

func renderReportText(w io.Writer, r *mirror.Report, detailed bool) {
	sum := r.Summary()
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(w, "%s%s: %s; %d fetched, %d failed, %d removed\n",
		r.Repository, mode, entryCounts(sum), r.Fetched(), len(r.Failed), len(r.Removed))

	for _, t := range r.Targets {
		status := "ok"
		switch {
		case t.Error != "":
			status = "error: " + t.Error
		case r.DryRun:
			status = "planned"
		case !t.IndexInstalled:
			status = "incomplete, previous index kept"
		}
		fmt.Fprintf(w, "  %s: %s [%s]\n", t.Target, entryCounts(t.Summary), status)
		if detailed {
			for _, e := range t.Entries {
				fmt.Fprintf(w, "    %s [%s]\n", e, e.State)
			}
		}
		for _, f := range t.Failed {
			fmt.Fprintf(w, "    failed %s after %d attempts: %s\n", f.Filename, f.Attempts, f.Error)
		}
	}
	for _, e := range r.RemoveErrors {
		fmt.Fprintf(w, "  remove failed: %s\n", e)
	}
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	_, _ = fmt.Fprintln(w, string(b))
	return nil
}

// entryCounts formats a change-set summary.
func entryCounts(s changeset.Summary) string {
	return fmt.Sprintf("%d new, %d upgrade, %d remove", s.New, s.Upgrade, s.Remove)
}
