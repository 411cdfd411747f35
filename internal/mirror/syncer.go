// Package mirror keeps a local Debian archive tree in sync with a remote one.
//
// A sync fetches each remote Packages index, diffs it against the local copy,
// downloads new and upgraded artifacts in bounded retry rounds, and only once
// every artifact of a target is verified on disk installs the new index and
// deletes artifacts no index references any more.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/open-edge-platform/mirror-sync/internal/changeset"
	"github.com/open-edge-platform/mirror-sync/internal/ospackage"
	"github.com/open-edge-platform/mirror-sync/internal/ospackage/debutils"
	"github.com/open-edge-platform/mirror-sync/internal/pkgfetcher"
	"github.com/open-edge-platform/mirror-sync/internal/provider"
	"github.com/open-edge-platform/mirror-sync/internal/utils/config"
	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
	"github.com/open-edge-platform/mirror-sync/internal/utils/network"
)

// Target is one dist/section/arch index of a repository.
type Target struct {
	Dist    string `json:"dist"`
	Section string `json:"section"`
	Arch    string `json:"arch"`
}

func (t Target) String() string {
	return t.Dist + "/" + t.Section + "/" + t.Arch
}

// Syncer drives change-set computation and fetch rounds for repositories.
type Syncer struct {
	source    pkgfetcher.Source
	fs        billy.Filesystem
	fetcher   *pkgfetcher.Fetcher
	progress  io.Writer
	workers   int
	retry     config.RetryConfig
	configDir string
	dryRun    bool
	sleep     func(ctx context.Context, d time.Duration) error
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithSource replaces the transport used for indices and artifacts.
func WithSource(src pkgfetcher.Source) Option {
	return func(s *Syncer) {
		if src != nil {
			s.source = src
		}
	}
}

// WithFilesystem replaces the local mirror filesystem. Each repository is
// mirrored into the subdirectory named after it.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(s *Syncer) {
		if fs != nil {
			s.fs = fs
		}
	}
}

// WithProgress renders download progress bars to w.
func WithProgress(w io.Writer) Option {
	return func(s *Syncer) {
		s.progress = w
	}
}

// WithConfigDir sets the directory relative keyring paths are resolved against.
func WithConfigDir(dir string) Option {
	return func(s *Syncer) {
		s.configDir = dir
	}
}

// WithDryRun computes and reports change sets without touching the mirror.
func WithDryRun(dryRun bool) Option {
	return func(s *Syncer) {
		s.dryRun = dryRun
	}
}

// WithSleep replaces the backoff sleep between retry rounds.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Syncer) {
		if fn != nil {
			s.sleep = fn
		}
	}
}

// NewSyncer builds a Syncer from the global config. By default it reads over
// HTTP(S)/file:// and writes under cfg.MirrorRoot/<repository name>.
func NewSyncer(cfg *config.GlobalConfig, opts ...Option) (*Syncer, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", pkgfetcher.ErrInvalidWorkers, cfg.Workers)
	}
	s := &Syncer{
		workers: cfg.Workers,
		retry:   cfg.Retry,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.MaxAttempts <= 0 {
		s.retry.MaxAttempts = 1
	}
	if s.source == nil {
		s.source = network.NewSource(network.NewSecureHTTPClient(cfg.Timeout))
	}
	if s.fs == nil {
		s.fs = osfs.New(cfg.MirrorRoot)
	}
	return s, nil
}

// forRepository returns a copy of s confined to the repository's own subtree,
// so indices and pool files of different repositories never mix.
func (s *Syncer) forRepository(name string) *Syncer {
	scoped := *s
	scoped.fs = chroot.New(s.fs, name)
	scoped.fetcher = pkgfetcher.New(scoped.source, scoped.fs, pkgfetcher.WithProgress(s.progress))
	return &scoped
}

// targetRun carries the state of one target between the fetch and prune phases.
type targetRun struct {
	report   *TargetReport
	desired  []ospackage.PackageInfo
	current  []ospackage.PackageInfo
	complete bool
}

// Sync mirrors every dist/section/arch of repo into the repo.Name
// subdirectory of the mirror. Per-target failures are collected in the report
// and the returned error; other targets still run.
func (s *Syncer) Sync(ctx context.Context, repo config.Repository) (*Report, error) {
	if repo.Name == "" || repo.Name == "." || repo.Name == ".." || path.Base(repo.Name) != repo.Name {
		return nil, fmt.Errorf("repository name %q cannot be used as a mirror directory", repo.Name)
	}

	p, ok := provider.Get(repo.Vendor)
	if !ok {
		return nil, fmt.Errorf("repository %s: unknown vendor %q (known: %v)", repo.Name, repo.Vendor, provider.Names())
	}

	var keyring []byte
	if repo.Keyring != "" {
		var err error
		keyring, err = os.ReadFile(repo.KeyringPath(s.configDir))
		if err != nil {
			return nil, fmt.Errorf("repository %s: reading keyring: %w", repo.Name, err)
		}
	}

	return s.forRepository(repo.Name).syncRepository(ctx, repo, p, keyring)
}

func (s *Syncer) syncRepository(ctx context.Context, repo config.Repository, p provider.Provider, keyring []byte) (*Report, error) {
	log := logger.Logger()
	report := &Report{
		RunID:      uuid.NewString(),
		Repository: repo.Name,
		Started:    time.Now(),
		DryRun:     s.dryRun,
	}
	log.Infof("sync %s started (run %s, %d workers)", repo.Name, report.RunID, s.workers)

	var (
		errs       error
		runs       []*targetRun
		catalogsOK = true
		fetched    = map[string]bool{}
	)
	for _, dist := range repo.Dists {
		var rel *releaseFiles
		if keyring != nil {
			var err error
			rel, err = s.fetchRelease(ctx, repo, dist, keyring)
			if err != nil {
				log.Errorf("%v", err)
				errs = multierr.Append(errs, err)
				catalogsOK = false
				continue
			}
		}

		distComplete := true
		for _, section := range repo.Sections {
			for _, arch := range repo.Archs {
				t := Target{Dist: dist, Section: section, Arch: arch}
				if err := ctx.Err(); err != nil {
					return s.finish(report, runs), multierr.Append(errs, err)
				}
				run, err := s.syncTarget(ctx, repo, p, rel, t, fetched)
				if err != nil {
					log.Errorf("target %s: %v", t, err)
					errs = multierr.Append(errs, fmt.Errorf("target %s: %w", t, err))
					run = &targetRun{report: &TargetReport{Target: t, Error: err.Error()}}
					catalogsOK = false
				}
				runs = append(runs, run)
				distComplete = distComplete && run.complete
			}
		}

		if rel != nil && distComplete && !s.dryRun {
			if err := rel.install(s.fs, dist); err != nil {
				errs = multierr.Append(errs, err)
			}
		}
	}

	switch {
	case s.dryRun:
	case !catalogsOK:
		log.Warnf("sync %s: skipping removals because not every catalog could be read", repo.Name)
	default:
		report.Removed, report.RemoveErrors = s.prune(runs)
	}

	report = s.finish(report, runs)
	if n := len(report.Failed); n > 0 {
		errs = multierr.Append(errs, fmt.Errorf("%d artifacts could not be synchronized", n))
	}
	log.Infof("sync %s finished in %s: %d fetched, %d failed, %d removed",
		repo.Name, report.Duration.Round(time.Millisecond), report.Fetched(), len(report.Failed), len(report.Removed))
	return report, errs
}

func (s *Syncer) finish(report *Report, runs []*targetRun) *Report {
	for _, run := range runs {
		report.Targets = append(report.Targets, *run.report)
		report.Failed = append(report.Failed, run.report.Failed...)
	}
	report.Duration = time.Since(report.Started)
	return report
}

func (s *Syncer) syncTarget(ctx context.Context, repo config.Repository, p provider.Provider, rel *releaseFiles, t Target, fetched map[string]bool) (*targetRun, error) {
	log := logger.Logger()

	indexFile, data, err := s.fetchIndex(ctx, repo, p, t)
	if err != nil {
		return nil, err
	}
	if rel != nil {
		relPath := debutils.IndexRelPath(t.Dist, debutils.IndexPath(t.Dist, t.Section, t.Arch, indexFile))
		if err := rel.release.CheckIndex(relPath, data); err != nil {
			return nil, err
		}
	}
	desired, err := debutils.ReadIndex(indexFile, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("remote index: %w", err)
	}
	current := s.readLocalIndex(p, t)

	entries := changeset.Compute(desired, current)
	tr := &TargetReport{Target: t, Summary: changeset.Summarize(entries), Entries: entries}
	log.Infof("%s: %d remote, %d local packages, %d new, %d upgrade, %d remove",
		t, len(desired), len(current), tr.Summary.New, tr.Summary.Upgrade, tr.Summary.Remove)

	run := &targetRun{report: tr, desired: desired, current: current}
	if s.dryRun {
		return run, nil
	}

	jobs, owners := s.buildJobs(repo, entries, fetched)
	if err := s.fetchWithRetry(ctx, jobs); err != nil {
		return nil, err
	}

	for i, job := range jobs {
		for _, idx := range owners[i] {
			e := &entries[idx]
			if job.Outcome == pkgfetcher.Success {
				e.State = changeset.Applied
			} else {
				e.State = changeset.Failed
			}
		}
		if job.Outcome == pkgfetcher.Success {
			fetched[job.Dest] = true
			tr.Fetched++
			continue
		}
		entry := entries[owners[i][0]]
		failure := FailedArtifact{
			Package:  entry.Name(),
			Filename: job.Dest,
			URL:      job.URL,
			Attempts: job.Attempts,
		}
		if job.Err != nil {
			failure.Error = job.Err.Error()
		}
		tr.Failed = append(tr.Failed, failure)
	}

	if len(tr.Failed) > 0 || ctx.Err() != nil {
		log.Warnf("%s: %d artifacts failed, keeping the previous local index", t, len(tr.Failed))
		return run, nil
	}

	if err := s.installIndex(p, t, indexFile, data); err != nil {
		return nil, err
	}
	tr.IndexInstalled = true
	run.complete = true
	return run, nil
}

// buildJobs derives one job per New/Upgrade entry. Entries sharing a
// destination share a job; entries whose artifact was already fetched earlier
// in this run are applied without a job. owners[i] lists the entry indices
// served by jobs[i].
func (s *Syncer) buildJobs(repo config.Repository, entries []changeset.Entry, fetched map[string]bool) ([]*pkgfetcher.Job, [][]int) {
	var (
		jobs   []*pkgfetcher.Job
		owners [][]int
		byDest = map[string]int{}
	)
	for i := range entries {
		e := &entries[i]
		if e.Kind == changeset.Remove {
			continue
		}
		dest := e.Incoming.Filename
		if fetched[dest] {
			e.State = changeset.Applied
			continue
		}
		e.State = changeset.InProgress
		if j, ok := byDest[dest]; ok {
			owners[j] = append(owners[j], i)
			continue
		}
		byDest[dest] = len(jobs)
		jobs = append(jobs, &pkgfetcher.Job{
			URL:    repo.URL + "/" + dest,
			Dest:   dest,
			SHA256: e.Incoming.SHA256,
		})
		owners = append(owners, []int{i})
	}
	return jobs, owners
}

// fetchWithRetry runs rounds until every job succeeded, every failed job used
// up its attempts, or ctx is done. Backoff doubles per round up to MaxBackoff.
func (s *Syncer) fetchWithRetry(ctx context.Context, jobs []*pkgfetcher.Job) error {
	log := logger.Logger()
	queue := jobs
	backoff := s.retry.Backoff

	for round := 1; len(queue) > 0; round++ {
		failed, err := s.fetcher.RunJobs(ctx, queue, s.workers)
		if err != nil {
			return err
		}

		var retry []*pkgfetcher.Job
		for _, job := range failed {
			if job.Attempts < s.retry.MaxAttempts {
				retry = append(retry, job)
			} else {
				log.Errorf("giving up on %s after %d attempts: %v", job.Dest, job.Attempts, job.Err)
			}
		}
		if len(retry) == 0 || ctx.Err() != nil {
			return nil
		}

		log.Warnf("round %d: %d jobs failed, retrying in %s", round, len(retry), backoff)
		if err := s.sleep(ctx, backoff); err != nil {
			return nil
		}
		backoff *= 2
		if s.retry.MaxBackoff > 0 && backoff > s.retry.MaxBackoff {
			backoff = s.retry.MaxBackoff
		}
		queue = retry
	}
	return nil
}

// fetchIndex downloads the first index file the provider lists that the
// remote serves.
func (s *Syncer) fetchIndex(ctx context.Context, repo config.Repository, p provider.Provider, t Target) (string, []byte, error) {
	var errs error
	for _, name := range p.IndexFiles() {
		url := repo.URL + "/" + debutils.IndexPath(t.Dist, t.Section, t.Arch, name)
		data, err := s.fetchBytes(ctx, url)
		if err != nil {
			logger.Logger().Debugf("index %s not available: %v", url, err)
			errs = multierr.Append(errs, err)
			continue
		}
		return name, data, nil
	}
	return "", nil, fmt.Errorf("no packages index available: %w", errs)
}

func (s *Syncer) fetchBytes(ctx context.Context, url string) ([]byte, error) {
	body, err := s.source.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return data, nil
}

// readLocalIndex loads the mirror's current index for t. A missing index is an
// empty catalog; an unreadable one is treated the same and logged, since every
// artifact is re-verified on download anyway.
func (s *Syncer) readLocalIndex(p provider.Provider, t Target) []ospackage.PackageInfo {
	log := logger.Logger()
	for _, name := range p.IndexFiles() {
		indexPath := debutils.IndexPath(t.Dist, t.Section, t.Arch, name)
		f, err := s.fs.Open(indexPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			log.Warnf("opening local index %s: %v", indexPath, err)
			return nil
		}
		pkgs, err := debutils.ReadIndex(name, f)
		f.Close()
		if err != nil {
			log.Warnf("local index %s is unreadable, treating mirror as empty: %v", indexPath, err)
			return nil
		}
		return pkgs
	}
	return nil
}

// installIndex writes the remote index into the mirror and drops indices in
// other compressions so readLocalIndex cannot pick a stale one.
func (s *Syncer) installIndex(p provider.Provider, t Target, indexFile string, data []byte) error {
	indexPath := debutils.IndexPath(t.Dist, t.Section, t.Arch, indexFile)
	if err := writeFileAtomic(s.fs, indexPath, data); err != nil {
		return fmt.Errorf("installing index: %w", err)
	}
	for _, name := range p.IndexFiles() {
		if name == indexFile {
			continue
		}
		if err := removeIfExists(s.fs, debutils.IndexPath(t.Dist, t.Section, t.Arch, name)); err != nil {
			return fmt.Errorf("removing stale index: %w", err)
		}
	}
	return nil
}

// prune deletes artifacts of completed targets that are no longer referenced:
// removed packages, and the previous file of upgrades whose filename changed.
// A file named by any desired catalog of this run, or by the still-installed
// index of an incomplete target, is kept.
//
// The keep set covers only this repository's targets. That is enough because
// s.fs is the repository's own subtree (see forRepository).
func (s *Syncer) prune(runs []*targetRun) ([]string, []string) {
	log := logger.Logger()
	keep := map[string]bool{}
	for _, run := range runs {
		for _, pkg := range run.desired {
			keep[pkg.Filename] = true
		}
		if !run.complete {
			for _, pkg := range run.current {
				keep[pkg.Filename] = true
			}
		}
	}

	var removed, failures []string
	result := map[string]error{}
	for _, run := range runs {
		if !run.complete {
			continue
		}
		entries := run.report.Entries
		for i := range entries {
			e := &entries[i]
			if e.Outgoing == nil {
				continue
			}
			name := e.Outgoing.Filename
			if keep[name] {
				if e.Kind == changeset.Remove {
					e.State = changeset.Applied
				}
				continue
			}

			err, seen := result[name]
			if !seen {
				err = removeIfExists(s.fs, name)
				result[name] = err
				if err != nil {
					log.Errorf("removing %s: %v", name, err)
					failures = append(failures, fmt.Sprintf("%s: %v", name, err))
				} else {
					log.Debugf("removed %s", name)
					removed = append(removed, name)
				}
			}
			if e.Kind != changeset.Remove {
				continue
			}
			if err != nil {
				e.State = changeset.Failed
			} else {
				e.State = changeset.Applied
			}
		}
	}
	return removed, failures
}

// releaseFiles is a verified Release and its signature, installed once all
// targets of the dist are complete.
type releaseFiles struct {
	release   *debutils.Release
	raw       []byte
	signature []byte
}

func (s *Syncer) fetchRelease(ctx context.Context, repo config.Repository, dist string, keyring []byte) (*releaseFiles, error) {
	base := repo.URL + "/" + debutils.ReleasePath(dist)
	raw, err := s.fetchBytes(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("dist %s: fetching Release: %w", dist, err)
	}
	sig, err := s.fetchBytes(ctx, base+".gpg")
	if err != nil {
		return nil, fmt.Errorf("dist %s: fetching Release.gpg: %w", dist, err)
	}
	if err := debutils.VerifyRelease(raw, sig, keyring); err != nil {
		return nil, fmt.Errorf("dist %s: %w", dist, err)
	}
	rel, err := debutils.ParseRelease(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("dist %s: %w", dist, err)
	}
	logger.Logger().Infof("dist %s: Release signature verified (%d indices listed)", dist, len(rel.Files))
	return &releaseFiles{release: rel, raw: raw, signature: sig}, nil
}

func (r *releaseFiles) install(fs billy.Filesystem, dist string) error {
	releasePath := debutils.ReleasePath(dist)
	if err := writeFileAtomic(fs, releasePath, r.raw); err != nil {
		return fmt.Errorf("dist %s: installing Release: %w", dist, err)
	}
	if err := writeFileAtomic(fs, releasePath+".gpg", r.signature); err != nil {
		return fmt.Errorf("dist %s: installing Release.gpg: %w", dist, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// writeFileAtomic writes data to a temp file beside name and renames it into place.
func writeFileAtomic(fs billy.Filesystem, name string, data []byte) error {
	dir := path.Dir(name)
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := fs.TempFile(dir, ".partial-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return err
	}
	if err := fs.Rename(tmpName, name); err != nil {
		fs.Remove(tmpName)
		return err
	}
	return nil
}

func removeIfExists(fs billy.Filesystem, name string) error {
	if err := fs.Remove(name); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
