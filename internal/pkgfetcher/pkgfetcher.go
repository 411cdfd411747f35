package pkgfetcher

import (
	"context"
	_ "crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/opencontainers/go-digest"
	"github.com/schollz/progressbar/v3"

	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
)

var (
	// ErrInvalidWorkers is returned by RunJobs when the worker count is not positive.
	ErrInvalidWorkers = errors.New("worker count must be greater than zero")
	// ErrChecksumMismatch marks a job whose downloaded bytes did not match the expected digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// Source retrieves artifact bytes for a locator.
type Source interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Outcome is the result of the last attempt of a job.
type Outcome int

const (
	Pending Outcome = iota
	Success
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Job is one artifact to download. Dest is relative to the fetcher's filesystem.
type Job struct {
	URL      string
	Dest     string
	SHA256   string
	Attempts int
	Outcome  Outcome
	Err      error // cause of the last failure, nil on success
}

// Fetcher runs rounds of download jobs into a filesystem.
type Fetcher struct {
	source   Source
	fs       billy.Filesystem
	progress io.Writer
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithProgress renders a progress bar for each round to w.
func WithProgress(w io.Writer) Option {
	return func(f *Fetcher) {
		f.progress = w
	}
}

// New returns a Fetcher that reads from source and writes into fs.
func New(source Source, fs billy.Filesystem, opts ...Option) *Fetcher {
	f := &Fetcher{source: source, fs: fs}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RunJobs executes one round over jobs using a pool of workers and returns
// the jobs that ended Failed. It returns only after every job dispatched in
// this round has resolved. Per-job failures are recorded on the job and never
// returned as an error.
//
// Once ctx is cancelled no further jobs are dispatched; those left behind are
// marked Failed with the context error and keep their attempt count.
func (f *Fetcher) RunJobs(ctx context.Context, jobs []*Job, workers int) ([]*Job, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWorkers, workers)
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	log := logger.Logger()

	total := len(jobs)
	bar := f.newBar(total)
	queue := make(chan *Job)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				bar.Describe(fmt.Sprintf("downloading %s", path.Base(job.Dest)))
				f.fetch(ctx, job)
				if job.Outcome == Failed {
					log.Warnf("downloading %s failed (attempt %d): %v", job.URL, job.Attempts, job.Err)
				}
				_ = bar.Add(1)
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case queue <- job:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(queue)
	wg.Wait()
	_ = bar.Finish()

	for _, job := range jobs[dispatched:] {
		job.Outcome = Failed
		job.Err = fmt.Errorf("not dispatched: %w", ctx.Err())
	}

	var failed []*Job
	for _, job := range jobs {
		if job.Outcome == Failed {
			failed = append(failed, job)
		}
	}
	log.Infof("round finished: %d/%d jobs succeeded", total-len(failed), total)
	return failed, nil
}

func (f *Fetcher) newBar(total int) *progressbar.ProgressBar {
	w := f.progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

// fetch performs a single attempt. The attempt is counted before anything can fail.
func (f *Fetcher) fetch(ctx context.Context, job *Job) {
	job.Attempts++
	job.Outcome = Pending
	job.Err = nil

	logger.Logger().Debugf("fetching %s -> %s (attempt %d)", job.URL, job.Dest, job.Attempts)
	if err := f.download(ctx, job); err != nil {
		job.Outcome = Failed
		job.Err = err
		return
	}
	job.Outcome = Success
}

func (f *Fetcher) download(ctx context.Context, job *Job) error {
	expected := digest.NewDigestFromEncoded(digest.SHA256, strings.ToLower(job.SHA256))
	if err := expected.Validate(); err != nil {
		return fmt.Errorf("%w: invalid expected digest %q: %v", ErrChecksumMismatch, job.SHA256, err)
	}

	body, err := f.source.Fetch(ctx, job.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	dir := path.Dir(job.Dest)
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	// The temp file lives next to Dest so the final rename stays on one filesystem.
	tmp, err := f.fs.TempFile(dir, ".partial-")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = f.fs.Remove(tmpName)
		}
	}()

	verifier := expected.Verifier()
	_, copyErr := io.Copy(io.MultiWriter(tmp, verifier), body)
	closeErr := tmp.Close()
	if copyErr != nil {
		return fmt.Errorf("writing %s: %w", job.Dest, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", tmpName, closeErr)
	}
	if !verifier.Verified() {
		return fmt.Errorf("%w for %s: want %s", ErrChecksumMismatch, job.Dest, expected)
	}

	if err := f.fs.Rename(tmpName, job.Dest); err != nil {
		return fmt.Errorf("moving %s into place: %w", job.Dest, err)
	}
	committed = true
	return nil
}
