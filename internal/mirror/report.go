package mirror

import (
	"fmt"
	"time"

	"github.com/open-edge-platform/mirror-sync/internal/changeset"
	"github.com/open-edge-platform/mirror-sync/internal/utils/logger"
)

// FailedArtifact is an artifact still not verified on disk after all retry rounds.
type FailedArtifact struct {
	Package  string `json:"package"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func (f FailedArtifact) String() string {
	return fmt.Sprintf("%s\t%s\tattempts=%d\t%s", f.Package, f.URL, f.Attempts, f.Error)
}

// TargetReport is the outcome of one dist/section/arch.
type TargetReport struct {
	Target         Target            `json:"target"`
	Summary        changeset.Summary `json:"summary"`
	Entries        []changeset.Entry `json:"entries,omitempty"`
	Fetched        int               `json:"fetched"`
	Failed         []FailedArtifact  `json:"failed,omitempty"`
	IndexInstalled bool              `json:"indexInstalled"`
	Error          string            `json:"error,omitempty"`
}

// Report summarizes one Sync call.
type Report struct {
	RunID        string           `json:"runId"`
	Repository   string           `json:"repository"`
	Started      time.Time        `json:"started"`
	Duration     time.Duration    `json:"duration"`
	DryRun       bool             `json:"dryRun"`
	Targets      []TargetReport   `json:"targets"`
	Failed       []FailedArtifact `json:"failed,omitempty"`
	Removed      []string         `json:"removed,omitempty"`
	RemoveErrors []string         `json:"removeErrors,omitempty"`
}

// OK reports whether every target completed without failures.
func (r *Report) OK() bool {
	if len(r.Failed) > 0 || len(r.RemoveErrors) > 0 {
		return false
	}
	for _, t := range r.Targets {
		if t.Error != "" {
			return false
		}
	}
	return true
}

// Fetched is the number of artifacts downloaded across targets.
func (r *Report) Fetched() int {
	n := 0
	for _, t := range r.Targets {
		n += t.Fetched
	}
	return n
}

// Summary adds up the change sets of all targets.
func (r *Report) Summary() changeset.Summary {
	var s changeset.Summary
	for _, t := range r.Targets {
		s.New += t.Summary.New
		s.Upgrade += t.Summary.Upgrade
		s.Remove += t.Summary.Remove
	}
	return s
}

// WriteFailures writes the artifacts that could not be synchronized to
// dir/sync-failed-<repository>-<runID>.txt. It writes nothing and returns an
// empty path when there were no failures.
func (r *Report) WriteFailures(dir string) (string, error) {
	if len(r.Failed) == 0 {
		return "", nil
	}
	items := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		items = append(items, f.String())
	}
	return logger.WriteListReport(dir, logger.StringListReport{
		Title: fmt.Sprintf("sync-failed-%s-%s", r.Repository, r.RunID),
		Items: items,
	})
}
