package logger

import (
	"fmt"
	"os"
	"path/filepath"
)

// StringListReport is a titled list of lines written to a report file.
type StringListReport struct {
	Title string
	Items []string
}

// WriteListReport writes the report into dir as <title>.txt, one item per
// line, and returns the file path. Characters outside [A-Za-z0-9-] in the
// title are replaced with underscores.
func WriteListReport(dir string, report StringListReport) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating report directory: %w", err)
	}

	title := report.Title
	if title == "" {
		title = "untitled"
	}
	safeTitle := make([]rune, 0, len(title))
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			safeTitle = append(safeTitle, r)
		} else {
			safeTitle = append(safeTitle, '_')
		}
	}

	reportFullPath := filepath.Join(dir, string(safeTitle)+".txt")
	f, err := os.OpenFile(reportFullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	for _, item := range report.Items {
		if _, err := fmt.Fprintln(f, item); err != nil {
			return "", fmt.Errorf("writing to report file: %w", err)
		}
	}
	return reportFullPath, nil
}
