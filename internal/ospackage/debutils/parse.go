package debutils

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/open-edge-platform/mirror-sync/internal/ospackage"
)

// maxLineSize bounds a single Packages line; Description fields can be long.
const maxLineSize = 1024 * 1024

// ParsePackages reads a Debian Packages index. Records are separated by blank
// lines and made of "Key: value" fields; continuation lines are ignored.
// Records without a Package field are skipped. Records are returned in file
// order.
func ParsePackages(r io.Reader) ([]ospackage.PackageInfo, error) {
	var (
		pkgs    []ospackage.PackageInfo
		current ospackage.PackageInfo
		seen    bool
		lineNo  int
	)

	flush := func() error {
		defer func() {
			current = ospackage.PackageInfo{}
			seen = false
		}()
		if !seen || current.Name == "" {
			return nil
		}
		if current.Filename == "" {
			return fmt.Errorf("package %s (line %d): missing Filename", current.Name, lineNo)
		}
		if current.SHA256 == "" {
			return fmt.Errorf("package %s (line %d): missing SHA256", current.Name, lineNo)
		}
		pkgs = append(pkgs, current)
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: malformed field %q", lineNo, line)
		}
		seen = true
		value = strings.TrimSpace(value)
		switch key {
		case "Package":
			current.Name = value
		case "Architecture":
			current.Arch = value
		case "Version":
			current.Version = value
		case "Filename":
			current.Filename = value
		case "SHA256":
			current.SHA256 = strings.ToLower(value)
		case "Size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid Size %q: %w", lineNo, value, err)
			}
			current.Size = size
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading packages index: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pkgs, nil
}

// ReadIndex decompresses and parses a Packages index named name (the suffix
// selects the decoder) and returns it sorted by package name.
func ReadIndex(name string, r io.Reader) ([]ospackage.PackageInfo, error) {
	rc, err := Decompress(name, r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	pkgs, err := ParsePackages(rc)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	ospackage.SortByName(pkgs)
	return pkgs, nil
}
