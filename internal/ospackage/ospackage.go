package ospackage

import "sort"

// PackageInfo holds everything you need to fetch + verify one mirrored artifact.
type PackageInfo struct {
	Name     string `json:"name"`         // e.g. "abseil-cpp"
	Arch     string `json:"architecture"` // e.g. "amd64", "all"
	Version  string `json:"version"`      // e.g. "7.88.1-10+deb12u5", compared for equality only
	Filename string `json:"filename"`     // path relative to the repository root, e.g. "pool/main/a/abseil/..."
	SHA256   string `json:"sha256"`       // hex digest of the .deb
	Size     int64  `json:"size,omitempty"`
}

// SortByName sorts the catalog in place, ascending by package name.
func SortByName(pkgs []PackageInfo) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		return pkgs[i].Name < pkgs[j].Name
	})
}

// IsSortedByName reports whether the catalog is in ascending name order.
func IsSortedByName(pkgs []PackageInfo) bool {
	return sort.SliceIsSorted(pkgs, func(i, j int) bool {
		return pkgs[i].Name < pkgs[j].Name
	})
}
