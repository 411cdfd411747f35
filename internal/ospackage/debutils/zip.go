package debutils

import (
	"compress/bzip2"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Decompress wraps r with a decoder chosen from the suffix of name
// (.gz, .xz, .bz2, .zst). Any other name is passed through unchanged.
func Decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		gzReader, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		return gzReader, nil
	case ".xz":
		xzReader, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", err)
		}
		return io.NopCloser(xzReader), nil
	case ".bz2":
		return io.NopCloser(bzip2.NewReader(r)), nil
	case ".zst":
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

// IndexPath is the repository-relative location of a Packages index,
// e.g. dists/bookworm/main/binary-amd64/Packages.xz.
func IndexPath(dist, section, arch, file string) string {
	return path.Join("dists", dist, section, "binary-"+arch, file)
}

// ReleasePath is the repository-relative location of a dist's Release file.
func ReleasePath(dist string) string {
	return path.Join("dists", dist, "Release")
}

// IndexRelPath strips the dists/<dist>/ prefix, giving the form a Release
// file lists its indices under.
func IndexRelPath(dist, indexPath string) string {
	return strings.TrimPrefix(indexPath, path.Join("dists", dist)+"/")
}
