package debutils

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/opencontainers/go-digest"
)

// ErrNoSignature is returned when a Release file has to be verified but no
// detached signature was supplied.
var ErrNoSignature = errors.New("release signature is empty")

// FileDigest is one line of a Release SHA256 block.
type FileDigest struct {
	SHA256 string
	Size   int64
}

// Release holds the fields of a dist Release file the mirror relies on.
type Release struct {
	Origin   string
	Suite    string
	Codename string
	Date     string
	Files    map[string]FileDigest // keyed by path relative to dists/<dist>/
}

// ParseRelease reads a Release file. Only the SHA256 checksum block is kept.
func ParseRelease(r io.Reader) (*Release, error) {
	rel := &Release{Files: map[string]FileDigest{}}
	inSHA256 := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" {
			continue
		}
		if line[0] == ' ' {
			if !inSHA256 {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) != 3 {
				return nil, fmt.Errorf("malformed SHA256 entry %q", strings.TrimSpace(line))
			}
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid size in SHA256 entry %q: %w", strings.TrimSpace(line), err)
			}
			rel.Files[fields[2]] = FileDigest{SHA256: strings.ToLower(fields[0]), Size: size}
			continue
		}

		key, value, _ := strings.Cut(line, ":")
		value = strings.TrimSpace(value)
		inSHA256 = key == "SHA256"
		switch key {
		case "Origin":
			rel.Origin = value
		case "Suite":
			rel.Suite = value
		case "Codename":
			rel.Codename = value
		case "Date":
			rel.Date = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading release file: %w", err)
	}
	return rel, nil
}

// CheckIndex verifies data against the digest the Release file lists for relPath.
func (r *Release) CheckIndex(relPath string, data []byte) error {
	want, ok := r.Files[relPath]
	if !ok {
		return fmt.Errorf("%s is not listed in the release file", relPath)
	}
	if want.Size != int64(len(data)) {
		return fmt.Errorf("%s: size %d does not match release size %d", relPath, len(data), want.Size)
	}
	got := digest.SHA256.FromBytes(data).Encoded()
	if got != want.SHA256 {
		return fmt.Errorf("%s: sha256 %s does not match release digest %s", relPath, got, want.SHA256)
	}
	return nil
}

// VerifyRelease checks a detached signature (Release.gpg, armored or binary)
// over the Release bytes with the given keyring (armored or binary).
func VerifyRelease(release, signature, keyring []byte) error {
	if len(signature) == 0 {
		return ErrNoSignature
	}
	keys, err := readKeyRing(keyring)
	if err != nil {
		return err
	}

	if isArmored(signature) {
		_, err = openpgp.CheckArmoredDetachedSignature(keys, bytes.NewReader(release), bytes.NewReader(signature), nil)
	} else {
		_, err = openpgp.CheckDetachedSignature(keys, bytes.NewReader(release), bytes.NewReader(signature), nil)
	}
	if err != nil {
		return fmt.Errorf("release signature verification failed: %w", err)
	}
	return nil
}

func readKeyRing(data []byte) (openpgp.EntityList, error) {
	var (
		keys openpgp.EntityList
		err  error
	)
	if isArmored(data) {
		keys, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		keys, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("reading keyring: %w", err)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("keyring contains no keys")
	}
	return keys, nil
}

func isArmored(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(data), []byte("-----BEGIN PGP"))
}
