package mirror_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/gzip"

	"github.com/open-edge-platform/mirror-sync/internal/changeset"
	"github.com/open-edge-platform/mirror-sync/internal/mirror"
	"github.com/open-edge-platform/mirror-sync/internal/ospackage"
	"github.com/open-edge-platform/mirror-sync/internal/ospackage/debutils"
	_ "github.com/open-edge-platform/mirror-sync/internal/provider/debian"
	"github.com/open-edge-platform/mirror-sync/internal/utils/config"
)

const baseURL = "http://mirror.example/debian"

// remote is an in-memory archive. failures[url] is the number of fetches of
// url that fail before it is served; a negative count fails forever.
type remote struct {
	mu       sync.Mutex
	files    map[string][]byte
	failures map[string]int
	calls    map[string]int
}

func newRemote() *remote {
	return &remote{
		files:    map[string][]byte{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

func (r *remote) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[url]++
	if n, ok := r.failures[url]; ok && n != 0 {
		if n > 0 {
			r.failures[url] = n - 1
		}
		return nil, fmt.Errorf("GET %s: 503 Service Unavailable", url)
	}
	data, ok := r.files[url]
	if !ok {
		return nil, fmt.Errorf("GET %s: 404 Not Found", url)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *remote) callsTo(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[url]
}

type deb struct {
	name, version, arch string
}

func (d deb) filename() string {
	return fmt.Sprintf("pool/main/%s/%s/%s_%s_%s.deb", d.name[:1], d.name, d.name, d.version, d.arch)
}

func (d deb) url() string {
	return baseURL + "/" + d.filename()
}

func (d deb) body() []byte {
	return []byte("payload of " + d.filename())
}

func indexURL(arch string) string {
	return baseURL + "/" + debutils.IndexPath("bookworm", "main", arch, "Packages.gz")
}

// publish replaces the amd64 or arm64 index of bookworm/main with debs and
// serves their payloads. It returns the compressed index.
func (r *remote) publish(t *testing.T, arch string, debs ...deb) []byte {
	t.Helper()
	var text strings.Builder
	for _, d := range debs {
		sum := sha256.Sum256(d.body())
		fmt.Fprintf(&text, "Package: %s\nVersion: %s\nArchitecture: %s\nFilename: %s\nSize: %d\nSHA256: %s\nDescription: test package\n continuation line\n\n",
			d.name, d.version, d.arch, d.filename(), len(d.body()), hex.EncodeToString(sum[:]))
	}

	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	if _, err := w.Write([]byte(text.String())); err != nil {
		t.Fatalf("compressing index: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range debs {
		r.files[d.url()] = d.body()
	}
	r.files[indexURL(arch)] = gz.Bytes()
	return gz.Bytes()
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func testConfig() *config.GlobalConfig {
	cfg := config.DefaultConfig()
	cfg.Workers = 2
	cfg.Retry = config.RetryConfig{
		MaxAttempts: 3,
		Backoff:     10 * time.Millisecond,
		MaxBackoff:  15 * time.Millisecond,
	}
	return cfg
}

func testRepo(archs ...string) config.Repository {
	if len(archs) == 0 {
		archs = []string{"amd64"}
	}
	return config.Repository{
		Name:     "debian",
		Vendor:   "debian",
		URL:      baseURL,
		Dists:    []string{"bookworm"},
		Sections: []string{"main"},
		Archs:    archs,
	}
}

func newSyncer(t *testing.T, src *remote, fs billy.Filesystem, opts ...mirror.Option) (*mirror.Syncer, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	opts = append([]mirror.Option{
		mirror.WithSource(src),
		mirror.WithFilesystem(fs),
		mirror.WithSleep(rec.sleep),
	}, opts...)
	s, err := mirror.NewSyncer(testConfig(), opts...)
	if err != nil {
		t.Fatalf("NewSyncer failed: %v", err)
	}
	return s, rec
}

// newMirror returns the mirror root and the subtree repository name syncs into.
func newMirror(t *testing.T, name string) (billy.Filesystem, billy.Filesystem) {
	t.Helper()
	root := osfs.New(t.TempDir())
	return root, chroot.New(root, name)
}

func localIndex(t *testing.T, fs billy.Filesystem, arch string) []ospackage.PackageInfo {
	t.Helper()
	f, err := fs.Open(debutils.IndexPath("bookworm", "main", arch, "Packages.gz"))
	if err != nil {
		t.Fatalf("opening local index: %v", err)
	}
	defer f.Close()
	pkgs, err := debutils.ReadIndex("Packages.gz", f)
	if err != nil {
		t.Fatalf("reading local index: %v", err)
	}
	return pkgs
}

func assertFile(t *testing.T, fs billy.Filesystem, d deb) {
	t.Helper()
	got, err := util.ReadFile(fs, d.filename())
	if err != nil {
		t.Errorf("expected %s in mirror: %v", d.filename(), err)
		return
	}
	if !bytes.Equal(got, d.body()) {
		t.Errorf("content mismatch for %s", d.filename())
	}
}

func assertMissing(t *testing.T, fs billy.Filesystem, d deb) {
	t.Helper()
	if _, err := fs.Stat(d.filename()); !os.IsNotExist(err) {
		t.Errorf("expected %s to be absent, stat err=%v", d.filename(), err)
	}
}

func TestSyncPopulatesEmptyMirror(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	a, b, c := deb{"acl", "2.3", "amd64"}, deb{"bash", "5.2", "amd64"}, deb{"curl", "7.88", "amd64"}
	src.publish(t, "amd64", c, a, b)

	s, _ := newSyncer(t, src, root)
	report, err := s.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !report.OK() || report.Fetched() != 3 {
		t.Fatalf("expected 3 fetched and no failures, got %+v", report)
	}
	if got := report.Summary(); got.New != 3 || got.Total() != 3 {
		t.Errorf("unexpected summary %+v", got)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}

	tr := report.Targets[0]
	if !tr.IndexInstalled {
		t.Error("expected index to be installed")
	}
	var names []string
	for _, e := range tr.Entries {
		names = append(names, e.Name())
		if e.State != changeset.Applied {
			t.Errorf("%s: expected applied, got %s", e.Name(), e.State)
		}
	}
	if strings.Join(names, ",") != "acl,bash,curl" {
		t.Errorf("entries should follow catalog name order, got %v", names)
	}

	for _, d := range []deb{a, b, c} {
		assertFile(t, fs, d)
	}
	if got := localIndex(t, fs, "amd64"); len(got) != 3 {
		t.Errorf("expected 3 packages in local index, got %d", len(got))
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	src := newRemote()
	root, _ := newMirror(t, "debian")
	a, b := deb{"acl", "2.3", "amd64"}, deb{"bash", "5.2", "amd64"}
	src.publish(t, "amd64", a, b)

	s, _ := newSyncer(t, src, root)
	if _, err := s.Sync(context.Background(), testRepo()); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}

	report, err := s.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if n := report.Summary().Total(); n != 0 {
		t.Errorf("expected empty change set, got %d entries", n)
	}
	if report.Fetched() != 0 || len(report.Removed) != 0 {
		t.Errorf("second run should not touch artifacts: %+v", report)
	}
	for _, d := range []deb{a, b} {
		if n := src.callsTo(d.url()); n != 1 {
			t.Errorf("%s downloaded %d times", d.name, n)
		}
	}
}

func TestSyncUpgradeAndRemove(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	acl1, bash, curl := deb{"acl", "2.3", "amd64"}, deb{"bash", "5.2", "amd64"}, deb{"curl", "7.88", "amd64"}
	src.publish(t, "amd64", acl1, bash, curl)

	s, _ := newSyncer(t, src, root)
	if _, err := s.Sync(context.Background(), testRepo()); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}

	acl2, zlib := deb{"acl", "2.4", "amd64"}, deb{"zlib", "1.3", "amd64"}
	src.publish(t, "amd64", acl2, bash, zlib)

	report, err := s.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	sum := report.Summary()
	if sum.New != 1 || sum.Upgrade != 1 || sum.Remove != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	for _, e := range report.Targets[0].Entries {
		if e.State != changeset.Applied {
			t.Errorf("%s: expected applied, got %s", e, e.State)
		}
	}

	assertFile(t, fs, acl2)
	assertFile(t, fs, bash)
	assertFile(t, fs, zlib)
	assertMissing(t, fs, acl1)
	assertMissing(t, fs, curl)

	removed := strings.Join(report.Removed, " ")
	if !strings.Contains(removed, acl1.filename()) || !strings.Contains(removed, curl.filename()) {
		t.Errorf("expected old acl and curl in removed list, got %v", report.Removed)
	}
}

func TestSyncSharedArtifactAcrossArchs(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	common := deb{"tzdata", "2024a", "all"}
	amd, arm := deb{"bash", "5.2", "amd64"}, deb{"bash", "5.2", "arm64"}
	src.publish(t, "amd64", amd, common)
	src.publish(t, "arm64", arm, common)

	s, _ := newSyncer(t, src, root)
	report, err := s.Sync(context.Background(), testRepo("amd64", "arm64"))
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if n := src.callsTo(common.url()); n != 1 {
		t.Errorf("shared artifact downloaded %d times", n)
	}
	if report.Fetched() != 3 {
		t.Errorf("expected 3 downloads, got %d", report.Fetched())
	}
	for _, tr := range report.Targets {
		if !tr.IndexInstalled {
			t.Errorf("%s: index not installed", tr.Target)
		}
	}

	// amd64 drops the shared package while arm64 still lists it.
	src.publish(t, "amd64", amd)
	report, err = s.Sync(context.Background(), testRepo("amd64", "arm64"))
	if err != nil {
		t.Fatalf("second Sync failed: %v", err)
	}
	if report.Summary().Remove != 1 {
		t.Errorf("expected one remove entry, got %+v", report.Summary())
	}
	if len(report.Removed) != 0 {
		t.Errorf("file still referenced by arm64 must stay, removed %v", report.Removed)
	}
	assertFile(t, fs, common)
}

func TestSyncFailedArtifactKeepsPreviousIndex(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	acl1 := deb{"acl", "2.3", "amd64"}
	src.publish(t, "amd64", acl1)

	s, rec := newSyncer(t, src, root)
	if _, err := s.Sync(context.Background(), testRepo()); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}

	acl2, bash := deb{"acl", "2.4", "amd64"}, deb{"bash", "5.2", "amd64"}
	src.publish(t, "amd64", acl2, bash)
	src.failures[bash.url()] = -1

	report, err := s.Sync(context.Background(), testRepo())
	if err == nil {
		t.Fatal("expected an error for the unreachable artifact")
	}
	if report.OK() {
		t.Error("report should not be OK")
	}
	if len(report.Failed) != 1 {
		t.Fatalf("expected one failed artifact, got %v", report.Failed)
	}
	failure := report.Failed[0]
	if failure.Package != "bash" || failure.Attempts != 3 || failure.URL != bash.url() {
		t.Errorf("unexpected failure record %+v", failure)
	}
	if n := src.callsTo(bash.url()); n != 3 {
		t.Errorf("expected 3 fetches of the failing artifact, got %d", n)
	}
	if n := src.callsTo(acl2.url()); n != 1 {
		t.Errorf("successful sibling should be fetched once, got %d", n)
	}

	want := []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}
	if len(rec.delays) != len(want) || rec.delays[0] != want[0] || rec.delays[1] != want[1] {
		t.Errorf("expected backoff %v, got %v", want, rec.delays)
	}

	tr := report.Targets[0]
	if tr.IndexInstalled {
		t.Error("index must not be installed with failed artifacts")
	}
	states := map[string]changeset.State{}
	for _, e := range tr.Entries {
		states[e.Name()] = e.State
	}
	if states["acl"] != changeset.Applied || states["bash"] != changeset.Failed {
		t.Errorf("unexpected entry states %v", states)
	}

	idx := localIndex(t, fs, "amd64")
	if len(idx) != 1 || idx[0].Version != "2.3" {
		t.Errorf("previous index should stay installed, got %+v", idx)
	}
	assertFile(t, fs, acl1)
	assertFile(t, fs, acl2)
	if len(report.Removed) != 0 {
		t.Errorf("nothing should be pruned for an incomplete target, removed %v", report.Removed)
	}

	// Once the artifact is reachable the next run converges.
	delete(src.failures, bash.url())
	report, err = s.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("recovery Sync failed: %v", err)
	}
	if !report.Targets[0].IndexInstalled {
		t.Error("expected index to be installed after recovery")
	}
	assertFile(t, fs, bash)
	assertMissing(t, fs, acl1)
}

func TestSyncRetryRecovers(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	a, b := deb{"acl", "2.3", "amd64"}, deb{"bash", "5.2", "amd64"}
	src.publish(t, "amd64", a, b)
	src.failures[b.url()] = 2

	s, rec := newSyncer(t, src, root)
	report, err := s.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !report.OK() || report.Fetched() != 2 {
		t.Errorf("expected full convergence, got %+v", report)
	}
	if len(rec.delays) != 2 {
		t.Errorf("expected two backoff sleeps, got %v", rec.delays)
	}
	assertFile(t, fs, b)
}

func TestSyncChecksumMismatch(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	a := deb{"acl", "2.3", "amd64"}
	src.publish(t, "amd64", a)
	src.files[a.url()] = []byte("tampered")

	s, _ := newSyncer(t, src, root)
	report, err := s.Sync(context.Background(), testRepo())
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(report.Failed) != 1 || !strings.Contains(report.Failed[0].Error, "checksum mismatch") {
		t.Fatalf("expected checksum failure, got %v", report.Failed)
	}
	assertMissing(t, fs, a)
	if _, err := fs.Stat(debutils.IndexPath("bookworm", "main", "amd64", "Packages.gz")); !os.IsNotExist(err) {
		t.Error("index must not be installed")
	}
}

func TestSyncDryRun(t *testing.T) {
	src := newRemote()
	root, _ := newMirror(t, "debian")
	a, b := deb{"acl", "2.3", "amd64"}, deb{"bash", "5.2", "amd64"}
	src.publish(t, "amd64", a, b)

	s, _ := newSyncer(t, src, root, mirror.WithDryRun(true))
	report, err := s.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !report.DryRun || report.Summary().New != 2 || report.Fetched() != 0 {
		t.Errorf("unexpected dry-run report %+v", report)
	}
	for _, e := range report.Targets[0].Entries {
		if e.State != changeset.Queued {
			t.Errorf("%s: dry run should leave entries queued, got %s", e.Name(), e.State)
		}
	}
	if src.callsTo(a.url())+src.callsTo(b.url()) != 0 {
		t.Error("dry run must not download artifacts")
	}
	infos, _ := root.ReadDir(".")
	if len(infos) != 0 {
		t.Errorf("dry run wrote into the mirror: %d entries", len(infos))
	}
}

func TestSyncRepositoriesShareMirrorRoot(t *testing.T) {
	root, debianFS := newMirror(t, "debian")
	thirdPartyFS := chroot.New(root, "third-party")
	acl, bash := deb{"acl", "2.3", "amd64"}, deb{"bash", "5.2", "amd64"}

	debianSrc := newRemote()
	debianSrc.publish(t, "amd64", acl)
	debianSyncer, _ := newSyncer(t, debianSrc, root)
	if _, err := debianSyncer.Sync(context.Background(), testRepo()); err != nil {
		t.Fatalf("debian Sync failed: %v", err)
	}

	// Same dist/section/arch layout, different archive.
	thirdPartySrc := newRemote()
	thirdPartySrc.publish(t, "amd64", bash)
	thirdPartySyncer, _ := newSyncer(t, thirdPartySrc, root)
	repo := testRepo()
	repo.Name = "third-party"

	report, err := thirdPartySyncer.Sync(context.Background(), repo)
	if err != nil {
		t.Fatalf("third-party Sync failed: %v", err)
	}
	if sum := report.Summary(); sum.New != 1 || sum.Remove != 0 {
		t.Errorf("third-party must start from an empty catalog, got %+v", sum)
	}
	if len(report.Removed) != 0 {
		t.Errorf("third-party removed files: %v", report.Removed)
	}
	assertFile(t, debianFS, acl)
	assertFile(t, thirdPartyFS, bash)
	assertMissing(t, debianFS, bash)

	report, err = debianSyncer.Sync(context.Background(), testRepo())
	if err != nil {
		t.Fatalf("second debian Sync failed: %v", err)
	}
	if n := report.Summary().Total(); n != 0 {
		t.Errorf("debian catalog changed after syncing another repository: %d entries", n)
	}
}

func TestSyncRejectsUnsafeRepositoryName(t *testing.T) {
	root, _ := newMirror(t, "debian")
	s, _ := newSyncer(t, newRemote(), root)
	for _, name := range []string{"", ".", "..", "a/b"} {
		repo := testRepo()
		repo.Name = name
		if _, err := s.Sync(context.Background(), repo); err == nil {
			t.Errorf("name %q: expected an error", name)
		}
	}
}

func TestSyncCancelled(t *testing.T) {
	src := newRemote()
	src.publish(t, "amd64", deb{"acl", "2.3", "amd64"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := newSyncer(t, src, osfs.New(t.TempDir()))
	_, err := s.Sync(ctx, testRepo())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSyncUnknownVendor(t *testing.T) {
	s, _ := newSyncer(t, newRemote(), osfs.New(t.TempDir()))
	repo := testRepo()
	repo.Vendor = "gentoo"
	if _, err := s.Sync(context.Background(), repo); err == nil || !strings.Contains(err.Error(), "unknown vendor") {
		t.Errorf("expected unknown vendor error, got %v", err)
	}
}

func TestSyncMissingIndex(t *testing.T) {
	src := newRemote()
	root, fs := newMirror(t, "debian")
	a := deb{"acl", "2.3", "amd64"}
	src.publish(t, "amd64", a)

	s, _ := newSyncer(t, src, root)
	if _, err := s.Sync(context.Background(), testRepo()); err != nil {
		t.Fatalf("first Sync failed: %v", err)
	}

	// arm64 has no index; amd64 shrinks. Nothing may be pruned.
	src.publish(t, "amd64")
	report, err := s.Sync(context.Background(), testRepo("amd64", "arm64"))
	if err == nil {
		t.Fatal("expected an error for the missing arm64 index")
	}
	if len(report.Targets) != 2 || report.Targets[1].Error == "" {
		t.Fatalf("expected arm64 target error, got %+v", report.Targets)
	}
	if len(report.Removed) != 0 {
		t.Errorf("removals must be skipped, removed %v", report.Removed)
	}
	assertFile(t, fs, a)
}

func TestNewSyncerInvalidWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	if _, err := mirror.NewSyncer(cfg); err == nil {
		t.Error("expected error for zero workers")
	}
}

func writeKeyring(t *testing.T, dir string, entity *openpgp.Entity) {
	t.Helper()
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		t.Fatalf("armoring key: %v", err)
	}
	if err := entity.Serialize(w); err != nil {
		t.Fatalf("serializing key: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing armor writer: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "archive.asc"), buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing keyring: %v", err)
	}
}

func (r *remote) signRelease(t *testing.T, signer *openpgp.Entity, indices map[string][]byte) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Origin: Debian\nSuite: stable\nCodename: bookworm\nSHA256:\n")
	for name, data := range indices {
		sum := sha256.Sum256(data)
		fmt.Fprintf(&b, " %s %d %s\n", hex.EncodeToString(sum[:]), len(data), name)
	}
	release := []byte(b.String())

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(release), nil); err != nil {
		t.Fatalf("signing release: %v", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[baseURL+"/dists/bookworm/Release"] = release
	r.files[baseURL+"/dists/bookworm/Release.gpg"] = sig.Bytes()
}

func TestSyncVerifiesRelease(t *testing.T) {
	signer, err := openpgp.NewEntity("Archive Test", "", "archive@example.com", nil)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	configDir := t.TempDir()
	writeKeyring(t, configDir, signer)

	repo := testRepo()
	repo.Keyring = "archive.asc"
	a := deb{"acl", "2.3", "amd64"}

	t.Run("valid signature", func(t *testing.T) {
		src := newRemote()
		root, fs := newMirror(t, "debian")
		index := src.publish(t, "amd64", a)
		src.signRelease(t, signer, map[string][]byte{"main/binary-amd64/Packages.gz": index})

		s, _ := newSyncer(t, src, root, mirror.WithConfigDir(configDir))
		if _, err := s.Sync(context.Background(), repo); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		assertFile(t, fs, a)
		for _, name := range []string{"dists/bookworm/Release", "dists/bookworm/Release.gpg"} {
			if _, err := fs.Stat(name); err != nil {
				t.Errorf("expected %s to be installed: %v", name, err)
			}
		}
	})

	t.Run("index not matching release", func(t *testing.T) {
		src := newRemote()
		root, fs := newMirror(t, "debian")
		index := src.publish(t, "amd64", a)
		src.signRelease(t, signer, map[string][]byte{"main/binary-amd64/Packages.gz": index})
		src.publish(t, "amd64", a, deb{"bash", "5.2", "amd64"})

		s, _ := newSyncer(t, src, root, mirror.WithConfigDir(configDir))
		report, err := s.Sync(context.Background(), repo)
		if err == nil {
			t.Fatal("expected digest error")
		}
		if report.Targets[0].Error == "" {
			t.Error("expected target error")
		}
		assertMissing(t, fs, a)
		if _, err := fs.Stat("dists/bookworm/Release"); !os.IsNotExist(err) {
			t.Error("Release must not be installed")
		}
	})

	t.Run("missing signature", func(t *testing.T) {
		src := newRemote()
		index := src.publish(t, "amd64", a)
		src.signRelease(t, signer, map[string][]byte{"main/binary-amd64/Packages.gz": index})
		delete(src.files, baseURL+"/dists/bookworm/Release.gpg")

		s, _ := newSyncer(t, src, osfs.New(t.TempDir()), mirror.WithConfigDir(configDir))
		report, err := s.Sync(context.Background(), repo)
		if err == nil || !strings.Contains(err.Error(), "Release.gpg") {
			t.Fatalf("expected Release.gpg error, got %v", err)
		}
		if src.callsTo(a.url()) != 0 || len(report.Targets) != 0 {
			t.Error("no target may be synced without a verified Release")
		}
	})
}

func TestReportWriteFailures(t *testing.T) {
	dir := t.TempDir()
	report := &mirror.Report{RunID: "r1", Repository: "debian"}

	path, err := report.WriteFailures(dir)
	if err != nil || path != "" {
		t.Fatalf("expected no report without failures, got %q, %v", path, err)
	}

	report.Failed = []mirror.FailedArtifact{{
		Package:  "bash",
		Filename: "pool/main/b/bash/bash_5.2_amd64.deb",
		URL:      baseURL + "/pool/main/b/bash/bash_5.2_amd64.deb",
		Attempts: 3,
		Error:    "503 Service Unavailable",
	}}
	path, err = report.WriteFailures(dir)
	if err != nil {
		t.Fatalf("WriteFailures failed: %v", err)
	}
	if filepath.Base(path) != "sync-failed-debian-r1.txt" {
		t.Errorf("unexpected report name %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading report: %v", err)
	}
	if !strings.Contains(string(data), "bash") || !strings.Contains(string(data), "attempts=3") {
		t.Errorf("unexpected report content %q", data)
	}
}
