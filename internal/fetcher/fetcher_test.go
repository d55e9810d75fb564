package fetcher

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/microcore-linux/ext-composer/internal/config"
)

type fakeRepo struct {
	mu    sync.Mutex
	files map[string][]byte
	gets  map[string]int
	srv   *httptest.Server
}

func newFakeRepo(t *testing.T) *fakeRepo {
	t.Helper()
	fr := &fakeRepo{
		files: make(map[string][]byte),
		gets:  make(map[string]int),
	}
	fr.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fr.mu.Lock()
		if r.Method == http.MethodGet {
			fr.gets[r.URL.Path]++
		}
		body, ok := fr.files[r.URL.Path]
		fr.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(fr.srv.Close)
	return fr
}

const tczPath = "/15.x/x86_64/tcz/"

func (fr *fakeRepo) add(name string, content []byte) {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	fr.files[tczPath+name] = content
}

func (fr *fakeRepo) addWithChecksum(name string, content []byte) {
	sum := md5.Sum(content)
	fr.add(name, content)
	fr.add(name+MD5Suffix, []byte(hex.EncodeToString(sum[:])+"  "+name+"\n"))
}

func (fr *fakeRepo) addIndex(t *testing.T, lines ...string) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(strings.Join(lines, "\n") + "\n")); err != nil {
		t.Fatalf("gzip index: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip index: %v", err)
	}
	fr.add("info.lst.gz", buf.Bytes())
}

func (fr *fakeRepo) tczGets() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	n := 0
	for path, c := range fr.gets {
		if strings.HasSuffix(path, TczSuffix) {
			n += c
		}
	}
	return n
}

func testConfig(t *testing.T, mirror string) *config.GlobalConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Repo.Mirror = mirror
	cfg.Store.ExtensionDir = filepath.Join(dir, "extensions")
	cfg.Store.WorkDir = filepath.Join(dir, "work")
	return cfg
}

func newTestFetcher(t *testing.T, cfg *config.GlobalConfig) *Fetcher {
	t.Helper()
	f, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func readJournal(t *testing.T, f *Fetcher) string {
	t.Helper()
	data, err := os.ReadFile(f.JournalPath())
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	return string(data)
}

func TestRunDownloadsAndVerifies(t *testing.T) {
	fr := newFakeRepo(t)
	fr.addIndex(t, "nano.tcz", "ncurses.tcz")
	fr.add("nano.tcz.dep", []byte("ncurses.tcz\n"))
	fr.addWithChecksum("nano.tcz", []byte("nano-content"))
	fr.addWithChecksum("ncurses.tcz", []byte("ncurses-content"))

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)

	refs, err := f.Run([]string{"nano"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !reflect.DeepEqual(refs, []string{"nano.tcz", "ncurses.tcz"}) {
		t.Errorf("Expected the resolved set including dependencies, got %v", refs)
	}

	extDir, _ := cfg.ExtensionDir()
	for _, name := range []string{"nano.tcz", "ncurses.tcz", "nano.tcz.md5.txt", "ncurses.tcz.md5.txt"} {
		if _, err := os.Stat(filepath.Join(extDir, name)); err != nil {
			t.Errorf("Expected %s in extension dir: %v", name, err)
		}
	}

	jnl := readJournal(t, f)
	if !strings.Contains(jnl, "ok nano.tcz downloaded and verified") {
		t.Errorf("Missing success entry for nano.tcz:\n%s", jnl)
	}
	if !strings.Contains(jnl, "ok ncurses.tcz downloaded and verified") {
		t.Errorf("Missing success entry for ncurses.tcz:\n%s", jnl)
	}

	resolved, err := os.ReadFile(f.ResolvedListPath())
	if err != nil {
		t.Fatalf("read resolved list: %v", err)
	}
	if string(resolved) != "nano.tcz\nncurses.tcz\n" {
		t.Errorf("Unexpected resolved list %q", resolved)
	}

	workDir, _ := cfg.WorkDir()
	if _, err := os.Stat(filepath.Join(workDir, "kernels.lst")); !os.IsNotExist(err) {
		t.Error("Expected transient kernel list to be removed on clean exit")
	}
}

func TestRunSecondPassSkipsDownloads(t *testing.T) {
	fr := newFakeRepo(t)
	fr.addIndex(t, "nano.tcz")
	fr.addWithChecksum("nano.tcz", []byte("nano-content"))

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)
	if _, err := f.Run([]string{"nano"}); err != nil {
		t.Fatalf("first Run failed: %v", err)
	}
	firstGets := fr.tczGets()

	f2 := newTestFetcher(t, cfg)
	if _, err := f2.Run([]string{"nano"}); err != nil {
		t.Fatalf("second Run failed: %v", err)
	}

	if got := fr.tczGets(); got != firstGets {
		t.Errorf("Expected no archive downloads on second pass, got %d extra", got-firstGets)
	}
	if !strings.Contains(readJournal(t, f2), "note nano.tcz already downloaded") {
		t.Error("Expected 'already downloaded' journal entry on second pass")
	}
}

func TestRunChecksumMismatchDoesNotStopBatch(t *testing.T) {
	fr := newFakeRepo(t)
	fr.addIndex(t, "aaa.tcz", "bbb.tcz")
	fr.add("aaa.tcz", []byte("aaa-content"))
	fr.add("aaa.tcz.md5.txt", []byte(strings.Repeat("0", 32)+"  aaa.tcz\n"))
	fr.addWithChecksum("bbb.tcz", []byte("bbb-content"))

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)
	if _, err := f.Run([]string{"aaa", "bbb"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	jnl := readJournal(t, f)
	if !strings.Contains(jnl, "fail aaa.tcz verification failed") {
		t.Errorf("Missing mismatch entry:\n%s", jnl)
	}
	if !strings.Contains(jnl, "ok bbb.tcz downloaded and verified") {
		t.Errorf("Expected bbb.tcz to still be processed:\n%s", jnl)
	}
}

func TestRunMissingPackageSkips(t *testing.T) {
	fr := newFakeRepo(t)
	fr.addIndex(t, "nano.tcz")
	fr.addWithChecksum("nano.tcz", []byte("nano-content"))

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)
	if _, err := f.Run([]string{"ghost", "nano"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	jnl := readJournal(t, f)
	if !strings.Contains(jnl, "fail ghost.tcz skipped") {
		t.Errorf("Missing skip entry for ghost:\n%s", jnl)
	}
	if !strings.Contains(jnl, "ok nano.tcz downloaded and verified") {
		t.Errorf("Expected nano.tcz to be fetched after the skip:\n%s", jnl)
	}
}

func TestRunRejectsHostileNames(t *testing.T) {
	fr := newFakeRepo(t)
	fr.addIndex(t, "nano.tcz")

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)
	if _, err := f.Run([]string{"../../etc/passwd"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.Contains(readJournal(t, f), "rejected") {
		t.Error("Expected hostile name to be journaled as rejected")
	}
}

func TestRunMissingChecksumSidecarIsNoted(t *testing.T) {
	fr := newFakeRepo(t)
	fr.addIndex(t, "nano.tcz")
	fr.add("nano.tcz", []byte("nano-content"))

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)
	if _, err := f.Run([]string{"nano"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !strings.Contains(readJournal(t, f), "note nano.tcz: no checksum sidecar, verification skipped") {
		t.Error("Expected verification-skipped note in journal")
	}
}

func TestRunFailsWhenIndexUnavailable(t *testing.T) {
	fr := newFakeRepo(t)

	cfg := testConfig(t, fr.srv.URL)
	f := newTestFetcher(t, cfg)
	if _, err := f.Run([]string{"nano"}); err == nil {
		t.Fatal("Expected fatal error when the index cannot be fetched")
	}
}

func TestNewRejectsUnknownArch(t *testing.T) {
	cfg := testConfig(t, "http://unused.example.org")
	cfg.Repo.Arch = "sparc64"
	if _, err := New(cfg); err == nil {
		t.Fatal("Expected error for unsupported architecture")
	}
}

func TestVerifyMD5Sidecar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pkg.tcz")
	content := []byte("payload")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum := md5.Sum(content)
	sidecar := fmt.Sprintf("%s  pkg.tcz\n", hex.EncodeToString(sum[:]))

	if err := VerifyMD5Sidecar(path, []byte(sidecar)); err != nil {
		t.Errorf("Expected checksum to verify: %v", err)
	}
	if err := VerifyMD5Sidecar(path, []byte(strings.Repeat("f", 32)+"  pkg.tcz\n")); err == nil {
		t.Error("Expected mismatch error")
	}
	if err := VerifyMD5Sidecar(path, []byte("")); err == nil {
		t.Error("Expected error for empty sidecar")
	}
}
