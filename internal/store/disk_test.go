package store

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/servicoscor/dashboard-radares/internal/radar"
)

func newTestStore(t *testing.T) *DiskStore {
	t.Helper()
	s, err := NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	return s
}

func TestWriteListRead(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"radar002.png", "radar001.png", "radar003.png"} {
		if err := s.WriteFrame(radar.SourceSumare, name, strings.NewReader(name)); err != nil {
			t.Fatalf("WriteFrame(%s): %v", name, err)
		}
	}

	names, err := s.List(radar.SourceSumare)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"radar001.png", "radar002.png", "radar003.png"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expected %v, got %v", want, names)
	}

	data, err := s.ReadFrame(radar.SourceSumare, "radar002.png")
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if string(data) != "radar002.png" {
		t.Fatalf("unexpected content %q", data)
	}
	if !s.Exists(radar.SourceSumare, "radar001.png") || s.Exists(radar.SourceSumare, "radar009.png") {
		t.Fatalf("Exists returned wrong result")
	}

	// Staging leaves nothing behind.
	entries, err := os.ReadDir(filepath.Join(s.Root(), stagingDir))
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty staging dir, found %d entries", len(entries))
	}
}

func TestWriteFrameOverwrites(t *testing.T) {
	s := newTestStore(t)
	s.WriteFrame(radar.SourceSumare, "radar001.png", strings.NewReader("old"))
	if err := s.WriteFrame(radar.SourceSumare, "radar001.png", strings.NewReader("new")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ := s.ReadFrame(radar.SourceSumare, "radar001.png")
	if string(data) != "new" {
		t.Fatalf("expected new content, got %q", data)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestWriteFrameFailureKeepsPreviousContent(t *testing.T) {
	s := newTestStore(t)
	s.WriteFrame(radar.SourceSumare, "radar001.png", strings.NewReader("complete"))

	r := io.MultiReader(strings.NewReader("partial"), failingReader{})
	if err := s.WriteFrame(radar.SourceSumare, "radar001.png", r); err == nil {
		t.Fatalf("expected error")
	}

	data, _ := s.ReadFrame(radar.SourceSumare, "radar001.png")
	if string(data) != "complete" {
		t.Fatalf("partial write became visible: %q", data)
	}
}

func TestWriteFrameRejectsInvalidNames(t *testing.T) {
	s := newTestStore(t)
	for _, name := range []string{"../escape.png", ".hidden.png", "notes.txt"} {
		if err := s.WriteFrame(radar.SourceMendanha, name, strings.NewReader("x")); !errors.Is(err, radar.ErrInvalidFilename) {
			t.Fatalf("WriteFrame(%q) error = %v, want ErrInvalidFilename", name, err)
		}
	}
	names, _ := s.List(radar.SourceMendanha)
	if len(names) != 0 {
		t.Fatalf("expected empty cache, got %v", names)
	}
}

func TestWriteFrameTooLarge(t *testing.T) {
	s := newTestStore(t)
	r := io.LimitReader(zeroReader{}, MaxFrameBytes+10)
	if err := s.WriteFrame(radar.SourceSumare, "radar001.png", r); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if s.Exists(radar.SourceSumare, "radar001.png") {
		t.Fatalf("oversized frame must not be stored")
	}
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func TestListSkipsUntrustedEntries(t *testing.T) {
	s := newTestStore(t)
	dir, _ := s.Dir(radar.SourceMendanha)

	for _, name := range []string{"MDN-1.png", "bad name.png", ".hidden.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	os.Mkdir(filepath.Join(dir, "sub.png"), 0o755)

	names, err := s.List(radar.SourceMendanha)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"MDN-1.png"}) {
		t.Fatalf("unexpected listing %v", names)
	}
}

func TestReadFrameErrors(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.ReadFrame(radar.SourceSumare, "radar404.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.ReadFrame(radar.SourceSumare, "..%2f.png"); !errors.Is(err, radar.ErrInvalidFilename) {
		t.Fatalf("expected ErrInvalidFilename, got %v", err)
	}
	if _, err := s.ReadFrame(radar.Source("other"), "radar001.png"); !errors.Is(err, radar.ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}

	outside := filepath.Join(t.TempDir(), "secret.png")
	os.WriteFile(outside, []byte("secret"), 0o644)
	dir, _ := s.Dir(radar.SourceSumare)
	if err := os.Symlink(outside, filepath.Join(dir, "radar005.png")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := s.ReadFrame(radar.SourceSumare, "radar005.png"); !errors.Is(err, radar.ErrPathEscape) {
		t.Fatalf("expected ErrPathEscape, got %v", err)
	}
}

func TestEvictBoundary(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	maxAge := 24 * time.Hour
	cutoff := now.Add(-maxAge)

	files := map[string]time.Time{
		"MDN-older.png":  cutoff.Add(-time.Second),
		"MDN-exact.png":  cutoff,
		"MDN-newer.png":  cutoff.Add(time.Second),
		"MDN-recent.png": now,
	}
	dir, _ := s.Dir(radar.SourceMendanha)
	for name, mtime := range files {
		if err := s.WriteFrame(radar.SourceMendanha, name, bytes.NewReader([]byte(name))); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if err := os.Chtimes(filepath.Join(dir, name), mtime, mtime); err != nil {
			t.Fatalf("chtimes %s: %v", name, err)
		}
	}

	removed, err := s.EvictSource(radar.SourceMendanha, maxAge)
	if err != nil {
		t.Fatalf("EvictSource: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}

	names, _ := s.List(radar.SourceMendanha)
	want := []string{"MDN-exact.png", "MDN-newer.png", "MDN-recent.png"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("expected %v, got %v", want, names)
	}
}

func TestEvictExportsUsesOwnAge(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }

	old := filepath.Join(s.ExportDir(), "radar_sumare_old.gif")
	fresh := filepath.Join(s.ExportDir(), "radar_sumare_fresh.gif")
	os.WriteFile(old, []byte("x"), 0o644)
	os.WriteFile(fresh, []byte("x"), 0o644)
	past := now.Add(-61 * time.Minute)
	os.Chtimes(old, past, past)

	removed, err := s.EvictExports(time.Hour)
	if err != nil {
		t.Fatalf("EvictExports: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh export removed: %v", err)
	}

	st, err := s.ExportStats()
	if err != nil || st.Count != 1 {
		t.Fatalf("expected 1 export left, got %+v (%v)", st, err)
	}
}

func TestSourceStats(t *testing.T) {
	s := newTestStore(t)
	s.WriteFrame(radar.SourceSumare, "radar001.png", strings.NewReader("abc"))
	s.WriteFrame(radar.SourceSumare, "radar002.png", strings.NewReader("de"))

	st, err := s.SourceStats(radar.SourceSumare)
	if err != nil {
		t.Fatalf("SourceStats: %v", err)
	}
	if st.Count != 2 || st.Bytes != 5 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestNewDiskStoreClearsStaging(t *testing.T) {
	root := t.TempDir()
	leftover := filepath.Join(root, stagingDir, "stale")
	os.MkdirAll(filepath.Dir(leftover), 0o755)
	os.WriteFile(leftover, []byte("x"), 0o644)

	if _, err := NewDiskStore(root); err != nil {
		t.Fatalf("NewDiskStore: %v", err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Fatalf("expected leftover staging file to be removed, got %v", err)
	}
}
