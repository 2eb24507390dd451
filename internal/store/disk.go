package store

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/servicoscor/dashboard-radares/internal/radar"
)

var (
	// ErrNotFound is returned when a requested frame is not cached.
	ErrNotFound = errors.New("frame not found")
	// ErrFrameTooLarge is returned when a download exceeds MaxFrameBytes.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// MaxFrameBytes bounds a single cached frame.
const MaxFrameBytes = 32 << 20

const (
	exportsDir = "exports"
	stagingDir = ".staging"
)

// Stats summarizes one cache directory.
type Stats struct {
	Count int   `json:"files_count"`
	Bytes int64 `json:"size_bytes"`
}

// DiskStore keeps one directory of frames per source plus an export
// directory under a single root. Writes go through a staging directory on the
// same filesystem and are renamed into place, so readers only ever see
// complete files.
type DiskStore struct {
	root    string
	dirs    map[radar.Source]string
	exports string
	staging string

	now func() time.Time
}

// NewDiskStore creates the directory layout under root. Leftover staging files
// from a previous run are discarded.
func NewDiskStore(root string) (*DiskStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create cache root: %w", err)
	}
	// Canonical root so SafeJoin prefix checks hold when root sits behind a symlink.
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, err
	}

	s := &DiskStore{
		root:    abs,
		dirs:    make(map[radar.Source]string),
		exports: filepath.Join(abs, exportsDir),
		staging: filepath.Join(abs, stagingDir),
		now:     time.Now,
	}

	if err := os.RemoveAll(s.staging); err != nil {
		return nil, fmt.Errorf("clear staging dir: %w", err)
	}
	dirs := []string{s.exports, s.staging}
	for _, src := range radar.Sources() {
		dir := filepath.Join(abs, string(src))
		s.dirs[src] = dir
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	return s, nil
}

// Root returns the canonical cache root.
func (s *DiskStore) Root() string {
	return s.root
}

// Dir returns the directory holding src's frames.
func (s *DiskStore) Dir(src radar.Source) (string, error) {
	dir, ok := s.dirs[src]
	if !ok {
		return "", fmt.Errorf("%w: %s", radar.ErrUnknownSource, src)
	}
	return dir, nil
}

// ExportDir returns the directory for derivative exports.
func (s *DiskStore) ExportDir() string {
	return s.exports
}

// List returns src's frame names in ascending order. Entries that are not
// regular files or fail the name rules are left out.
func (s *DiskStore) List(src radar.Source) ([]string, error) {
	dir, err := s.Dir(src)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), radar.FrameExt) {
			continue
		}
		if _, err := radar.SanitizeFilename(e.Name()); err != nil {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// FramePath validates name and resolves it inside src's directory.
func (s *DiskStore) FramePath(src radar.Source, name string) (string, error) {
	dir, err := s.Dir(src)
	if err != nil {
		return "", err
	}
	return radar.SafeJoin(dir, name)
}

// Exists reports whether src/name is a cached frame. Handlers go through
// ReadFrame, which distinguishes a bad name from a missing one; Exists is
// for callers that only need a yes or no.
func (s *DiskStore) Exists(src radar.Source, name string) bool {
	p, err := s.FramePath(src, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// ReadFrame returns the content of src/name.
func (s *DiskStore) ReadFrame(src radar.Source, name string) ([]byte, error) {
	p, err := s.FramePath(src, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, src, name)
	}
	return data, err
}

// WriteFrame streams r into the staging directory and renames the result
// onto src/name once it is complete and synced.
func (s *DiskStore) WriteFrame(src radar.Source, name string, r io.Reader) error {
	dest, err := s.FramePath(src, name)
	if err != nil {
		return err
	}
	return s.writeAtomic(dest, r)
}

func (s *DiskStore) writeAtomic(dest string, r io.Reader) (err error) {
	tmpPath := filepath.Join(s.staging, uuid.NewString())
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, io.LimitReader(r, MaxFrameBytes+1))
	if err != nil {
		return err
	}
	if n > MaxFrameBytes {
		return ErrFrameTooLarge
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dest)
}

// EvictSource removes src's frames older than maxAge.
func (s *DiskStore) EvictSource(src radar.Source, maxAge time.Duration) (int, error) {
	dir, err := s.Dir(src)
	if err != nil {
		return 0, err
	}
	return s.Evict(dir, maxAge)
}

// EvictExports removes exports older than maxAge.
func (s *DiskStore) EvictExports(maxAge time.Duration) (int, error) {
	return s.Evict(s.exports, maxAge)
}

// Evict removes every regular file in dir whose modification time is strictly
// before now-maxAge. Per-entry failures are logged and the scan continues.
func (s *DiskStore) Evict(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed concurrently.
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("store: stat %s: %v", e.Name(), err)
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("store: remove %s: %v", e.Name(), err)
			}
			continue
		}
		removed++
		log.Printf("store: removed old file %s", e.Name())
	}
	return removed, nil
}

// SourceStats counts src's frames and their total size.
func (s *DiskStore) SourceStats(src radar.Source) (Stats, error) {
	dir, err := s.Dir(src)
	if err != nil {
		return Stats{}, err
	}
	names, err := s.List(src)
	if err != nil {
		return Stats{}, err
	}
	return statFiles(dir, names), nil
}

// ExportStats counts the files in the export directory.
func (s *DiskStore) ExportStats() (Stats, error) {
	entries, err := os.ReadDir(s.exports)
	if err != nil {
		return Stats{}, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return statFiles(s.exports, names), nil
}

func statFiles(dir string, names []string) Stats {
	var st Stats
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		st.Count++
		st.Bytes += info.Size()
	}
	return st
}
