package radar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"
)

type memCache struct {
	mu    sync.Mutex
	files map[Source]map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{files: make(map[Source]map[string][]byte)}
}

func (m *memCache) List(src Source) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.files[src] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memCache) WriteFrame(src Source, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[src] == nil {
		m.files[src] = make(map[string][]byte)
	}
	m.files[src][name] = data
	return nil
}

type stubFetcher struct {
	src   Source
	err   error
	calls int
}

func (f *stubFetcher) Source() Source { return f.src }

func (f *stubFetcher) Fetch(_ context.Context, cache Cache) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	return cache.WriteFrame(f.src, "MDN-20240115-1200.png", bytes.NewReader([]byte("png")))
}

func TestServiceSyncUpdatesStateOnSuccess(t *testing.T) {
	cache := newMemCache()
	f := &stubFetcher{src: SourceMendanha}
	svc := NewService(cache, []Fetcher{f}, nil, nil)
	fixed := time.Date(2024, 1, 15, 12, 5, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	if _, ok := svc.LastSync(SourceMendanha); ok {
		t.Fatalf("expected no sync before first run")
	}

	ts, err := svc.Sync(context.Background(), SourceMendanha)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ts.Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, ts)
	}
	last, ok := svc.LastSync(SourceMendanha)
	if !ok || !last.Equal(fixed) {
		t.Fatalf("expected last sync %v, got %v (%v)", fixed, last, ok)
	}
}

func TestServiceSyncKeepsStateOnFailure(t *testing.T) {
	f := &stubFetcher{src: SourceMendanha, err: errors.New("connection refused")}
	svc := NewService(newMemCache(), []Fetcher{f}, nil, nil)

	if _, err := svc.Sync(context.Background(), SourceMendanha); err == nil {
		t.Fatalf("expected error")
	}
	if _, ok := svc.LastSync(SourceMendanha); ok {
		t.Fatalf("failed sync must not advance last sync")
	}
}

func TestServiceSyncUnknownSource(t *testing.T) {
	svc := NewService(newMemCache(), nil, nil, nil)
	if _, err := svc.Sync(context.Background(), SourceSumare); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
}

func TestServiceFramesNewestAscending(t *testing.T) {
	cache := newMemCache()
	for i := 0; i < 25; i++ {
		name := fmt.Sprintf("MDN-20240115-%02d%02d.png", 10+i/6, (i%6)*10)
		if err := cache.WriteFrame(SourceMendanha, name, bytes.NewReader(nil)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	svc := NewService(cache, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC) }

	listing, err := svc.Frames(SourceMendanha)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Count != MaxFrames || len(listing.Frames) != MaxFrames {
		t.Fatalf("expected %d frames, got count=%d len=%d", MaxFrames, listing.Count, len(listing.Frames))
	}
	if !sort.StringsAreSorted(listing.Frames) {
		t.Fatalf("frames not ascending: %v", listing.Frames)
	}
	if listing.Frames[0] != "MDN-20240115-1050.png" {
		t.Fatalf("expected oldest retained frame MDN-20240115-1050.png, got %s", listing.Frames[0])
	}
	if listing.Latest == nil || listing.DelayMinutes == nil {
		t.Fatalf("expected latest timestamp and delay")
	}
	// Newest is 14:00, now is 14:30.
	if *listing.DelayMinutes != 30 {
		t.Fatalf("expected delay 30, got %d", *listing.DelayMinutes)
	}
}

func TestServiceFramesSequenceNamesHaveNoTimestamp(t *testing.T) {
	cache := newMemCache()
	for _, name := range []string{"radar002.png", "radar001.png"} {
		cache.WriteFrame(SourceSumare, name, bytes.NewReader(nil))
	}
	svc := NewService(cache, nil, nil, nil)

	listing, err := svc.Frames(SourceSumare)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if listing.Count != 2 || listing.Frames[0] != "radar001.png" {
		t.Fatalf("unexpected listing: %+v", listing)
	}
	if listing.Latest != nil {
		t.Fatalf("sequence names must not yield a timestamp")
	}
}

func TestFrameTime(t *testing.T) {
	cases := map[string]time.Time{
		"MDN-20240115-1230.png":  time.Date(2024, 1, 15, 12, 30, 0, 0, time.UTC),
		"MDN_20240115123045.png": time.Date(2024, 1, 15, 12, 30, 45, 0, time.UTC),
		"MDN-20241231T2359.png":  time.Date(2024, 12, 31, 23, 59, 0, 0, time.UTC),
	}
	for name, want := range cases {
		got, ok := FrameTime(name, time.UTC)
		if !ok || !got.Equal(want) {
			t.Fatalf("FrameTime(%q) = %v, %v; want %v", name, got, ok, want)
		}
	}
	if _, ok := FrameTime("radar001.png", time.UTC); ok {
		t.Fatalf("expected no timestamp for sequence name")
	}
}
