package radar

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrUnknownSource is returned for source ids with no configured fetcher or cache.
var ErrUnknownSource = errors.New("unknown radar source")

// Service orchestrates fetchers, the frame cache and the sync state.
type Service struct {
	cache    Cache
	fetchers map[Source]Fetcher
	state    *SyncState
	location *time.Location

	// One in-flight sync per source; concurrent callers share its result.
	group singleflight.Group

	now func() time.Time
}

// NewService creates a new Service. loc is the time zone frame names are
// written in; nil means UTC.
func NewService(cache Cache, fetchers []Fetcher, state *SyncState, loc *time.Location) *Service {
	bySource := make(map[Source]Fetcher, len(fetchers))
	for _, f := range fetchers {
		bySource[f.Source()] = f
	}
	if state == nil {
		state = NewSyncState()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		cache:    cache,
		fetchers: bySource,
		state:    state,
		location: loc,
		now:      time.Now,
	}
}

// Sync runs src's fetcher and, if it completes, records the sync time.
// Concurrent calls for the same source wait for the sync already running.
func (s *Service) Sync(ctx context.Context, src Source) (time.Time, error) {
	f, ok := s.fetchers[src]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}

	v, err, shared := s.group.Do(string(src), func() (any, error) {
		log.Printf("sync: starting %s", src)
		if err := f.Fetch(ctx, s.cache); err != nil {
			return time.Time{}, err
		}
		ts := s.now().UTC()
		s.state.MarkSynced(src, ts)
		log.Printf("sync: %s completed", src)
		return ts, nil
	})
	if shared {
		log.Printf("sync: %s joined an in-flight sync", src)
	}
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

// LastSync returns src's last successful sync time.
func (s *Service) LastSync(src Source) (time.Time, bool) {
	return s.state.LastSync(src)
}

// Frames lists src's cached frames oldest first, keeping the newest MaxFrames.
func (s *Service) Frames(src Source) (FrameListing, error) {
	if !src.Valid() {
		return FrameListing{}, fmt.Errorf("%w: %s", ErrUnknownSource, src)
	}
	names, err := s.cache.List(src)
	if err != nil {
		return FrameListing{}, err
	}

	frames := NewestFrames(names, MaxFrames)
	listing := FrameListing{
		Source: src,
		Frames: frames,
		Count:  len(frames),
	}

	if len(frames) > 0 {
		if ts, ok := FrameTime(frames[len(frames)-1], s.location); ok {
			delay := int(s.now().Sub(ts).Minutes())
			if delay < 0 {
				delay = 0
			}
			listing.Latest = &ts
			listing.DelayMinutes = &delay
		}
	}
	return listing, nil
}
