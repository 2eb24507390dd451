package radar

import (
	"time"

	"go.uber.org/atomic"
)

// SyncState records the last successful sync per source. The set of sources
// is fixed at construction, so the map is only ever read afterwards.
type SyncState struct {
	last map[Source]*atomic.Time
}

// NewSyncState creates a state with every known source marked as never synced.
func NewSyncState() *SyncState {
	last := make(map[Source]*atomic.Time, len(Sources()))
	for _, src := range Sources() {
		last[src] = atomic.NewTime(time.Time{})
	}
	return &SyncState{last: last}
}

// MarkSynced records t as src's last successful sync.
func (s *SyncState) MarkSynced(src Source, t time.Time) {
	if v, ok := s.last[src]; ok {
		v.Store(t)
	}
}

// LastSync returns src's last successful sync, or false if it never synced.
func (s *SyncState) LastSync(src Source) (time.Time, bool) {
	v, ok := s.last[src]
	if !ok {
		return time.Time{}, false
	}
	t := v.Load()
	return t, !t.IsZero()
}
