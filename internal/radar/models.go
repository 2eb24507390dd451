package radar

import (
	"regexp"
	"sort"
	"time"
)

// Source identifies one radar whose imagery is cached locally.
type Source string

const (
	// SourceMendanha is synced from an FTP drop; names embed the capture time.
	SourceMendanha Source = "mendanha"
	// SourceSumare is refreshed over HTTP; names are a fixed sequential index.
	SourceSumare Source = "sumare"
)

// Sources lists every known source in a stable order.
func Sources() []Source {
	return []Source{SourceMendanha, SourceSumare}
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range Sources() {
		if s == known {
			return true
		}
	}
	return false
}

func (s Source) String() string {
	return string(s)
}

// MaxFrames caps listings, delta-sync candidates and exports.
const MaxFrames = 20

// FrameListing is the ordered view of one source's cache.
type FrameListing struct {
	Source Source   `json:"source"`
	Frames []string `json:"frames"` // ascending, oldest first
	Count  int      `json:"count"`

	// Only set when the newest name embeds a capture time.
	Latest       *time.Time `json:"latest,omitempty"`
	DelayMinutes *int       `json:"delay_minutes,omitempty"`
}

// NewestFrames sorts names ascending and keeps at most the last limit entries.
// The input slice is not modified.
func NewestFrames(names []string, limit int) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

var frameTimePattern = regexp.MustCompile(`(\d{8})[-_T]?(\d{4})(\d{2})?`)

// FrameTime extracts the capture time embedded in a frame name such as
// MDN-20240115-1230.png or MDN_20240115123000.png.
func FrameTime(name string, loc *time.Location) (time.Time, bool) {
	m := frameTimePattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	secs := m[3]
	if secs == "" {
		secs = "00"
	}
	ts, err := time.ParseInLocation("20060102150405", m[1]+m[2]+secs, loc)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
