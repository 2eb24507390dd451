package ratelimit

import (
	"sync"
	"time"
)

// Category groups operations that share a quota.
type Category string

const (
	CategoryRead   Category = "read"
	CategoryExport Category = "export"
	CategorySync   Category = "sync"
)

// DefaultWindow is the trailing window requests are counted over.
const DefaultWindow = 60 * time.Second

// Decision is the outcome of one Admit call.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // set when rejected
}

type bucketKey struct {
	client   string
	category Category
}

// Limiter is a sliding-window quota tracker keyed by client and category.
//
// Buckets are created on first use and never removed, so memory grows with
// the number of distinct clients seen.
type Limiter struct {
	mu      sync.Mutex
	buckets map[bucketKey][]time.Time

	window       time.Duration
	quotas       map[Category]int
	defaultQuota int

	now func() time.Time
}

// New creates a Limiter. Categories missing from quotas use defaultQuota.
func New(window time.Duration, quotas map[Category]int, defaultQuota int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	q := make(map[Category]int, len(quotas))
	for k, v := range quotas {
		q[k] = v
	}
	return &Limiter{
		buckets:      make(map[bucketKey][]time.Time),
		window:       window,
		quotas:       q,
		defaultQuota: defaultQuota,
		now:          time.Now,
	}
}

// Window returns the counting window.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// Quota returns the number of requests allowed per window for cat.
func (l *Limiter) Quota(cat Category) int {
	if q, ok := l.quotas[cat]; ok {
		return q
	}
	return l.defaultQuota
}

// Admit records a request from client in cat if it is under quota.
// Rejected requests are not recorded.
func (l *Limiter) Admit(client string, cat Category) Decision {
	key := bucketKey{client: client, category: cat}
	quota := l.Quota(cat)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	stamps := l.buckets[key]
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]

	if len(stamps) >= quota {
		l.buckets[key] = stamps
		return Decision{Allowed: false, RetryAfter: l.window}
	}

	l.buckets[key] = append(stamps, now)
	return Decision{Allowed: true}
}
