package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/servicoscor/dashboard-radares/internal/radar"
)

// Syncer runs one source's fetch.
type Syncer interface {
	Sync(ctx context.Context, src radar.Source) (time.Time, error)
}

// Evictor drops cached files past their retention.
type Evictor interface {
	EvictSource(src radar.Source, maxAge time.Duration) (int, error)
	EvictExports(maxAge time.Duration) (int, error)
}

// Config controls the tick cadence and retention.
type Config struct {
	Interval     time.Duration
	StepTimeout  time.Duration
	CacheMaxAge  time.Duration
	ExportMaxAge time.Duration
}

// Scheduler periodically evicts stale frames and syncs every source. Ticks
// never overlap and a failing step never stops the others.
type Scheduler struct {
	scheduler *gocron.Scheduler
	syncer    Syncer
	evictor   Evictor
	cfg       Config

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler.
func New(cfg Config, syncer Syncer, evictor Evictor) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 3 * time.Minute
	}
	if cfg.CacheMaxAge <= 0 {
		cfg.CacheMaxAge = 24 * time.Hour
	}
	if cfg.ExportMaxAge <= 0 {
		cfg.ExportMaxAge = time.Hour
	}
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		syncer:    syncer,
		evictor:   evictor,
		cfg:       cfg,
	}
}

// Start schedules the tick, runs the first one right away and returns.
// Cancelling ctx or calling Stop ends the loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.scheduler.StartAsync()
	if err := s.schedule(false); err != nil {
		s.cancel()
		s.scheduler.Stop()
		return err
	}
	log.Printf("scheduler: started, interval %s", s.cfg.Interval)
	return nil
}

const tickTag = "tick"

// schedule queues a single tick, right away or one interval from now. Each
// tick queues its successor when it finishes, so the interval is measured
// from the end of a tick rather than its start.
func (s *Scheduler) schedule(wait bool) error {
	job := s.scheduler.Every(s.cfg.Interval).SingletonMode().LimitRunsTo(1).Tag(tickTag)
	if wait {
		job = job.WaitForSchedule()
	}
	_, err := job.Do(s.runTick)
	return err
}

func (s *Scheduler) runTick() {
	s.Tick(s.ctx)
	if s.ctx.Err() != nil {
		return
	}
	s.scheduler.RemoveByTag(tickTag)
	if err := s.schedule(true); err != nil {
		log.Printf("ERROR: scheduler: reschedule: %v", err)
	}
}

// Stop cancels the running tick, if any, and stops future ticks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Tick runs one pass: evict stale delta-sync frames, sync both sources,
// then evict stale exports.
func (s *Scheduler) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Println("scheduler: running sync job")

	s.step(ctx, "evict "+radar.SourceMendanha.String(), func(context.Context) error {
		_, err := s.evictor.EvictSource(radar.SourceMendanha, s.cfg.CacheMaxAge)
		return err
	})
	for _, src := range radar.Sources() {
		src := src
		s.step(ctx, "sync "+src.String(), func(ctx context.Context) error {
			_, err := s.syncer.Sync(ctx, src)
			return err
		})
	}
	s.step(ctx, "evict exports", func(context.Context) error {
		_, err := s.evictor.EvictExports(s.cfg.ExportMaxAge)
		return err
	})

	log.Println("scheduler: completed sync job")
}

// step runs fn with its own timeout, logging any error or panic.
func (s *Scheduler) step(parent context.Context, name string, fn func(context.Context) error) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, s.cfg.StepTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: scheduler: %s panicked: %v", name, r)
		}
	}()

	if err := fn(ctx); err != nil {
		log.Printf("scheduler: %s failed: %v", name, err)
	}
}
