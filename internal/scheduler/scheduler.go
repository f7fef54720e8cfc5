package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"github.com/swimctl/swimctl/internal/ingest"
)

// DefaultLockKey prefixes the per-slot run lock shared across hosts.
const DefaultLockKey = "swimctl:sched:lock:ingest"

// Job is one ingestion of the feed document.
type Job interface {
	Run(ctx context.Context) (ingest.Result, error)
}

// Locker is the subset of the redis client used for the run lock.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// Scheduler fires Job whenever Cron is due. With a Locker, only one
// scheduler across hosts runs a given slot: the lock key names the slot and
// is never released, it expires after LockTTL or when the next slot fires,
// whichever is later.
type Scheduler struct {
	Cron    string
	Tick    time.Duration
	Job     Job
	Locker  Locker
	LockKey string
	LockTTL time.Duration
	// LastSuccess seeds the last run time at startup, e.g. from the marker file.
	LastSuccess func() (time.Time, bool)
	Logger      *log.Logger

	now     func() time.Time
	lastRun *time.Time
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if s.LastSuccess != nil {
		if t, ok := s.LastSuccess(); ok {
			s.lastRun = &t
		}
	}
	tick := s.Tick
	if tick <= 0 {
		tick = 30 * time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	s.Logger.Printf("[INFO] schedule %q, checking every %s", s.Cron, tick)
	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock()
	if !isDue(s.Cron, s.lastRun, now) {
		return
	}

	if s.Locker != nil {
		prefix := s.LockKey
		if prefix == "" {
			prefix = DefaultLockKey
		}
		slot, next := slotFor(s.Cron, now)
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		if d := next.Sub(now); d > ttl {
			ttl = d
		}
		key := prefix + ":" + slot.UTC().Format(time.RFC3339)
		ok, err := s.Locker.SetNX(ctx, key, now.UTC().Format(time.RFC3339), ttl).Result()
		if err != nil {
			s.Logger.Printf("[WARN] lock unavailable: %v", err)
			return
		}
		if !ok {
			// another host owns this slot
			s.lastRun = &now
			return
		}
	}

	s.lastRun = &now
	res, err := s.Job.Run(ctx)
	if err != nil {
		s.Logger.Printf("[ERROR] scheduled ingestion failed: %v", err)
		return
	}
	s.Logger.Printf("[INFO] scheduled run %s: %d messages, %d persisted", res.RunID, res.MessagesFound, res.RecordsPersisted)
}

func (s *Scheduler) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// isDue reports whether cronSpec has a firing time between last and now.
// Supports "@daily", "@hourly", and standard 5-field cron expressions.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// treat invalid expressions as @daily
			return now.Sub(*last) >= 24*time.Hour
		}
		next := expr.Next(*last)
		return !next.IsZero() && !next.After(now)
	}
}

// slotFor returns the latest firing time of cronSpec at or before now and the
// firing after it. Invalid expressions fall back to UTC day boundaries.
func slotFor(cronSpec string, now time.Time) (slot, next time.Time) {
	daily := func() (time.Time, time.Time) {
		day := now.UTC().Truncate(24 * time.Hour)
		return day, day.Add(24 * time.Hour)
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return daily()
	}
	next = expr.Next(now)
	for _, back := range []time.Duration{time.Hour, 25 * time.Hour, 8 * 24 * time.Hour, 32 * 24 * time.Hour, 367 * 24 * time.Hour} {
		t := expr.Next(now.Add(-back))
		if t.IsZero() || t.After(now) {
			continue
		}
		for {
			n := expr.Next(t)
			if n.IsZero() || n.After(now) {
				return t, next
			}
			t = n
		}
	}
	return daily()
}
