package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/swimctl/swimctl/internal/ingest"
)

func TestIsDue(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 7, 0, 0, time.UTC)
	at := func(h, m int) *time.Time {
		ts := time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
		return &ts
	}
	cases := []struct {
		name string
		cron string
		last *time.Time
		want bool
	}{
		{"never run", "*/5 * * * *", nil, true},
		{"slot passed", "*/5 * * * *", at(12, 4), true},
		{"same slot", "*/5 * * * *", at(12, 5), false},
		{"hourly not yet", "@hourly", at(11, 30), false},
		{"hourly due", "@hourly", at(11, 0), true},
		{"daily not yet", "@daily", at(0, 0), false},
		{"invalid falls back to daily", "bananas", at(0, 0), false},
	}
	for _, tc := range cases {
		if got := isDue(tc.cron, tc.last, now); got != tc.want {
			t.Errorf("%s: isDue(%q) = %v, want %v", tc.name, tc.cron, got, tc.want)
		}
	}
}

type countingJob struct {
	runs atomic.Int32
	err  error
}

func (j *countingJob) Run(ctx context.Context) (ingest.Result, error) {
	j.runs.Add(1)
	return ingest.Result{RunID: "r", MessagesFound: 2, RecordsPersisted: 2}, j.err
}

// fakeLocker is a shared in-memory SetNX that records every hold.
type fakeLocker struct {
	mu   sync.Mutex
	held map[string]time.Duration
	err  error
}

func (f *fakeLocker) SetNX(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	if f.held == nil {
		f.held = map[string]time.Duration{}
	}
	if _, ok := f.held[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.held[key] = exp
	return redis.NewBoolResult(true, nil)
}

func newTestScheduler(job Job, locker Locker, now time.Time) *Scheduler {
	return &Scheduler{
		Cron:   "*/5 * * * *",
		Job:    job,
		Locker: locker,
		Logger: log.New(&bytes.Buffer{}, "", 0),
		now:    func() time.Time { return now },
	}
}

func TestSlotFor(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 7, 30, 0, time.UTC)
	cases := []struct {
		cron       string
		slot, next time.Time
	}{
		{"*/5 * * * *", time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC), time.Date(2024, 5, 1, 12, 10, 0, 0, time.UTC)},
		{"@hourly", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)},
		{"@daily", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		{"0 6 * * 1", time.Date(2024, 4, 29, 6, 0, 0, 0, time.UTC), time.Date(2024, 5, 6, 6, 0, 0, 0, time.UTC)},
		{"bananas", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		slot, next := slotFor(tc.cron, now)
		if !slot.Equal(tc.slot) || !next.Equal(tc.next) {
			t.Errorf("slotFor(%q) = %s, %s; want %s, %s", tc.cron, slot, next, tc.slot, tc.next)
		}
	}
}

func TestTickHoldsSlotLock(t *testing.T) {
	job := &countingJob{}
	locker := &fakeLocker{}
	s := newTestScheduler(job, locker, time.Date(2024, 5, 1, 12, 7, 0, 0, time.UTC))

	s.tick(context.Background())
	if job.runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", job.runs.Load())
	}
	key := DefaultLockKey + ":2024-05-01T12:05:00Z"
	ttl, ok := locker.held[key]
	if !ok || len(locker.held) != 1 {
		t.Fatalf("expected only %s held, got %v", key, locker.held)
	}
	// held until the 12:10 slot fires
	if ttl != 3*time.Minute {
		t.Fatalf("expected ttl 3m, got %s", ttl)
	}

	// same slot: not due again
	s.tick(context.Background())
	if job.runs.Load() != 1 {
		t.Fatalf("expected no second run, got %d", job.runs.Load())
	}
}

func TestTickOneRunPerSlotAcrossHosts(t *testing.T) {
	job := &countingJob{}
	locker := &fakeLocker{}
	last := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	hostA := newTestScheduler(job, locker, time.Date(2024, 5, 1, 12, 5, 1, 0, time.UTC))
	hostA.lastRun = &last
	hostB := newTestScheduler(job, locker, time.Date(2024, 5, 1, 12, 5, 20, 0, time.UTC))
	lastB := last
	hostB.lastRun = &lastB

	hostA.tick(context.Background())
	hostB.tick(context.Background())
	if got := job.runs.Load(); got != 1 {
		t.Fatalf("expected one run for the 12:05 slot, got %d", got)
	}

	hostB.now = func() time.Time { return time.Date(2024, 5, 1, 12, 10, 1, 0, time.UTC) }
	hostA.now = func() time.Time { return time.Date(2024, 5, 1, 12, 10, 30, 0, time.UTC) }
	hostB.tick(context.Background())
	hostA.tick(context.Background())
	if got := job.runs.Load(); got != 2 {
		t.Fatalf("expected one more run for the 12:10 slot, got %d", got)
	}
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	job := &countingJob{}
	locker := &fakeLocker{held: map[string]time.Duration{DefaultLockKey + ":2024-05-01T12:05:00Z": time.Minute}}
	s := newTestScheduler(job, locker, time.Date(2024, 5, 1, 12, 6, 0, 0, time.UTC))
	s.tick(context.Background())
	if job.runs.Load() != 0 {
		t.Fatal("job ran while another host held the lock")
	}
	if s.lastRun == nil {
		t.Fatal("a slot owned elsewhere still counts as run")
	}
}

func TestTickSkipsWhenRedisDown(t *testing.T) {
	job := &countingJob{}
	s := newTestScheduler(job, &fakeLocker{err: errors.New("dial tcp: connection refused")}, time.Now())
	s.tick(context.Background())
	if job.runs.Load() != 0 {
		t.Fatal("job should not run without the lock")
	}
}

func TestTickWithoutLocker(t *testing.T) {
	job := &countingJob{err: errors.New("feed missing")}
	s := newTestScheduler(job, nil, time.Now())
	s.tick(context.Background())
	if job.runs.Load() != 1 {
		t.Fatalf("expected one run, got %d", job.runs.Load())
	}
}

func TestRunSeedsFromLastSuccess(t *testing.T) {
	job := &countingJob{}
	now := time.Date(2024, 5, 1, 12, 7, 0, 0, time.UTC)
	s := newTestScheduler(job, nil, now)
	s.Tick = time.Hour
	s.LastSuccess = func() (time.Time, bool) { return now.Add(-time.Minute), true }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.runs.Load() != 0 {
		t.Fatal("a run in the current slot should suppress the initial tick")
	}
}

// blockingJob runs until release is closed and reports whether it started.
type blockingJob struct {
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func newBlockingJob() *blockingJob {
	return &blockingJob{started: make(chan struct{}), release: make(chan struct{})}
}

func (j *blockingJob) Run(ctx context.Context) (ingest.Result, error) {
	close(j.started)
	<-j.release
	j.finished.Store(true)
	return ingest.Result{}, nil
}

func TestRunReturnsAfterInFlightJob(t *testing.T) {
	job := newBlockingJob()
	s := newTestScheduler(job, nil, time.Now())
	s.Tick = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-job.started
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while the job was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(job.release)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !job.finished.Load() {
		t.Fatal("job did not finish")
	}
}

func TestDebouncerStopWaitsForRunningCall(t *testing.T) {
	job := newBlockingJob()
	d := newDebouncer(time.Millisecond, func() { _, _ = job.Run(context.Background()) })
	d.Trigger()
	<-job.started

	stopped := make(chan struct{})
	go func() {
		d.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while the call was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(job.release)
	<-stopped
	if !job.finished.Load() {
		t.Fatal("call did not finish")
	}

	d.Trigger()
	time.Sleep(20 * time.Millisecond)
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	var calls atomic.Int32
	d := newDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
	d.Trigger()
	d.Stop()
	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 1 {
		t.Fatalf("stopped debouncer fired: %d", calls.Load())
	}
}

func TestWatcherRunsJobOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "swim.xml")
	other := filepath.Join(dir, "other.xml")
	job := &countingJob{}
	w := &Watcher{Path: path, Debounce: 50 * time.Millisecond, Job: job, Logger: log.New(&bytes.Buffer{}, "", 0)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(other, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("<message/>"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for job.runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := job.runs.Load(); got != 1 {
		t.Fatalf("expected exactly one run, got %d", got)
	}
}
