package scheduler

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher runs Job after the feed file stops changing for Debounce.
type Watcher struct {
	Path     string
	Debounce time.Duration
	Job      Job
	Logger   *log.Logger
}

// Run watches the directory holding Path, since capture tools often replace
// the file rather than write in place. It blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	logger := w.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[WATCH] ", log.LstdFlags)
	}
	target := filepath.Clean(w.Path)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Printf("[INFO] watching %s", target)

	var runMu sync.Mutex
	d := newDebouncer(w.Debounce, func() {
		runMu.Lock()
		defer runMu.Unlock()
		res, err := w.Job.Run(ctx)
		if err != nil {
			logger.Printf("[ERROR] ingestion after change failed: %v", err)
			return
		}
		logger.Printf("[INFO] run %s: %d messages, %d persisted", res.RunID, res.MessagesFound, res.RecordsPersisted)
	})
	defer d.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				d.Trigger()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Printf("[WARN] watcher error: %v", err)
		}
	}
}

// debouncer calls fn once per burst of Trigger calls, after d of quiet.
type debouncer struct {
	mu      sync.Mutex
	d       time.Duration
	fn      func()
	timer   *time.Timer
	stopped bool
	running sync.WaitGroup
}

func newDebouncer(d time.Duration, fn func()) *debouncer {
	if d <= 0 {
		d = 2 * time.Second
	}
	return &debouncer{d: d, fn: fn}
}

func (b *debouncer) Trigger() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.d, b.fire)
}

func (b *debouncer) fire() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.running.Add(1)
	b.mu.Unlock()
	defer b.running.Done()
	b.fn()
}

// Stop cancels a pending call and waits for one already running to return.
func (b *debouncer) Stop() {
	b.mu.Lock()
	b.stopped = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	b.running.Wait()
}
