// Package autosave persists editor content after a quiet period, coalescing bursts of changes
// into a single save of the latest content.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
)

// DefaultWindow is the quiet period after the last change before content is saved.
const DefaultWindow = 3000 * time.Millisecond

const defaultSaveTimeout = 30 * time.Second

// Persister stores a full rendering of the document.
type Persister interface {
	Persist(ctx context.Context, content string) error
}

// PersistFunc adapts a function to Persister.
type PersistFunc func(ctx context.Context, content string) error

func (f PersistFunc) Persist(ctx context.Context, content string) error {
	return f(ctx, content)
}

// Timer is the part of *time.Timer the scheduler uses.
type Timer interface {
	Stop() bool
}

// Options configure a Scheduler. Zero values take defaults.
type Options struct {
	Window      time.Duration
	SaveTimeout time.Duration
	// OnError is told about every failed save. The content stays pending so the next change
	// or Flush retries it.
	OnError func(error)
	Logger  logrus.FieldLogger
	// AfterFunc replaces time.AfterFunc in tests.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Scheduler debounces content changes into saves. Saves run one at a time and a save never
// replaces content newer than itself.
type Scheduler struct {
	persister   Persister
	window      time.Duration
	saveTimeout time.Duration
	onError     func(error)
	afterFunc   func(time.Duration, func()) Timer
	log         *logrus.Entry

	mu         sync.Mutex
	timer      Timer
	pending    string
	hasPending bool
	generation uint64
	stopped    bool
	timers     sync.WaitGroup

	saveMu   sync.Mutex
	savedGen uint64
	saves    int
}

// New returns a scheduler saving through p.
func New(p Persister, opts Options) *Scheduler {
	s := &Scheduler{
		persister:   p,
		window:      opts.Window,
		saveTimeout: opts.SaveTimeout,
		onError:     opts.OnError,
		afterFunc:   opts.AfterFunc,
		log:         logging.Component(opts.Logger, "autosave"),
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.saveTimeout <= 0 {
		s.saveTimeout = defaultSaveTimeout
	}
	if s.afterFunc == nil {
		s.afterFunc = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	return s
}

// Changed records new content and restarts the quiet period.
func (s *Scheduler) Changed(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.log.Debug("change after stop ignored")
		return
	}
	s.stopTimerLocked()
	s.generation++
	s.pending = content
	s.hasPending = true

	gen := s.generation
	s.timers.Add(1)
	s.timer = s.afterFunc(s.window, func() {
		defer s.timers.Done()
		s.fire(gen)
	})
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	if s.timer.Stop() {
		s.timers.Done()
	}
	s.timer = nil
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.stopped || gen != s.generation || !s.hasPending {
		s.mu.Unlock()
		return
	}
	content := s.pending
	s.hasPending = false
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()
	_ = s.save(ctx, gen, content)
}

func (s *Scheduler) save(ctx context.Context, gen uint64, content string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if gen <= s.savedGen {
		return nil
	}

	start := time.Now()
	err := s.persister.Persist(ctx, content)
	if err != nil {
		if errs.KindOf(err) == "" {
			err = errs.E(errs.Network, "autosave.save", "persist content", err)
		}
		s.mu.Lock()
		if gen == s.generation && !s.hasPending {
			s.pending = content
			s.hasPending = true
		}
		s.mu.Unlock()
		s.log.WithError(err).WithField("generation", gen).Warn("autosave failed")
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}
	s.savedGen = gen
	s.saves++
	s.log.WithFields(logrus.Fields{
		"generation":  gen,
		"bytes":       len(content),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("autosaved")
	return nil
}

// Flush saves pending content now, skipping the rest of the quiet period.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.stopTimerLocked()
	if !s.hasPending {
		s.mu.Unlock()
		return nil
	}
	content, gen := s.pending, s.generation
	s.hasPending = false
	s.mu.Unlock()
	return s.save(ctx, gen, content)
}

// Pending reports whether content is waiting to be saved.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPending
}

// Saves counts successful saves.
func (s *Scheduler) Saves() int {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	return s.saves
}

// Stop cancels the pending timer and waits for a running save. Pending content is dropped;
// call Flush first to keep it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.stopTimerLocked()
	s.mu.Unlock()
	s.timers.Wait()
}
