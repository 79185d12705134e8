package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler runs named periodic, one-shot and daily wall-clock tasks. Each
// run is isolated: a panicking task is logged and never affects other tasks.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*timerEntry
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped bool
	now     func() time.Time
}

type tickerEntry struct {
	ticker *time.Ticker
	stopCh chan struct{}
}

// timerEntry backs both one-shot and daily tasks. Daily tasks re-arm
// themselves after each run while the entry is still registered.
type timerEntry struct {
	timer *time.Timer
	next  time.Time
	daily *dailySpec
}

type dailySpec struct {
	hour, minute int
	loc          *time.Location
	fn           TaskFn
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*timerEntry),
		stopCh:  make(chan struct{}),
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Scheduler) run(name string, fn TaskFn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
		}
	}()
	fn()
}

// AddTicker registers a task to run on a fixed interval.
// If a task with the same name exists, it is replaced.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if old, ok := s.tickers[name]; ok {
		close(old.stopCh)
		delete(s.tickers, name)
	}

	entry := &tickerEntry{
		ticker: time.NewTicker(interval),
		stopCh: make(chan struct{}),
	}
	s.tickers[name] = entry

	go func() {
		defer entry.ticker.Stop()
		for {
			select {
			case <-entry.ticker.C:
				s.run(name, fn)
			case <-entry.stopCh:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after the given delay, replacing any task of the
// same name that has not fired yet.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.armLocked(name, delay, &timerEntry{next: s.now().Add(delay)}, fn)
}

// AddAt runs fn once at the given instant. Instants in the past fire
// immediately.
func (s *Scheduler) AddAt(name string, at time.Time, fn TaskFn) {
	delay := at.Sub(s.now())
	if delay < 0 {
		delay = 0
	}
	s.AddDelay(name, delay, fn)
}

// AddDaily runs fn every day at hour:minute in loc.
func (s *Scheduler) AddDaily(name string, hour, minute int, loc *time.Location, fn TaskFn) {
	if loc == nil {
		loc = time.UTC
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	spec := &dailySpec{hour: hour, minute: minute, loc: loc, fn: fn}
	next := NextDaily(s.now(), hour, minute, loc)
	s.armLocked(name, next.Sub(s.now()), &timerEntry{next: next, daily: spec}, fn)
	s.logger.Info("daily task registered",
		zap.String("name", name),
		zap.Time("next", next))
}

// armLocked installs entry under name and starts its timer. Caller holds s.mu.
func (s *Scheduler) armLocked(name string, delay time.Duration, entry *timerEntry, fn TaskFn) {
	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
	}
	s.timers[name] = entry
	entry.timer = time.AfterFunc(delay, func() {
		if !s.claim(name, entry) {
			return
		}
		s.run(name, fn)
		if entry.daily != nil {
			s.rearm(name, entry)
		}
	})
}

// claim reports whether entry is still the live task for name. One-shot
// entries are removed as they fire.
func (s *Scheduler) claim(name string, entry *timerEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timers[name] != entry {
		return false
	}
	if entry.daily == nil {
		delete(s.timers, name)
	}
	return true
}

func (s *Scheduler) rearm(name string, entry *timerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.timers[name] != entry {
		return
	}
	d := entry.daily
	// Step past the slot that just fired even if the task ran fast.
	next := NextDaily(entry.next.Add(time.Second), d.hour, d.minute, d.loc)
	s.armLocked(name, next.Sub(s.now()), &timerEntry{next: next, daily: d}, d.fn)
}

// NextDaily returns the first instant strictly after now that falls on
// hour:minute in loc.
func NextDaily(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Remove stops and removes a task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if t, ok := s.timers[name]; ok {
		t.timer.Stop()
		delete(s.timers, name)
	}
}

// Has reports whether a task with the given name is registered.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, t := s.tickers[name]
	_, d := s.timers[name]
	return t || d
}

// NextRun returns when a one-shot or daily task fires next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[name]; ok {
		return t.next, true
	}
	return time.Time{}, false
}

// Stop stops all tasks. Pending timers never fire afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	for name, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, name)
	}
}

// ListTickers returns the names of all registered ticker tasks.
func (s *Scheduler) ListTickers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tickers))
	for name := range s.tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTimers returns the names of all pending one-shot and daily tasks.
func (s *Scheduler) ListTimers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
