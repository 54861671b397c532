// Package scheduler runs the server's background jobs: periodic sweeps
// (presence, leaderboard) and named one-shot delays (postponed friend list
// refreshes).
package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Kind distinguishes periodic from one-shot tasks in Status.
type Kind string

const (
	KindTicker Kind = "ticker"
	KindDelay  Kind = "delay"
)

// TaskStatus describes one registered task.
type TaskStatus struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	Interval time.Duration `json:"interval"`
	Runs     int64         `json:"runs"`
	Panics   int64         `json:"panics"`
	LastRun  time.Time     `json:"last_run,omitempty"`
	Due      time.Time     `json:"due,omitempty"`
}

// Scheduler manages periodic and delayed tasks.
type Scheduler struct {
	mu      sync.Mutex
	tickers map[string]*tickerEntry
	timers  map[string]*timerEntry
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped bool
}

type tickerEntry struct {
	ticker   *time.Ticker
	interval time.Duration
	stopCh   chan struct{}
	runs     int64
	panics   int64
	lastRun  time.Time
}

type timerEntry struct {
	timer *time.Timer
	delay time.Duration
	due   time.Time
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		tickers: make(map[string]*tickerEntry),
		timers:  make(map[string]*timerEntry),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}
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
		ticker:   time.NewTicker(interval),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
	s.tickers[name] = entry

	go func() {
		defer entry.ticker.Stop()
		for {
			select {
			case <-entry.ticker.C:
				ok := s.run(name, fn)
				s.mu.Lock()
				entry.runs++
				entry.lastRun = time.Now()
				if !ok {
					entry.panics++
				}
				s.mu.Unlock()
			case <-entry.stopCh:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

// AddDelay runs fn once after the given delay. Scheduling a pending name
// again replaces it.
func (s *Scheduler) AddDelay(name string, delay time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	if old, ok := s.timers[name]; ok {
		old.timer.Stop()
	}
	entry := &timerEntry{delay: delay, due: time.Now().Add(delay)}
	entry.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		// A replacement may have been scheduled while this one fired.
		if s.timers[name] == entry {
			delete(s.timers, name)
		}
		s.mu.Unlock()
		s.run(name, fn)
	})
	s.timers[name] = entry
}

// run calls fn and reports whether it returned without panicking.
func (s *Scheduler) run(name string, fn TaskFn) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler task panicked",
				zap.String("task", name),
				zap.Any("recover", r))
			ok = false
		}
	}()
	fn()
	return true
}

// Remove stops and removes a ticker or delay task by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.tickers[name]; ok {
		close(entry.stopCh)
		delete(s.tickers, name)
	}
	if entry, ok := s.timers[name]; ok {
		entry.timer.Stop()
		delete(s.timers, name)
	}
}

// Stop stops all tasks, pending delays included. Later Add calls are
// ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
	for name, entry := range s.timers {
		entry.timer.Stop()
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

// PendingDelays returns the names of delays that have not fired yet.
func (s *Scheduler) PendingDelays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.timers))
	for name := range s.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports every registered task, tickers first, by name.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, 0, len(s.tickers)+len(s.timers))
	for name, e := range s.tickers {
		out = append(out, TaskStatus{
			Name:     name,
			Kind:     KindTicker,
			Interval: e.interval,
			Runs:     e.runs,
			Panics:   e.panics,
			LastRun:  e.lastRun,
		})
	}
	for name, e := range s.timers {
		out = append(out, TaskStatus{Name: name, Kind: KindDelay, Interval: e.delay, Due: e.due})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == KindTicker
		}
		return out[i].Name < out[j].Name
	})
	return out
}
