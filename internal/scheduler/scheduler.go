// Package scheduler provides cron-based scheduling for recurring delete
// scans.
package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sruckh/gmail-cleaner/internal/config"
	"github.com/sruckh/gmail-cleaner/internal/filter"
	"github.com/sruckh/gmail-cleaner/internal/job"
)

// ScanFunc is the callback invoked when a scheduled scan should run. It
// starts the scan asynchronously; a job.ErrJobRunning return means a scan
// of that kind is already in flight.
type ScanFunc func(f filter.Filter, limit int) error

// ScheduleStatus represents the state of one scheduled scan.
type ScheduleStatus struct {
	Name      string    `json:"name"`
	Cron      string    `json:"cron"`
	LastRun   time.Time `json:"last_run,omitzero"`
	NextRun   time.Time `json:"next_run"`
	Skipped   int       `json:"skipped,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

// Scheduler manages cron-driven recurring delete scans.
type Scheduler struct {
	cron     *cron.Cron
	scanFunc ScanFunc
	logger   *slog.Logger

	mu        sync.RWMutex
	jobs      map[string]cron.EntryID     // name -> cron entry ID
	schedules map[string]config.Schedule  // name -> schedule definition
	lastRun   map[string]time.Time        // name -> last successful trigger
	skipped   map[string]int              // name -> conflict skips
	lastErr   map[string]error            // name -> last trigger error
	stopped   bool
}

// New creates a Scheduler with the given scan callback.
func New(scanFunc ScanFunc) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithParser(cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		))),
		scanFunc:  scanFunc,
		logger:    slog.Default(),
		jobs:      make(map[string]cron.EntryID),
		schedules: make(map[string]config.Schedule),
		lastRun:   make(map[string]time.Time),
		skipped:   make(map[string]int),
		lastErr:   make(map[string]error),
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Add registers one schedule. Returns an error if the cron expression is
// invalid.
func (s *Scheduler) Add(sched config.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace an existing schedule of the same name
	if entryID, exists := s.jobs[sched.Name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, sched.Name)
		delete(s.schedules, sched.Name)
	}

	name := sched.Name
	entryID, err := s.cron.AddFunc(sched.Cron, func() {
		s.trigger(name)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", sched.Cron, err)
	}

	s.jobs[name] = entryID
	s.schedules[name] = sched
	s.logger.Info("scheduled delete scan",
		"name", name,
		"cron", sched.Cron,
		"next_run", s.cron.Entry(entryID).Next)

	return nil
}

// AddFromConfig registers every enabled schedule from the config. Returns
// the number scheduled and any per-schedule errors.
func (s *Scheduler) AddFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0

	for _, sched := range cfg.EnabledSchedules() {
		if err := s.Add(sched); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sched.Name, err))
		} else {
			scheduled++
		}
	}

	return scheduled, errs
}

// Remove drops the schedule with the given name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[name]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		delete(s.schedules, name)
		s.logger.Info("removed schedule", "name", name)
	}
}

// Start begins executing schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "schedules", len(s.jobs))
}

// Stop halts the cron loop and waits for any in-flight trigger callbacks.
// The scans themselves run on the engine and outlive Stop.
func (s *Scheduler) Stop() {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// trigger starts the scan for one schedule. A running scan of the same
// kind is skipped, not queued.
func (s *Scheduler) trigger(name string) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	sched, ok := s.schedules[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	err := s.scanFunc(sched.Filter, sched.Limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		s.lastRun[name] = time.Now()
		s.lastErr[name] = nil
		s.logger.Info("scheduled scan started", "name", name)
	case errors.Is(err, job.ErrJobRunning):
		s.skipped[name]++
		s.logger.Warn("scheduled scan skipped, previous scan still running", "name", name)
	default:
		s.lastErr[name] = err
		s.logger.Error("scheduled scan failed to start", "name", name, "error", err)
	}
}

// Trigger manually fires a schedule by name.
func (s *Scheduler) Trigger(name string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return fmt.Errorf("scheduler is stopped")
	}
	_, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("schedule %s not found", name)
	}
	s.trigger(name)
	return nil
}

// IsScheduled reports whether a schedule with the given name exists.
func (s *Scheduler) IsScheduled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[name]
	return exists
}

// Status returns the current state of all schedules.
func (s *Scheduler) Status() []ScheduleStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []ScheduleStatus
	for name, entryID := range s.jobs {
		entry := s.cron.Entry(entryID)
		status := ScheduleStatus{
			Name:    name,
			Cron:    s.schedules[name].Cron,
			LastRun: s.lastRun[name],
			NextRun: entry.Next,
			Skipped: s.skipped[name],
		}
		if err := s.lastErr[name]; err != nil {
			status.LastError = err.Error()
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
