package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// jobEntry tracks one registered maintenance job.
type jobEntry struct {
	name      string
	schedule  string
	handler   func() error
	cronID    cron.EntryID
	lastRun   *time.Time
	lastError string
	isRunning bool
}

// Service runs maintenance jobs on cron schedules. Jobs execute one at a
// time; an overlapping schedule waits for the running job rather than
// stacking a second sweep on top of it.
type Service struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	execMu  sync.Mutex
	jobs    map[string]*jobEntry
	running bool
}

// NewService creates a scheduler with no jobs registered.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		cron:   cron.New(),
		logger: logger,
		jobs:   make(map[string]*jobEntry),
	}
}

// Register adds a named job on the given cron schedule. Register before
// Start; the schedule is validated here.
func (s *Service) Register(name, schedule string, handler func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:     name,
		schedule: schedule,
		handler:  handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job %s to cron: %w", name, err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Scheduled job registered")

	return nil
}

// Start begins running registered jobs on their schedules.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Int("jobs", len(s.jobs)).
		Msg("Scheduler started")
}

// Stop halts the scheduler and waits for an in-flight job to finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Service) executeJob(name string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_name", name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled job")

			s.mu.Lock()
			if entry, exists := s.jobs[name]; exists {
				entry.isRunning = false
				entry.lastError = fmt.Sprintf("panic: %v", r)
			}
			s.mu.Unlock()
		}
	}()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	entry, exists := s.jobs[name]
	if !exists {
		s.mu.Unlock()
		return
	}
	entry.isRunning = true
	handler := entry.handler
	s.mu.Unlock()

	started := time.Now()
	err := handler()
	completed := time.Now()

	s.mu.Lock()
	entry.isRunning = false
	entry.lastRun = &completed
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", name).
			Err(err).
			Dur("duration", completed.Sub(started)).
			Msg("Scheduled job failed")
		return
	}
	s.logger.Debug().
		Str("job_name", name).
		Dur("duration", completed.Sub(started)).
		Msg("Scheduled job completed")
}
