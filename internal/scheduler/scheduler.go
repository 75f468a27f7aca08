// internal/scheduler/scheduler.go
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/burrow/internal/state"
)

// Handler is the callback invoked when a scheduled task fires.
type Handler func(task *state.Task)

// Job is a built-in periodic job, such as agent garbage collection. Jobs
// survive Reload.
type Job struct {
	Name     string
	Schedule string
	Run      func()
}

// Scheduler evaluates cron expressions from the task store and fires tasks
// through a handler callback, alongside a fixed set of built-in jobs.
type Scheduler struct {
	store   *state.TaskStore
	handler Handler

	mu   sync.Mutex
	jobs []Job
	cron *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule parses.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a new Scheduler backed by the given task store. The handler is
// called each time a scheduled task fires.
func New(store *state.TaskStore, handler Handler, jobs ...Job) *Scheduler {
	return &Scheduler{
		store:   store,
		handler: handler,
		jobs:    jobs,
		cron:    cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the built-in jobs and every enabled task that has a
// schedule, then starts the cron ticker. A bad job schedule is an error; a
// bad task schedule is logged and skipped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if _, err := s.cron.AddFunc(job.Schedule, job.Run); err != nil {
			return fmt.Errorf("schedule job %s: %w", job.Name, err)
		}
		slog.Debug("scheduled job", "name", job.Name, "schedule", job.Schedule)
	}

	tasks, err := s.store.List()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if task.Schedule == "" || !task.Enabled {
			continue
		}
		task := task
		_, err := s.cron.AddFunc(task.Schedule, func() { s.fire(task) })
		if err != nil {
			slog.Error("invalid cron schedule", "name", task.Name, "schedule", task.Schedule, "error", err)
			continue
		}
		slog.Info("scheduled task", "name", task.Name, "schedule", task.Schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) fire(task *state.Task) {
	slog.Info("cron firing task", "name", task.Name, "deliver_to", task.DeliverTo)
	if err := s.store.MarkRun(task.Name, time.Now()); err != nil {
		slog.Warn("record task run", "name", task.Name, "error", err)
	}
	s.handler(task)
}

// Reload stops the existing cron, creates a new one, and calls Start() again.
func (s *Scheduler) Reload() error {
	s.mu.Lock()
	<-s.cron.Stop().Done()
	s.cron = cron.New(cron.WithParser(cronParser))
	s.mu.Unlock()
	return s.Start()
}

// Stop stops the cron ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.mu.Unlock()
	<-c.Stop().Done()
}
